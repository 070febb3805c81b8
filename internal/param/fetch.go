package param

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Fetcher reads secrets and settings kept outside the environment.
type Fetcher interface {
	Fetch(context.Context, string) (string, error)
	// FetchAll returns every parameter below path keyed by EnvKey of its name.
	FetchAll(context.Context, string) (map[string]string, error)
}

// Resolve prefers an inline value and falls back to fetching name. Both
// empty resolves to "" so callers can report the missing secret themselves.
func Resolve(ctx context.Context, f Fetcher, value, name string) (string, error) {
	if value = strings.TrimSpace(value); value != "" {
		return value, nil
	}
	if name = strings.TrimSpace(name); name == "" {
		return "", nil
	}
	if f == nil {
		return "", fmt.Errorf("parameter %s: no parameter store configured", name)
	}
	v, err := f.Fetch(ctx, name)
	if err != nil {
		return "", fmt.Errorf("parameter %s: %w", name, err)
	}
	return strings.TrimSpace(v), nil
}

// EnvKey maps a parameter name like /promptmint/prod/minio-bucket-name to
// the environment key it stands in for, MINIO_BUCKET_NAME.
func EnvKey(name string) string {
	key := strings.ToUpper(path.Base(name))
	return strings.NewReplacer("-", "_", ".", "_").Replace(key)
}
