package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmorgan81/promptmint/internal/log"
)

// PassthroughPersister keeps the provider URL. Its lifetime is whatever the
// provider grants.
type PassthroughPersister struct{}

func (*PassthroughPersister) NeedsData() bool { return false }

func (*PassthroughPersister) Persist(ctx context.Context, a Artifact) (Location, error) {
	log.FromContextOrDiscard(ctx).WithGroup("passthrough").Info("keeping provider url", "name", a.Name)
	if strings.TrimSpace(a.SourceURL) == "" {
		return Location{}, fmt.Errorf("passthrough needs a source url: %w", ErrEmptyPayload)
	}
	return Location{URL: a.SourceURL}, nil
}
