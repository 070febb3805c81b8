package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendPassthrough = "passthrough"
	BackendMinio       = "minio"
	BackendS3          = "s3"
	BackendIPFS        = "ipfs"
)

type Config struct {
	Addr         string
	LogLevel     string
	CORSOrigins  []string
	HistoryLimit int
	FeedLink     string
	Provider     Provider
	Fetch        Fetch
	Store        Store
	Ledger       Ledger
}

type Provider struct {
	URL           string
	APIKey        string
	APIKeyParam   string
	Model         string
	GuidanceScale float64
	Watermark     bool
}

type Fetch struct {
	MaxBytes int64
}

type Store struct {
	Backend  string
	Metadata bool
	Minio    Minio
	S3       S3
	Pinata   Pinata
}

type Minio struct {
	Endpoint  string
	Port      int
	UseSSL    bool
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	PublicURL string
}

type S3 struct {
	Bucket       string
	Region       string
	Endpoint     string
	PathStyle    bool
	PublicURL    string
	Distribution string
}

type Pinata struct {
	JWT        string
	JWTParam   string
	APIURL     string
	GatewayURL string
}

type Ledger struct {
	Driver string
	DSN    string
}

// Load reads an optional .env file and then the environment. When
// CONFIG_PARAM_PATH is set, params supplies values for variables the
// environment leaves unset.
func Load(params func(path string) (map[string]string, error)) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	getenv := os.Getenv
	if path := strings.TrimSpace(os.Getenv("CONFIG_PARAM_PATH")); path != "" && params != nil {
		values, err := params(path)
		if err != nil {
			return nil, fmt.Errorf("load parameters from %s: %w", path, err)
		}
		getenv = Overlay(os.Getenv, values)
	}
	return FromEnv(getenv)
}

// Overlay returns a lookup that consults values for keys getenv leaves empty.
func Overlay(getenv func(string) string, values map[string]string) func(string) string {
	return func(key string) string {
		if v := getenv(key); strings.TrimSpace(v) != "" {
			return v
		}
		return values[key]
	}
}

func FromEnv(getenv func(string) string) (*Config, error) {
	env := func(key, fallback string) string {
		return firstNonEmpty(strings.TrimSpace(getenv(key)), fallback)
	}

	cfg := &Config{
		Addr:         resolveAddr(getenv),
		LogLevel:     env("LOG_LEVEL", "info"),
		CORSOrigins:  splitList(env("CORS_ORIGINS", "*")),
		HistoryLimit: parseInt(getenv("HISTORY_LIMIT"), 50),
		FeedLink:     env("FEED_LINK", "http://localhost:3000"),
		Provider: Provider{
			URL:           env("DOUBAO_API_URL", "https://ark.cn-beijing.volces.com/api/v3/images/generations"),
			APIKey:        strings.TrimSpace(getenv("DOUBAO_API_KEY")),
			APIKeyParam:   strings.TrimSpace(getenv("DOUBAO_API_KEY_PARAM")),
			Model:         env("DOUBAO_MODEL", "doubao-seedream-3-0-t2i-250415"),
			GuidanceScale: parseFloat(getenv("DOUBAO_GUIDANCE_SCALE"), 2.5),
			Watermark:     parseBool(getenv("DOUBAO_WATERMARK"), true),
		},
		Fetch: Fetch{
			MaxBytes: int64(parseInt(getenv("FETCH_MAX_BYTES"), 20<<20)),
		},
		Store: Store{
			Backend:  strings.ToLower(env("STORE_BACKEND", BackendPassthrough)),
			Metadata: parseBool(getenv("STORE_METADATA"), true),
			Minio: Minio{
				Endpoint:  env("MINIO_ENDPOINT", "localhost"),
				Port:      parseInt(getenv("MINIO_PORT"), 9100),
				UseSSL:    parseBool(getenv("MINIO_USE_SSL"), false),
				AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
				SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
				Bucket:    env("MINIO_BUCKET_NAME", "doubao-images"),
				Region:    env("MINIO_REGION", "us-east-1"),
				PublicURL: env("MINIO_PUBLIC_URL", "http://localhost:9100"),
			},
			S3: S3{
				Bucket:       env("S3_BUCKET", ""),
				Region:       env("AWS_REGION", "us-east-1"),
				Endpoint:     env("S3_ENDPOINT", ""),
				PathStyle:    parseBool(getenv("S3_PATH_STYLE"), false),
				PublicURL:    env("S3_PUBLIC_URL", ""),
				Distribution: env("CLOUDFRONT_DISTRIBUTION", ""),
			},
			Pinata: Pinata{
				JWT:        strings.TrimSpace(getenv("PINATA_JWT")),
				JWTParam:   strings.TrimSpace(getenv("PINATA_JWT_PARAM")),
				APIURL:     env("PINATA_API_URL", "https://api.pinata.cloud"),
				GatewayURL: env("PINATA_GATEWAY_URL", "https://gateway.pinata.cloud"),
			},
		},
		Ledger: Ledger{
			Driver: strings.ToLower(env("LEDGER_DRIVER", "sqlite")),
			DSN:    env("LEDGER_DSN", "data/promptmint.db"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the choices that cannot be deferred to first use. A
// missing provider key is not one of them: it is reported per request.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendPassthrough, BackendMinio:
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 store backend")
		}
	case BackendIPFS:
		if c.Store.Pinata.JWT == "" && c.Store.Pinata.JWTParam == "" {
			return fmt.Errorf("PINATA_JWT or PINATA_JWT_PARAM is required for the ipfs store backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.Store.Backend)
	}

	switch c.Ledger.Driver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.Ledger.Driver)
	}

	if c.HistoryLimit <= 0 {
		return fmt.Errorf("HISTORY_LIMIT must be positive")
	}
	return nil
}

func (c *Config) HasProviderKey() bool {
	return c.Provider.APIKey != "" || c.Provider.APIKeyParam != ""
}

func resolveAddr(getenv func(string) string) string {
	if addr := strings.TrimSpace(getenv("ADDR")); addr != "" {
		return addr
	}
	if port := strings.TrimSpace(getenv("PORT")); port != "" {
		if strings.HasPrefix(port, ":") {
			return port
		}
		return ":" + port
	}
	return ":3000"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(raw string, fallback int) int {
	if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
		return v
	}
	return fallback
}

func parseFloat(raw string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return v
	}
	return fallback
}

func parseBool(raw string, fallback bool) bool {
	if v, err := strconv.ParseBool(strings.TrimSpace(raw)); err == nil {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
