package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/samber/do"
)

// NewPersister picks the back end named by the configuration. It is the only
// place that knows which variants exist.
func NewPersister(i *do.Injector) (Persister, error) {
	cfg := do.MustInvoke[*config.Config](i)

	switch cfg.Store.Backend {
	case config.BackendPassthrough:
		return &PassthroughPersister{}, nil
	case config.BackendMinio:
		return NewMinioPersister(cfg.Store.Minio, cfg.Store.Metadata)
	case config.BackendS3:
		p := &S3Persister{
			Client:    do.MustInvoke[*s3.Client](i),
			Bucket:    cfg.Store.S3.Bucket,
			Region:    cfg.Store.S3.Region,
			PublicURL: cfg.Store.S3.PublicURL,
			Metadata:  cfg.Store.Metadata,
		}
		if cfg.Store.S3.Distribution != "" {
			p.Invalidator = &CloudFrontInvalidator{
				Client:       do.MustInvoke[*cloudfront.Client](i),
				Distribution: cfg.Store.S3.Distribution,
			}
		}
		return p, nil
	case config.BackendIPFS:
		jwt := do.MustInvokeNamed[string](i, "pinata_jwt")
		return NewPinataPersister(cfg.Store.Pinata.APIURL, cfg.Store.Pinata.GatewayURL, jwt), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
