package inject

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/feed"
	"github.com/dmorgan81/promptmint/internal/handler"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/image"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/dmorgan81/promptmint/internal/metrics"
	"github.com/dmorgan81/promptmint/internal/param"
	"github.com/dmorgan81/promptmint/internal/pipeline"
	"github.com/dmorgan81/promptmint/internal/prompt"
	"github.com/dmorgan81/promptmint/internal/server"
	"github.com/dmorgan81/promptmint/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/samber/do"
)

// Setup wires every component lazily: nothing, AWS included, is touched
// until something that needs it is invoked.
func Setup(ctx context.Context) *do.Injector {
	log := log.FromContextOrDiscard(ctx)

	injector := do.NewWithOpts(&do.InjectorOpts{
		Logf: func(format string, args ...any) {
			log.Debug(fmt.Sprintf(format, args...))
		},
	})

	do.Provide[*config.Config](injector, func(i *do.Injector) (*config.Config, error) {
		return config.Load(func(path string) (map[string]string, error) {
			return do.MustInvoke[param.Fetcher](i).FetchAll(ctx, path)
		})
	})

	do.Provide[aws.Config](injector, func(i *do.Injector) (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(ctx)
	})
	do.Provide[*ssm.Client](injector, func(i *do.Injector) (*ssm.Client, error) {
		return ssm.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[*s3.Client](injector, func(i *do.Injector) (*s3.Client, error) {
		cfg := do.MustInvoke[*config.Config](i).Store.S3
		return s3.NewFromConfig(do.MustInvoke[aws.Config](i), func(o *s3.Options) {
			o.Region = cfg.Region
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.PathStyle
		}), nil
	})
	do.Provide[*cloudfront.Client](injector, func(i *do.Injector) (*cloudfront.Client, error) {
		return cloudfront.NewFromConfig(do.MustInvoke[aws.Config](i)), nil
	})
	do.Provide[param.Fetcher](injector, param.NewParameterStoreFetcher)

	do.ProvideNamed[string](injector, "doubao_url", func(i *do.Injector) (string, error) {
		return do.MustInvoke[*config.Config](i).Provider.URL, nil
	})
	do.ProvideNamed[string](injector, "doubao_model", func(i *do.Injector) (string, error) {
		return do.MustInvoke[*config.Config](i).Provider.Model, nil
	})
	do.ProvideNamed[string](injector, "doubao_key", func(i *do.Injector) (string, error) {
		cfg := do.MustInvoke[*config.Config](i).Provider
		return resolve(ctx, i, cfg.APIKey, cfg.APIKeyParam)
	})
	do.ProvideNamed[string](injector, "pinata_jwt", func(i *do.Injector) (string, error) {
		cfg := do.MustInvoke[*config.Config](i).Store.Pinata
		return resolve(ctx, i, cfg.JWT, cfg.JWTParam)
	})
	do.ProvideNamed[int64](injector, "fetch_max_bytes", func(i *do.Injector) (int64, error) {
		return do.MustInvoke[*config.Config](i).Fetch.MaxBytes, nil
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	do.ProvideValue[prometheus.Registerer](injector, registry)
	do.ProvideValue[prometheus.Gatherer](injector, registry)
	do.Provide[pipeline.Observer](injector, func(i *do.Injector) (pipeline.Observer, error) {
		return metrics.NewObserver(i)
	})

	do.Provide[*prompt.Validator](injector, prompt.NewValidator)
	do.Provide[image.Generator](injector, image.NewArkGenerator)
	do.Provide[image.Fetcher](injector, image.NewHTTPFetcher)
	do.Provide[store.Persister](injector, store.NewPersister)
	do.Provide[*history.Ledger](injector, history.NewLedger)
	do.Provide[pipeline.Recorder](injector, func(i *do.Injector) (pipeline.Recorder, error) {
		return do.MustInvoke[*history.Ledger](i), nil
	})
	do.Provide[*pipeline.Orchestrator](injector, pipeline.NewOrchestrator)
	do.Provide[*feed.Generator](injector, feed.NewGenerator)
	do.Provide[*handler.Handler](injector, handler.NewHandler)
	do.Provide[*server.Server](injector, server.NewServer)

	return injector
}

// resolve only reaches for the parameter store when a secret is given by
// name rather than inline.
func resolve(ctx context.Context, i *do.Injector, value, name string) (string, error) {
	if value != "" || name == "" {
		return param.Resolve(ctx, nil, value, name)
	}
	return param.Resolve(ctx, do.MustInvoke[param.Fetcher](i), value, name)
}
