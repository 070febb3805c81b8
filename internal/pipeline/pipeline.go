package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/history"
	"github.com/dmorgan81/promptmint/internal/image"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/dmorgan81/promptmint/internal/prompt"
	"github.com/dmorgan81/promptmint/internal/store"
	"github.com/samber/do"
)

const filePrefix = "generated"

type Request struct {
	Prompt any    `json:"prompt"`
	Size   string `json:"size,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
}

type Result struct {
	SourceURL   string    `json:"sourceURL"`
	DurableURL  string    `json:"durableURL"`
	MetadataURI string    `json:"metadataURI,omitempty"`
	FileName    string    `json:"fileName"`
	Prompt      string    `json:"prompt"`
	Size        string    `json:"size"`
	Seed        int64     `json:"seed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Outcome separates the primary result from history bookkeeping. A run
// whose artifact is durable succeeds even when Recorded is false.
type Outcome struct {
	Result    Result
	RecordID  int64
	Recorded  bool
	RecordErr error
	Duration  time.Duration
}

type Recorder interface {
	Append(context.Context, history.Record) (int64, error)
}

type Observer interface {
	ObserveStage(stage failure.Stage, elapsed time.Duration, err error)
	ObserveRun(elapsed time.Duration, err error, recorded bool)
}

type Orchestrator struct {
	validator *prompt.Validator
	generator image.Generator
	fetcher   image.Fetcher
	persister store.Persister
	ledger    Recorder
	observer  Observer

	guidanceScale float64
	watermark     bool
}

func NewOrchestrator(i *do.Injector) (*Orchestrator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	o := &Orchestrator{
		validator:     do.MustInvoke[*prompt.Validator](i),
		generator:     do.MustInvoke[image.Generator](i),
		fetcher:       do.MustInvoke[image.Fetcher](i),
		persister:     do.MustInvoke[store.Persister](i),
		ledger:        do.MustInvoke[Recorder](i),
		guidanceScale: cfg.Provider.GuidanceScale,
		watermark:     cfg.Provider.Watermark,
	}
	if observer, err := do.Invoke[Observer](i); err == nil {
		o.observer = observer
	}
	return o, nil
}

// Run takes one prompt through validation, generation, download, durable
// storage and history. Stages run strictly in order and nothing is retried.
// The caller's cancellation is not propagated; each network step is bounded
// by its own timeout instead.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Outcome, error) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()

	out, err := o.run(ctx, req)
	out.Duration = time.Since(start)
	if o.observer != nil {
		o.observer.ObserveRun(out.Duration, err, out.Recorded)
	}

	log := log.FromContextOrDiscard(ctx).WithGroup("pipeline")
	if err != nil {
		log.Error("generation failed", "error", err, "kind", failure.KindOf(err), "duration", out.Duration)
		return out, err
	}
	log.Info("generation complete", "url", out.Result.DurableURL, "recorded", out.Recorded, "duration", out.Duration)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, req Request) (Outcome, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("pipeline")

	var res Result
	err := o.stage(failure.Validating, failure.InvalidInput, func() (err error) {
		if res.Prompt, err = o.validator.Validate(ctx, req.Prompt); err != nil {
			return err
		}
		if res.Size, err = prompt.ValidateSize(req.Size); err != nil {
			return err
		}
		res.Seed, err = prompt.ValidateSeed(req.Seed)
		return err
	})
	if err != nil {
		return Outcome{}, err
	}
	log = log.With("size", res.Size, "seed", res.Seed)
	log.Info("generating image", "prompt", res.Prompt)

	err = o.stage(failure.Generating, failure.ProviderOtherError, func() (err error) {
		res.SourceURL, err = o.generator.Generate(ctx, image.Params{
			Prompt:        res.Prompt,
			Size:          res.Size,
			Seed:          res.Seed,
			GuidanceScale: o.guidanceScale,
			Watermark:     o.watermark,
		})
		return err
	})
	if err != nil {
		return Outcome{}, err
	}

	dl := image.Download{ContentType: "image/png"}
	if store.NeedsData(o.persister) {
		err = o.stage(failure.Fetching, failure.FetchFailed, func() (err error) {
			dl, err = o.fetcher.Fetch(ctx, res.SourceURL)
			return err
		})
		if err != nil {
			return Outcome{}, err
		}
	}

	res.CreatedAt = time.Now().UTC()
	res.FileName = store.FileName(filePrefix, store.Extension(dl.ContentType))
	err = o.stage(failure.Persisting, failure.StoreFailed, func() error {
		loc, err := o.persister.Persist(ctx, store.Artifact{
			Data:        dl.Data,
			SourceURL:   res.SourceURL,
			ContentType: dl.ContentType,
			Name:        res.FileName,
			Prompt:      res.Prompt,
			CreatedAt:   res.CreatedAt,
		})
		if err != nil {
			return err
		}
		if strings.TrimSpace(loc.URL) == "" {
			return failure.New(failure.StoreFailed, "store returned no url")
		}
		res.DurableURL, res.MetadataURI = loc.URL, loc.MetadataURI
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Result: res}
	err = o.stage(failure.Recording, failure.LedgerFailed, func() (err error) {
		out.RecordID, err = o.ledger.Append(ctx, history.Record{
			Prompt:      res.Prompt,
			SourceURL:   res.SourceURL,
			DurableURL:  res.DurableURL,
			MetadataURI: res.MetadataURI,
			FileName:    res.FileName,
			Size:        res.Size,
			Seed:        res.Seed,
			CreatedAt:   res.CreatedAt,
		})
		return err
	})
	if err != nil {
		// the artifact is durable; history is bookkeeping only
		log.Error("could not record history", "error", err, "url", res.DurableURL)
		out.RecordErr = err
		return out, nil
	}
	out.Recorded = true
	return out, nil
}

func (o *Orchestrator) stage(s failure.Stage, kind failure.Kind, fn func() error) error {
	start := time.Now()
	err := fn()
	if o.observer != nil {
		o.observer.ObserveStage(s, time.Since(start), err)
	}
	if err != nil {
		return failure.At(s, kind, err)
	}
	return nil
}
