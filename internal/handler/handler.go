package handler

import (
	"context"
	"time"

	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/dmorgan81/promptmint/internal/pipeline"
	"github.com/samber/do"
)

// TimestampLayout is ISO 8601 in UTC with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

type Input struct {
	Prompt any    `json:"prompt"`
	Size   string `json:"size,omitempty"`
	Seed   *int64 `json:"seed,omitempty"`
}

func (i Input) toRequest() pipeline.Request {
	return pipeline.Request{Prompt: i.Prompt, Size: i.Size, Seed: i.Seed}
}

type Output struct {
	Success    bool   `json:"success"`
	ImageURL   string `json:"imageURL"`
	SourceURL  string `json:"sourceURL"`
	FileName   string `json:"fileName"`
	TokenURI   string `json:"tokenURI,omitempty"`
	Prompt     string `json:"prompt"`
	Size       string `json:"size"`
	Seed       int64  `json:"seed"`
	Recorded   bool   `json:"recorded"`
	DurationMs int64  `json:"durationMs"`
	Timestamp  string `json:"timestamp"`
}

func newOutput(out pipeline.Outcome) Output {
	res := out.Result
	return Output{
		Success:    true,
		ImageURL:   res.DurableURL,
		SourceURL:  res.SourceURL,
		FileName:   res.FileName,
		TokenURI:   res.MetadataURI,
		Prompt:     res.Prompt,
		Size:       res.Size,
		Seed:       res.Seed,
		Recorded:   out.Recorded,
		DurationMs: out.Duration.Milliseconds(),
		Timestamp:  Timestamp(time.Now()),
	}
}

func Timestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Runner is the part of the orchestrator the handler drives.
type Runner interface {
	Run(context.Context, pipeline.Request) (pipeline.Outcome, error)
}

// Handler is the single entrypoint shared by the HTTP server, the lambda
// runtime and the generate command.
type Handler struct {
	runner Runner
}

func NewHandler(i *do.Injector) (*Handler, error) {
	return &Handler{runner: do.MustInvoke[*pipeline.Orchestrator](i)}, nil
}

func New(runner Runner) *Handler {
	return &Handler{runner: runner}
}

func (h *Handler) Handle(ctx context.Context, input Input) (Output, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("handler").With("size", input.Size)
	log.Info("handling generation request")

	out, err := h.runner.Run(ctx, input.toRequest())
	if err != nil {
		return Output{}, err
	}
	return newOutput(out), nil
}
