package handler

import (
	"context"
	"testing"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/pipeline"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(context.Context, pipeline.Request) (pipeline.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, req pipeline.Request) (pipeline.Outcome, error) {
	return f(ctx, req)
}

func TestHandleMapsOutcome(t *testing.T) {
	var got pipeline.Request
	h := New(runnerFunc(func(_ context.Context, req pipeline.Request) (pipeline.Outcome, error) {
		got = req
		return pipeline.Outcome{
			Result: pipeline.Result{
				SourceURL:   "https://ark.example/x.png",
				DurableURL:  "https://cdn.example/generated-1.png",
				MetadataURI: "https://cdn.example/metadata-1.json",
				FileName:    "generated-1.png",
				Prompt:      "a red fox in snow",
				Size:        "1024x1024",
				Seed:        7,
			},
			Recorded: true,
			Duration: 1500 * time.Millisecond,
		}, nil
	}))

	out, err := h.Handle(context.Background(), Input{Prompt: "a red fox in snow", Seed: lo.ToPtr(int64(7))})
	require.NoError(t, err)

	assert.Equal(t, "a red fox in snow", got.Prompt)
	assert.Equal(t, int64(7), *got.Seed)
	assert.True(t, out.Success)
	assert.Equal(t, "https://cdn.example/generated-1.png", out.ImageURL)
	assert.Equal(t, "https://ark.example/x.png", out.SourceURL)
	assert.Equal(t, "https://cdn.example/metadata-1.json", out.TokenURI)
	assert.Equal(t, int64(1500), out.DurationMs)
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, out.Timestamp)
}

func TestHandleReturnsFailure(t *testing.T) {
	h := New(runnerFunc(func(context.Context, pipeline.Request) (pipeline.Outcome, error) {
		return pipeline.Outcome{}, failure.At(failure.Generating, failure.ProviderOtherError, failure.New(failure.ProviderRateLimited, "slow down"))
	}))

	out, err := h.Handle(context.Background(), Input{Prompt: "fox"})
	assert.Equal(t, failure.ProviderRateLimited, failure.KindOf(err))
	assert.False(t, out.Success)
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.FixedZone("x", 3600))
	assert.Equal(t, "2024-01-02T02:04:05.006Z", Timestamp(ts))
}
