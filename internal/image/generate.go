package image

import (
	"context"
	"errors"
	"net"
)

type Params struct {
	Model          string  `json:"model"`
	Prompt         string  `json:"prompt"`
	ResponseFormat string  `json:"response_format"`
	Size           string  `json:"size"`
	Seed           int64   `json:"seed"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Watermark      bool    `json:"watermark"`
}

// Generator asks a provider for an image and returns the provider-hosted URL.
type Generator interface {
	Generate(context.Context, Params) (string, error)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
