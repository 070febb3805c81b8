package image

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/samber/do"
)

const (
	DefaultArkURL   = "https://ark.cn-beijing.volces.com/api/v3/images/generations"
	DefaultArkModel = "doubao-seedream-3-0-t2i-250415"
	GenerateTimeout = 60 * time.Second
)

// ArkGenerator calls the Volcengine Ark images endpoint that serves the
// doubao seedream models.
type ArkGenerator struct {
	Client *http.Client
	URL    string
	Key    string
	Model  string
}

func NewArkGenerator(i *do.Injector) (Generator, error) {
	return &ArkGenerator{
		Client: &http.Client{Timeout: GenerateTimeout},
		URL:    do.MustInvokeNamed[string](i, "doubao_url"),
		Key:    do.MustInvokeNamed[string](i, "doubao_key"),
		Model:  do.MustInvokeNamed[string](i, "doubao_model"),
	}, nil
}

type arkResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

func (g *ArkGenerator) Generate(ctx context.Context, params Params) (string, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("ark").With("model", g.Model, "size", params.Size, "seed", params.Seed)

	if strings.TrimSpace(g.Key) == "" {
		log.Error("DOUBAO_API_KEY is not configured")
		return "", failure.New(failure.Misconfigured, "provider api key is not configured")
	}

	params.Model = g.Model
	params.ResponseFormat = "url"
	body, err := json.Marshal(params)
	if err != nil {
		return "", failure.Wrap(failure.Internal, "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return "", failure.Wrap(failure.Misconfigured, "build provider request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.Key)

	log.Info("generating image via ark")
	resp, err := g.Client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", failure.Wrap(failure.ProviderTimeout, "provider request timed out", err)
		}
		return "", failure.Wrap(failure.ProviderOtherError, "provider request failed", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", failure.Wrap(failure.ProviderTimeout, "reading provider response timed out", err)
		}
		return "", failure.Wrap(failure.ProviderOtherError, "read provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(resp.StatusCode, data)
	}

	var out arkResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", &failure.Error{
			Kind:    failure.ProviderMalformedResponse,
			Message: "provider response is not valid json",
			Payload: string(data),
			Err:     err,
		}
	}
	if len(out.Data) == 0 || strings.TrimSpace(out.Data[0].URL) == "" {
		log.Error("no image url in provider response", "body", string(data))
		return "", &failure.Error{
			Kind:    failure.ProviderMalformedResponse,
			Message: "provider response has no image url",
			Payload: decodePayload(data),
		}
	}

	log.Info("received image url via ark")
	return out.Data[0].URL, nil
}

func classifyStatus(status int, body []byte) error {
	e := &failure.Error{
		Status:  status,
		Payload: decodePayload(body),
		Message: fmt.Sprintf("provider returned status %d", status),
	}
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e.Kind = failure.ProviderAuthFailed
	case http.StatusTooManyRequests:
		e.Kind = failure.ProviderRateLimited
	default:
		e.Kind = failure.ProviderOtherError
	}
	return e
}

// decodePayload keeps a provider body as structured json when it is json and
// as text otherwise.
func decodePayload(body []byte) any {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err == nil {
		return v
	}
	return string(body)
}
