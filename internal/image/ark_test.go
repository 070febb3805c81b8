package image

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func arkServer(t *testing.T, handler http.HandlerFunc) (*ArkGenerator, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return &ArkGenerator{
		Client: srv.Client(),
		URL:    srv.URL,
		Key:    "secret",
		Model:  DefaultArkModel,
	}, &calls
}

func params() Params {
	return Params{Prompt: "a red fox in snow", Size: "1024x1024", Seed: 42, GuidanceScale: 2.5, Watermark: true}
}

func requireKind(t *testing.T, err error, kind failure.Kind) *failure.Error {
	t.Helper()
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, kind, fe.Kind, err.Error())
	return fe
}

func TestArkGenerateSendsFixedRequestShape(t *testing.T) {
	gen, _ := arkServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, DefaultArkModel, body["model"])
		assert.Equal(t, "a red fox in snow", body["prompt"])
		assert.Equal(t, "url", body["response_format"])
		assert.Equal(t, "1024x1024", body["size"])
		assert.Equal(t, float64(42), body["seed"])
		assert.Equal(t, 2.5, body["guidance_scale"])
		assert.Equal(t, true, body["watermark"])

		_, _ = w.Write([]byte(`{"data":[{"url":"https://cdn.example/x.png"},{"url":"https://cdn.example/y.png"}]}`))
	})

	url, err := gen.Generate(context.Background(), params())
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/x.png", url)
}

func TestArkGenerateMissingKeyMakesNoCall(t *testing.T) {
	gen, calls := arkServer(t, func(w http.ResponseWriter, r *http.Request) {})
	gen.Key = " "

	_, err := gen.Generate(context.Background(), params())
	requireKind(t, err, failure.Misconfigured)
	assert.Zero(t, calls.Load())
}

func TestArkGenerateClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   failure.Kind
	}{
		{http.StatusUnauthorized, failure.ProviderAuthFailed},
		{http.StatusForbidden, failure.ProviderAuthFailed},
		{http.StatusTooManyRequests, failure.ProviderRateLimited},
		{http.StatusBadRequest, failure.ProviderOtherError},
		{http.StatusBadGateway, failure.ProviderOtherError},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			gen, _ := arkServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":{"code":"Oops","message":"nope"}}`))
			})
			_, err := gen.Generate(context.Background(), params())
			fe := requireKind(t, err, tt.kind)
			assert.Equal(t, tt.status, fe.Status)
			assert.Equal(t, map[string]any{"error": map[string]any{"code": "Oops", "message": "nope"}}, fe.Payload)
		})
	}
}

func TestArkGenerateMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"no entries":  `{"data":[]}`,
		"missing url": `{"data":[{"b64_json":"abc"}]}`,
		"not json":    `<html>`,
	} {
		t.Run(name, func(t *testing.T) {
			gen, _ := arkServer(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			})
			_, err := gen.Generate(context.Background(), params())
			requireKind(t, err, failure.ProviderMalformedResponse)
		})
	}
}

func TestArkGenerateTimeout(t *testing.T) {
	release := make(chan struct{})
	gen, _ := arkServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	gen.Client.Timeout = 50 * time.Millisecond

	_, err := gen.Generate(context.Background(), params())
	requireKind(t, err, failure.ProviderTimeout)
}

func TestArkGenerateTransportError(t *testing.T) {
	gen := &ArkGenerator{Client: http.DefaultClient, URL: "http://127.0.0.1:1", Key: "k", Model: DefaultArkModel}
	_, err := gen.Generate(context.Background(), params())
	fe := requireKind(t, err, failure.ProviderOtherError)
	assert.Equal(t, http.StatusInternalServerError, fe.HTTPStatus())
}
