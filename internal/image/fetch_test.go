package image

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n")

func fetcher(t *testing.T, handler http.HandlerFunc) (*HTTPFetcher, string) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &HTTPFetcher{Client: srv.Client(), MaxBytes: 4096}, srv.URL + "/img.png"
}

func TestFetchReturnsBytesAndContentType(t *testing.T) {
	payload := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{1}, 1016)...)
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png; charset=binary")
		_, _ = w.Write(payload)
	})

	dl, err := f.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Len(t, dl.Data, 1024)
	assert.Equal(t, "image/png", dl.ContentType)
}

func TestFetchSniffsMissingContentType(t *testing.T) {
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(append(append([]byte{}, pngHeader...), 0, 0, 0, 0))
	})

	dl, err := f.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "image/png", dl.ContentType)
}

func TestFetchAllowsEmptyBody(t *testing.T) {
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {})

	dl, err := f.Fetch(context.Background(), url)
	require.NoError(t, err)
	assert.Empty(t, dl.Data)
}

func TestFetchRejectsOversizedBody(t *testing.T) {
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(bytes.Repeat([]byte{1}, 5000))
	})

	_, err := f.Fetch(context.Background(), url)
	assert.Equal(t, failure.FetchFailed, failure.KindOf(err))
}

func TestFetchNon2xx(t *testing.T) {
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := f.Fetch(context.Background(), url)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, failure.FetchFailed, fe.Kind)
	assert.False(t, fe.Timeout)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	f, url := fetcher(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	f.Client.Timeout = 50 * time.Millisecond

	_, err := f.Fetch(context.Background(), url)
	var fe *failure.Error
	require.ErrorAs(t, err, &fe)
	assert.True(t, fe.Timeout)
	assert.Equal(t, http.StatusRequestTimeout, fe.HTTPStatus())
}
