package image

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"

	"github.com/dmorgan81/promptmint/internal/failure"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/samber/do"
)

const (
	FetchTimeout    = 30 * time.Second
	DefaultMaxBytes = int64(20 << 20)
)

type Download struct {
	Data        []byte
	ContentType string
}

// Fetcher retrieves the bytes behind a provider-hosted image URL.
type Fetcher interface {
	Fetch(context.Context, string) (Download, error)
}

type HTTPFetcher struct {
	Client   *http.Client
	MaxBytes int64
}

func NewHTTPFetcher(i *do.Injector) (Fetcher, error) {
	return &HTTPFetcher{
		Client:   &http.Client{Timeout: FetchTimeout},
		MaxBytes: do.MustInvokeNamed[int64](i, "fetch_max_bytes"),
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (Download, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("fetcher")
	log.Info("downloading generated image")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Download{}, failure.Wrap(failure.FetchFailed, "build download request", err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return Download{}, fetchError("download image", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Download{}, &failure.Error{
			Kind:    failure.FetchFailed,
			Message: fmt.Sprintf("image host returned status %d", resp.StatusCode),
		}
	}

	limit := f.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}
	if resp.ContentLength > limit {
		return Download{}, failure.New(failure.FetchFailed, fmt.Sprintf("image is %d bytes, limit is %d", resp.ContentLength, limit))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Download{}, fetchError("read image", err)
	}
	if int64(len(data)) > limit {
		return Download{}, failure.New(failure.FetchFailed, fmt.Sprintf("image exceeds %d bytes", limit))
	}

	contentType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt != "application/octet-stream" {
		contentType = mt
	} else {
		contentType = http.DetectContentType(data)
	}

	log.Info("downloaded generated image", "bytes", len(data), "content-type", contentType)
	return Download{Data: data, ContentType: contentType}, nil
}

func fetchError(msg string, err error) error {
	return &failure.Error{
		Kind:    failure.FetchFailed,
		Message: msg,
		Timeout: isTimeout(err),
		Err:     err,
	}
}
