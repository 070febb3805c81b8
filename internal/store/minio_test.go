package store

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 understands just enough of the S3 REST API for bucket checks,
// bucket creation, policy updates and single-part puts.
type fakeS3 struct {
	mu       sync.Mutex
	buckets  map[string]bool
	policies map[string]string
	objects  map[string]http.Header
	requests []string
	// policyFailures is the number of policy updates to refuse before accepting one.
	policyFailures int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{buckets: map[string]bool{}, policies: map[string]string{}, objects: map[string]http.Header{}}
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	_, isPolicy := r.URL.Query()["policy"]
	f.requests = append(f.requests, r.Method+" "+r.URL.Path+lo.Ternary(isPolicy, "?policy", ""))

	switch {
	case r.Method == http.MethodHead && len(parts) == 1:
		if !f.buckets[bucket] {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(parts) == 1 && isPolicy && f.policyFailures > 0:
		f.policyFailures--
		w.Header().Set("Content-Type", "application/xml")
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>AccessDenied</Code><Message>Access Denied</Message></Error>`)
	case r.Method == http.MethodPut && len(parts) == 1 && isPolicy:
		body, _ := io.ReadAll(r.Body)
		f.policies[bucket] = string(body)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodPut && len(parts) == 1:
		f.buckets[bucket] = true
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut && len(parts) == 2:
		_, _ = io.Copy(io.Discard, r.Body)
		f.objects[r.URL.Path] = r.Header.Clone()
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func minioPersister(t *testing.T, fake *fakeS3, metadata bool) *MinioPersister {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	p, err := NewMinioPersister(config.Minio{
		Endpoint:  host,
		Port:      port,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "doubao-images",
		Region:    "us-east-1",
		PublicURL: "http://localhost:9100/",
	}, metadata)
	require.NoError(t, err)
	return p
}

func TestMinioPersistCreatesBucketOnceWithPolicy(t *testing.T) {
	fake := newFakeS3()
	p := minioPersister(t, fake, false)
	a := Artifact{Data: []byte("png"), ContentType: "image/png", Name: "generated-1-abcdefg.png"}

	loc, err := p.Persist(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9100/doubao-images/generated-1-abcdefg.png", loc.URL)
	assert.Empty(t, loc.MetadataURI)

	a.Name = "generated-2-abcdefg.png"
	_, err = p.Persist(context.Background(), a)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.policies["doubao-images"], "arn:aws:s3:::doubao-images/*")

	var bucketChecks int
	for _, r := range fake.requests {
		if r == "HEAD /doubao-images" {
			bucketChecks++
		}
	}
	assert.Equal(t, 1, bucketChecks)

	hdr := fake.objects["/doubao-images/generated-1-abcdefg.png"]
	require.NotNil(t, hdr)
	assert.Equal(t, "image/png", hdr.Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000", hdr.Get("Cache-Control"))
}

func TestMinioPersistWritesMetadata(t *testing.T) {
	fake := newFakeS3()
	fake.buckets["doubao-images"] = true
	p := minioPersister(t, fake, true)

	loc, err := p.Persist(context.Background(), Artifact{Data: []byte("png"), ContentType: "image/png", Name: "generated-1-abcdefg.png"})
	require.NoError(t, err)
	assert.Regexp(t, `^http://localhost:9100/doubao-images/metadata-\d{13}-[a-z0-9]{7}\.json$`, loc.MetadataURI)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Empty(t, fake.policies, "existing buckets keep their policy")
}

func TestMinioPersistRetriesPolicyAfterBucketCreated(t *testing.T) {
	fake := newFakeS3()
	fake.policyFailures = 1
	p := minioPersister(t, fake, false)
	a := Artifact{Data: []byte("png"), ContentType: "image/png", Name: "generated-1-abcdefg.png"}

	_, err := p.Persist(context.Background(), a)
	require.ErrorIs(t, err, ErrPolicy)

	fake.mu.Lock()
	assert.True(t, fake.buckets["doubao-images"])
	assert.Empty(t, fake.policies)
	fake.mu.Unlock()

	_, err = p.Persist(context.Background(), a)
	require.NoError(t, err)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Contains(t, fake.policies["doubao-images"], "arn:aws:s3:::doubao-images/*")
	assert.Contains(t, fake.objects, "/doubao-images/generated-1-abcdefg.png")
}
