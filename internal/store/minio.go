package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/dmorgan81/promptmint/internal/config"
	"github.com/dmorgan81/promptmint/internal/log"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const cacheControl = "public, max-age=31536000"

type MinioPersister struct {
	client    *minio.Client
	bucket    string
	region    string
	publicURL string
	metadata  bool

	mu    sync.Mutex
	ready bool
	// policyPending is set when the bucket was created but its policy was not applied.
	policyPending bool
}

func NewMinioPersister(cfg config.Minio, metadata bool) (*MinioPersister, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("minio endpoint is required")
	}
	if cfg.Port > 0 {
		endpoint = net.JoinHostPort(endpoint, strconv.Itoa(cfg.Port))
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("minio bucket is required")
	}
	region := firstNonEmpty(strings.TrimSpace(cfg.Region), "us-east-1")

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	return &MinioPersister{
		client:    client,
		bucket:    bucket,
		region:    region,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		metadata:  metadata,
	}, nil
}

// ensureBucket creates the bucket with a public-read policy the first time
// it is found missing. Once it succeeds it is not checked again; a failed
// attempt is retried by the next upload, including a policy that failed
// after the bucket itself was created.
func (p *MinioPersister) ensureBucket(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	log := log.FromContextOrDiscard(ctx).WithGroup("minio").With("bucket", p.bucket)

	exists, err := p.client.BucketExists(ctx, p.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w: %w", err, ErrUnavailable)
	}
	if !exists {
		if err := p.client.MakeBucket(ctx, p.bucket, minio.MakeBucketOptions{Region: p.region}); err != nil {
			return fmt.Errorf("create bucket: %w: %w", err, ErrUnavailable)
		}
		log.Info("bucket created")
		p.policyPending = true
	}
	if p.policyPending {
		policy, err := PublicReadPolicy(p.bucket)
		if err != nil {
			return fmt.Errorf("encode bucket policy: %w: %w", err, ErrPolicy)
		}
		if err := p.client.SetBucketPolicy(ctx, p.bucket, policy); err != nil {
			return fmt.Errorf("set bucket policy: %w: %w", err, ErrPolicy)
		}
		p.policyPending = false
		log.Info("bucket policy set to public read")
	}

	p.ready = true
	return nil
}

func (p *MinioPersister) Persist(ctx context.Context, a Artifact) (Location, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("minio").With("bucket", p.bucket, "name", a.Name)

	if len(a.Data) == 0 {
		return Location{}, ErrEmptyPayload
	}
	if err := p.ensureBucket(ctx); err != nil {
		return Location{}, err
	}

	url, err := p.put(ctx, a.Name, a.Data, a.ContentType)
	if err != nil {
		return Location{}, err
	}
	log.Info("image uploaded", "url", url)

	loc := Location{URL: url}
	if !p.metadata {
		return loc, nil
	}

	doc, err := NewMetadata(a, url).JSON()
	if err != nil {
		return Location{}, err
	}
	if loc.MetadataURI, err = p.put(ctx, FileName("metadata", "json"), doc, "application/json"); err != nil {
		return Location{}, err
	}
	log.Info("metadata uploaded", "url", loc.MetadataURI)
	return loc, nil
}

func (p *MinioPersister) put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	_, err := p.client.PutObject(ctx, p.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType:  contentType,
		CacheControl: cacheControl,
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w: %w", name, err, ErrUnavailable)
	}
	return publicObjectURL(p.publicURL, p.bucket, name), nil
}

func publicObjectURL(base, bucket, name string) string {
	return strings.TrimRight(base, "/") + "/" + bucket + "/" + name
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

// PublicReadPolicy allows anonymous GetObject on every key in bucket.
func PublicReadPolicy(bucket string) (string, error) {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	}
	b, err := json.Marshal(doc)
	return string(b), err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
