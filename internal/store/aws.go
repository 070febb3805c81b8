package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudfront"
	cftypes "github.com/aws/aws-sdk-go-v2/service/cloudfront/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmorgan81/promptmint/internal/log"
)

// S3Persister writes to an S3 (or S3-compatible) bucket. When Invalidator is
// set, every upload also refreshes latest.<ext> and invalidates it in the CDN.
type S3Persister struct {
	Client      *s3.Client
	Bucket      string
	Region      string
	PublicURL   string
	Metadata    bool
	Invalidator Invalidator

	mu            sync.Mutex
	ready         bool
	policyPending bool
}

func (p *S3Persister) ensureBucket(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ready {
		return nil
	}

	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With("bucket", p.Bucket)

	_, err := p.Client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(p.Bucket)})
	var notFound *s3types.NotFound
	switch {
	case err == nil:
	case errors.As(err, &notFound):
		input := &s3.CreateBucketInput{Bucket: aws.String(p.Bucket)}
		if p.Region != "" && p.Region != "us-east-1" {
			input.CreateBucketConfiguration = &s3types.CreateBucketConfiguration{
				LocationConstraint: s3types.BucketLocationConstraint(p.Region),
			}
		}
		if _, err := p.Client.CreateBucket(ctx, input); err != nil {
			return fmt.Errorf("create bucket: %w: %w", err, ErrUnavailable)
		}
		log.Info("bucket created")
		p.policyPending = true
	default:
		return fmt.Errorf("head bucket: %w: %w", err, ErrUnavailable)
	}

	if p.policyPending {
		// New AWS buckets block public policies; S3-compatible stores may not
		// implement the call at all.
		if _, err := p.Client.DeletePublicAccessBlock(ctx, &s3.DeletePublicAccessBlockInput{Bucket: aws.String(p.Bucket)}); err != nil {
			log.Warn("could not remove public access block", "error", err)
		}

		policy, err := PublicReadPolicy(p.Bucket)
		if err != nil {
			return fmt.Errorf("encode bucket policy: %w: %w", err, ErrPolicy)
		}
		if _, err := p.Client.PutBucketPolicy(ctx, &s3.PutBucketPolicyInput{
			Bucket: aws.String(p.Bucket),
			Policy: aws.String(policy),
		}); err != nil {
			return fmt.Errorf("put bucket policy: %w: %w", err, ErrPolicy)
		}
		p.policyPending = false
		log.Info("bucket policy set to public read")
	}

	p.ready = true
	return nil
}

func (p *S3Persister) Persist(ctx context.Context, a Artifact) (Location, error) {
	log := log.FromContextOrDiscard(ctx).WithGroup("s3").With("bucket", p.Bucket, "name", a.Name)

	if len(a.Data) == 0 {
		return Location{}, ErrEmptyPayload
	}
	if err := p.ensureBucket(ctx); err != nil {
		return Location{}, err
	}

	log.Info("uploading to s3")
	if err := p.put(ctx, a.Name, a.Data, a.ContentType); err != nil {
		return Location{}, err
	}
	loc := Location{URL: p.objectURL(a.Name)}

	if p.Metadata {
		doc, err := NewMetadata(a, loc.URL).JSON()
		if err != nil {
			return Location{}, err
		}
		name := FileName("metadata", "json")
		if err := p.put(ctx, name, doc, "application/json"); err != nil {
			return Location{}, err
		}
		loc.MetadataURI = p.objectURL(name)
	}

	if p.Invalidator != nil {
		// alias failures are logged only
		latest := "latest." + Extension(a.ContentType)
		if err := p.put(ctx, latest, a.Data, a.ContentType); err != nil {
			log.Warn("could not refresh latest alias", "error", err)
		} else if err := p.Invalidator.Invalidate(ctx, []string{"/" + latest}); err != nil {
			log.Warn("could not invalidate latest alias", "error", err)
		}
	}

	return loc, nil
}

func (p *S3Persister) put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := p.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:       aws.String(p.Bucket),
		Key:          aws.String(key),
		ContentType:  aws.String(contentType),
		CacheControl: aws.String(cacheControl),
		Body:         bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w: %w", key, err, ErrUnavailable)
	}
	return nil
}

func (p *S3Persister) objectURL(key string) string {
	if p.PublicURL != "" {
		return publicObjectURL(p.PublicURL, p.Bucket, key)
	}
	region := firstNonEmpty(p.Region, "us-east-1")
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.Bucket, region, strings.TrimLeft(key, "/"))
}

// Invalidator drops cached copies of paths from a CDN.
type Invalidator interface {
	Invalidate(context.Context, []string) error
}

type CloudFrontInvalidator struct {
	Client       *cloudfront.Client
	Distribution string
}

func (i *CloudFrontInvalidator) Invalidate(ctx context.Context, paths []string) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("cloudfront").With("paths", paths, "distribution", i.Distribution)
	log.Info("invalidating paths in cloudfront")

	_, err := i.Client.CreateInvalidation(ctx, &cloudfront.CreateInvalidationInput{
		DistributionId: aws.String(i.Distribution),
		InvalidationBatch: &cftypes.InvalidationBatch{
			CallerReference: aws.String(time.Now().UTC().Format("20060102150405.000")),
			Paths: &cftypes.Paths{
				Quantity: aws.Int32(int32(len(paths))),
				Items:    paths,
			},
		},
	})
	return err
}
