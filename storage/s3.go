package storage

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"wohnwatch/config"
)

var unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// S3Archiver keeps the markup of candidate pages that yielded no listings, so a
// broken selector can be diagnosed after the fact.
type S3Archiver struct {
	client *s3.Client
	bucket string
	now    func() time.Time
}

func NewS3Archiver(ctx context.Context, cfg config.S3Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		// R2, MinIO and similar need path-style addressing.
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	return &S3Archiver{
		client: client,
		bucket: cfg.Bucket,
		now:    time.Now,
	}, nil
}

// Archive stores markup fetched from sourceURL under a key grouped by provider and day.
func (a *S3Archiver) Archive(ctx context.Context, provider, sourceURL string, markup []byte) error {
	key := ArchiveKey(provider, sourceURL, a.now())
	return a.Upload(ctx, key, bytes.NewReader(markup), "text/html; charset=utf-8")
}

func (a *S3Archiver) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// ArchiveKey builds misses/<provider>/<date>/<time>-<url hash>.html.
func ArchiveKey(provider, sourceURL string, at time.Time) string {
	sum := sha1.Sum([]byte(sourceURL))
	safe := unsafeKeyChars.ReplaceAllString(provider, "_")
	if safe == "" {
		safe = "unknown"
	}
	at = at.UTC()
	return fmt.Sprintf("misses/%s/%s/%s-%s.html",
		safe, at.Format("2006-01-02"), at.Format("150405"), hex.EncodeToString(sum[:])[:12])
}
