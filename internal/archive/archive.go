// Package archive uploads the closed-trade log to S3-compatible object
// storage as newline-delimited JSON. It works against AWS S3 as well as MinIO,
// Cloudflare R2 and similar providers via a custom endpoint.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/atmx/paper-engine/internal/model"
	"github.com/atmx/paper-engine/internal/notify"
)

const contentType = "application/x-ndjson"

// Writer stores one object under key.
type Writer interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) error
}

// S3Config holds the connection settings for an S3-compatible bucket.
type S3Config struct {
	// Endpoint is the S3-compatible endpoint URL, e.g. "http://localhost:9000".
	// Leave empty for standard AWS S3.
	Endpoint string

	Region    string
	Bucket    string
	AccessKey string
	SecretKey string

	// ForcePathStyle puts the bucket in the path rather than the host name.
	// MinIO and most self-hosted providers need it.
	ForcePathStyle bool
}

// S3Writer implements Writer with a single PutObject per archive.
type S3Writer struct {
	client *s3.Client
	bucket string
}

// NewS3Writer creates an S3 client from cfg.
func NewS3Writer(ctx context.Context, cfg S3Config) (*S3Writer, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket name is required")
	}
	if cfg.Region == "" {
		return nil, fmt.Errorf("archive: region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		endpoint := normaliseEndpoint(cfg.Endpoint)
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return &S3Writer{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		bucket: cfg.Bucket,
	}, nil
}

// Put uploads body as one object.
func (w *S3Writer) Put(ctx context.Context, key string, body io.Reader, contentType string) error {
	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("archive: put object %s: %w", key, err)
	}
	return nil
}

// Archiver writes trade logs through a Writer and records each upload in the
// audit trail.
type Archiver struct {
	writer  Writer
	prefix  string
	auditor notify.Auditor
	now     func() time.Time
}

// NewArchiver creates an Archiver. auditor may be nil.
func NewArchiver(w Writer, prefix string, auditor notify.Auditor) *Archiver {
	return &Archiver{
		writer:  w,
		prefix:  strings.Trim(prefix, "/"),
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Archive uploads trades for engineID and returns the object key. An empty
// log uploads nothing and returns "".
func (a *Archiver) Archive(ctx context.Context, engineID string, trades []model.Trade) (string, error) {
	if len(trades) == 0 {
		return "", nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", fmt.Errorf("archive: marshal trades: %w", err)
	}

	key := objectKey(a.prefix, engineID, a.now())
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), contentType); err != nil {
		return "", err
	}

	if a.auditor != nil {
		if err := a.auditor.Record(ctx, "archive", map[string]any{
			"engine": engineID,
			"key":    key,
			"count":  len(trades),
		}); err != nil {
			return key, fmt.Errorf("archive: audit: %w", err)
		}
	}
	return key, nil
}

// objectKey is <prefix>/<engine>/trades-<UTC timestamp>.jsonl.
func objectKey(prefix, engineID string, at time.Time) string {
	name := fmt.Sprintf("%s/trades-%s.jsonl", engineID, at.UTC().Format("20060102T150405Z"))
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// marshalJSONL encodes one compact JSON object per line.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// normaliseEndpoint prepends https:// when the endpoint has no scheme.
func normaliseEndpoint(endpoint string) string {
	parsed, err := url.Parse(endpoint)
	if err == nil && parsed.Scheme != "" && parsed.Host != "" {
		return endpoint
	}
	return "https://" + endpoint
}
