// Package storage keeps uploaded and generated images in a Google Cloud
// Storage bucket.
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/devilmonastery/critterforge/internal/pkg/metrics"
	"github.com/devilmonastery/critterforge/internal/pkg/urlutil"
)

// Config holds the bucket settings
type Config struct {
	Bucket          string
	CredentialsFile string
	PublicBaseURL   string
	Timeout         time.Duration
}

// GCSStore writes objects to one bucket
type GCSStore struct {
	client  *gcs.Client
	bucket  string
	baseURL string
	timeout time.Duration
	log     *slog.Logger
}

// NewGCSStore creates a store. Without a credentials file the application
// default credentials are used.
func NewGCSStore(ctx context.Context, cfg Config, opts ...option.ClientOption) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage bucket is not configured")
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	return &GCSStore{
		client:  client,
		bucket:  cfg.Bucket,
		baseURL: cfg.PublicBaseURL,
		timeout: cfg.Timeout,
		log:     slog.Default().With(slog.String("component", "gcs")),
	}, nil
}

// Put uploads data under key and returns the object's public URL
func (s *GCSStore) Put(ctx context.Context, key, contentType string, data []byte) (url string, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordUpstreamCall("gcs", "put", time.Since(start), err)
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000, immutable"

	if _, err = w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err = w.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize object %s: %w", key, err)
	}

	s.log.Debug("stored object",
		slog.String("key", key),
		slog.Int("bytes", len(data)))
	return urlutil.ObjectURL(s.baseURL, s.bucket, key), nil
}

// HealthCheck verifies the bucket is reachable
func (s *GCSStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Close releases the client
func (s *GCSStore) Close() error {
	return s.client.Close()
}
