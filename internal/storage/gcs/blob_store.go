// Package gcs archives summaries in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
)

// Config names the target bucket.
type Config struct {
	Bucket string
	// CacheControl is set on every written object when non-empty.
	CacheControl string
}

// BlobStore writes objects to one bucket.
type BlobStore struct {
	bucket       *storage.BucketHandle
	name         string
	cacheControl string
}

// New binds client to cfg.Bucket.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("storage.gcs.bucket is required")
	}
	return &BlobStore{
		bucket:       client.Bucket(cfg.Bucket),
		name:         cfg.Bucket,
		cacheControl: cfg.CacheControl,
	}, nil
}

// PutObject uploads body and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, body io.Reader) (string, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		return "", errors.New("object path is required")
	}
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = contentType
	if s.cacheControl != "" {
		w.CacheControl = s.cacheControl
	}
	if _, err := io.Copy(w, body); err != nil {
		// Close aborts the upload; its error adds nothing to the copy failure.
		_ = w.Close()
		return "", fmt.Errorf("upload gs://%s/%s: %w", s.name, path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gs://%s/%s: %w", s.name, path, err)
	}
	return fmt.Sprintf("gs://%s/%s", s.name, path), nil
}
