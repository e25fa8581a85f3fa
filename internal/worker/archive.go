package worker

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

// Archive copies committed summaries into a blob store.
type Archive struct {
	blobs  summary.BlobStore
	hasher summary.Hasher
	prefix string
}

// NewArchive returns nil when blobs is nil, which disables archiving.
func NewArchive(blobs summary.BlobStore, hasher summary.Hasher, prefix string) *Archive {
	if blobs == nil || hasher == nil {
		return nil
	}
	return &Archive{blobs: blobs, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Store writes text under <prefix>/<owner>/<job>/<hash>.txt and returns its URI.
func (a *Archive) Store(ctx context.Context, job summary.Job, text string) (string, error) {
	body := []byte(text)
	hash, err := a.hasher.Hash(body)
	if err != nil {
		return "", fmt.Errorf("hash summary: %w", err)
	}
	uri, err := a.blobs.PutObject(ctx, a.path(job, hash), "text/plain; charset=utf-8", strings.NewReader(text))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (a *Archive) path(job summary.Job, hash string) string {
	parts := make([]string, 0, 4)
	if a.prefix != "" {
		parts = append(parts, a.prefix)
	}
	parts = append(parts, strconv.FormatInt(job.OwnerID, 10), job.ID, hash+".txt")
	return strings.Join(parts, "/")
}
