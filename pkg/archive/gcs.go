//go:build gcp

package archive

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/storage"

	"github.com/Mindburn-Labs/hive-statechannel/pkg/chain"
)

// GCSArchive writes records to a Google Cloud Storage bucket.
type GCSArchive struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS-backed archive using application default credentials.
func NewGCS(ctx context.Context, cfg GCSConfig) (Sink, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSArchive{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (a *GCSArchive) Archive(ctx context.Context, env *chain.Envelope, ordinal *uint64) error {
	obj := a.client.Bucket(a.bucket).Object(objectKey(a.prefix, env))
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs attrs error: %w", err)
	}

	body, err := NewRecord(env, ordinal).Canonical()
	if err != nil {
		return err
	}

	w := obj.If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(body); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs close failed: %w", err)
	}
	return nil
}

func (a *GCSArchive) Close() error {
	return a.client.Close()
}
