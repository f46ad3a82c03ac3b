package cloud

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores objects in one Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	name   string
}

// NewGCS opens a client for bucket authenticated with a service account key.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	if _, err := os.Stat(credentialsFile); err != nil {
		return nil, fmt.Errorf("service account key not readable at %s: %w", credentialsFile, err)
	}
	client, err := storage.NewClient(ctx, option.WithCredentialsFile(credentialsFile))
	if err != nil {
		return nil, fmt.Errorf("create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: client.Bucket(bucket), name: bucket}, nil
}

func (g *GCS) List(ctx context.Context, prefix string) ([]Object, error) {
	var out []Object
	it := g.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list gs://%s/%s: %w", g.name, prefix, err)
		}
		out = append(out, Object{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated})
	}
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read gs://%s/%s: %w", g.name, key, err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

func (g *GCS) Head(ctx context.Context, key string) (Object, error) {
	attrs, err := g.bucket.Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return Object{}, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return Object{}, fmt.Errorf("stat gs://%s/%s: %w", g.name, key, err)
	}
	return Object{Key: attrs.Name, Size: attrs.Size, Updated: attrs.Updated}, nil
}

func (g *GCS) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "no-cache"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return fmt.Errorf("upload gs://%s/%s: %w", g.name, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish upload gs://%s/%s: %w", g.name, key, err)
	}
	return nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil
	}
	return err
}

func (g *GCS) Ping(ctx context.Context) error {
	if _, err := g.bucket.Attrs(ctx); err != nil {
		return fmt.Errorf("bucket %s: %w", g.name, err)
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
