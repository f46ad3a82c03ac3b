// Package cloud is the remote object storage capability: a small Store
// interface, a Google Cloud Storage implementation and an in-memory one.
package cloud

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Get and Head for missing keys.
var ErrNotFound = errors.New("cloud: object not found")

// Object describes a stored object.
type Object struct {
	Key     string
	Size    int64
	Updated time.Time
}

// Store is a flat key/value object store.
type Store interface {
	List(ctx context.Context, prefix string) ([]Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (Object, error)
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Delete(ctx context.Context, key string) error
	// Ping checks that the store is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error
	Close() error
}

// Usage sums the size of objects.
func Usage(objects []Object) int64 {
	var total int64
	for _, o := range objects {
		total += o.Size
	}
	return total
}
