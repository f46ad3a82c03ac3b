package correlate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/laurencee/wow-recorder/internal/platform/metrics"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/video"
)

// DiskLister lists the videos in a storage directory.
type DiskLister interface {
	List(ctx context.Context, dir string) ([]video.Video, int, error)
}

// Loader builds the merged video listing. The cloud store may be swapped
// at any time as configuration changes.
type Loader struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	disk    DiskLister
	limit   int

	mu    sync.RWMutex
	cloud cloud.Store

	group singleflight.Group
}

// NewLoader returns a Loader fetching at most limit cloud objects at once.
func NewLoader(log *slog.Logger, m *metrics.Metrics, disk DiskLister, limit int) *Loader {
	if limit <= 0 {
		limit = 8
	}
	return &Loader{log: log, metrics: m, disk: disk, limit: limit}
}

// SetCloud replaces the cloud store. A nil store disables cloud listing.
func (l *Loader) SetCloud(s cloud.Store) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cloud = s
}

func (l *Loader) cloudStore() cloud.Store {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cloud
}

// LoadAll lists cloud videos then disk videos under dir, correlates them
// and returns them most recent first. Failures of individual videos, or of
// a whole origin, are logged and leave those videos out. Concurrent calls
// for the same dir share one listing.
func (l *Loader) LoadAll(ctx context.Context, dir string) ([]video.Video, error) {
	v, err, _ := l.group.Do(dir, func() (any, error) {
		return l.loadAll(ctx, dir)
	})
	if err != nil {
		return nil, err
	}
	return v.([]video.Video), nil
}

func (l *Loader) loadAll(ctx context.Context, dir string) ([]video.Video, error) {
	var fromCloud []video.Video
	if s := l.cloudStore(); s != nil {
		var err error
		fromCloud, err = l.listCloud(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			l.log.Warn("cloud listing failed", "error", err)
			l.metrics.IncListingErrors(string(video.OriginCloud))
		}
	}

	fromDisk, skipped, err := l.disk.List(ctx, dir)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		l.log.Warn("disk listing failed", "dir", dir, "error", err)
		l.metrics.IncListingErrors(string(video.OriginDisk))
	}
	for range skipped {
		l.metrics.IncListingErrors(string(video.OriginDisk))
	}

	out := Merge(fromCloud, fromDisk)
	l.metrics.SetVideosListed(len(out))
	return out, nil
}

// listCloud fetches every metadata object with its media object's size.
// The result keeps the listing order.
func (l *Loader) listCloud(ctx context.Context, s cloud.Store) ([]video.Video, error) {
	objects, err := s.List(ctx, "")
	if err != nil {
		return nil, err
	}
	var keys []string
	for _, o := range objects {
		if strings.HasSuffix(o.Key, video.MetadataExt) {
			keys = append(keys, o.Key)
		}
	}

	results := make([]*video.Video, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.limit)
	for i, key := range keys {
		g.Go(func() error {
			v, err := l.fetchCloud(gctx, s, key)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				l.log.Warn("skipping cloud video", "key", key, "error", err)
				l.metrics.IncListingErrors(string(video.OriginCloud))
				return nil
			}
			results[i] = &v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]video.Video, 0, len(results))
	for _, v := range results {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out, nil
}

func (l *Loader) fetchCloud(ctx context.Context, s cloud.Store, key string) (video.Video, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return video.Video{}, fmt.Errorf("fetch metadata: %w", err)
	}
	var md video.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return video.Video{}, fmt.Errorf("decode metadata: %w", err)
	}
	name := video.BaseName(key)
	media, err := s.Head(ctx, name+video.MediaExt)
	if err != nil {
		return video.Video{}, fmt.Errorf("stat media: %w", err)
	}
	return video.FromMetadata(name, video.OriginCloud, media.Key, media.Size, md), nil
}
