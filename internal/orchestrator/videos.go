package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/laurencee/wow-recorder/internal/status"
	"github.com/laurencee/wow-recorder/internal/storage/cloud"
	"github.com/laurencee/wow-recorder/internal/storage/disk"
	"github.com/laurencee/wow-recorder/internal/video"
)

// checkName rejects names that would escape the storage directory.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid video name %q: %w", name, status.ErrBadRequest)
	}
	return nil
}

func (m *Manager) storage() (string, cloud.Store) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.base.StoragePath, m.cloud
}

// Videos lists disk and cloud videos grouped by activity, most recent
// first. It is empty until storage has been configured.
func (m *Manager) Videos(ctx context.Context) ([]video.Video, error) {
	dir, _ := m.storage()
	if dir == "" {
		return nil, nil
	}
	return m.opts.Loader.LoadAll(ctx, dir)
}

// Protect sets whether the named video is exempt from pruning, on disk and
// in the cloud.
func (m *Manager) Protect(ctx context.Context, name string, protected bool) error {
	return m.editVideo(ctx, name,
		func(dir string) error { return m.opts.Disk.SetProtected(dir, name, protected) },
		func(md *video.Metadata) { md.Protected = protected })
}

// Tag sets the named video's free-form tag.
func (m *Manager) Tag(ctx context.Context, name, tag string) error {
	return m.editVideo(ctx, name,
		func(dir string) error { return m.opts.Disk.SetTag(dir, name, tag) },
		func(md *video.Metadata) { md.Tag = tag })
}

// editVideo applies an edit to every copy of a video. It fails with
// status.ErrNotFound only when no copy exists.
func (m *Manager) editVideo(ctx context.Context, name string, onDisk func(dir string) error, edit func(*video.Metadata)) error {
	if err := checkName(name); err != nil {
		return err
	}
	dir, store := m.storage()
	if dir == "" {
		return fmt.Errorf("storage is not configured: %w", status.ErrBadRequest)
	}

	found := false
	if err := onDisk(dir); err == nil {
		found = true
	} else if !errors.Is(err, disk.ErrNotFound) {
		return err
	}

	if store != nil {
		err := updateCloudMetadata(ctx, store, name, edit)
		if err == nil {
			found = true
		} else if !errors.Is(err, cloud.ErrNotFound) {
			return err
		}
	}

	if !found {
		return fmt.Errorf("video %q: %w", name, status.ErrNotFound)
	}
	m.pub.RefreshState()
	return nil
}

func updateCloudMetadata(ctx context.Context, store cloud.Store, name string, edit func(*video.Metadata)) error {
	key := name + video.MetadataExt
	raw, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	var md video.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	edit(&md)
	raw, err = json.Marshal(md)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, bytes.NewReader(raw), "application/json")
}

// Delete removes every copy of the named video.
func (m *Manager) Delete(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	dir, store := m.storage()
	if dir == "" {
		return fmt.Errorf("storage is not configured: %w", status.ErrBadRequest)
	}

	found := false
	switch err := m.opts.Disk.MarkForDelete(dir, name); {
	case err == nil:
		found = true
		if _, err := m.opts.Disk.PurgeMarked(dir); err != nil {
			m.log.Warn("purge deleted video", "name", name, "error", err)
		}
	case !errors.Is(err, disk.ErrNotFound):
		return err
	}

	if store != nil {
		if _, err := store.Head(ctx, name+video.MediaExt); err == nil {
			found = true
			for _, key := range []string{name + video.MediaExt, name + video.MetadataExt} {
				if err := store.Delete(ctx, key); err != nil {
					return fmt.Errorf("delete %s: %w", key, err)
				}
			}
		} else if !errors.Is(err, cloud.ErrNotFound) {
			return err
		}
	}

	if !found {
		return fmt.Errorf("video %q: %w", name, status.ErrNotFound)
	}
	m.pub.RefreshState()
	return nil
}
