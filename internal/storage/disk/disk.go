// Package disk lists and edits the videos kept in a local storage directory.
// Every video is a media file with a JSON metadata sidecar of the same base
// name.
package disk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/laurencee/wow-recorder/internal/video"
)

// ErrNotFound is returned when a named video does not exist.
var ErrNotFound = errors.New("disk: video not found")

// deleteSuffix marks files queued for deletion by MarkForDelete.
const deleteSuffix = ".delete"

// Store operates on storage directories. It is stateless and safe for
// concurrent use.
type Store struct {
	log *slog.Logger
}

// New returns a Store that logs skipped entries to log.
func New(log *slog.Logger) *Store {
	return &Store{log: log}
}

// List loads every video under dir. Entries whose sidecar is missing or
// unreadable are logged and skipped; skipped counts them.
func (s *Store) List(ctx context.Context, dir string) (videos []video.Video, skipped int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read storage dir: %w", err)
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, skipped, err
		}
		if e.IsDir() || filepath.Ext(e.Name()) != video.MediaExt {
			continue
		}
		name := video.BaseName(e.Name())
		v, err := s.load(dir, name, e)
		if err != nil {
			s.log.Warn("skipping video", "name", name, "error", err)
			skipped++
			continue
		}
		videos = append(videos, v)
	}
	return videos, skipped, nil
}

func (s *Store) load(dir, name string, e fs.DirEntry) (video.Video, error) {
	info, err := e.Info()
	if err != nil {
		return video.Video{}, err
	}
	md, err := ReadMetadata(dir, name)
	if err != nil {
		return video.Video{}, err
	}
	return video.FromMetadata(name, video.OriginDisk, filepath.Join(dir, e.Name()), info.Size(), md), nil
}

// ReadMetadata decodes the sidecar of the named video.
func ReadMetadata(dir, name string) (video.Metadata, error) {
	var md video.Metadata
	raw, err := os.ReadFile(filepath.Join(dir, name+video.MetadataExt))
	if errors.Is(err, fs.ErrNotExist) {
		return md, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return md, err
	}
	if err := json.Unmarshal(raw, &md); err != nil {
		return md, fmt.Errorf("decode metadata %s: %w", name, err)
	}
	return md, nil
}

// WriteMetadata atomically replaces the sidecar of the named video.
func WriteMetadata(dir, name string, md video.Metadata) error {
	raw, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name+video.MetadataExt)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return os.Rename(tmp, path)
}

// SetProtected flips the protected flag; protected videos are never pruned.
func (s *Store) SetProtected(dir, name string, protected bool) error {
	return s.update(dir, name, func(md *video.Metadata) { md.Protected = protected })
}

// SetTag sets the free-form tag of a video.
func (s *Store) SetTag(dir, name, tag string) error {
	return s.update(dir, name, func(md *video.Metadata) { md.Tag = strings.TrimSpace(tag) })
}

func (s *Store) update(dir, name string, fn func(*video.Metadata)) error {
	md, err := ReadMetadata(dir, name)
	if err != nil {
		return err
	}
	fn(&md)
	return WriteMetadata(dir, name, md)
}

// MarkForDelete hides a video from listings. The files are removed by the
// next PurgeMarked, so a video still open in a player is not yanked away.
func (s *Store) MarkForDelete(dir, name string) error {
	media := filepath.Join(dir, name+video.MediaExt)
	if _, err := os.Stat(media); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	for _, ext := range []string{video.MediaExt, video.MetadataExt} {
		p := filepath.Join(dir, name+ext)
		if err := os.Rename(p, p+deleteSuffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("mark %s: %w", filepath.Base(p), err)
		}
	}
	return nil
}

// PurgeMarked removes files previously marked for deletion. Files that are
// still locked are left for the next purge.
func (s *Store) PurgeMarked(dir string) (removed int, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), deleteSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			s.log.Debug("purge deferred", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// Usage sums the size of all media files under dir.
func (s *Store) Usage(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != video.MediaExt {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Prune marks the oldest unprotected videos for deletion until the media
// under dir fits in maxBytes. maxBytes <= 0 disables pruning.
func (s *Store) Prune(ctx context.Context, dir string, maxBytes int64) (pruned []string, err error) {
	if maxBytes <= 0 {
		return nil, nil
	}
	videos, _, err := s.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, v := range videos {
		total += v.Size
	}
	sort.Slice(videos, func(i, j int) bool {
		return startOf(videos[i]) < startOf(videos[j])
	})
	for _, v := range videos {
		if total <= maxBytes {
			break
		}
		if v.Protected {
			continue
		}
		if err := s.MarkForDelete(dir, v.Name); err != nil {
			return pruned, err
		}
		total -= v.Size
		pruned = append(pruned, v.Name)
		s.log.Info("pruned video to respect max storage", "name", v.Name, "size", v.Size)
	}
	return pruned, nil
}

func startOf(v video.Video) int64 {
	if v.Start == nil {
		return 0
	}
	return v.Start.UnixMilli()
}

// Import moves src into dir as name's media file, copying when a rename
// crosses file systems.
func Import(src, dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name+video.MediaExt)
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return "", fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return dst, os.Remove(src)
}
