package disk

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurencee/wow-recorder/internal/platform/logger"
	"github.com/laurencee/wow-recorder/internal/video"
)

func writeVideo(t *testing.T, dir, name string, size int, md video.Metadata) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+video.MediaExt), make([]byte, size), 0o644))
	require.NoError(t, WriteMetadata(dir, name, md))
}

func at(sec int) *time.Time {
	ts := time.Date(2026, 1, 1, 20, 0, sec, 0, time.UTC)
	return &ts
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "a", 10, video.Metadata{Category: video.CategoryRaids, Start: at(0), UniqueHash: "H1", Player: "Alice"})
	writeVideo(t, dir, "b", 20, video.Metadata{Category: video.CategoryClips})
	// Media without sidecar is skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orphan.mp4"), nil, 0o644))
	// Broken sidecar is skipped.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.mp4"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0o644))

	s := New(logger.Discard())
	videos, skipped, err := s.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, videos, 2)

	byName := map[string]video.Video{}
	for _, v := range videos {
		byName[v.Name] = v
	}
	assert.Equal(t, "H1", byName["a"].Hash)
	assert.Equal(t, int64(10), byName["a"].Size)
	assert.Equal(t, video.OriginDisk, byName["a"].Origin)
	assert.Equal(t, filepath.Join(dir, "a.mp4"), byName["a"].Location)
	assert.Equal(t, video.CategoryClips, byName["b"].Category)
}

func TestList_missing_dir(t *testing.T) {
	_, _, err := New(logger.Discard()).List(context.Background(), filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestSetProtected_and_SetTag(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "a", 1, video.Metadata{Category: video.CategoryRaids})
	s := New(logger.Discard())

	require.NoError(t, s.SetProtected(dir, "a", true))
	require.NoError(t, s.SetTag(dir, "a", "  first kill "))
	md, err := ReadMetadata(dir, "a")
	require.NoError(t, err)
	assert.True(t, md.Protected)
	assert.Equal(t, "first kill", md.Tag)

	assert.ErrorIs(t, s.SetProtected(dir, "missing", true), ErrNotFound)
}

func TestMarkForDelete_and_Purge(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "a", 1, video.Metadata{})
	s := New(logger.Discard())

	require.NoError(t, s.MarkForDelete(dir, "a"))
	videos, _, err := s.List(context.Background(), dir)
	require.NoError(t, err)
	assert.Empty(t, videos)

	removed, err := s.PurgeMarked(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.ErrorIs(t, s.MarkForDelete(dir, "a"), ErrNotFound)
}

func TestUsage_and_Prune(t *testing.T) {
	dir := t.TempDir()
	writeVideo(t, dir, "oldest", 100, video.Metadata{Start: at(0)})
	writeVideo(t, dir, "protected", 100, video.Metadata{Start: at(1), Protected: true})
	writeVideo(t, dir, "newest", 100, video.Metadata{Start: at(2)})
	s := New(logger.Discard())

	used, err := s.Usage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(300), used)

	pruned, err := s.Prune(context.Background(), dir, 200)
	require.NoError(t, err)
	assert.Equal(t, []string{"oldest"}, pruned)

	pruned, err = s.Prune(context.Background(), dir, 50)
	require.NoError(t, err)
	assert.Equal(t, []string{"newest"}, pruned, "protected videos are never pruned")

	used, err = s.Usage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(100), used)
}

func TestImport(t *testing.T) {
	src := filepath.Join(t.TempDir(), "buffer.mp4")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0o644))
	dir := filepath.Join(t.TempDir(), "videos")

	dst, err := Import(src, dir, "clip")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), dst)
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "data", string(got))
	_, err = os.Stat(src)
	assert.True(t, os.IsNotExist(err))
}

func TestWatch_debounces(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, logger.Discard(), dir, 50*time.Millisecond, func() { calls.Add(1) })
	}()
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "f.mp4"), []byte{byte(i)}, 0o644))
	}
	require.Eventually(t, func() bool { return calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	cancel()
	assert.NoError(t, <-done)
}
