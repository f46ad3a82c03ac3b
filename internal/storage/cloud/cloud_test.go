package cloud

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laurencee/wow-recorder/internal/platform/logger"
)

func TestMemory_crud(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Put(ctx, "b.json", strings.NewReader("{}"), "application/json"))
	require.NoError(t, m.Put(ctx, "a.mp4", strings.NewReader("12345"), "video/mp4"))

	objs, err := m.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "a.mp4", objs[0].Key)
	assert.Equal(t, int64(7), Usage(objs))

	head, err := m.Head(ctx, "a.mp4")
	require.NoError(t, err)
	assert.Equal(t, int64(5), head.Size)

	data, err := m.Get(ctx, "b.json")
	require.NoError(t, err)
	assert.Equal(t, "{}", string(data))

	require.NoError(t, m.Delete(ctx, "b.json"))
	_, err = m.Get(ctx, "b.json")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.Head(ctx, "b.json")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_injected_failures(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Put(ctx, "x.json", strings.NewReader("{}"), ""))
	boom := errors.New("503")
	m.FailGet("x.json", boom)
	_, err := m.Get(ctx, "x.json")
	assert.ErrorIs(t, err, boom)
	m.FailGet("x.json", nil)
	_, err = m.Get(ctx, "x.json")
	assert.NoError(t, err)

	m.FailPing(boom)
	assert.ErrorIs(t, m.Ping(ctx), boom)
}

func TestPoll_fires_on_change_only(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		Poll(ctx, logger.Discard(), m, 10*time.Millisecond, func(objs []Object) {
			mu.Lock()
			seen = append(seen, len(objs))
			mu.Unlock()
		})
	}()

	count := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(seen)
	}
	require.Eventually(t, func() bool { return count() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, count(), "unchanged listing must not fire")

	require.NoError(t, m.Put(ctx, "a.json", strings.NewReader("{}"), ""))
	require.Eventually(t, func() bool { return count() == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1}, seen)
}
