package presence

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTracker_Transitions(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	first, err := tr.Connect(ctx, 42)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = tr.Connect(ctx, 42)
	require.NoError(t, err)
	assert.False(t, first, "second session is not a 0->1 transition")

	n, _ := tr.Count(ctx, 42)
	assert.Equal(t, 2, n)

	last, err := tr.Disconnect(ctx, 42)
	require.NoError(t, err)
	assert.False(t, last)

	last, err = tr.Disconnect(ctx, 42)
	require.NoError(t, err)
	assert.True(t, last)

	n, _ = tr.Count(ctx, 42)
	assert.Equal(t, 0, n)
}

func TestMemoryTracker_DisconnectUnknownUser(t *testing.T) {
	tr := NewMemoryTracker()

	last, err := tr.Disconnect(context.Background(), 99)
	require.NoError(t, err)
	assert.False(t, last)

	n, _ := tr.Count(context.Background(), 99)
	assert.Equal(t, 0, n, "counter never goes negative")
}

func TestMemoryTracker_ConcurrentTransitionsFireOnce(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()

	const sessions = 50
	var firsts, lasts atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if first, _ := tr.Connect(ctx, 7); first {
				firsts.Add(1)
			}
		}()
	}
	wg.Wait()

	n, _ := tr.Count(ctx, 7)
	assert.Equal(t, sessions, n)

	for i := 0; i < sessions; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if last, _ := tr.Disconnect(ctx, 7); last {
				lasts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), firsts.Load())
	assert.Equal(t, int32(1), lasts.Load())
}

func TestMemoryTracker_Online(t *testing.T) {
	ctx := context.Background()
	tr := NewMemoryTracker()
	tr.Connect(ctx, 1)
	tr.Connect(ctx, 3)

	online, err := tr.Online(ctx, []int64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, online)
}
