package presence

import (
	"context"
	"sync"
)

// MemoryTracker keeps counters in process memory.
type MemoryTracker struct {
	mu     sync.Mutex
	counts map[int64]int
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{counts: make(map[int64]int)}
}

func (t *MemoryTracker) Connect(_ context.Context, userID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counts[userID]++
	return t.counts[userID] == 1, nil
}

func (t *MemoryTracker) Disconnect(_ context.Context, userID int64) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n, ok := t.counts[userID]
	if !ok {
		return false, nil
	}
	if n <= 1 {
		delete(t.counts, userID)
		return true, nil
	}
	t.counts[userID] = n - 1
	return false, nil
}

func (t *MemoryTracker) Count(_ context.Context, userID int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID], nil
}

func (t *MemoryTracker) Online(_ context.Context, ids []int64) ([]int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	online := make([]int64, 0, len(ids))
	for _, id := range ids {
		if t.counts[id] > 0 {
			online = append(online, id)
		}
	}
	return online, nil
}
