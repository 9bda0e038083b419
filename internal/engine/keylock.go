package engine

import (
	"sync"

	"github.com/fieldsight-io/fieldsight/pkg/types"
)

// inflight is the shared result slot for one in-progress unit of work.
// Followers block on done and read record/err afterward.
type inflight struct {
	done   chan struct{}
	record *types.RunRecord
	err    error
}

// keyLock serializes work per unit key and coalesces duplicates: while a
// unit is running, further requests for the same unit attach to the running
// execution instead of starting another.
type keyLock struct {
	mu    sync.Mutex
	slots map[string]*inflight
}

func newKeyLock() *keyLock {
	return &keyLock{slots: make(map[string]*inflight)}
}

// acquire returns the slot for key and whether the caller is the leader.
// The leader must call release after settling the slot.
func (l *keyLock) acquire(key string) (*inflight, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slot, ok := l.slots[key]; ok {
		return slot, false
	}
	slot := &inflight{done: make(chan struct{})}
	l.slots[key] = slot
	return slot, true
}

// release settles the slot and wakes every follower.
func (l *keyLock) release(key string, slot *inflight, record *types.RunRecord, err error) {
	l.mu.Lock()
	delete(l.slots, key)
	l.mu.Unlock()

	slot.record = record
	slot.err = err
	close(slot.done)
}
