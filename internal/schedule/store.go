package schedule

import (
	"sync"
	"sync/atomic"
	"time"

	"battery-scheduler/internal/model"
)

// Snapshot is one published optimizer result. It is never modified after
// Publish.
type Snapshot struct {
	Schedule   *model.Schedule
	Params     model.Params
	Seq        uint64
	ComputedAt time.Time
}

// Store holds the current Snapshot. Reads are lock-free.
type Store struct {
	cur atomic.Pointer[Snapshot]

	mu        sync.Mutex
	listeners []func(*Snapshot)
}

func NewStore() *Store {
	return &Store{}
}

// Current returns the published snapshot or nil.
func (s *Store) Current() *Snapshot {
	return s.cur.Load()
}

// Publish replaces the current snapshot when snap.Seq is newer than the
// published one. It returns false for a stale snapshot, which is dropped.
func (s *Store) Publish(snap *Snapshot) bool {
	for {
		old := s.cur.Load()
		if old != nil && snap.Seq <= old.Seq {
			return false
		}
		if s.cur.CompareAndSwap(old, snap) {
			break
		}
	}

	s.mu.Lock()
	listeners := append([]func(*Snapshot){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(snap)
	}
	return true
}

// OnPublish registers fn to run after every successful Publish. fn must not block.
func (s *Store) OnPublish(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
