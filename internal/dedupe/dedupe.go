// ABOUTME: TTL + size bounded tracker for already-processed network message ids
// ABOUTME: The webhook can redeliver events; the pipeline consults this before acting on one

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Defaults sized for a single desk's traffic.
const (
	DefaultTTL     = 10 * time.Minute
	DefaultMaxSize = 4096
)

type entry struct {
	seenAt  time.Time
	element *list.Element
}

// Tracker remembers which provider message ids were already processed.
// Entries expire after a TTL and the oldest are evicted once the tracker
// reaches its size cap, using a linked list for O(1) eviction order.
type Tracker struct {
	mu      sync.Mutex
	ids     map[string]*entry
	order   *list.List
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a tracker. Zero ttl or maxSize fall back to the defaults.
// A background goroutine sweeps expired entries until Close.
func New(ttl time.Duration, maxSize int) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	tr := &Tracker{
		ids:     make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go tr.sweepLoop()
	return tr
}

// Seen atomically reports whether the id was already processed and, if
// not, records it. One atomic operation avoids the race a separate
// check-then-record pair would have under concurrent redelivery.
func (tr *Tracker) Seen(id string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	if e, ok := tr.ids[id]; ok && now.Sub(e.seenAt) < tr.ttl {
		e.seenAt = now
		tr.order.MoveToBack(e.element)
		return true
	}

	tr.recordLocked(id, now)
	return false
}

// Len reports the number of tracked ids, expired entries included until
// the next sweep.
func (tr *Tracker) Len() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return len(tr.ids)
}

func (tr *Tracker) recordLocked(id string, now time.Time) {
	if e, ok := tr.ids[id]; ok {
		e.seenAt = now
		tr.order.MoveToBack(e.element)
		return
	}

	if len(tr.ids) >= tr.maxSize {
		oldest := tr.order.Front()
		if oldest != nil {
			tr.order.Remove(oldest)
			delete(tr.ids, oldest.Value.(string))
		}
	}

	tr.ids[id] = &entry{seenAt: now, element: tr.order.PushBack(id)}
}

func (tr *Tracker) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tr.sweep()
		case <-tr.done:
			return
		}
	}
}

func (tr *Tracker) sweep() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	now := time.Now()
	for e := tr.order.Front(); e != nil; {
		next := e.Next()
		id := e.Value.(string)
		if now.Sub(tr.ids[id].seenAt) >= tr.ttl {
			tr.order.Remove(e)
			delete(tr.ids, id)
		}
		e = next
	}
}

// Close stops the sweep goroutine. Safe to call more than once.
func (tr *Tracker) Close() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if !tr.closed {
		close(tr.done)
		tr.closed = true
	}
}
