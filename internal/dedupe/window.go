// ABOUTME: Bounded time window for suppressing duplicate inbound deliveries
// ABOUTME: Keyed by (tenant, channel, provider message ID) with O(1) eviction

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/Jiouk/alfred-ai-agent/internal/store"
)

// DeliveryKey builds the dedupe key for one inbound delivery. Provider
// message IDs are only unique per channel, so the channel and tenant are
// part of the key.
func DeliveryKey(tenantID string, channel store.Channel, providerMessageID string) string {
	return tenantID + "|" + string(channel) + "|" + providerMessageID
}

type windowEntry struct {
	seenAt  time.Time
	element *list.Element
}

// Window tracks recently processed delivery keys inside a TTL window with
// a hard size cap. Insertion order is kept in a doubly-linked list so
// eviction of the oldest key is O(1). Re-delivery inside the window is
// suppressed; outside it, providers have stopped retrying anyway.
type Window struct {
	mu      sync.Mutex
	seen    map[string]*windowEntry
	order   *list.List // oldest key at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// NewWindow creates a dedupe window with the given TTL and maximum entry
// count. A background goroutine sweeps expired entries.
func NewWindow(ttl time.Duration, maxSize int) *Window {
	w := &Window{
		seen:    make(map[string]*windowEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go w.sweep()
	return w
}

// Observe atomically records a delivery key. Returns true when the key was
// already inside the window, meaning the delivery is a duplicate and must
// be dropped with no side effects.
func (w *Window) Observe(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if entry, ok := w.seen[key]; ok && w.now().Sub(entry.seenAt) < w.ttl {
		return true
	}

	w.recordLocked(key)
	return false
}

// Forget removes a key from the window. Called when processing a delivery
// failed after it was observed, so the provider's retry gets through.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if entry, ok := w.seen[key]; ok {
		w.order.Remove(entry.element)
		delete(w.seen, key)
	}
}

// Contains reports whether a key is currently inside the window without
// recording it.
func (w *Window) Contains(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.seen[key]
	return ok && w.now().Sub(entry.seenAt) < w.ttl
}

// Len returns the number of tracked keys, including not-yet-swept expired ones.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.seen)
}

func (w *Window) recordLocked(key string) {
	now := w.now()

	if entry, ok := w.seen[key]; ok {
		entry.seenAt = now
		w.order.MoveToBack(entry.element)
		return
	}

	if len(w.seen) >= w.maxSize {
		w.evictOldestLocked()
	}

	elem := w.order.PushBack(key)
	w.seen[key] = &windowEntry{seenAt: now, element: elem}
}

func (w *Window) evictOldestLocked() {
	front := w.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	w.order.Remove(front)
	delete(w.seen, key)
}

func (w *Window) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.sweepExpired()
		case <-w.done:
			return
		}
	}
}

func (w *Window) sweepExpired() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	for key, entry := range w.seen {
		if now.Sub(entry.seenAt) > w.ttl {
			w.order.Remove(entry.element)
			delete(w.seen, key)
		}
	}
}

// Close stops the sweeper goroutine. Safe to call multiple times.
func (w *Window) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		close(w.done)
		w.closed = true
	}
}
