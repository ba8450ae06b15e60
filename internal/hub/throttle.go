package hub

import (
	"sync"
	"time"

	"github.com/ennuiii/gamebuddies-server/internal/metrics"
)

// broadcastWindow is the coalescing window: at most one flush per room per
// window, i.e. at most 10 broadcasts/sec/room (testable property 6 allows
// up to 11 in a rolling second to account for window-boundary jitter).
const broadcastWindow = 100 * time.Millisecond

// roomThrottle holds the single pending payload slot for one room, per the
// design notes: a per-room last-flush timestamp plus one pending slot. A
// new sendToRoom call within the window replaces whatever was pending,
// regardless of its event name; the latest always wins.
type roomThrottle struct {
	mu sync.Mutex

	lastFlush time.Time
	timer     *time.Timer

	hasPending     bool
	pendingEvent   string
	pendingPayload any
}

func newRoomThrottle() *roomThrottle {
	return &roomThrottle{}
}

// stop cancels any pending flush timer. Called when a room is destroyed.
func (t *roomThrottle) stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.hasPending = false
}

// schedule either flushes immediately (if the window has elapsed since the
// last flush) or replaces the pending slot and arms a timer for the
// remainder of the window.
func (t *roomThrottle) schedule(event string, payload any, flush func(event string, payload any)) {
	t.mu.Lock()

	now := time.Now()
	elapsed := now.Sub(t.lastFlush)

	if t.lastFlush.IsZero() || elapsed >= broadcastWindow {
		t.lastFlush = now
		t.hasPending = false
		if t.timer != nil {
			t.timer.Stop()
			t.timer = nil
		}
		t.mu.Unlock()
		flush(event, payload)
		metrics.BroadcastsTotal.WithLabelValues(event).Inc()
		return
	}

	t.pendingEvent = event
	t.pendingPayload = payload
	t.hasPending = true

	if t.timer == nil {
		remaining := broadcastWindow - elapsed
		t.timer = time.AfterFunc(remaining, func() {
			t.flushPending(flush)
		})
	}
	t.mu.Unlock()
}

func (t *roomThrottle) flushPending(flush func(event string, payload any)) {
	t.mu.Lock()
	if !t.hasPending {
		t.timer = nil
		t.mu.Unlock()
		return
	}
	event, payload := t.pendingEvent, t.pendingPayload
	t.hasPending = false
	t.lastFlush = time.Now()
	t.timer = nil
	t.mu.Unlock()

	flush(event, payload)
	metrics.BroadcastsTotal.WithLabelValues(event).Inc()
}
