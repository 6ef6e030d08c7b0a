package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
)

// idleTracker counts in-flight requests of a tab from network events.
type idleTracker struct {
	mu       sync.Mutex
	inflight map[network.RequestID]struct{}
	last     time.Time
	now      func() time.Time
}

func newIdleTracker() *idleTracker {
	return &idleTracker{
		inflight: make(map[network.RequestID]struct{}),
		last:     time.Now(),
		now:      time.Now,
	}
}

func (t *idleTracker) handle(ev any) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		t.started(e.RequestID)
	case *network.EventLoadingFinished:
		t.finished(e.RequestID)
	case *network.EventLoadingFailed:
		t.finished(e.RequestID)
	}
}

func (t *idleTracker) started(id network.RequestID) {
	t.mu.Lock()
	t.inflight[id] = struct{}{}
	t.last = t.now()
	t.mu.Unlock()
}

func (t *idleTracker) finished(id network.RequestID) {
	t.mu.Lock()
	delete(t.inflight, id)
	t.last = t.now()
	t.mu.Unlock()
}

// idleFor reports whether no request has been in flight for at least quiet.
func (t *idleTracker) idleFor(quiet time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight) == 0 && t.now().Sub(t.last) >= quiet
}

// wait blocks until the tab has been idle for quiet, or timeout elapses.
func (t *idleTracker) wait(ctx context.Context, quiet, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !t.idleFor(quiet) {
		select {
		case <-waitCtx.Done():
			return fmt.Errorf("wait network idle: %w", waitCtx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
