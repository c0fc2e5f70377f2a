package bstore

import (
	"context"
	"sync"

	"github.com/cuemby/ledgerdb/pkg/errors"
)

// Notifier is a single-slot broadcast of the latest committed global
// sequence. Subscribers only need to eventually observe the newest value
// published while they were alive, so intermediate values may be coalesced.
// A condition variable guarding a single uint64 gives every subscriber that
// property for free, with no per-subscriber buffer to overflow or drop from.
type Notifier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current uint64
	closed  bool
}

// NewNotifier constructs a Notifier starting at sequence 0 (nothing
// published yet).
func NewNotifier() *Notifier {
	n := &Notifier{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Publish records seq as the latest committed global sequence and wakes
// every waiter. Publishing a value lower than the current one is ignored —
// the notifier must stay monotonic even if a caller races with itself.
func (n *Notifier) Publish(seq uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	if seq > n.current {
		n.current = seq
		n.cond.Broadcast()
	}
}

// Current returns the latest published sequence without blocking.
func (n *Notifier) Current() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.current
}

// Close marks the notifier closed and wakes every waiter; subsequent
// WaitForChange calls observing no progress return KindChannelClosed.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	n.cond.Broadcast()
}

// WaitForChange blocks until the published sequence exceeds after, the
// notifier is closed, or ctx is done. It returns the new current sequence.
func (n *Notifier) WaitForChange(ctx context.Context, after uint64) (uint64, error) {
	// A context-aware wait needs a goroutine to translate ctx.Done() into a
	// cond.Broadcast wakeup, since sync.Cond has no native cancellation.
	done := make(chan struct{})
	defer close(done)
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				n.mu.Lock()
				n.cond.Broadcast()
				n.mu.Unlock()
			case <-done:
			}
		}()
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	for n.current <= after && !n.closed {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return n.current, ctx.Err()
			default:
			}
		}
		n.cond.Wait()
	}
	if n.current > after {
		return n.current, nil
	}
	if n.closed {
		return n.current, errors.New(errors.KindChannelClosed, "notifier closed")
	}
	return n.current, ctx.Err()
}
