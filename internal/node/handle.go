package node

import (
	"sync"
	"sync/atomic"

	"github.com/quantflow/backtest-engine/pkg/types"
)

// DefaultHandleDepth is the default bounded queue depth per subscriber,
// matching spec.md §4.4's "bounded queue (default depth 100)".
const DefaultHandleDepth = 100

// subscriber is one input handle's lossy mailbox: when full, the oldest
// event is dropped and the drop count is surfaced to the reader as a
// Lagged(n) warning, mirroring a tokio broadcast receiver.
type subscriber struct {
	ch      chan Event
	dropped atomic.Int64
}

// Handle is a node's output broadcaster, identified by HandleId. It fans
// out every Send to all current subscribers without blocking the sender:
// a slow subscriber loses its oldest buffered event rather than stalling
// the publisher, matching the teacher's non-blocking EventBus.Publish
// adapted from a single global channel into one broadcaster per output.
type Handle struct {
	id    types.HandleId
	depth int

	mu          sync.RWMutex
	subscribers []*subscriber
}

// NewHandle returns a Handle with the default bounded depth.
func NewHandle(id types.HandleId) *Handle {
	return &Handle{id: id, depth: DefaultHandleDepth}
}

// WithDepth overrides the subscriber queue depth and returns the handle.
func (h *Handle) WithDepth(depth int) *Handle {
	h.depth = depth
	return h
}

// Id returns the handle's identifier.
func (h *Handle) Id() types.HandleId { return h.id }

// IsConnected reports whether any subscriber currently listens.
func (h *Handle) IsConnected() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers) > 0
}

// Subscribe registers a new input handle and returns its Receiver.
func (h *Handle) Subscribe() *Receiver {
	sub := &subscriber{ch: make(chan Event, h.depth)}
	h.mu.Lock()
	h.subscribers = append(h.subscribers, sub)
	h.mu.Unlock()
	return &Receiver{handle: h, sub: sub}
}

// Send broadcasts event to every subscriber. If a subscriber's queue is
// full, its oldest event is evicted to make room — events are lossy under
// overload per spec.md §4.4.
func (h *Handle) Send(event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		for {
			select {
			case sub.ch <- event:
			default:
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

// unsubscribe removes sub from the handle's subscriber list.
func (h *Handle) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, s := range h.subscribers {
		if s == sub {
			h.subscribers = append(h.subscribers[:i], h.subscribers[i+1:]...)
			return
		}
	}
}

// Receiver is one subscriber's view of a Handle: an input handle per
// spec.md §4.4, reporting Lagged(n) when events were dropped underneath it.
type Receiver struct {
	handle *Handle
	sub    *subscriber
}

// C returns the underlying channel for use in a select statement.
func (r *Receiver) C() <-chan Event { return r.sub.ch }

// Lagged returns and resets the number of events dropped since the last
// call, matching the tokio broadcast::error::Lagged(n) signal.
func (r *Receiver) Lagged() int64 { return r.sub.dropped.Swap(0) }

// Close unsubscribes the receiver from its handle.
func (r *Receiver) Close() { r.handle.unsubscribe(r.sub) }
