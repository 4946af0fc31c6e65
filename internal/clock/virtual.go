package clock

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// VirtualClock is a deterministic Clock for tests. Time only moves when
// Advance or AdvanceTo is called; SleepUntil waiters are woken in deadline
// order as the virtual clock passes their deadline.
type VirtualClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters waiterHeap
}

// NewVirtualClock creates a VirtualClock starting at t.
func NewVirtualClock(t time.Time) *VirtualClock {
	return &VirtualClock{now: t}
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SleepUntil blocks the calling goroutine until the virtual clock reaches t
// (via Advance/AdvanceTo) or ctx is cancelled.
func (c *VirtualClock) SleepUntil(ctx context.Context, t time.Time) error {
	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	heap.Push(&c.waiters, &waiter{deadline: t, ch: ch})
	c.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance moves the virtual clock forward by d, waking any waiters whose
// deadline has been reached, in deadline order.
func (c *VirtualClock) Advance(d time.Duration) {
	c.AdvanceTo(c.Now().Add(d))
}

// AdvanceTo moves the virtual clock forward to t (a no-op if t is not after
// the current time) and wakes waiters in deadline order.
func (c *VirtualClock) AdvanceTo(t time.Time) {
	c.mu.Lock()
	if !t.After(c.now) {
		c.mu.Unlock()
		return
	}
	c.now = t
	var woken []chan struct{}
	for c.waiters.Len() > 0 && !c.waiters[0].deadline.After(c.now) {
		w := heap.Pop(&c.waiters).(*waiter)
		woken = append(woken, w.ch)
	}
	c.mu.Unlock()

	for _, ch := range woken {
		close(ch)
	}
}

type waiter struct {
	deadline time.Time
	ch       chan struct{}
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int            { return len(h) }
func (h waiterHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h waiterHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *waiterHeap) Push(x interface{}) { *h = append(*h, x.(*waiter)) }
func (h *waiterHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
