package pipeline

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// Gate admits one assignment at a time. Waiters are admitted by rank (lower
// first) and then by creation time, so an urgent request queued behind a
// routine one overtakes it.
type Gate struct {
	mu      sync.Mutex
	busy    bool
	waiters waiterHeap
}

type waiter struct {
	rank      int
	createdAt time.Time
	id        string
	ready     chan struct{}
	index     int
}

func NewGate() *Gate {
	return &Gate{}
}

// Acquire blocks until the caller holds the gate or ctx is done. The returned
// release must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, rank int, createdAt time.Time, id string) (release func(), err error) {
	g.mu.Lock()
	if !g.busy && g.waiters.Len() == 0 {
		g.busy = true
		g.mu.Unlock()
		return g.releaseOnce(), nil
	}
	w := &waiter{rank: rank, createdAt: createdAt, id: id, ready: make(chan struct{})}
	heap.Push(&g.waiters, w)
	g.mu.Unlock()

	select {
	case <-w.ready:
		return g.releaseOnce(), nil
	case <-ctx.Done():
		g.mu.Lock()
		if w.index >= 0 {
			heap.Remove(&g.waiters, w.index)
			g.mu.Unlock()
			return nil, ctx.Err()
		}
		g.mu.Unlock()
		// The gate was handed over while we gave up; pass it on.
		g.release()
		return nil, ctx.Err()
	}
}

// Waiting is the number of callers blocked in Acquire.
func (g *Gate) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

func (g *Gate) releaseOnce() func() {
	var once sync.Once
	return func() { once.Do(g.release) }
}

func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.waiters.Len() == 0 {
		g.busy = false
		return
	}
	next := heap.Pop(&g.waiters).(*waiter)
	close(next.ready)
}

type waiterHeap []*waiter

func (h waiterHeap) Len() int { return len(h) }

func (h waiterHeap) Less(i, j int) bool {
	if h[i].rank != h[j].rank {
		return h[i].rank < h[j].rank
	}
	if !h[i].createdAt.Equal(h[j].createdAt) {
		return h[i].createdAt.Before(h[j].createdAt)
	}
	return h[i].id < h[j].id
}

func (h waiterHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waiterHeap) Push(x any) {
	w := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waiterHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
