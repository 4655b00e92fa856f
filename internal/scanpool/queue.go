package scanpool

import (
	"context"
	"sync"
)

// queue is the shared LIFO of directory units. It tracks how many units are
// being processed so workers know when traversal is over.
type queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*node
	active int
	limit  int
}

func newQueue(limit int) *queue {
	q := &queue{limit: limit}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// pop blocks until a unit is available. It returns false once the queue is
// drained with nothing in flight, or when ctx is done.
func (q *queue) pop(ctx context.Context) (*node, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if ctx.Err() != nil {
			return nil, false
		}
		if n := len(q.items); n > 0 {
			item := q.items[n-1]
			q.items[n-1] = nil
			q.items = q.items[:n-1]
			q.active++
			return item, true
		}
		if q.active == 0 {
			return nil, false
		}
		q.cond.Wait()
	}
}

// done marks a popped unit as processed.
func (q *queue) done() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active--
	if q.active == 0 {
		q.cond.Broadcast()
	}
}

// tryPush queues n unless the outstanding limit is reached.
func (q *queue) tryPush(n *node) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.limit > 0 && len(q.items) >= q.limit {
		return false
	}
	q.items = append(q.items, n)
	q.cond.Signal()
	return true
}

// push queues n regardless of the limit. Interrupted units go back this way.
func (q *queue) push(n *node) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, n)
	q.cond.Signal()
}

func (q *queue) wake() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
