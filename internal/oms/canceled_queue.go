package oms

import (
	"container/heap"
	"sync"

	"github.com/betbot/spotmm/internal/domain"
)

// canceledQueue 已撤卖单池：价格升序，同价按 id 升序。
type canceledQueue struct {
	mu sync.Mutex
	h  canceledHeap
}

func (q *canceledQueue) push(r domain.OrderRecord) {
	q.mu.Lock()
	heap.Push(&q.h, r)
	q.mu.Unlock()
}

func (q *canceledQueue) poll() (domain.OrderRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.h) == 0 {
		return domain.OrderRecord{}, false
	}
	return heap.Pop(&q.h).(domain.OrderRecord), true
}

func (q *canceledQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// snapshot 拷贝当前条目（无序）。
func (q *canceledQueue) snapshot() []domain.OrderRecord {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.OrderRecord, len(q.h))
	copy(out, q.h)
	return out
}

type canceledHeap []domain.OrderRecord

func (h canceledHeap) Len() int { return len(h) }
func (h canceledHeap) Less(i, j int) bool {
	if c := h[i].NumericPrice.Cmp(h[j].NumericPrice); c != 0 {
		return c < 0
	}
	return h[i].OrderID < h[j].OrderID
}
func (h canceledHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *canceledHeap) Push(x any)   { *h = append(*h, x.(domain.OrderRecord)) }
func (h *canceledHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
