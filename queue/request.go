package queue

import (
	"github.com/shadowcpy/hashtable/types"
)

// RequestQueue is a bounded MPMC queue over shared memory. Producers block
// on the space semaphore, consumers on the count semaphore, and a tail
// mutex serializes index updates with the slot copy.
type RequestQueue struct {
	frame *RequestFrame
}

// OpenRequestQueue overlays the request frame on a mapped region.
func OpenRequestQueue(mem []byte) (*RequestQueue, error) {
	frame, err := requestFrame(mem)
	if err != nil {
		return nil, err
	}
	return &RequestQueue{frame: frame}, nil
}

// InitFrame initializes the frame primitives on zeroed memory. Called by
// the creator only, before the magic is published.
func (q *RequestQueue) InitFrame() {
	q.frame.Count.Init(0)
	q.frame.Space.Init(RequestSlots)
}

// Magic returns the frame's readiness cell.
func (q *RequestQueue) Magic() *uint32 {
	return &q.frame.Magic
}

// Push copies the request into the next free slot, blocking while the
// queue is full.
func (q *RequestQueue) Push(req *types.Request) error {
	if err := q.frame.Space.Wait(); err != nil {
		return err
	}
	if err := q.frame.Tail.Lock(); err != nil {
		return err
	}

	q.frame.Slots[q.frame.WriteIdx&(RequestSlots-1)] = *req
	q.frame.WriteIdx++

	if err := q.frame.Tail.Unlock(); err != nil {
		return err
	}
	return q.frame.Count.Post()
}

// TryPush copies the request into the next free slot if one is available
// without blocking. It reports whether the request was enqueued.
func (q *RequestQueue) TryPush(req *types.Request) bool {
	if !q.frame.Space.TryWait() {
		return false
	}
	if err := q.frame.Tail.Lock(); err != nil {
		return false
	}

	q.frame.Slots[q.frame.WriteIdx&(RequestSlots-1)] = *req
	q.frame.WriteIdx++

	if err := q.frame.Tail.Unlock(); err != nil {
		return false
	}
	return q.frame.Count.Post() == nil
}

// Pop copies the oldest request out of the queue, blocking while it is
// empty.
func (q *RequestQueue) Pop(out *types.Request) error {
	if err := q.frame.Count.Wait(); err != nil {
		return err
	}
	if err := q.frame.Tail.Lock(); err != nil {
		return err
	}

	*out = q.frame.Slots[q.frame.ReadIdx&(RequestSlots-1)]
	q.frame.ReadIdx++

	if err := q.frame.Tail.Unlock(); err != nil {
		return err
	}
	return q.frame.Space.Post()
}

// CountValue returns the current occupied-slot count. Diagnostics only.
func (q *RequestQueue) CountValue() uint32 {
	return q.frame.Count.Value()
}

// SpaceValue returns the current free-slot count. Diagnostics only.
func (q *RequestQueue) SpaceValue() uint32 {
	return q.frame.Space.Value()
}
