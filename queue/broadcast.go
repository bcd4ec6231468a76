package queue

import (
	"github.com/pkg/errors"

	"github.com/shadowcpy/hashtable/types"
)

// ResponseQueue is a bounded MPMC broadcast queue over shared memory. Every
// published response is delivered to every client joined at publication
// time exactly once; a slot is reclaimed when its last owed reader (or a
// leaver accounting for it) decrements the reader counter to zero.
type ResponseQueue struct {
	frame *ResponseFrame
}

// OpenResponseQueue overlays the response frame on a mapped region.
func OpenResponseQueue(mem []byte) (*ResponseQueue, error) {
	frame, err := responseFrame(mem)
	if err != nil {
		return nil, err
	}
	return &ResponseQueue{frame: frame}, nil
}

// InitFrame initializes the frame primitives on zeroed memory. Slot
// sequences are pre-seeded to index minus ring size so that no slot
// matches any consumer index before its first publication. Called by the
// creator only, before the magic is published.
func (q *ResponseQueue) InitFrame() {
	q.frame.Space.Init(ResponseSlots)
	for i := range q.frame.Slots {
		q.frame.Slots[i].Seq = uint32(i) - ResponseSlots
	}
}

// Magic returns the frame's readiness cell.
func (q *ResponseQueue) Magic() *uint32 {
	return &q.frame.Magic
}

// Publish copies the response into the next slot and makes every currently
// joined client owe it a read. It blocks while the ring is full. The
// returned flag is false when no client was joined and the response was
// dropped.
func (q *ResponseQueue) Publish(resp *types.Response) (bool, error) {
	frame := q.frame

	if err := frame.Space.Wait(); err != nil {
		return false, err
	}
	if err := frame.Tail.Lock(); err != nil {
		return false, err
	}

	idx := frame.WriteIdx
	slot := &frame.Slots[idx&(ResponseSlots-1)]

	if err := slot.Lock.Lock(); err != nil {
		return false, err
	}
	slot.Response = *resp
	slot.Remaining = frame.ActiveClients
	slot.Seq = idx
	delivered := slot.Remaining > 0
	if err := slot.Lock.Unlock(); err != nil {
		return false, err
	}

	frame.WriteIdx = idx + 1

	// With no readers owing the slot nobody would ever return it to the
	// producers, give it back before releasing the tail.
	if !delivered {
		if err := frame.Space.Post(); err != nil {
			return false, err
		}
	}

	return delivered, frame.Tail.Unlock()
}

// Join registers a new client. The returned receiver starts at the current
// write index, so it never observes responses published before the join.
func (q *ResponseQueue) Join() (*Receiver, error) {
	if err := q.frame.Tail.Lock(); err != nil {
		return nil, err
	}

	q.frame.ActiveClients++
	r := &Receiver{
		queue: q,
		next:  q.frame.WriteIdx,
	}

	return r, q.frame.Tail.Unlock()
}

// ActiveClients returns the current participant count. Diagnostics only.
func (q *ResponseQueue) ActiveClients() uint32 {
	return q.frame.ActiveClients
}

// SpaceValue returns the current free-slot count. Diagnostics only.
func (q *ResponseQueue) SpaceValue() uint32 {
	return q.frame.Space.Value()
}

// Receiver is one client's view of the response queue.
type Receiver struct {
	queue *ResponseQueue
	next  uint32
	left  bool
}

// TryRecv copies the next response for this receiver if one has been
// published. It returns false without blocking when the slot at the
// receiver's index has not been published yet.
func (r *Receiver) TryRecv(out *types.Response) (bool, error) {
	if r.left {
		return false, errors.New("receiver has left the queue")
	}

	frame := r.queue.frame
	slot := &frame.Slots[r.next&(ResponseSlots-1)]

	if err := slot.Lock.RLock(); err != nil {
		return false, err
	}
	if slot.Seq != r.next {
		return false, slot.Lock.RUnlock()
	}
	*out = slot.Response
	if err := slot.Lock.RUnlock(); err != nil {
		return false, err
	}

	// Reacquire in write mode to account for the read. The sequence cannot
	// have moved in between: the slot is reclaimed only when Remaining hits
	// zero, and this receiver has not decremented yet.
	if err := slot.Lock.Lock(); err != nil {
		return false, err
	}
	if slot.Seq != r.next {
		_ = slot.Lock.Unlock()
		return false, errors.Errorf("response slot %d reclaimed while owed a read", r.next)
	}
	slot.Remaining--
	last := slot.Remaining == 0
	if err := slot.Lock.Unlock(); err != nil {
		return false, err
	}

	if last {
		if err := frame.Space.Post(); err != nil {
			return false, err
		}
	}

	r.next++
	return true, nil
}

// Leave deregisters the receiver. Slots published after this receiver
// joined and not yet consumed by it are still accounted for, so that no
// slot keeps waiting on a departed client.
func (r *Receiver) Leave() error {
	if r.left {
		return nil
	}

	frame := r.queue.frame
	if err := frame.Tail.Lock(); err != nil {
		return err
	}

	for idx := r.next; idx != frame.WriteIdx; idx++ {
		slot := &frame.Slots[idx&(ResponseSlots-1)]

		if err := slot.Lock.Lock(); err != nil {
			_ = frame.Tail.Unlock()
			return err
		}
		if slot.Seq != idx {
			// Already reclaimed and reused, nothing owed.
			if err := slot.Lock.Unlock(); err != nil {
				_ = frame.Tail.Unlock()
				return err
			}
			continue
		}
		slot.Remaining--
		last := slot.Remaining == 0
		if err := slot.Lock.Unlock(); err != nil {
			_ = frame.Tail.Unlock()
			return err
		}

		if last {
			if err := frame.Space.Post(); err != nil {
				_ = frame.Tail.Unlock()
				return err
			}
		}
	}

	frame.ActiveClients--
	r.left = true

	return frame.Tail.Unlock()
}
