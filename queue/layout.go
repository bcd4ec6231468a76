package queue

import (
	"unsafe"

	"github.com/outofforest/photon"
	"github.com/pkg/errors"

	"github.com/shadowcpy/hashtable/primitive"
	"github.com/shadowcpy/hashtable/types"
)

// Package queue implements the two shared memory queues connecting clients
// to the server: a bounded blocking MPMC request queue and a bounded MPMC
// broadcast response queue. The frame structs below are overlaid directly
// on the mapped regions, so they must stay flat, uint32-aligned PODs.

const (
	// RequestSlots is the capacity of the request ring. Power of two.
	RequestSlots = 64

	// ResponseSlots is the capacity of the response ring. Power of two.
	ResponseSlots = 64
)

// RequestFrame is the layout of the request region.
type RequestFrame struct {
	Magic    uint32
	Tail     primitive.Mutex
	Count    primitive.Semaphore
	Space    primitive.Semaphore
	ReadIdx  uint32
	WriteIdx uint32
	Slots    [RequestSlots]types.Request
}

// ResponseSlot is one element of the response ring. Seq holds the queue
// write index at which the slot was last published; a consumer trusts the
// slot contents only when Seq equals its own read index.
type ResponseSlot struct {
	Lock      primitive.RWLock
	Remaining uint32
	Seq       uint32
	Response  types.Response
}

// ResponseFrame is the layout of the response region.
type ResponseFrame struct {
	Magic         uint32
	Tail          primitive.Mutex
	Space         primitive.Semaphore
	WriteIdx      uint32
	ActiveClients uint32
	Slots         [ResponseSlots]ResponseSlot
}

// Region sizes derived from the layouts.
const (
	RequestFrameSize  = uint64(unsafe.Sizeof(RequestFrame{}))
	ResponseFrameSize = uint64(unsafe.Sizeof(ResponseFrame{}))
)

func requestFrame(mem []byte) (*RequestFrame, error) {
	if uint64(len(mem)) < RequestFrameSize {
		return nil, errors.Errorf("request region too small: %d < %d bytes",
			len(mem), RequestFrameSize)
	}
	return photon.FromBytes[RequestFrame](mem), nil
}

func responseFrame(mem []byte) (*ResponseFrame, error) {
	if uint64(len(mem)) < ResponseFrameSize {
		return nil, errors.Errorf("response region too small: %d < %d bytes",
			len(mem), ResponseFrameSize)
	}
	return photon.FromBytes[ResponseFrame](mem), nil
}
