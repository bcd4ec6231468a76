package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/shadowcpy/hashtable/types"
)

func newRequestQueue(t *testing.T) *RequestQueue {
	mem := make([]byte, RequestFrameSize)
	q, err := OpenRequestQueue(mem)
	require.NoError(t, err)
	q.InitFrame()
	return q
}

func TestRequestQueueTooSmall(t *testing.T) {
	_, err := OpenRequestQueue(make([]byte, 16))
	require.Error(t, err)
}

func TestRequestQueueFIFO(t *testing.T) {
	requireT := require.New(t)
	q := newRequestQueue(t)

	for i := range uint32(10) {
		req := types.Request{ClientID: 7, RequestID: i, Op: types.OpInsert, Value: i * 2}
		requireT.NoError(q.Push(&req))
	}

	requireT.EqualValues(10, q.CountValue())
	requireT.EqualValues(RequestSlots-10, q.SpaceValue())

	var out types.Request
	for i := range uint32(10) {
		requireT.NoError(q.Pop(&out))
		requireT.Equal(i, out.RequestID)
		requireT.Equal(i*2, out.Value)
		requireT.Equal(types.OpInsert, out.Op)
	}

	requireT.EqualValues(0, q.CountValue())
	requireT.EqualValues(RequestSlots, q.SpaceValue())
}

func TestRequestQueueSemaphoreInvariant(t *testing.T) {
	requireT := require.New(t)
	q := newRequestQueue(t)

	req := types.Request{Op: types.OpInsert}
	var out types.Request

	requireT.EqualValues(RequestSlots, q.CountValue()+q.SpaceValue())
	for range 5 {
		requireT.NoError(q.Push(&req))
		requireT.EqualValues(RequestSlots, q.CountValue()+q.SpaceValue())
	}
	for range 5 {
		requireT.NoError(q.Pop(&out))
		requireT.EqualValues(RequestSlots, q.CountValue()+q.SpaceValue())
	}
}

func TestRequestQueueTryPushFull(t *testing.T) {
	requireT := require.New(t)
	q := newRequestQueue(t)

	req := types.Request{Op: types.OpInsert}
	for range RequestSlots {
		requireT.True(q.TryPush(&req))
	}
	requireT.False(q.TryPush(&req))

	var out types.Request
	requireT.NoError(q.Pop(&out))
	requireT.True(q.TryPush(&req))
}

func TestRequestQueuePopBlocks(t *testing.T) {
	requireT := require.New(t)
	q := newRequestQueue(t)

	received := make(chan types.Request, 1)
	go func() {
		var out types.Request
		if q.Pop(&out) == nil {
			received <- out
		}
	}()

	select {
	case <-received:
		requireT.Fail("pop returned on empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	req := types.Request{ClientID: 3, RequestID: 9, Op: types.OpDelete}
	requireT.NoError(q.Push(&req))

	select {
	case out := <-received:
		requireT.Equal(req, out)
	case <-time.After(5 * time.Second):
		requireT.Fail("pop not woken by push")
	}
}

func TestRequestQueueConcurrent(t *testing.T) {
	requireT := require.New(t)
	q := newRequestQueue(t)

	const (
		producers        = 4
		consumers        = 4
		perProducer      = 1000
		expectedMessages = producers * perProducer
	)

	collected := make(chan types.Request, expectedMessages)

	var consumerWG sync.WaitGroup
	for range consumers {
		consumerWG.Add(1)
		go func() {
			defer consumerWG.Done()
			var out types.Request
			for {
				if q.Pop(&out) != nil {
					return
				}
				if out.Op == types.OpShutdown {
					return
				}
				collected <- out
			}
		}()
	}

	var producerWG sync.WaitGroup
	for p := range uint32(producers) {
		producerWG.Add(1)
		go func() {
			defer producerWG.Done()
			for i := range uint32(perProducer) {
				req := types.Request{ClientID: p, RequestID: i, Op: types.OpInsert}
				requireT.NoError(q.Push(&req))
			}
		}()
	}
	producerWG.Wait()

	shutdown := types.Request{Op: types.OpShutdown}
	for range consumers {
		requireT.NoError(q.Push(&shutdown))
	}
	consumerWG.Wait()
	close(collected)

	seen := map[[2]uint32]bool{}
	for req := range collected {
		id := [2]uint32{req.ClientID, req.RequestID}
		requireT.False(seen[id], "request delivered twice")
		seen[id] = true
	}
	requireT.Len(seen, expectedMessages)
}
