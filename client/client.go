package client

import (
	"context"
	"math/rand"
	"time"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shadowcpy/hashtable/queue"
	"github.com/shadowcpy/hashtable/shm"
	"github.com/shadowcpy/hashtable/types"
)

const (
	// AttachTimeout bounds how long Connect keeps retrying the magic check
	// while the server is still initializing.
	AttachTimeout = 5 * time.Second

	// recvBackoff is the poll interval of the response receive loop.
	recvBackoff = 200 * time.Microsecond
)

// Client is one participant of the hash table service. It owns a random
// client ID, a position in the response broadcast queue and the mapped
// regions.
type Client struct {
	id        uint32
	requests  *queue.RequestQueue
	responses *queue.ResponseQueue
	receiver  *queue.Receiver
	regions   []*shm.Region
}

// Connect attaches both shared regions, waits for the server to publish
// readiness and joins the response queue. The request region is attached
// first, mirroring the order in which the server publishes them. A server
// that is still starting up is retried until AttachTimeout expires.
func Connect(ctx context.Context) (*Client, error) {
	const retryBackoff = 50 * time.Millisecond

	deadline := time.Now().Add(AttachTimeout)
	for {
		c, err := connect(ctx, deadline)
		if err == nil {
			return c, nil
		}
		if time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, errors.WithStack(ctx.Err())
		case <-time.After(retryBackoff):
		}
	}
}

func connect(ctx context.Context, deadline time.Time) (*Client, error) {
	c := &Client{
		id: rand.Uint32(),
	}

	reqRegion, err := shm.Attach(types.RequestRegionName, queue.RequestFrameSize)
	if err != nil {
		return nil, err
	}
	c.regions = append(c.regions, reqRegion)

	c.requests, err = queue.OpenRequestQueue(reqRegion.Bytes())
	if err != nil {
		c.closeRegions()
		return nil, err
	}
	if err := shm.WaitReady(c.requests.Magic(), time.Until(deadline)); err != nil {
		c.closeRegions()
		return nil, err
	}

	resRegion, err := shm.Attach(types.ResponseRegionName, queue.ResponseFrameSize)
	if err != nil {
		c.closeRegions()
		return nil, err
	}
	c.regions = append(c.regions, resRegion)

	c.responses, err = queue.OpenResponseQueue(resRegion.Bytes())
	if err != nil {
		c.closeRegions()
		return nil, err
	}
	if err := shm.WaitReady(c.responses.Magic(), time.Until(deadline)); err != nil {
		c.closeRegions()
		return nil, err
	}

	c.receiver, err = c.responses.Join()
	if err != nil {
		c.closeRegions()
		return nil, err
	}

	logger.Get(ctx).Info("joined session",
		zap.Uint32("clientID", c.id),
		zap.Uint32("otherClients", c.responses.ActiveClients()-1))

	return c, nil
}

// ID returns the client's random identifier.
func (c *Client) ID() uint32 {
	return c.id
}

// Close performs the leave protocol and unmaps the regions.
func (c *Client) Close() error {
	err := c.receiver.Leave()
	c.closeRegions()
	return err
}

func (c *Client) closeRegions() {
	for _, r := range c.regions {
		_ = r.Close()
	}
}

// Insert submits an insert request.
func (c *Client) Insert(requestID uint32, key types.Key, value uint32) error {
	return c.send(&types.Request{
		RequestID: requestID,
		Op:        types.OpInsert,
		Key:       key,
		Value:     value,
	})
}

// Delete submits a delete request.
func (c *Client) Delete(requestID uint32, key types.Key) error {
	return c.send(&types.Request{
		RequestID: requestID,
		Op:        types.OpDelete,
		Key:       key,
	})
}

// DumpByKey requests the contents of the bucket the key hashes into.
func (c *Client) DumpByKey(requestID uint32, key types.Key) error {
	return c.send(&types.Request{
		RequestID: requestID,
		Op:        types.OpDumpByKey,
		Key:       key,
	})
}

// DumpByIndex requests the contents of bucket index.
func (c *Client) DumpByIndex(requestID uint32, index uint32) error {
	return c.send(&types.Request{
		RequestID:   requestID,
		Op:          types.OpDumpByIndex,
		BucketIndex: index,
	})
}

// DebugPrint asks the server to log its table contents.
func (c *Client) DebugPrint(requestID uint32) error {
	return c.send(&types.Request{
		RequestID: requestID,
		Op:        types.OpDebugPrint,
	})
}

// Shutdown asks the server to stop.
func (c *Client) Shutdown(requestID uint32) error {
	return c.send(&types.Request{
		RequestID: requestID,
		Op:        types.OpShutdown,
	})
}

func (c *Client) send(req *types.Request) error {
	req.ClientID = c.id
	return c.requests.Push(req)
}

// Recv polls the response queue until a response addressed to this client
// arrives. Broadcasts for other clients are consumed and discarded.
func (c *Client) Recv(ctx context.Context, out *types.Response) error {
	for {
		ok, err := c.receiver.TryRecv(out)
		if err != nil {
			return err
		}
		if ok {
			if out.ClientID == c.id {
				return nil
			}
			continue
		}

		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		default:
			time.Sleep(recvBackoff)
		}
	}
}
