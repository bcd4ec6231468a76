package server

import (
	"context"
	"fmt"
	"time"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shadowcpy/hashtable/queue"
	"github.com/shadowcpy/hashtable/shm"
	"github.com/shadowcpy/hashtable/table"
	"github.com/shadowcpy/hashtable/types"
)

// Config stores server configuration.
type Config struct {
	// Buckets is the number of hash table buckets.
	Buckets uint64

	// Workers is the number of worker threads serving requests.
	Workers uint64
}

// Server hosts the hash table and serves requests arriving through the
// shared memory queues.
type Server struct {
	config    Config
	table     *table.Table
	requests  *queue.RequestQueue
	responses *queue.ResponseQueue
	regions   []*shm.Region
}

// New creates the shared regions, initializes the queue frames and builds
// the hash table. The returned close function unlinks the region names and
// unmaps them; it must run on every exit path once New has succeeded.
func New(config Config) (*Server, func(), error) {
	if config.Buckets == 0 {
		return nil, nil, errors.New("number of buckets must be positive")
	}
	if config.Workers == 0 {
		return nil, nil, errors.New("number of workers must be positive")
	}

	// Stale regions of a previous crashed run would fail the exclusive
	// create below.
	if err := shm.Unlink(types.RequestRegionName); err != nil {
		return nil, nil, err
	}
	if err := shm.Unlink(types.ResponseRegionName); err != nil {
		return nil, nil, err
	}

	s := &Server{config: config}
	closeFn := func() {
		_ = shm.Unlink(types.RequestRegionName)
		_ = shm.Unlink(types.ResponseRegionName)
		for _, r := range s.regions {
			_ = r.Close()
		}
	}

	reqRegion, err := shm.Create(types.RequestRegionName, queue.RequestFrameSize)
	if err != nil {
		return nil, nil, err
	}
	s.regions = append(s.regions, reqRegion)

	resRegion, err := shm.Create(types.ResponseRegionName, queue.ResponseFrameSize)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	s.regions = append(s.regions, resRegion)

	s.requests, err = queue.OpenRequestQueue(reqRegion.Bytes())
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	s.requests.InitFrame()

	s.responses, err = queue.OpenResponseQueue(resRegion.Bytes())
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	s.responses.InitFrame()

	s.table, err = table.New(config.Buckets)
	if err != nil {
		closeFn()
		return nil, nil, err
	}

	return s, closeFn, nil
}

// Run spawns the worker pool and publishes region readiness. It returns
// when a shutdown request has passed through every worker or a worker hit
// an unrecoverable error.
func (s *Server) Run(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for i := range s.config.Workers {
			spawn(fmt.Sprintf("worker-%02d", i), parallel.Exit, s.worker)
		}
		spawn("terminator", parallel.Fail, s.terminate)

		// Request region first, response second; clients attach in the
		// same order.
		shm.Publish(s.requests.Magic())
		shm.Publish(s.responses.Magic())

		logger.Get(ctx).Info("server ready",
			zap.Uint64("buckets", s.config.Buckets),
			zap.Uint64("workers", s.config.Workers))

		return nil
	})
}

// worker serves requests until it dequeues a shutdown request. The
// shutdown request is re-enqueued before exiting so that it reaches every
// sibling blocked on the count semaphore.
func (s *Server) worker(ctx context.Context) error {
	log := logger.Get(ctx)

	var req types.Request
	var resp types.Response
	for {
		if err := s.requests.Pop(&req); err != nil {
			return err
		}

		if req.Op == types.OpShutdown {
			if req.ClientID != 0 {
				resp = types.Response{
					ClientID:  req.ClientID,
					RequestID: req.RequestID,
				}
				if _, err := s.responses.Publish(&resp); err != nil {
					return err
				}
				log.Info("shutdown requested by client", zap.Uint32("clientID", req.ClientID))
			}
			forward := types.Request{Op: types.OpShutdown}
			if err := s.requests.Push(&forward); err != nil {
				return err
			}
			return nil
		}

		s.dispatch(ctx, &req, &resp)

		delivered, err := s.responses.Publish(&resp)
		if err != nil {
			return err
		}
		if !delivered {
			log.Warn("all clients left the channel, dropping response",
				zap.Uint32("clientID", resp.ClientID),
				zap.Uint32("requestID", resp.RequestID))
		}
	}
}

// terminate converts context cancellation into a shutdown request so that
// workers blocked inside the count semaphore wake up through the queue
// itself.
func (s *Server) terminate(ctx context.Context) error {
	<-ctx.Done()

	req := types.Request{Op: types.OpShutdown}
	for !s.requests.TryPush(&req) {
		time.Sleep(10 * time.Millisecond)
	}

	return errors.WithStack(ctx.Err())
}
