package server

import (
	"context"
	"fmt"

	"github.com/outofforest/logger"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shadowcpy/hashtable/types"
)

// dispatch executes a single request against the hash table and fills the
// response, echoing the request's client and request IDs.
func (s *Server) dispatch(ctx context.Context, req *types.Request, resp *types.Response) {
	*resp = types.Response{
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
	}

	switch req.Op {
	case types.OpInsert:
		s.table.Insert(&req.Key, req.Value)
	case types.OpDelete:
		if !s.table.Delete(&req.Key) {
			resp.Status = types.StatusNotFound
		}
	case types.OpDumpByKey:
		s.table.DumpByKey(&req.Key, resp)
	case types.OpDumpByIndex:
		s.table.DumpByIndex(req.BucketIndex, resp)
	case types.OpDebugPrint:
		s.debugPrint(ctx)
	default:
		resp.Status = types.StatusInvalidOp
	}
}

// debugPrint logs the contents of every non-empty bucket.
func (s *Server) debugPrint(ctx context.Context) {
	log := logger.Get(ctx)

	var total int
	s.table.Each(func(index uint32, entries []types.Entry) {
		if len(entries) == 0 {
			return
		}
		total += len(entries)
		log.Info("bucket",
			zap.Uint32("index", index),
			zap.Strings("entries", lo.Map(entries, func(e types.Entry, _ int) string {
				return fmt.Sprintf("%s=%d", e.Key, e.Value)
			})))
	})
	log.Info("table dumped",
		zap.Uint64("buckets", s.table.NumBuckets()),
		zap.Int("entries", total))
}
