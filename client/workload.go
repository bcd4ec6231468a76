package client

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/shadowcpy/hashtable/types"
)

// ErrVerification is wrapped by every semantic mismatch the workload
// detects, so callers can tell verification failures from IPC errors.
var ErrVerification = errors.New("verification mismatch")

// Workload is the benchmark driver: per outer iteration it generates Inner
// fresh keys and runs an insert, a read and a delete phase over them,
// verifying every response.
type Workload struct {
	// Outer is the number of outer iterations, 0 meaning infinite.
	Outer uint64

	// Inner is the number of operations per phase per iteration.
	Inner uint64

	// Seed makes the key sequence deterministic when set.
	Seed *uint32
}

// Run executes the workload against a connected client.
func (w Workload) Run(ctx context.Context, c *Client) error {
	log := logger.Get(ctx)

	seed := rand.Uint32()
	if w.Seed != nil {
		seed = *w.Seed
	}
	rng := rand.New(rand.NewSource(int64(seed)))

	keys := make([]types.Key, w.Inner)
	responses := make(map[uint32]types.Response, w.Inner)

	for iter := uint64(0); w.Outer == 0 || iter < w.Outer; iter++ {
		if err := ctx.Err(); err != nil {
			return errors.WithStack(err)
		}

		if err := generateKeys(rng, seed, keys); err != nil {
			return err
		}

		// Insert phase.
		for i := range keys {
			if err := c.Insert(uint32(i), keys[i], uint32(i)); err != nil {
				return err
			}
		}
		if err := w.collect(ctx, c, responses); err != nil {
			return err
		}
		for i := range keys {
			resp := responses[uint32(i)]
			if resp.Status != types.StatusOK {
				return errors.Wrapf(ErrVerification,
					"insert %q: unexpected status %s", keys[i], resp.Status)
			}
		}

		// Read phase.
		for i := range keys {
			if err := c.DumpByKey(uint32(i), keys[i]); err != nil {
				return err
			}
		}
		if err := w.collect(ctx, c, responses); err != nil {
			return err
		}
		for i := range keys {
			if err := verifyDump(responses[uint32(i)], keys[i], uint32(i)); err != nil {
				return err
			}
		}

		// Delete phase.
		for i := range keys {
			if err := c.Delete(uint32(i), keys[i]); err != nil {
				return err
			}
		}
		if err := w.collect(ctx, c, responses); err != nil {
			return err
		}
		for i := range keys {
			resp := responses[uint32(i)]
			if resp.Status != types.StatusOK {
				return errors.Wrapf(ErrVerification,
					"delete %q: unexpected status %s", keys[i], resp.Status)
			}
		}

		log.Debug("iteration finished", zap.Uint64("iteration", iter))
	}

	return nil
}

// collect drains the response queue until every request of the phase has
// been answered, keyed by request ID.
func (w Workload) collect(ctx context.Context, c *Client, responses map[uint32]types.Response) error {
	clear(responses)

	var resp types.Response
	for uint64(len(responses)) < w.Inner {
		if err := c.Recv(ctx, &resp); err != nil {
			return err
		}
		if _, ok := responses[resp.RequestID]; ok {
			return errors.Wrapf(ErrVerification,
				"duplicate response for request %d", resp.RequestID)
		}
		responses[resp.RequestID] = resp
	}

	return nil
}

// verifyDump checks that the dumped bucket lists the entry inserted for
// this request. Overflowing buckets cannot carry the full contents, their
// truncated dump is accepted as is.
func verifyDump(resp types.Response, key types.Key, value uint32) error {
	switch resp.Status {
	case types.StatusBucketOverflow:
		return nil
	case types.StatusOK:
	default:
		return errors.Wrapf(ErrVerification,
			"read %q: unexpected status %s", key, resp.Status)
	}
	if resp.Payload != types.PayloadBucketDump {
		return errors.Wrapf(ErrVerification, "read %q: response carries no bucket dump", key)
	}

	for _, entry := range resp.BucketDump() {
		if entry.Key.Equal(&key) {
			if entry.Value != value {
				return errors.Wrapf(ErrVerification,
					"read %q: expected value %d, got %d", key, value, entry.Value)
			}
			return nil
		}
	}
	return errors.Wrapf(ErrVerification, "read %q: key missing from bucket dump", key)
}

// generateKeys fills keys with fresh ht{seed}{random} keys. Duplicates are
// rerolled so that the delete phase deletes every key exactly once.
func generateKeys(rng *rand.Rand, seed uint32, keys []types.Key) error {
	used := make(map[string]struct{}, len(keys))
	for i := range keys {
		for {
			name := fmt.Sprintf("ht%d%d", seed, rng.Uint32())
			if _, ok := used[name]; ok {
				continue
			}
			used[name] = struct{}{}

			key, err := types.NewKey(name)
			if err != nil {
				return err
			}
			keys[i] = key
			break
		}
	}
	return nil
}
