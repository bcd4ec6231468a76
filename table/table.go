package table

import (
	"sync"

	"github.com/cespare/xxhash"
	"github.com/pkg/errors"

	"github.com/shadowcpy/hashtable/types"
)

// Package table implements the concurrent hash table served to clients.
// The table lives in the server's heap; only the request and response
// records cross process boundaries.

// Table is a fixed array of buckets, each an ordered sequence of entries
// guarded by its own reader-writer lock. Different buckets are fully
// independent, there is no table-wide lock.
type Table struct {
	buckets []bucket
}

type bucket struct {
	mu      sync.RWMutex
	entries []types.Entry
}

// New creates a table with the given number of buckets.
func New(buckets uint64) (*Table, error) {
	if buckets == 0 {
		return nil, errors.New("table needs at least one bucket")
	}
	return &Table{buckets: make([]bucket, buckets)}, nil
}

// NumBuckets returns the bucket count.
func (t *Table) NumBuckets() uint64 {
	return uint64(len(t.buckets))
}

// Index returns the bucket index the key hashes into.
func (t *Table) Index(key *types.Key) uint32 {
	return uint32(xxhash.Sum64(key.Bytes()) % uint64(len(t.buckets)))
}

// Insert stores the value under the key, overwriting an existing entry.
func (t *Table) Insert(key *types.Key, value uint32) {
	b := &t.buckets[t.Index(key)]
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].Key.Equal(key) {
			b.entries[i].Value = value
			return
		}
	}
	b.entries = append(b.entries, types.Entry{Key: *key, Value: value})
}

// Delete removes the key's entry. It reports whether the key was present.
func (t *Table) Delete(key *types.Key) bool {
	b := &t.buckets[t.Index(key)]
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := range b.entries {
		if b.entries[i].Key.Equal(key) {
			b.entries = append(b.entries[:i], b.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Get returns the value stored under the key.
func (t *Table) Get(key *types.Key) (uint32, bool) {
	b := &t.buckets[t.Index(key)]
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := range b.entries {
		if b.entries[i].Key.Equal(key) {
			return b.entries[i].Value, true
		}
	}
	return 0, false
}

// DumpByKey fills the response with the contents of the bucket the key
// hashes into. The bucket is dumped whether or not the key is present.
func (t *Table) DumpByKey(key *types.Key, resp *types.Response) {
	t.dump(t.Index(key), resp)
}

// DumpByIndex fills the response with the contents of bucket i. An index
// out of range yields StatusInvalidOp.
func (t *Table) DumpByIndex(i uint32, resp *types.Response) {
	if uint64(i) >= uint64(len(t.buckets)) {
		resp.Status = types.StatusInvalidOp
		resp.Payload = types.PayloadEmpty
		return
	}
	t.dump(i, resp)
}

func (t *Table) dump(i uint32, resp *types.Response) {
	b := &t.buckets[i]
	b.mu.RLock()
	defer b.mu.RUnlock()

	resp.SetBucketDump(b.entries)
}

// Each calls fn for every bucket in index order, under the bucket's read
// lock. Used by the debug dump.
func (t *Table) Each(fn func(index uint32, entries []types.Entry)) {
	for i := range t.buckets {
		b := &t.buckets[i]
		b.mu.RLock()
		fn(uint32(i), b.entries)
		b.mu.RUnlock()
	}
}
