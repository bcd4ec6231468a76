package types

import (
	"github.com/pkg/errors"
)

const (
	// MagicValue marks a fully initialized shared region. It is the last
	// field written during initialization and the first one checked on
	// attach.
	MagicValue uint32 = 0x77256810

	// RequestRegionName is the shared memory name of the request queue.
	RequestRegionName = "/hashtable_req"

	// ResponseRegionName is the shared memory name of the response queue.
	ResponseRegionName = "/hashtable_res"

	// KeyCapacity is the maximum key length in bytes.
	KeyCapacity = 64

	// BucketDumpCapacity is the maximum number of entries carried by a
	// single bucket dump response.
	BucketDumpCapacity = 32
)

// OpKind identifies the operation requested by a client.
type OpKind uint32

// Request operation kinds.
const (
	OpInsert OpKind = iota + 1
	OpDelete
	OpDumpByKey
	OpDumpByIndex
	OpDebugPrint
	OpShutdown
)

func (o OpKind) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpDumpByKey:
		return "dumpByKey"
	case OpDumpByIndex:
		return "dumpByIndex"
	case OpDebugPrint:
		return "debugPrint"
	case OpShutdown:
		return "shutdown"
	default:
		return "invalid"
	}
}

// Status is the outcome of an operation, carried in the response record.
type Status uint32

// Response statuses.
const (
	StatusOK Status = iota
	StatusNotFound
	StatusBucketOverflow
	StatusInvalidOp
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "notFound"
	case StatusBucketOverflow:
		return "bucketOverflow"
	case StatusInvalidOp:
		return "invalidOp"
	default:
		return "unknown"
	}
}

// PayloadKind tells whether a response carries a bucket dump.
type PayloadKind uint32

// Response payload kinds.
const (
	PayloadEmpty PayloadKind = iota
	PayloadBucketDump
)

// ErrKeyTooLong is returned when a key exceeds KeyCapacity bytes.
var ErrKeyTooLong = errors.Errorf("key longer than %d bytes", KeyCapacity)

// Key is an inline byte string of up to KeyCapacity bytes. It contains no
// pointers so it may be copied across process boundaries by plain memory
// copy.
type Key struct {
	Length uint32
	Data   [KeyCapacity]byte
}

// NewKey builds a key from a string.
func NewKey(s string) (Key, error) {
	if len(s) > KeyCapacity {
		return Key{}, errors.WithStack(ErrKeyTooLong)
	}
	var k Key
	k.Length = uint32(len(s))
	copy(k.Data[:], s)
	return k, nil
}

// Bytes returns the occupied portion of the key.
func (k *Key) Bytes() []byte {
	return k.Data[:k.Length]
}

// Equal reports whether two keys hold the same bytes.
func (k *Key) Equal(other *Key) bool {
	return k.Length == other.Length && k.Data == other.Data
}

func (k Key) String() string {
	return string(k.Data[:k.Length])
}

// Entry is a single key-value pair of a bucket.
type Entry struct {
	Key   Key
	Value uint32
}

// Request is the fixed-size record written into a request queue slot.
// Key is unused for DumpByIndex, Value only applies to Insert and
// BucketIndex only to DumpByIndex.
type Request struct {
	ClientID    uint32
	RequestID   uint32
	Op          OpKind
	Key         Key
	Value       uint32
	BucketIndex uint32
}

// Response is the fixed-size record written into a response queue slot.
// ClientID and RequestID echo the request so the rightful recipient can
// correlate it.
type Response struct {
	ClientID   uint32
	RequestID  uint32
	Status     Status
	Payload    PayloadKind
	EntryCount uint32
	Entries    [BucketDumpCapacity]Entry
}

// SetBucketDump fills the response payload with up to BucketDumpCapacity
// entries. Overflowing buckets are truncated and flagged.
func (r *Response) SetBucketDump(entries []Entry) {
	r.Payload = PayloadBucketDump
	r.Status = StatusOK
	if len(entries) > BucketDumpCapacity {
		r.Status = StatusBucketOverflow
		entries = entries[:BucketDumpCapacity]
	}
	r.EntryCount = uint32(len(entries))
	copy(r.Entries[:], entries)
}

// BucketDump returns the entries carried by the response.
func (r *Response) BucketDump() []Entry {
	return r.Entries[:r.EntryCount]
}
