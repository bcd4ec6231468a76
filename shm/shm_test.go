package shm

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testName(t *testing.T) string {
	name := fmt.Sprintf("/hashtable_test_%d_%s", os.Getpid(), t.Name())
	t.Cleanup(func() {
		_ = Unlink(name)
	})
	return name
}

func TestCreateAttachRoundTrip(t *testing.T) {
	requireT := require.New(t)
	name := testName(t)

	const size = 4096

	creator, err := Create(name, size)
	requireT.NoError(err)
	defer creator.Close()

	requireT.Len(creator.Bytes(), size)

	// Freshly created regions are zeroed.
	for _, b := range creator.Bytes() {
		requireT.Zero(b)
	}

	creator.Bytes()[100] = 0xab

	attached, err := Attach(name, size)
	requireT.NoError(err)
	defer attached.Close()

	// Both mappings observe the same memory.
	requireT.EqualValues(0xab, attached.Bytes()[100])
	attached.Bytes()[200] = 0xcd
	requireT.EqualValues(0xcd, creator.Bytes()[200])
}

func TestCreateExclusive(t *testing.T) {
	requireT := require.New(t)
	name := testName(t)

	r, err := Create(name, 4096)
	requireT.NoError(err)
	defer r.Close()

	_, err = Create(name, 4096)
	requireT.Error(err)
}

func TestAttachMissing(t *testing.T) {
	requireT := require.New(t)
	name := testName(t)

	_, err := Attach(name, 4096)
	requireT.Error(err)
}

func TestAttachTooSmall(t *testing.T) {
	requireT := require.New(t)
	name := testName(t)

	r, err := Create(name, 4096)
	requireT.NoError(err)
	defer r.Close()

	_, err = Attach(name, 8192)
	requireT.Error(err)
}

func TestUnlinkKeepsMapping(t *testing.T) {
	requireT := require.New(t)
	name := testName(t)

	r, err := Create(name, 4096)
	requireT.NoError(err)
	defer r.Close()

	requireT.NoError(Unlink(name))
	requireT.NoError(Unlink(name))

	// The mapping stays usable after the name is gone.
	r.Bytes()[0] = 0xff
	requireT.EqualValues(0xff, r.Bytes()[0])

	_, err = Attach(name, 4096)
	requireT.Error(err)
}

func TestWaitReady(t *testing.T) {
	requireT := require.New(t)

	var magic uint32

	requireT.False(Ready(&magic))
	err := WaitReady(&magic, 30*time.Millisecond)
	requireT.ErrorIs(err, ErrNotReady)

	go func() {
		time.Sleep(50 * time.Millisecond)
		Publish(&magic)
	}()

	requireT.NoError(WaitReady(&magic, 5*time.Second))
	requireT.True(Ready(&magic))
}
