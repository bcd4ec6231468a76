package client

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shadowcpy/hashtable/types"
)

func TestGenerateKeysDeterministic(t *testing.T) {
	requireT := require.New(t)

	const seed = 42

	first := make([]types.Key, 20)
	requireT.NoError(generateKeys(rand.New(rand.NewSource(seed)), seed, first))

	second := make([]types.Key, 20)
	requireT.NoError(generateKeys(rand.New(rand.NewSource(seed)), seed, second))

	requireT.Equal(first, second)

	for _, k := range first {
		requireT.True(strings.HasPrefix(k.String(), "ht42"))
	}
}

func TestGenerateKeysUnique(t *testing.T) {
	requireT := require.New(t)

	keys := make([]types.Key, 1000)
	requireT.NoError(generateKeys(rand.New(rand.NewSource(7)), 7, keys))

	seen := map[string]bool{}
	for _, k := range keys {
		requireT.False(seen[k.String()], "duplicate key generated")
		seen[k.String()] = true
	}
}

func TestVerifyDump(t *testing.T) {
	requireT := require.New(t)

	k, err := types.NewKey("key")
	requireT.NoError(err)
	other, err := types.NewKey("other")
	requireT.NoError(err)

	var resp types.Response
	resp.SetBucketDump([]types.Entry{{Key: other, Value: 1}, {Key: k, Value: 5}})
	requireT.NoError(verifyDump(resp, k, 5))

	// Wrong value.
	requireT.ErrorIs(verifyDump(resp, k, 6), ErrVerification)

	// Key missing from the dump.
	resp.SetBucketDump([]types.Entry{{Key: other, Value: 1}})
	requireT.ErrorIs(verifyDump(resp, k, 5), ErrVerification)

	// Overflowing buckets cannot be verified, the dump is accepted.
	resp.Status = types.StatusBucketOverflow
	requireT.NoError(verifyDump(resp, k, 5))

	// Unexpected status.
	resp.Status = types.StatusInvalidOp
	requireT.ErrorIs(verifyDump(resp, k, 5), ErrVerification)

	// Empty payload where a dump was expected.
	resp = types.Response{Status: types.StatusOK, Payload: types.PayloadEmpty}
	requireT.ErrorIs(verifyDump(resp, k, 5), ErrVerification)
}
