package bstore_test

import (
	"testing"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestStreamIndexKeyRoundTrip(t *testing.T) {
	streamID := types.NewStreamID(0x1122334455667788, 0x99AABBCCDDEEFF00)
	version := types.StreamVersion(42)

	key := bstore.StreamIndexKey(streamID, version)
	require.Len(t, key, bstore.StreamIndexKeyLen)

	gotID, gotVersion, ok := bstore.DecodeStreamIndexKey(key)
	require.True(t, ok)
	require.Equal(t, streamID, gotID)
	require.Equal(t, version, gotVersion)
}

func TestStreamIndexKeysSortByVersionWithinStream(t *testing.T) {
	streamID := types.NewStreamID(1, 1)
	k1 := bstore.StreamIndexKey(streamID, 1)
	k2 := bstore.StreamIndexKey(streamID, 2)
	k10 := bstore.StreamIndexKey(streamID, 10)

	require.True(t, string(k1) < string(k2))
	require.True(t, string(k2) < string(k10))
}

func TestStreamIndexPrefixMatchesOwnKeys(t *testing.T) {
	streamID := types.NewStreamID(9, 9)
	prefix := bstore.StreamIndexPrefix(streamID)
	key := bstore.StreamIndexKey(streamID, 3)

	require.Equal(t, prefix, key[:len(prefix)])
}

func TestEncodeDecodeSeq(t *testing.T) {
	require.Equal(t, uint64(123456), bstore.DecodeSeq(bstore.EncodeSeq(123456)))
}

func TestEncodeSeqOrdersBytes(t *testing.T) {
	require.True(t, string(bstore.EncodeSeq(1)) < string(bstore.EncodeSeq(2)))
	require.True(t, string(bstore.EncodeSeq(255)) < string(bstore.EncodeSeq(256)))
}
