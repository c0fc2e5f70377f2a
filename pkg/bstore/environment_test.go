package bstore_test

import (
	"testing"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/crypto"
	"github.com/stretchr/testify/require"
)

func TestOpenCreatesAllNamespaces(t *testing.T) {
	env, err := bstore.Open(bstore.Config{Path: t.TempDir(), CreateDirIfMissing: true})
	require.NoError(t, err)
	defer env.Close()

	require.NoError(t, env.View(func(txn *bstore.ReadTxn) error {
		for _, name := range [][]byte{
			bstore.EventsLogBucket,
			bstore.StreamIndexBucket,
			bstore.ConsumerCursorsBucket,
			bstore.KeystoreBucket,
			bstore.BlobsBucket,
		} {
			require.NotNil(t, txn.Bucket(name), "bucket %s missing", name)
		}
		return nil
	}))
}

func TestOpenWithoutEncryptionLeavesMasterKeyNil(t *testing.T) {
	env, err := bstore.Open(bstore.Config{Path: t.TempDir(), CreateDirIfMissing: true})
	require.NoError(t, err)
	defer env.Close()

	require.False(t, env.EncryptionEnabled())
	require.Nil(t, env.MasterKey())
}

func TestOpenWithEncryptionRequiresMasterKey(t *testing.T) {
	_, err := bstore.Open(bstore.Config{
		Path:               t.TempDir(),
		CreateDirIfMissing: true,
		EncryptionEnabled:  true,
	})
	require.Error(t, err)
}

func TestUpdateRollsBackOnError(t *testing.T) {
	env, err := bstore.Open(bstore.Config{Path: t.TempDir(), CreateDirIfMissing: true})
	require.NoError(t, err)
	defer env.Close()

	sentinel := errFake{}
	err = env.Update(func(txn *bstore.WriteTxn) error {
		require.NoError(t, txn.Bucket(bstore.EventsLogBucket).Put([]byte("k"), []byte("v")))
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	require.NoError(t, env.View(func(txn *bstore.ReadTxn) error {
		require.Nil(t, txn.Bucket(bstore.EventsLogBucket).Get([]byte("k")))
		return nil
	}))
}

func TestCloneSharesUnderlyingStore(t *testing.T) {
	masterKey, err := crypto.RandomKey()
	require.NoError(t, err)
	env, err := bstore.Open(bstore.Config{
		Path:               t.TempDir(),
		CreateDirIfMissing: true,
		EncryptionEnabled:  true,
		MasterKey:          masterKey[:],
	})
	require.NoError(t, err)
	defer env.Close()

	clone := env.Clone()
	require.Equal(t, env.EncryptionEnabled(), clone.EncryptionEnabled())
	require.Same(t, env.Notifier(), clone.Notifier())

	require.NoError(t, clone.Update(func(txn *bstore.WriteTxn) error {
		return txn.Bucket(bstore.EventsLogBucket).Put([]byte("a"), []byte("b"))
	}))
	require.NoError(t, env.View(func(txn *bstore.ReadTxn) error {
		require.Equal(t, []byte("b"), txn.Bucket(bstore.EventsLogBucket).Get([]byte("a")))
		return nil
	}))
}

type errFake struct{}

func (errFake) Error() string { return "fake error" }
