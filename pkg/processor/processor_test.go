package processor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/processor"
	"github.com/cuemby/ledgerdb/pkg/reader"
	"github.com/cuemby/ledgerdb/pkg/types"
	"github.com/cuemby/ledgerdb/pkg/writer"
	"github.com/stretchr/testify/require"
)

func openEnv(t *testing.T) *bstore.Environment {
	t.Helper()
	env, err := bstore.Open(bstore.Config{Path: t.TempDir(), CreateDirIfMissing: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = env.Close() })
	return env
}

func TestProcessorDeliversAppendedEventsInOrder(t *testing.T) {
	env := openEnv(t)
	w := writer.New(env)
	r := reader.New(env)
	streamID := types.NewStreamID(1, 1)

	for v := types.StreamVersion(1); v <= 5; v++ {
		_, err := w.Append(streamID, v, []byte{byte(v)})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	var seen []types.StreamVersion
	handler := func(v *reader.EventView) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v.Version)
		return nil
	}

	p := processor.New(r, handler, 1, processor.Config{BatchSize: 2, BatchTimeout: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []types.StreamVersion{1, 2, 3, 4, 5}, seen)
}

func TestProcessorDrainsLargeBacklogWithinDeadline(t *testing.T) {
	env := openEnv(t)
	w := writer.New(env)
	r := reader.New(env)
	streamID := types.NewStreamID(3, 3)

	const total = 200
	for v := types.StreamVersion(1); v <= total; v++ {
		_, err := w.Append(streamID, v, []byte{byte(v)})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	var seen []uint64
	handler := func(v *reader.EventView) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, v.Seq)
		return nil
	}

	p := processor.New(r, handler, 9, processor.Config{BatchSize: 10, BatchTimeout: 100 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	mu.Lock()
	require.Len(t, seen, total)
	for i, seq := range seen {
		require.Equal(t, uint64(i+1), seq)
	}
	mu.Unlock()

	require.NoError(t, r.WithReadTxn(func(txn *bstore.ReadTxn) error {
		cursor := txn.Bucket(bstore.ConsumerCursorsBucket).Get(bstore.EncodeConsumerID(9))
		require.NotNil(t, cursor)
		require.Equal(t, uint64(total), bstore.DecodeSeq(cursor))
		return nil
	}))
}

func TestProcessorResumesFromCommittedCursor(t *testing.T) {
	env := openEnv(t)
	w := writer.New(env)
	r := reader.New(env)
	streamID := types.NewStreamID(2, 2)

	for v := types.StreamVersion(1); v <= 3; v++ {
		_, err := w.Append(streamID, v, []byte{byte(v)})
		require.NoError(t, err)
	}

	var firstRun []uint64
	p1 := processor.New(r, func(v *reader.EventView) error {
		firstRun = append(firstRun, v.Seq)
		return nil
	}, 7, processor.Config{BatchSize: 1, BatchTimeout: time.Millisecond})
	ctx1, cancel1 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_ = p1.Run(ctx1)
	cancel1()
	require.Len(t, firstRun, 3)

	_, err := w.Append(streamID, 4, []byte{4})
	require.NoError(t, err)

	var secondRun []uint64
	p2 := processor.New(r, func(v *reader.EventView) error {
		secondRun = append(secondRun, v.Seq)
		return nil
	}, 7, processor.Config{BatchSize: 1, BatchTimeout: time.Millisecond})
	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	_ = p2.Run(ctx2)
	cancel2()

	require.Len(t, secondRun, 1)
	require.Equal(t, firstRun[2]+1, secondRun[0])
}
