// Package processor implements the tail-following consumer loop: it drains
// newly appended events in batches, invokes a handler for each, and commits
// its cursor only after a batch completes, so a crash mid-batch replays
// (never skips) the events the handler already saw — at-least-once
// delivery.
package processor

import (
	"context"
	"time"

	"github.com/cuemby/ledgerdb/pkg/bstore"
	"github.com/cuemby/ledgerdb/pkg/errors"
	"github.com/cuemby/ledgerdb/pkg/log"
	"github.com/cuemby/ledgerdb/pkg/reader"
	"github.com/cuemby/ledgerdb/pkg/types"
)

// DefaultBatchSize bounds how many events are drained before a cursor
// commit when Config.BatchSize is left at zero.
const DefaultBatchSize = 100

// DefaultBatchTimeout bounds how long a batch may stay open before
// committing what it has, even if BatchSize hasn't been reached.
const DefaultBatchTimeout = time.Second

// Handler processes one event. Returning an error stops the Processor
// before its cursor is committed for the batch containing that event, so
// the event is retried on the next Run.
type Handler func(*reader.EventView) error

// MetricsSink receives observations from each committed batch.
type MetricsSink interface {
	ObserveBatch(processed int, lagSeq uint64)
}

// Config tunes batching behavior.
type Config struct {
	BatchSize    int
	BatchTimeout time.Duration
	Metrics      MetricsSink
}

func (c Config) withDefaults() Config {
	out := c
	if out.BatchSize <= 0 {
		out.BatchSize = DefaultBatchSize
	}
	if out.BatchTimeout <= 0 {
		out.BatchTimeout = DefaultBatchTimeout
	}
	return out
}

// Processor drains one consumer's tail of the event log.
type Processor struct {
	reader     *reader.Reader
	handler    Handler
	consumerID types.ConsumerID
	cfg        Config
}

// New builds a Processor reading through r, calling h for each event, and
// persisting its position under consumerID.
func New(r *reader.Reader, h Handler, consumerID uint64, cfg Config) *Processor {
	return &Processor{
		reader:     r,
		handler:    h,
		consumerID: types.ConsumerID(consumerID),
		cfg:        cfg.withDefaults(),
	}
}

func (p *Processor) loadCursor() (uint64, error) {
	var cursor uint64
	err := p.reader.WithReadTxn(func(txn *bstore.ReadTxn) error {
		raw := txn.Bucket(bstore.ConsumerCursorsBucket).Get(bstore.EncodeConsumerID(p.consumerID))
		if raw != nil {
			cursor = bstore.DecodeSeq(raw)
		}
		return nil
	})
	return cursor, err
}

func (p *Processor) commitCursor(seq uint64) error {
	return p.reader.Environment().Update(func(txn *bstore.WriteTxn) error {
		if err := txn.Bucket(bstore.ConsumerCursorsBucket).Put(
			bstore.EncodeConsumerID(p.consumerID), bstore.EncodeSeq(seq),
		); err != nil {
			return errors.Wrap(errors.KindBackend, "commit consumer cursor", err)
		}
		return nil
	})
}

// drainBatch reads and handles up to cfg.BatchSize events past after,
// stopping early once cfg.BatchTimeout has elapsed or the tail is reached.
// It opens one fresh, synchronous ReadTxn per event via Reader.WithReadTxn
// — never held across the loop's own suspension points — so no
// transaction is alive while the processor waits on anything.
func (p *Processor) drainBatch(after uint64) (uint64, int, error) {
	deadline := time.Now().Add(p.cfg.BatchTimeout)
	last := after
	processed := 0

	for processed < p.cfg.BatchSize {
		var view *reader.EventView
		err := p.reader.WithReadTxn(func(txn *bstore.ReadTxn) error {
			v, err := p.reader.Get(txn, last+1)
			view = v
			return err
		})
		if err != nil {
			return last, processed, err
		}
		if view == nil {
			break
		}
		if err := p.handler(view); err != nil {
			return last, processed, err
		}
		last = view.Seq
		processed++
		if time.Now().After(deadline) {
			break
		}
	}
	return last, processed, nil
}

// Run drives the processor until ctx is canceled or an unrecoverable error
// occurs. It loads the last committed cursor, then alternates between
// draining batches and blocking on the environment's notifier whenever it
// catches up to the tail.
func (p *Processor) Run(ctx context.Context) error {
	logger := log.WithConsumer(uint64(p.consumerID))
	cursor, err := p.loadCursor()
	if err != nil {
		return err
	}
	logger.Info().Uint64("cursor", cursor).Msg("processor starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		last, processed, err := p.drainBatch(cursor)
		if err != nil {
			return err
		}
		if processed > 0 {
			if err := p.commitCursor(last); err != nil {
				return err
			}
			cursor = last
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ObserveBatch(processed, p.reader.Environment().Notifier().Current()-cursor)
			}
			logger.Debug().Int("processed", processed).Uint64("cursor", cursor).Msg("batch committed")
			continue
		}

		if _, err := p.reader.Environment().Notifier().WaitForChange(ctx, cursor); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
