// Package archive streams finalized audit records into an analytical sink,
// out of band of the message hot path. The record store remains the source of
// truth; a lost archive write is logged, never retried against the hot path.
package archive

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BatchSink is a generic interface for inserting a batch of records into a
// destination store. It abstracts the destination (BigQuery, a warehouse,
// etc.), keeping the batching worker testable.
type BatchSink[T any] interface {
	InsertBatch(ctx context.Context, records []*T) error
	Close() error
}

// BatchArchiverConfig holds configuration for the BatchArchiver.
type BatchArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	InsertTimeout time.Duration
}

// NewBatchArchiverDefaults provides a config with sensible defaults.
func NewBatchArchiverDefaults() *BatchArchiverConfig {
	return &BatchArchiverConfig{
		BatchSize:     50,
		FlushInterval: 5 * time.Second,
		InsertTimeout: 20 * time.Second,
	}
}

// BatchArchiver collects records and flushes them to a BatchSink by size or
// interval. Archive never blocks: when the buffer is full the record is
// dropped and logged, protecting the message hot path from sink backpressure.
type BatchArchiver[T any] struct {
	config    BatchArchiverConfig
	sink      BatchSink[T]
	logger    zerolog.Logger
	inputChan chan *T
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewBatchArchiver creates a new generic BatchArchiver.
func NewBatchArchiver[T any](
	config *BatchArchiverConfig,
	sink BatchSink[T],
	logger zerolog.Logger,
) *BatchArchiver[T] {
	return &BatchArchiver[T]{
		config:    *config,
		sink:      sink,
		logger:    logger.With().Str("component", "BatchArchiver").Logger(),
		inputChan: make(chan *T, config.BatchSize*2),
	}
}

// Archive enqueues one record for archival. It satisfies the
// auditstore.Archiver contract and returns an error only when the buffer is
// full.
func (b *BatchArchiver[T]) Archive(_ context.Context, record *T) error {
	select {
	case b.inputChan <- record:
		return nil
	default:
		return fmt.Errorf("archive buffer full, dropping record")
	}
}

// Start begins the batching worker.
func (b *BatchArchiver[T]) Start(ctx context.Context) {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_interval", b.config.FlushInterval).
		Msg("Starting archive worker...")
	b.wg.Add(1)
	go b.worker(ctx)
}

// Stop gracefully shuts down the archiver, flushing buffered records. It is
// safe to call more than once.
func (b *BatchArchiver[T]) Stop(ctx context.Context) error {
	var err error
	b.stopOnce.Do(func() {
		b.logger.Info().Msg("Stopping archiver...")
		close(b.inputChan)

		done := make(chan struct{})
		go func() {
			b.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
			b.logger.Info().Msg("Archive worker stopped gracefully.")
		case <-ctx.Done():
			b.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for archive worker to stop.")
			err = ctx.Err()
			return
		}

		if closeErr := b.sink.Close(); closeErr != nil {
			b.logger.Error().Err(closeErr).Msg("Error closing archive sink.")
		}
	})
	return err
}

// worker collects records into a batch and flushes by size or ticker.
func (b *BatchArchiver[T]) worker(ctx context.Context) {
	defer b.wg.Done()
	batch := make([]*T, 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final flush on shutdown uses a background context.
			b.flush(context.Background(), batch)
			return

		case record, ok := <-b.inputChan:
			if !ok {
				b.flush(ctx, batch)
				return
			}
			batch = append(batch, record)
			if len(batch) >= b.config.BatchSize {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
				ticker.Reset(b.config.FlushInterval)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(ctx, batch)
				batch = make([]*T, 0, b.config.BatchSize)
			}
		}
	}
}

func (b *BatchArchiver[T]) flush(ctx context.Context, batch []*T) {
	if len(batch) == 0 {
		return
	}

	insertCtx, cancel := context.WithTimeout(ctx, b.config.InsertTimeout)
	defer cancel()

	if err := b.sink.InsertBatch(insertCtx, batch); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to archive batch; records remain in the primary store.")
		return
	}
	b.logger.Debug().Int("batch_size", len(batch)).Msg("Archived batch.")
}
