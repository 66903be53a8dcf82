package auditstore

import (
	"context"

	"github.com/rs/zerolog"
)

// RecordStore is the store contract the archiving decorator wraps.
type RecordStore[T any] interface {
	Fetch(ctx context.Context, key string) (*T, error)
	Save(ctx context.Context, key string, record *T) error
}

// Archiver receives copies of finalized records for out-of-band archival.
// Archive must not block: implementations enqueue and return.
type Archiver[T any] interface {
	Archive(ctx context.Context, record *T) error
}

// finalizable is satisfied by *SendRecord and *ReceiveRecord.
type finalizable interface {
	Finalized() bool
}

// ArchivingStore decorates a RecordStore, offering a copy of every finalized
// record to an Archiver after a successful Save. Archive failures are logged
// only; the store row remains the source of truth, and archival must never
// delay or fail the message hot path.
type ArchivingStore[T any] struct {
	inner    RecordStore[T]
	archiver Archiver[T]
	logger   zerolog.Logger
}

// NewArchivingStore wraps inner so finalized saves are mirrored to archiver.
func NewArchivingStore[T any](
	inner RecordStore[T],
	archiver Archiver[T],
	logger zerolog.Logger,
) *ArchivingStore[T] {
	return &ArchivingStore[T]{
		inner:    inner,
		archiver: archiver,
		logger:   logger.With().Str("component", "ArchivingStore").Logger(),
	}
}

// Fetch delegates to the inner store.
func (s *ArchivingStore[T]) Fetch(ctx context.Context, key string) (*T, error) {
	return s.inner.Fetch(ctx, key)
}

// Save delegates to the inner store and, on success, offers finalized records
// to the archiver.
func (s *ArchivingStore[T]) Save(ctx context.Context, key string, record *T) error {
	if err := s.inner.Save(ctx, key, record); err != nil {
		return err
	}

	if fin, ok := any(record).(finalizable); !ok || !fin.Finalized() {
		return nil
	}

	copied := *record
	if err := s.archiver.Archive(ctx, &copied); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to enqueue record for archival.")
	}
	return nil
}
