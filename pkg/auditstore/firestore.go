package auditstore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for a Firestore-backed record store.
type FirestoreConfig struct {
	ProjectID      string
	CollectionName string
}

// FirestoreStore is a generic Firestore-backed record store: one document per
// compound record key, upserted in place. It satisfies the RecordStore
// interfaces accepted by the sender and receiver handlers.
type FirestoreStore[T any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStore creates a new generic FirestoreStore.
func NewFirestoreStore[T any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreStore[T], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("firestore collection name cannot be empty")
	}

	return &FirestoreStore[T]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreStore").Str("collection", cfg.CollectionName).Logger(),
	}, nil
}

// Fetch retrieves the record stored under key. It returns ErrRecordNotFound
// when no document exists, so callers can distinguish "first attempt" from a
// genuine store failure.
func (s *FirestoreStore[T]) Fetch(ctx context.Context, key string) (*T, error) {
	docSnap, err := s.client.Collection(s.collectionName).Doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrRecordNotFound
		}
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to get record from Firestore.")
		return nil, fmt.Errorf("firestore get for %s: %w", key, err)
	}

	var record T
	if err := docSnap.DataTo(&record); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to map Firestore document data.")
		return nil, fmt.Errorf("firestore DataTo for %s: %w", key, err)
	}
	return &record, nil
}

// Save upserts the record under key, overwriting any previous attempt state.
func (s *FirestoreStore[T]) Save(ctx context.Context, key string, record *T) error {
	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := s.client.Collection(s.collectionName).Doc(key).Set(writeCtx, record); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("Failed to upsert record in Firestore.")
		return fmt.Errorf("firestore set for %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; the Firestore client's lifecycle is managed by the caller.
func (s *FirestoreStore[T]) Close() error {
	return nil
}
