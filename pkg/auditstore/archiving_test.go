package auditstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/illmade-knight/go-reliablemq/pkg/auditstore"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockArchiver[T any] struct {
	mu       sync.Mutex
	received []*T
	err      error
}

func (m *mockArchiver[T]) Archive(_ context.Context, record *T) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.received = append(m.received, record)
	return nil
}

func (m *mockArchiver[T]) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.received)
}

func TestArchivingStore_ForwardsFinalizedRecords(t *testing.T) {
	ctx := context.Background()
	inner := auditstore.NewInMemoryStore[auditstore.SendRecord]()
	archiver := &mockArchiver[auditstore.SendRecord]{}
	store := auditstore.NewArchivingStore[auditstore.SendRecord](inner, archiver, zerolog.Nop())

	rec := &auditstore.SendRecord{MsgID: "m1", AppCode: "orders", Status: auditstore.StatusSuccess}
	require.NoError(t, store.Save(ctx, rec.Key(), rec))

	require.Equal(t, 1, archiver.count())
	// The archiver gets a copy, not the caller's pointer.
	assert.NotSame(t, rec, archiver.received[0])

	got, err := store.Fetch(ctx, rec.Key())
	require.NoError(t, err)
	assert.Equal(t, auditstore.StatusSuccess, got.Status)
}

func TestArchivingStore_SkipsUnfinalizedRecords(t *testing.T) {
	ctx := context.Background()
	inner := auditstore.NewInMemoryStore[auditstore.ReceiveRecord]()
	archiver := &mockArchiver[auditstore.ReceiveRecord]{}
	store := auditstore.NewArchivingStore[auditstore.ReceiveRecord](inner, archiver, zerolog.Nop())

	rec := &auditstore.ReceiveRecord{MsgID: "m1", AppCode: "orders"}
	require.NoError(t, store.Save(ctx, rec.Key(), rec))

	assert.Equal(t, 0, archiver.count())
}

func TestArchivingStore_ArchiveFailureDoesNotFailSave(t *testing.T) {
	ctx := context.Background()
	inner := auditstore.NewInMemoryStore[auditstore.SendRecord]()
	archiver := &mockArchiver[auditstore.SendRecord]{err: errors.New("queue full")}
	store := auditstore.NewArchivingStore[auditstore.SendRecord](inner, archiver, zerolog.Nop())

	rec := &auditstore.SendRecord{MsgID: "m1", AppCode: "orders", Status: auditstore.StatusFailed}
	assert.NoError(t, store.Save(ctx, rec.Key(), rec))
}
