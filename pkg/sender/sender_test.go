package sender_test

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-reliablemq/pkg/auditstore"
	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
	"github.com/illmade-knight/go-reliablemq/pkg/sender"
)

var orderCreated = messaging.Descriptor{
	Name:         "OrderCreated",
	Description:  "order created event",
	ExchangeName: "orders.exchange",
	RoutingKey:   "orders.created",
	QueueName:    "orders.created.queue",
}

// mockPublisher records publish attempts and can fail on demand. Failed
// attempts are recorded too, mirroring a broker that rejected the write.
type mockPublisher struct {
	published []*messaging.Envelope
	err       error
}

func (m *mockPublisher) Publish(_ context.Context, env *messaging.Envelope, _ []byte) error {
	m.published = append(m.published, env)
	return m.err
}

func newTestHandler(t *testing.T, retryCount int) (*sender.Handler, *auditstore.InMemoryStore[auditstore.SendRecord], *mockPublisher) {
	t.Helper()
	store := auditstore.NewInMemoryStore[auditstore.SendRecord]()
	publisher := &mockPublisher{}
	cfg := &sender.Config{AppCode: "orders", ProviderRetryCount: retryCount}
	h, err := sender.NewHandler(cfg, store, publisher, zerolog.Nop())
	require.NoError(t, err)
	return h, store, publisher
}

func fetchOnly(t *testing.T, store *auditstore.InMemoryStore[auditstore.SendRecord], msgID string) *auditstore.SendRecord {
	t.Helper()
	rec, err := store.Fetch(context.Background(), auditstore.RecordKey(msgID, "orders"))
	require.NoError(t, err)
	return rec
}

func TestDoProvide_SuccessfulPublish(t *testing.T) {
	h, store, publisher := newTestHandler(t, 3)

	h.DoProvide(context.Background(), orderCreated, `{"orderId":1}`)

	require.Len(t, publisher.published, 1)
	env := publisher.published[0]

	require.Equal(t, 1, store.Len(), "exactly one record per (msgId, appCode)")
	rec := fetchOnly(t, store, env.MsgID)
	assert.Equal(t, auditstore.StatusSuccess, rec.Status)
	assert.Equal(t, auditstore.FailTypeNone, rec.FailType)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Equal(t, "message send started", rec.Remark)
	assert.Equal(t, "ordercreated", rec.BusinessType)
	assert.Equal(t, `{"orderId":1}`, rec.Payload)
	assert.Equal(t, "orders.exchange", rec.Exchange)
}

func TestDoProvide_PropagatesTraceID(t *testing.T) {
	h, _, publisher := newTestHandler(t, 3)
	ctx := messaging.WithTraceID(context.Background(), "trace-99")

	h.DoProvide(ctx, orderCreated, `{}`)

	require.Len(t, publisher.published, 1)
	assert.Equal(t, "trace-99", publisher.published[0].TraceID)
}

func TestHandleConfirm_AckLeavesRecordUntouched(t *testing.T) {
	h, store, publisher := newTestHandler(t, 3)

	h.DoProvide(context.Background(), orderCreated, `{"orderId":1}`)
	env := publisher.published[0]

	h.HandleConfirm(context.Background(), messaging.Confirmation{Envelope: env, Ack: true})

	rec := fetchOnly(t, store, env.MsgID)
	assert.Equal(t, auditstore.StatusSuccess, rec.Status)
	assert.Equal(t, 0, rec.RetryCount)
	assert.Len(t, publisher.published, 1, "an ack must not republish")
}

func TestHandleConfirm_NackRetriesThenExhausts(t *testing.T) {
	h, store, publisher := newTestHandler(t, 3)

	h.DoProvide(context.Background(), orderCreated, `{"orderId":1}`)
	env := publisher.published[0]
	nack := messaging.Confirmation{Envelope: env, Ack: false, Cause: "broker negative confirmation"}

	// Three nacks each trigger a republish with an incremented retry count.
	for want := 1; want <= 3; want++ {
		h.HandleConfirm(context.Background(), nack)
		rec := fetchOnly(t, store, env.MsgID)
		assert.Equal(t, want, rec.RetryCount)
		assert.Equal(t, auditstore.StatusSuccess, rec.Status, "record stays optimistic while retrying")
		assert.Equal(t, "message retry", rec.Remark)
	}
	require.Len(t, publisher.published, 4, "initial publish plus three retries")

	// The fourth nack finds retryCount == bound: terminal.
	h.HandleConfirm(context.Background(), nack)
	rec := fetchOnly(t, store, env.MsgID)
	assert.Equal(t, auditstore.StatusFailed, rec.Status)
	assert.Equal(t, auditstore.FailTypeConfirmRetryExhausted, rec.FailType)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Len(t, publisher.published, 4, "no republish after exhaustion")
}

func TestPublish_ConnectionFailureIsTerminal(t *testing.T) {
	h, store, publisher := newTestHandler(t, 3)
	publisher.err = errors.New("connection refused")

	h.DoProvide(context.Background(), orderCreated, `{"orderId":1}`)

	require.Len(t, publisher.published, 1, "exactly one attempt, no synchronous retry")
	rec := fetchOnly(t, store, publisher.published[0].MsgID)
	assert.Equal(t, auditstore.StatusFailed, rec.Status)
	assert.Equal(t, auditstore.FailTypeConnectionFailure, rec.FailType)
	assert.Contains(t, rec.Remark, "order created event")
	assert.Equal(t, 0, rec.RetryCount)
}

func TestHandleReturn_AlwaysTerminal(t *testing.T) {
	h, store, publisher := newTestHandler(t, 3)

	h.DoProvide(context.Background(), orderCreated, `{"orderId":1}`)
	env := publisher.published[0]

	h.HandleReturn(context.Background(), messaging.Return{
		MessageID:  env.MsgID,
		ReplyCode:  312,
		ReplyText:  "NO_ROUTE",
		Exchange:   "orders.exchange",
		RoutingKey: "orders.created",
	})

	rec := fetchOnly(t, store, env.MsgID)
	assert.Equal(t, auditstore.StatusFailed, rec.Status)
	assert.Equal(t, auditstore.FailTypeUnroutable, rec.FailType)
	assert.Equal(t, "NO_ROUTE", rec.Remark)
	assert.Len(t, publisher.published, 1, "returns are never retried")
}

func TestNewConfigDefaults_EnvOverride(t *testing.T) {
	cfg := sender.NewConfigDefaults("orders")
	assert.Equal(t, 3, cfg.ProviderRetryCount)

	t.Setenv("MQ_PROVIDER_RETRY_COUNT", "7")
	cfg = sender.NewConfigDefaults("orders")
	assert.Equal(t, 7, cfg.ProviderRetryCount)
}

func TestNewHandler_Validation(t *testing.T) {
	store := auditstore.NewInMemoryStore[auditstore.SendRecord]()
	_, err := sender.NewHandler(&sender.Config{}, store, &mockPublisher{}, zerolog.Nop())
	assert.Error(t, err)

	_, err = sender.NewHandler(&sender.Config{AppCode: "orders"}, nil, nil, zerolog.Nop())
	assert.Error(t, err)
}
