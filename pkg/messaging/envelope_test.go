package messaging_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCreated = messaging.Descriptor{
	Name:         "OrderCreated",
	Description:  "order created event",
	ExchangeName: "orders.exchange",
	RoutingKey:   "orders.created",
	QueueName:    "orders.created.queue",
}

func TestNewEnvelope_PopulatesMetadata(t *testing.T) {
	ctx := messaging.WithTraceID(context.Background(), "trace-123")

	env := messaging.NewEnvelope(ctx, orderCreated, `{"orderId":1}`)

	assert.NotEmpty(t, env.MsgID)
	assert.Equal(t, "trace-123", env.TraceID)
	assert.Equal(t, `{"orderId":1}`, env.Data)
	assert.Equal(t, "OrderCreated", env.Info.Name)
	assert.WithinDuration(t, time.Now().UTC(), env.SendTime, time.Minute)
}

func TestNewEnvelope_NoTraceInContext(t *testing.T) {
	env := messaging.NewEnvelope(context.Background(), orderCreated, `{}`)
	assert.Empty(t, env.TraceID)
}

func TestEnvelope_WireFieldNames(t *testing.T) {
	env := messaging.NewEnvelope(context.Background(), orderCreated, `{"orderId":1}`)

	body, err := env.Encode()
	require.NoError(t, err)

	var wire map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &wire))

	// The field names are the wire contract shared with other services.
	for _, field := range []string{"msgId", "traceId", "sendTime", "mqInfo", "data"} {
		assert.Contains(t, wire, field)
	}

	// The business payload stays double-encoded: a JSON string, not an object.
	var data string
	require.NoError(t, json.Unmarshal(wire["data"], &data))
	assert.Equal(t, `{"orderId":1}`, data)
}

func TestDecodeEnvelope_RoundTrip(t *testing.T) {
	ctx := messaging.WithTraceID(context.Background(), "trace-rt")
	env := messaging.NewEnvelope(ctx, orderCreated, `{"orderId":42}`)

	body, err := env.Encode()
	require.NoError(t, err)

	decoded, err := messaging.DecodeEnvelope(body)
	require.NoError(t, err)
	assert.Equal(t, env.MsgID, decoded.MsgID)
	assert.Equal(t, env.TraceID, decoded.TraceID)
	assert.Equal(t, env.Info, decoded.Info)
	assert.Equal(t, env.Data, decoded.Data)
}

func TestDecodeEnvelope_Errors(t *testing.T) {
	_, err := messaging.DecodeEnvelope(nil)
	assert.ErrorIs(t, err, messaging.ErrEmptyBody)

	_, err = messaging.DecodeEnvelope([]byte("not json"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	second := orderCreated
	second.Name = "OrderCancelled"

	reg, err := messaging.NewRegistry(orderCreated, second)
	require.NoError(t, err)

	d, ok := reg.Lookup("OrderCreated")
	require.True(t, ok)
	assert.Equal(t, "ordercreated", d.BusinessType())

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	all := reg.All()
	require.Len(t, all, 2)
	assert.Equal(t, "OrderCreated", all[0].Name)

	_, err = messaging.NewRegistry(orderCreated, orderCreated)
	assert.Error(t, err, "duplicate names must be rejected")
}
