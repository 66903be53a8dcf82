package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyBody is returned by DecodeEnvelope for an empty wire payload.
var ErrEmptyBody = errors.New("empty message body")

// Envelope is the in-flight representation of one logical send attempt. It is
// created by the sender at publish time, serialized unchanged onto the wire,
// and deserialized unchanged by the receiver.
//
// The JSON field names are the wire contract and must not change: consumers
// of other services decode the same shape.
type Envelope struct {
	// MsgID is unique per logical send attempt. Broker redeliveries and
	// confirm-driven republishes reuse the same MsgID.
	MsgID string `json:"msgId"`

	// TraceID is the correlation token propagated from the caller's context.
	// Empty when the caller carried none.
	TraceID string `json:"traceId"`

	// SendTime is the timestamp captured at publish.
	SendTime time.Time `json:"sendTime"`

	// Info carries the descriptor metadata for the message type.
	Info Descriptor `json:"mqInfo"`

	// Data is the business payload: an embedded JSON document kept as a
	// string, so the envelope is double-encoded on the wire.
	Data string `json:"data"`
}

// NewEnvelope builds an envelope for a fresh send attempt: a new message id,
// the trace id from ctx (empty if unset), and the current time.
func NewEnvelope(ctx context.Context, d Descriptor, payload string) *Envelope {
	return &Envelope{
		MsgID:    uuid.NewString(),
		TraceID:  TraceID(ctx),
		SendTime: time.Now().UTC(),
		Info:     d,
		Data:     payload,
	}
}

// Encode serializes the envelope to its wire form.
func (e *Envelope) Encode() ([]byte, error) {
	body, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode envelope %s: %w", e.MsgID, err)
	}
	return body, nil
}

// DecodeEnvelope parses a wire payload back into an Envelope.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var e Envelope
	if err := json.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return &e, nil
}
