package messaging

// ====================================================================================
// Boundary types between the broker transport and the sender/receiver
// handlers. The transport produces Delivery values on the consume side and
// Confirmation/Return values on the publish side; the handlers never touch
// broker client types directly.
// ====================================================================================

// Delivery is one inbound broker message plus its acknowledgement handles.
type Delivery struct {
	// Queue is the name of the queue the message was consumed from.
	Queue string

	// MessageID is the broker-level message id set by the publisher. For
	// messages produced by this library it equals the envelope MsgID.
	MessageID string

	// CorrelationID carries the publisher's trace id.
	CorrelationID string

	// Body is the raw wire payload.
	Body []byte

	// Redelivered reports whether the broker has delivered this message before.
	Redelivered bool

	// Ack signals successful processing; the broker drops the message.
	Ack func() error

	// Nack signals failed processing. With requeue the broker redelivers the
	// message later; without it the message is dropped (or dead-lettered).
	Nack func(requeue bool) error
}

// Confirmation is the broker's exchange-level outcome for one publish: ack
// when the exchange accepted the message, nack otherwise.
type Confirmation struct {
	// Envelope is the envelope of the publish being confirmed.
	Envelope *Envelope

	Ack   bool
	Cause string
}

// Return is the broker's notice that a published message reached the exchange
// but could not be routed to any queue.
type Return struct {
	MessageID  string
	ReplyCode  uint16
	ReplyText  string
	Exchange   string
	RoutingKey string
}
