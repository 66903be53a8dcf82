// Package receiver implements idempotent message consumption: one business
// invocation per logical message despite at-least-once broker delivery,
// enforced by a per-message lock, with bounded retry via broker redelivery
// and a durable receive record per attempt.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-reliablemq/pkg/auditstore"
	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
)

// RecordStore is the persistence contract for receive records.
type RecordStore interface {
	Fetch(ctx context.Context, key string) (*auditstore.ReceiveRecord, error)
	Save(ctx context.Context, key string, record *auditstore.ReceiveRecord) error
}

// MessageLock is the mutual-exclusion contract keyed by message id.
// TryLock returning (false, nil) means another consumer holds the lock.
type MessageLock interface {
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// BusinessHandler processes one business payload. A returned error signals
// processing failure and drives the retry/terminal decision.
type BusinessHandler func(ctx context.Context, jsonPayload string) error

// Config holds receiver configuration.
type Config struct {
	// AppCode identifies the owning application on receive records.
	AppCode string

	// ConsumerRetryCount bounds broker-driven redeliveries. A failure with
	// RetryCount beyond the bound is acknowledged to stop redelivery and
	// recorded as permanently failed.
	ConsumerRetryCount int
}

// NewConfigDefaults provides a config with sensible defaults, overridable via
// the MQ_CONSUMER_RETRY_COUNT environment variable.
func NewConfigDefaults(appCode string) *Config {
	cfg := &Config{
		AppCode:            appCode,
		ConsumerRetryCount: 5,
	}
	if rc := os.Getenv("MQ_CONSUMER_RETRY_COUNT"); rc != "" {
		if val, err := strconv.Atoi(rc); err == nil {
			cfg.ConsumerRetryCount = val
		}
	}
	return cfg
}

// Handler consumes deliveries idempotently. Broker and store errors are
// absorbed at this boundary; the receive record is the source of truth.
type Handler struct {
	cfg    Config
	store  RecordStore
	locks  MessageLock
	logger zerolog.Logger
}

// NewHandler creates a receiver Handler.
func NewHandler(cfg *Config, store RecordStore, locks MessageLock, logger zerolog.Logger) (*Handler, error) {
	if cfg.AppCode == "" {
		return nil, fmt.Errorf("receiver app code cannot be empty")
	}
	if store == nil || locks == nil {
		return nil, fmt.Errorf("receiver requires a record store and a message lock")
	}
	return &Handler{
		cfg:    *cfg,
		store:  store,
		locks:  locks,
		logger: logger.With().Str("component", "ReceiverHandler").Str("app_code", cfg.AppCode).Logger(),
	}, nil
}

// DoConsume processes one delivery with the given business handler. An empty
// or undecodable body is a silent no-op: only this library's sender produces
// envelopes, so a malformed one is not actionable and gets no record and no
// acknowledgement.
func (h *Handler) DoConsume(ctx context.Context, d messaging.Delivery, fn BusinessHandler) {
	env, err := messaging.DecodeEnvelope(d.Body)
	if err != nil {
		if !errors.Is(err, messaging.ErrEmptyBody) {
			h.logger.Warn().Err(err).Str("queue", d.Queue).Str("msg_id", d.MessageID).Msg("Dropping undecodable delivery.")
		}
		return
	}

	traceID := d.CorrelationID
	if traceID == "" {
		traceID = env.TraceID
	}
	ctx = messaging.WithTraceID(ctx, traceID)

	h.consume(ctx, env, d, fn)
}

func (h *Handler) consume(ctx context.Context, env *messaging.Envelope, d messaging.Delivery, fn BusinessHandler) {
	logger := h.logger.With().
		Str("msg_id", env.MsgID).
		Str("trace_id", messaging.TraceID(ctx)).
		Str("business_type", env.Info.BusinessType()).
		Str("queue", d.Queue).
		Logger()

	acquired, err := h.locks.TryLock(ctx, env.MsgID)
	if err != nil {
		logger.Error().Err(err).Msg("Lock service failed; leaving delivery for redelivery.")
		return
	}
	if !acquired {
		// Another consumer is processing this message. Abstain: no record
		// mutation, no ack/nack; the broker redelivers on its own schedule.
		logger.Info().Msg("Message lock contended; abstaining.")
		return
	}
	defer func() {
		if unlockErr := h.locks.Unlock(ctx, env.MsgID); unlockErr != nil {
			logger.Warn().Err(unlockErr).Msg("Failed to release message lock.")
		}
	}()

	if env.Data == "" {
		logger.Warn().Msg("Envelope carries no payload; nothing to process.")
		return
	}

	key := auditstore.RecordKey(env.MsgID, h.cfg.AppCode)
	record, err := h.store.Fetch(ctx, key)
	switch {
	case errors.Is(err, auditstore.ErrRecordNotFound):
		// Built in memory only; written once the outcome is known, so broker
		// redeliveries before any outcome cost no store writes.
		record = h.newReceiveRecord(env, d.Queue)
	case err != nil:
		logger.Error().Err(err).Msg("Failed to load receive record; leaving delivery for redelivery.")
		return
	}

	start := time.Now()
	processErr := fn(ctx, env.Data)
	record.UpdatedAt = time.Now().UTC()

	if processErr == nil {
		if ackErr := d.Ack(); ackErr != nil {
			// The work is done; a failed ack only risks a harmless redelivery
			// that the lock and record will absorb.
			logger.Warn().Err(ackErr).Msg("Failed to ack processed message.")
		}
		record.Status = auditstore.StatusSuccess
		record.Remark = fmt.Sprintf("%s consumed successfully", env.Info.Description)
		logger.Info().Dur("elapsed", time.Since(start)).Int("retry_count", record.RetryCount).Msg("Message consumed.")
	} else {
		// Each failed attempt counts against the redelivery budget.
		record.RetryCount++
		record.Status = auditstore.StatusFailed
		if record.RetryCount > h.cfg.ConsumerRetryCount {
			if ackErr := d.Ack(); ackErr != nil {
				logger.Warn().Err(ackErr).Msg("Failed to ack message after retry exhaustion.")
			}
			record.Remark = fmt.Sprintf("retry limit exceeded after %d attempts: %v", record.RetryCount, processErr)
			logger.Error().Err(processErr).Int("retry_count", record.RetryCount).Msg("Retry limit exceeded; message dropped.")
		} else {
			if nackErr := d.Nack(true); nackErr != nil {
				logger.Warn().Err(nackErr).Msg("Failed to nack message for redelivery.")
			}
			record.Remark = fmt.Sprintf("processing failed: %v", processErr)
			logger.Warn().Err(processErr).Int("retry_count", record.RetryCount).Msg("Processing failed; requeued for redelivery.")
		}
	}

	if err := h.store.Save(ctx, key, record); err != nil {
		logger.Error().Err(err).Msg("Failed to persist receive record.")
	}
}

func (h *Handler) newReceiveRecord(env *messaging.Envelope, queue string) *auditstore.ReceiveRecord {
	now := time.Now().UTC()
	return &auditstore.ReceiveRecord{
		ID:           auditstore.RecordKey(env.MsgID, h.cfg.AppCode),
		Queue:        queue,
		MsgID:        env.MsgID,
		AppCode:      h.cfg.AppCode,
		BusinessType: env.Info.BusinessType(),
		RetryCount:   0,
		Payload:      env.Data,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}
