// Package sender implements reliable message publishing: every publish
// attempt is tracked in a durable send record, created optimistically as
// successful and corrected by the broker's confirm and return callbacks, with
// bounded retry on negative confirmations.
package sender

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

const (
	remarkSendStarted = "message send started"
	remarkRetry       = "message retry"
)

// RecordStore is the persistence contract for send records.
type RecordStore interface {
	Fetch(ctx context.Context, key string) (*auditstore.SendRecord, error)
	Save(ctx context.Context, key string, record *auditstore.SendRecord) error
}

// Publisher is the transport contract for outbound envelopes.
type Publisher interface {
	Publish(ctx context.Context, env *messaging.Envelope, body []byte) error
}

// Config holds sender configuration.
type Config struct {
	// AppCode identifies the owning application on send records.
	AppCode string

	// ProviderRetryCount bounds republish attempts after negative broker
	// confirmations. Connection failures and returns are never retried.
	ProviderRetryCount int
}

// NewConfigDefaults provides a config with sensible defaults, overridable via
// the MQ_PROVIDER_RETRY_COUNT environment variable.
func NewConfigDefaults(appCode string) *Config {
	cfg := &Config{
		AppCode:            appCode,
		ProviderRetryCount: 3,
	}
	if rc := os.Getenv("MQ_PROVIDER_RETRY_COUNT"); rc != "" {
		if val, err := strconv.Atoi(rc); err == nil {
			cfg.ProviderRetryCount = val
		}
	}
	return cfg
}

// Handler publishes business payloads reliably. Failures are recorded on the
// send record and logged; they never propagate to the business caller, so
// broker unavailability cannot break the triggering transaction.
type Handler struct {
	cfg       Config
	store     RecordStore
	publisher Publisher
	logger    zerolog.Logger
}

// NewHandler creates a sender Handler.
func NewHandler(cfg *Config, store RecordStore, publisher Publisher, logger zerolog.Logger) (*Handler, error) {
	if cfg.AppCode == "" {
		return nil, fmt.Errorf("sender app code cannot be empty")
	}
	if store == nil || publisher == nil {
		return nil, fmt.Errorf("sender requires a record store and a publisher")
	}
	return &Handler{
		cfg:       *cfg,
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "SenderHandler").Str("app_code", cfg.AppCode).Logger(),
	}, nil
}

// DoProvide publishes jsonPayload under the given descriptor. It generates a
// fresh message id, captures the caller's trace id from ctx, and returns
// nothing: the outcome lives on the send record.
func (h *Handler) DoProvide(ctx context.Context, d messaging.Descriptor, jsonPayload string) {
	env := messaging.NewEnvelope(ctx, d, jsonPayload)
	h.publish(ctx, env)
}

// publish upserts the send record for the envelope and attempts one broker
// publish. It is re-entered by HandleConfirm for confirm-driven retries.
func (h *Handler) publish(ctx context.Context, env *messaging.Envelope) {
	logger := h.logger.With().
		Str("msg_id", env.MsgID).
		Str("trace_id", env.TraceID).
		Str("business_type", env.Info.BusinessType()).
		Logger()

	key := auditstore.RecordKey(env.MsgID, h.cfg.AppCode)
	record, err := h.store.Fetch(ctx, key)
	switch {
	case errors.Is(err, auditstore.ErrRecordNotFound):
		record = h.newSendRecord(env)
	case err != nil:
		logger.Error().Err(err).Msg("Failed to load send record; aborting publish.")
		return
	default:
		// Confirm-driven retry of a known message.
		record.RetryCount++
		record.Status = auditstore.StatusSuccess
		record.FailType = auditstore.FailTypeNone
		record.Remark = remarkRetry
		record.UpdatedAt = time.Now().UTC()
	}

	if err := h.store.Save(ctx, key, record); err != nil {
		logger.Error().Err(err).Msg("Failed to persist send record; aborting publish.")
		return
	}

	body, err := env.Encode()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to encode envelope; aborting publish.")
		return
	}

	if err := h.publisher.Publish(ctx, env, body); err != nil {
		record.Status = auditstore.StatusFailed
		record.FailType = auditstore.FailTypeConnectionFailure
		record.Remark = fmt.Sprintf("publish failed for %s: %v", env.Info.Description, err)
		record.UpdatedAt = time.Now().UTC()
		if saveErr := h.store.Save(ctx, key, record); saveErr != nil {
			logger.Error().Err(saveErr).Msg("Failed to record publish failure.")
		}
		logger.Error().Err(err).Int("retry_count", record.RetryCount).Msg("Synchronous publish failed.")
		return
	}

	logger.Debug().Int("retry_count", record.RetryCount).Msg("Publish attempted; awaiting broker confirmation.")
}

// HandleConfirm reacts to the broker's exchange-level outcome. A positive
// confirmation needs no record mutation: the record was already marked
// successful at publish. A negative confirmation triggers a republish until
// the retry bound, then finalizes the record as failed.
func (h *Handler) HandleConfirm(ctx context.Context, c messaging.Confirmation) {
	env := c.Envelope
	logger := h.logger.With().
		Str("msg_id", env.MsgID).
		Str("business_type", env.Info.BusinessType()).
		Logger()

	if c.Ack {
		logger.Debug().Msg("Broker confirmed publish.")
		return
	}

	key := auditstore.RecordKey(env.MsgID, h.cfg.AppCode)
	record, err := h.store.Fetch(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load send record for negative confirmation.")
		return
	}

	if record.RetryCount < h.cfg.ProviderRetryCount {
		logger.Warn().Int("retry_count", record.RetryCount).Str("cause", c.Cause).Msg("Negative confirmation; republishing.")
		h.publish(ctx, env)
		return
	}

	record.Status = auditstore.StatusFailed
	record.FailType = auditstore.FailTypeConfirmRetryExhausted
	record.Remark = fmt.Sprintf("confirm retry exhausted after %d attempts: %s", record.RetryCount, c.Cause)
	record.UpdatedAt = time.Now().UTC()
	if err := h.store.Save(ctx, key, record); err != nil {
		logger.Error().Err(err).Msg("Failed to record confirm-retry exhaustion.")
		return
	}
	logger.Error().Int("retry_count", record.RetryCount).Str("cause", c.Cause).Msg("Confirm retries exhausted; message marked failed.")
}

// HandleReturn reacts to an unroutable message. Routing is a configuration
// problem, not a transient one, so a return is always terminal.
func (h *Handler) HandleReturn(ctx context.Context, r messaging.Return) {
	logger := h.logger.With().
		Str("msg_id", r.MessageID).
		Str("exchange", r.Exchange).
		Str("routing_key", r.RoutingKey).
		Logger()

	key := auditstore.RecordKey(r.MessageID, h.cfg.AppCode)
	record, err := h.store.Fetch(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load send record for returned message.")
		return
	}

	record.Status = auditstore.StatusFailed
	record.FailType = auditstore.FailTypeUnroutable
	record.Remark = r.ReplyText
	record.UpdatedAt = time.Now().UTC()
	if err := h.store.Save(ctx, key, record); err != nil {
		logger.Error().Err(err).Msg("Failed to record unroutable message.")
		return
	}
	logger.Error().Uint16("reply_code", r.ReplyCode).Str("reply_text", r.ReplyText).Msg("Message unroutable; marked failed.")
}

func (h *Handler) newSendRecord(env *messaging.Envelope) *auditstore.SendRecord {
	return &auditstore.SendRecord{
		ID:           auditstore.RecordKey(env.MsgID, h.cfg.AppCode),
		Exchange:     env.Info.ExchangeName,
		RoutingKey:   env.Info.RoutingKey,
		MsgID:        env.MsgID,
		AppCode:      h.cfg.AppCode,
		BusinessType: env.Info.BusinessType(),
		Status:       auditstore.StatusSuccess,
		FailType:     auditstore.FailTypeNone,
		RetryCount:   0,
		Payload:      env.Data,
		Remark:       remarkSendStarted,
		CreatedAt:    env.SendTime,
		UpdatedAt:    env.SendTime,
	}
}
