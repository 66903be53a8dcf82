package rabbit

import (
	"context"
	"fmt"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
)

// ConfirmHandler receives the broker's exchange-level outcome for a publish.
type ConfirmHandler func(ctx context.Context, c messaging.Confirmation)

// ReturnHandler receives the broker's notice of an unroutable message.
type ReturnHandler func(ctx context.Context, r messaging.Return)

// PublisherConfig holds configuration for the confirming publisher.
type PublisherConfig struct {
	// AppID is stamped on every published message.
	AppID string

	// NotifyBuffer sizes the confirm and return notification channels.
	NotifyBuffer int
}

// NewPublisherDefaults provides a config with sensible defaults.
func NewPublisherDefaults(appID string) *PublisherConfig {
	return &PublisherConfig{
		AppID:        appID,
		NotifyBuffer: 64,
	}
}

// Publisher publishes envelopes on a confirm-mode channel and forwards the
// broker's confirm and return notifications to registered handlers. Messages
// are published mandatory, so a message that reaches the exchange but matches
// no queue comes back as a Return.
type Publisher struct {
	channel   *amqp091.Channel
	cfg       PublisherConfig
	logger    zerolog.Logger
	tracker   *confirmTracker
	onConfirm ConfirmHandler
	onReturn  ReturnHandler

	confirms <-chan amqp091.Confirmation
	returns  <-chan amqp091.Return

	// mu serializes sequence-number capture with the publish call so the
	// tracker entry always matches the tag the broker will confirm.
	mu sync.Mutex
	wg sync.WaitGroup
}

// NewPublisher opens a dedicated channel in confirm mode. Handlers must be
// registered with Handle before Start.
func NewPublisher(conn *Connection, cfg *PublisherConfig, logger zerolog.Logger) (*Publisher, error) {
	ch, err := conn.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("create publish channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("put channel in confirm mode: %w", err)
	}

	buffer := cfg.NotifyBuffer
	if buffer <= 0 {
		buffer = 64
	}

	return &Publisher{
		channel:  ch,
		cfg:      *cfg,
		logger:   logger.With().Str("component", "RabbitPublisher").Logger(),
		tracker:  newConfirmTracker(),
		confirms: ch.NotifyPublish(make(chan amqp091.Confirmation, buffer)),
		returns:  ch.NotifyReturn(make(chan amqp091.Return, buffer)),
	}, nil
}

// Handle registers the confirm and return handlers. Either may be nil, in
// which case the corresponding notifications are only logged.
func (p *Publisher) Handle(onConfirm ConfirmHandler, onReturn ReturnHandler) {
	p.onConfirm = onConfirm
	p.onReturn = onReturn
}

// Start launches the notification loops. The loops exit when the channel
// closes; ctx bounds the handler invocations.
func (p *Publisher) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.confirmLoop(ctx)
	go p.returnLoop(ctx)
	p.logger.Info().Msg("Publisher notification loops started.")
}

// Publish sends an already-encoded envelope to its descriptor's exchange and
// routing key, recording it for confirm correlation.
func (p *Publisher) Publish(ctx context.Context, env *messaging.Envelope, body []byte) error {
	publishing := amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.MsgID,
		CorrelationId: env.TraceID,
		Timestamp:     env.SendTime,
		AppId:         p.cfg.AppID,
		Body:          body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// The broker can confirm as soon as the frame is on the wire, so the tag
	// must be tracked before publishing or confirmLoop can race past it.
	seq := p.channel.GetNextPublishSeqNo()
	p.tracker.track(seq, env)
	if err := p.channel.PublishWithContext(ctx, env.Info.ExchangeName, env.Info.RoutingKey, true, false, publishing); err != nil {
		p.tracker.untrack(seq)
		return fmt.Errorf("publish %s to %s/%s: %w", env.MsgID, env.Info.ExchangeName, env.Info.RoutingKey, err)
	}
	return nil
}

func (p *Publisher) confirmLoop(ctx context.Context) {
	defer p.wg.Done()
	for conf := range p.confirms {
		env := p.tracker.resolve(conf.DeliveryTag)
		if env == nil {
			p.logger.Warn().Uint64("delivery_tag", conf.DeliveryTag).Msg("Confirmation for unknown publish.")
			continue
		}
		if p.onConfirm == nil {
			p.logger.Debug().Str("msg_id", env.MsgID).Bool("ack", conf.Ack).Msg("Confirmation received; no handler registered.")
			continue
		}

		cause := ""
		if !conf.Ack {
			cause = "broker negative confirmation"
		}
		p.onConfirm(ctx, messaging.Confirmation{Envelope: env, Ack: conf.Ack, Cause: cause})
	}
	p.logger.Info().Msg("Confirm loop stopped.")
}

func (p *Publisher) returnLoop(ctx context.Context) {
	defer p.wg.Done()
	for ret := range p.returns {
		if p.onReturn == nil {
			p.logger.Warn().Str("msg_id", ret.MessageId).Str("reply_text", ret.ReplyText).Msg("Message returned; no handler registered.")
			continue
		}
		p.onReturn(ctx, messaging.Return{
			MessageID:  ret.MessageId,
			ReplyCode:  ret.ReplyCode,
			ReplyText:  ret.ReplyText,
			Exchange:   ret.Exchange,
			RoutingKey: ret.RoutingKey,
		})
	}
	p.logger.Info().Msg("Return loop stopped.")
}

// Close closes the publish channel and waits for the notification loops to
// drain.
func (p *Publisher) Close() error {
	err := p.channel.Close()
	p.wg.Wait()
	if err != nil {
		return fmt.Errorf("close publish channel: %w", err)
	}
	return nil
}
