package receiver

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-reliablemq/pkg/messaging"
)

// MessageConsumer is the source of broker deliveries for a listener.
type MessageConsumer interface {
	// Messages returns the channel listener workers receive deliveries from.
	Messages() <-chan messaging.Delivery
	// Start begins consumption.
	Start(ctx context.Context) error
	// Stop gracefully ceases consumption.
	Stop(ctx context.Context) error
	// Done returns a channel closed when the consumer has fully shut down.
	Done() <-chan struct{}
}

// ListenerConfig holds configuration for a ListenerService.
type ListenerConfig struct {
	NumWorkers int
}

// ListenerService runs a pool of workers that feed queue deliveries through a
// receiver Handler with one registered business handler.
type ListenerService struct {
	numWorkers int
	consumer   MessageConsumer
	handler    *Handler
	business   BusinessHandler
	logger     zerolog.Logger

	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewListenerService creates a listener wiring consumer deliveries to the
// business handler via the receiver Handler.
func NewListenerService(
	cfg *ListenerConfig,
	consumer MessageConsumer,
	handler *Handler,
	business BusinessHandler,
	logger zerolog.Logger,
) (*ListenerService, error) {
	if consumer == nil || handler == nil || business == nil {
		return nil, fmt.Errorf("listener requires a consumer, a handler, and a business handler")
	}
	numWorkers := cfg.NumWorkers
	if numWorkers <= 0 {
		numWorkers = 5
	}
	return &ListenerService{
		numWorkers: numWorkers,
		consumer:   consumer,
		handler:    handler,
		business:   business,
		logger:     logger.With().Str("service", "ListenerService").Logger(),
	}, nil
}

// Start begins consumption and launches the worker pool.
func (s *ListenerService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting listener service...")
	s.shutdownCtx, s.shutdownFunc = context.WithCancel(ctx)

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		s.shutdownFunc()
		return fmt.Errorf("failed to start message consumer: %w", err)
	}

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting listener workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Info().Msg("Listener service started.")
	return nil
}

// worker is the main loop for each concurrent worker.
func (s *ListenerService) worker(workerID int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Info().Int("worker_id", workerID).Msg("Listener worker shutting down.")
			return
		case d, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Info().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.handler.DoConsume(s.shutdownCtx, d, s.business)
		}
	}
}

// Stop gracefully shuts down the service: the consumer first, then the
// workers, respecting ctx as the shutdown deadline.
func (s *ListenerService) Stop(ctx context.Context) {
	s.logger.Info().Msg("Stopping listener service...")

	if err := s.consumer.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Error during consumer stop, continuing shutdown.")
	}

	workerDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workerDone)
	}()
	select {
	case <-workerDone:
		s.logger.Info().Msg("All listener workers completed gracefully.")
	case <-ctx.Done():
		s.logger.Error().Err(ctx.Err()).Msg("Timeout waiting for listener workers to finish.")
	}

	if s.shutdownFunc != nil {
		s.shutdownFunc()
	}
	s.logger.Info().Msg("Listener service stopped.")
}
