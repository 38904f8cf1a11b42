package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// Subscriber bridges the execution-event bus to the notifier. It consumes
// terminal execution events and hands them to the sender fan-out; the
// executor never talks to senders directly.
type Subscriber struct {
	bus      domain.SignalBus
	notifier *Notifier
	logger   *slog.Logger
}

// NewSubscriber creates a Subscriber over the bus and notifier.
func NewSubscriber(bus domain.SignalBus, notifier *Notifier, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "notify_subscriber")),
	}
}

// Run consumes execution events until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	ch, err := s.bus.Subscribe(ctx, domain.TopicExecutions)
	if err != nil {
		return fmt.Errorf("notify: subscribe %s: %w", domain.TopicExecutions, err)
	}
	s.logger.InfoContext(ctx, "listening for execution events")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, payload)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, payload []byte) {
	var event domain.ExecutionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		s.logger.WarnContext(ctx, "dropping malformed execution event",
			slog.String("error", err.Error()),
		)
		return
	}

	if err := s.notifier.Dispatch(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "notification delivery failed",
			slog.String("execution_id", event.ExecutionID),
			slog.String("error", err.Error()),
		)
	}
}
