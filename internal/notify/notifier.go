// Package notify delivers terminal execution outcomes to operators. Events
// consumed from the execution bus fan out to every configured channel
// (Telegram, Discord), each of which renders the event in its own format.
// Channels can be filtered by event type so operators only receive the
// alerts they care about.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/dcapilot/internal/domain"
)

// Event types, filterable via configuration. Derived from the terminal
// status of the execution the event reports.
const (
	EventExecuted = "execution_executed"
	EventFailed   = "execution_failed"
	EventSkipped  = "execution_skipped"
)

// EventType maps a terminal execution status to its filterable event type.
func EventType(status domain.ExecutionStatus) string {
	switch status {
	case domain.StatusExecuted:
		return EventExecuted
	case domain.StatusFailed:
		return EventFailed
	default:
		return EventSkipped
	}
}

// Sender renders and delivers one execution event over a single channel.
type Sender interface {
	Send(ctx context.Context, event domain.ExecutionEvent) error
	// Name identifies the channel in logs and combined errors.
	Name() string
}

// Notifier fans execution events out to the configured senders, applying the
// event-type filter first. An empty filter admits every event.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	logger  *slog.Logger
}

// NewNotifier builds a Notifier over the given senders. events lists the
// event types to forward; leave it empty to forward everything.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Dispatch delivers the event to every sender whose filter admits it. A
// failing sender does not block the others; their errors come back combined.
func (n *Notifier) Dispatch(ctx context.Context, event domain.ExecutionEvent) error {
	eventType := EventType(event.Status)
	if len(n.allowed) > 0 && !n.allowed[eventType] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", eventType),
			slog.String("execution_id", event.ExecutionID),
		)
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, event); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("execution_id", event.ExecutionID),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("event", eventType),
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}

// postJSON marshals payload and POSTs it to url, treating any non-2xx status
// as an error. label prefixes errors with the sender name.
func postJSON(ctx context.Context, client *http.Client, url, label string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal payload: %w", label, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", label, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: send request: %w", label, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s: unexpected status %d: %s", label, resp.StatusCode, string(detail))
	}
	return nil
}
