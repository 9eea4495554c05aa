// Package notify fans operator alerts out to the configured channels.
// Delivery is best-effort: engine correctness never depends on an alert
// landing, so failures are logged and reported but nothing retries.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types emitted by the engine. Operators subscribe to a subset via
// the notifications.events config list.
const (
	EventTradeFailed   = "trade_failed"
	EventDrawdownHalt  = "drawdown_halt"
	EventSLTPTriggered = "sltp_triggered"
	EventCopyStopped   = "copy_stopped"
)

// Sender delivers a single formatted alert over one channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier filters events against the configured allow list and fans the
// surviving alerts out to every sender. An empty allow list passes all
// events.
type Notifier struct {
	senders []Sender
	allowed map[string]struct{}
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		e = strings.TrimSpace(e)
		if e != "" {
			allowed[e] = struct{}{}
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		logger:  logger.With(slog.String("component", "notify")),
	}
}

// Notify delivers the alert if its event type passes the allow list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 {
		if _, ok := n.allowed[event]; !ok {
			return nil
		}
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers the alert regardless of the allow list.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every sender even when earlier ones fail and joins the
// failures into one error.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Warn("alert delivery failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
	}
	return errors.Join(errs...)
}
