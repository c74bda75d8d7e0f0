// Package notify is the boundary to the notification collaborator. Delivery
// is fire-and-forget: a failed notification must never roll back or fail a
// financial transition, so callers dispatch after commit via Dispatch.
package notify

import (
	"context"

	"github.com/rs/zerolog"

	"changas/logger"
)

// Notifier delivers a templated notification to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, templateKey string, data map[string]any) error
}

// Dispatch sends through n and swallows any failure, logging it at warn.
// Safe to call with a nil notifier.
func Dispatch(ctx context.Context, n Notifier, userID, templateKey string, data map[string]any) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, userID, templateKey, data); err != nil {
		log := logger.Get()
		log.Warn().
			Err(err).
			Str("user_id", userID).
			Str("template", templateKey).
			Msg("notification delivery failed")
	}
}

// LogNotifier records notifications in the log stream. It stands in for the
// real delivery collaborator in development and tests.
type LogNotifier struct {
	log zerolog.Logger
}

func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, userID, templateKey string, data map[string]any) error {
	n.log.Info().
		Str("user_id", userID).
		Str("template", templateKey).
		Interface("data", data).
		Msg("notification dispatched")
	return nil
}
