// Package notify provides hostauth.Notifier implementations: a zap log
// notifier for development and an SMTP notifier for production.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/MrEthical07/hostauth"
)

// Log writes each notification as a structured log line instead of
// delivering it.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Log notifier. A nil logger discards everything.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger.Named("notify")}
}

func (l *Log) Notify(_ context.Context, n hostauth.Notification) error {
	l.logger.Info("security notification",
		zap.String("kind", string(n.Kind)),
		zap.String("email", n.Email),
		zap.String("external_id", n.ExternalID),
		zap.String("ip", n.OriginAddress),
		zap.String("user_agent", n.OriginAgent),
		zap.Time("at", n.OccurredAt),
	)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []hostauth.Notifier

func (m Multi) Notify(ctx context.Context, n hostauth.Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ hostauth.Notifier = (*Log)(nil)
	_ hostauth.Notifier = Multi(nil)
)
