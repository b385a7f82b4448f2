package hostauth

import (
	"context"

	"go.uber.org/zap"
)

// notify hands n to the Notifier on its own goroutine. Delivery failures are
// logged and counted; they never reach the caller.
func (e *Engine) notify(ctx context.Context, kind NotificationKind, identity *Identity) {
	if e.notifier == nil || !e.config.Notifications.Enabled {
		return
	}

	n := Notification{
		Kind:          kind,
		Email:         identity.Email,
		ExternalID:    identity.ExternalID,
		OriginAddress: ClientIPFromContext(ctx),
		OriginAgent:   UserAgentFromContext(ctx),
		OccurredAt:    e.now(),
	}

	// detached from the request so a finished response does not cancel it
	base := context.WithoutCancel(ctx)

	e.notifyWG.Add(1)
	go func() {
		defer e.notifyWG.Done()

		nctx, cancel := context.WithTimeout(base, e.config.Notifications.Timeout)
		defer cancel()

		if err := e.notifier.Notify(nctx, n); err != nil {
			e.metricInc(MetricNotificationFailed)
			e.logger.Warn("notification failed",
				zap.String("kind", string(n.Kind)),
				zap.String("external_id", n.ExternalID),
				zap.Error(err),
			)
		}
	}()
}
