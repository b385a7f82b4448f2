package hostauth

import (
	"context"
	"errors"
	"fmt"
	"maps"

	internalaudit "github.com/MrEthical07/hostauth/internal/audit"
	"go.uber.org/zap"
)

// auditErrorCode is the stable, non-sensitive error label copied to audit
// sinks.
type auditErrorCode string

const (
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrSecondFactor       auditErrorCode = "second_factor_invalid"
	auditErrAccountSuspended   auditErrorCode = "account_suspended"
	auditErrAccountBanned      auditErrorCode = "account_banned"
	auditErrPasswordPolicy     auditErrorCode = "password_policy"
	auditErrPasswordReuse      auditErrorCode = "password_reuse"
	auditErrDuplicate          auditErrorCode = "duplicate"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func auditErrorCodeOf(err error) auditErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrSecondFactorInvalid):
		return auditErrSecondFactor
	case errors.Is(err, ErrAccountSuspended):
		return auditErrAccountSuspended
	case errors.Is(err, ErrAccountBanned):
		return auditErrAccountBanned
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrEmailTaken):
		return auditErrDuplicate
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrWorkerPoolUnavailable):
		return auditErrUnavailable
	}
	return auditErrInternal
}

// recordEvent durably appends a security event, then hands a copy to the
// async audit dispatcher. A failed append is returned as
// ErrStoreUnavailable and nothing is fanned out.
func (e *Engine) recordEvent(
	ctx context.Context,
	eventType EventType,
	success bool,
	identity *Identity,
	sessionID string,
	cause error,
	detail map[string]string,
) error {
	event := SecurityEvent{
		ID:            e.ids.NextID(),
		EventType:     eventType,
		Success:       success,
		OriginAddress: ClientIPFromContext(ctx),
		OriginAgent:   UserAgentFromContext(ctx),
		Detail:        detail,
		CreatedAt:     e.now(),
	}
	if identity != nil {
		id := identity.ID
		event.IdentityID = &id
	}

	if err := e.store.AppendSecurityEvent(ctx, event); err != nil {
		e.logger.Error("security event write failed", zapEvent(event, err)...)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.fanOut(ctx, event, identity, sessionID, cause)
	return nil
}

// fanOut sends the audit copy of an already persisted event.
func (e *Engine) fanOut(ctx context.Context, event SecurityEvent, identity *Identity, sessionID string, cause error) {
	if e.audit == nil {
		return
	}

	ev := internalaudit.Event{
		Timestamp: event.CreatedAt,
		EventType: string(event.EventType),
		SessionID: sessionID,
		IP:        event.OriginAddress,
		UserAgent: event.OriginAgent,
		Success:   event.Success,
		Error:     string(auditErrorCodeOf(cause)),
	}
	if identity != nil {
		ev.ExternalID = identity.ExternalID
	}
	if len(event.Detail) > 0 {
		ev.Metadata = maps.Clone(event.Detail)
	}

	e.audit.Emit(ctx, ev)
}

// ListSecurityEvents returns the identity's most recent events, newest
// first. limit <= 0 means 50.
func (e *Engine) ListSecurityEvents(ctx context.Context, externalID string, limit int) ([]SecurityEvent, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	identity, err := e.identityByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	events, err := e.store.ListSecurityEvents(ctx, identity.ID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return events, nil
}

func zapEvent(event SecurityEvent, err error) []zap.Field {
	fields := []zap.Field{
		zap.String("event_type", string(event.EventType)),
		zap.Bool("success", event.Success),
		zap.Error(err),
	}
	if event.IdentityID != nil {
		fields = append(fields, zap.Int64("identity_id", *event.IdentityID))
	}
	return fields
}
