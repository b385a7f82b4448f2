package hostauth

import (
	"context"
	"crypto/subtle"
)

// ChangePassword replaces the identity's password after verifying the
// current one, then revokes every session issued before the change.
// Failed attempts are recorded as password_change events with success
// false.
func (e *Engine) ChangePassword(ctx context.Context, externalID, current, next string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.activeIdentity(ctx, externalID, EventPasswordChange, "change_password")
	if err != nil {
		return err
	}

	ok, err := e.verifyPassword(ctx, current, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return e.passwordChangeFailed(ctx, identity, "invalid_current_password", ErrInvalidCredentials)
	}
	if err := e.checkPasswordPolicy(next); err != nil {
		return e.passwordChangeFailed(ctx, identity, "policy", err)
	}
	if subtle.ConstantTimeCompare([]byte(current), []byte(next)) == 1 {
		return e.passwordChangeFailed(ctx, identity, "reuse", ErrPasswordReuse)
	}

	hash, err := e.hashPassword(ctx, next)
	if err != nil {
		return err
	}
	if err := e.store.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		return storeError(err)
	}
	identity.PasswordHash = hash

	if err := e.revokeAllSessions(ctx, identity); err != nil {
		return err
	}

	if err := e.recordEvent(ctx, EventPasswordChange, true, identity, "", nil, nil); err != nil {
		return err
	}
	e.metricInc(MetricPasswordChangeSuccess)
	e.notify(ctx, NotifyPasswordChanged, identity)

	return nil
}

func (e *Engine) passwordChangeFailed(ctx context.Context, identity *Identity, reason string, result error) error {
	e.metricInc(MetricPasswordChangeFailure)
	if err := e.recordEvent(ctx, EventPasswordChange, false, identity, "", result, map[string]string{
		"reason": reason,
	}); err != nil {
		return err
	}
	return result
}
