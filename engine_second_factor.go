package hostauth

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrEthical07/hostauth/internal/flows"
	"go.uber.org/zap"
)

// SetupSecondFactor starts TOTP enrollment. It stores a new sealed secret
// as pending, replacing any earlier pending secret, and returns the secret
// in base32 with its otpauth:// enrollment URI. The second factor is not
// enforced until [Engine.EnableSecondFactor] confirms a code.
func (e *Engine) SetupSecondFactor(ctx context.Context, externalID string) (*SecondFactorSetup, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.activeIdentity(ctx, externalID, EventSecondFactorVerifyFailed, "setup_second_factor")
	if err != nil {
		return nil, err
	}
	if identity.SecondFactorEnabled {
		return nil, ErrSecondFactorAlreadyEnabled
	}

	raw, encoded, uri, err := e.totp.generate(identity.Email)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	defer clear(raw)

	sealed, err := e.totp.seal(raw, identity.ExternalID)
	if err != nil {
		return nil, ErrCryptoUnavailable
	}
	if err := e.store.SetPendingSecondFactor(ctx, identity.ID, sealed); err != nil {
		return nil, storeError(err)
	}

	if err := e.recordEvent(ctx, EventSecondFactorSetupStarted, true, identity, "", nil, nil); err != nil {
		return nil, err
	}
	e.metricInc(MetricSecondFactorSetup)

	return &SecondFactorSetup{
		Secret:        encoded,
		EnrollmentURI: uri,
	}, nil
}

// EnableSecondFactor confirms a pending setup with a current TOTP code and
// returns the first recovery code batch. Enabling, recording the accepted
// step and storing the codes happen in one transaction.
func (e *Engine) EnableSecondFactor(ctx context.Context, externalID, code string) (*RecoveryCodes, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.activeIdentity(ctx, externalID, EventSecondFactorVerifyFailed, "enable_second_factor")
	if err != nil {
		return nil, err
	}
	if identity.SecondFactorEnabled {
		return nil, ErrSecondFactorAlreadyEnabled
	}
	if identity.SecondFactorSecret == "" {
		return nil, ErrSecondFactorNotPending
	}

	ok, step, err := e.verifyTOTP(ctx, identity.SecondFactorSecret, identity.ExternalID, strings.TrimSpace(code), e.now())
	if err != nil {
		return nil, err
	}
	if ok && e.config.SecondFactor.EnforceReplayProtection && step <= identity.SecondFactorLastStep {
		e.metricInc(MetricTOTPReplayRejected)
		ok = false
	}
	if !ok {
		return nil, e.secondFactorVerifyFailed(ctx, identity, "enable_second_factor", "invalid_code", ErrSecondFactorInvalid)
	}

	records, plain, err := e.newRecoveryCodeBatch(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if err := e.store.EnableSecondFactor(ctx, identity.ID, identity.SecondFactorSecret, step, records); err != nil {
		return nil, storeError(err)
	}
	identity.SecondFactorEnabled = true

	if err := e.recordEvent(ctx, EventSecondFactorEnabled, true, identity, "", nil, nil); err != nil {
		return nil, err
	}
	e.metricInc(MetricSecondFactorEnabled)
	e.notify(ctx, NotifySecondFactorEnabled, identity)

	return &RecoveryCodes{Codes: plain}, nil
}

// DisableSecondFactor turns the second factor off after verifying both the
// password and a second factor code. The secret and every recovery code
// are removed.
func (e *Engine) DisableSecondFactor(ctx context.Context, externalID, password, code string) error {
	if err := e.ready(); err != nil {
		return err
	}

	identity, err := e.activeIdentity(ctx, externalID, EventSecondFactorVerifyFailed, "disable_second_factor")
	if err != nil {
		return err
	}
	if !identity.SecondFactorEnabled {
		return ErrSecondFactorNotEnabled
	}

	if err := e.reauthenticate(ctx, identity, password, code, "disable_second_factor"); err != nil {
		return err
	}

	if err := e.store.DisableSecondFactor(ctx, identity.ID); err != nil {
		return storeError(err)
	}
	identity.SecondFactorEnabled = false
	identity.SecondFactorSecret = ""

	if err := e.recordEvent(ctx, EventSecondFactorDisabled, true, identity, "", nil, nil); err != nil {
		return err
	}
	e.metricInc(MetricSecondFactorDisabled)
	e.notify(ctx, NotifySecondFactorDisabled, identity)

	return nil
}

// SecondFactorStatus reports enrollment state and the number of unused
// recovery codes.
func (e *Engine) SecondFactorStatus(ctx context.Context, externalID string) (*SecondFactorStatus, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.identityByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	status := &SecondFactorStatus{
		Enabled: identity.SecondFactorEnabled,
		Pending: identity.SecondFactorPending(),
	}
	if identity.SecondFactorEnabled {
		codes, err := e.store.UnusedRecoveryCodes(ctx, identity.ID)
		if err != nil {
			return nil, storeError(err)
		}
		status.RecoveryCodesRemaining = len(codes)
	}
	return status, nil
}

// reauthenticate verifies password and then code (TOTP or recovery code)
// for a sensitive change. Each failure is recorded as
// second_factor_verify_failed before returning.
func (e *Engine) reauthenticate(ctx context.Context, identity *Identity, password, code, operation string) error {
	ok, err := e.verifyPassword(ctx, password, identity.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return e.secondFactorVerifyFailed(ctx, identity, operation, "password_mismatch", ErrInvalidCredentials)
	}

	accepted, recoveryUsed, err := e.checkSecondFactorCode(ctx, identity, strings.TrimSpace(code))
	if err != nil {
		return err
	}
	if !accepted {
		return e.secondFactorVerifyFailed(ctx, identity, operation, "invalid_code", ErrSecondFactorInvalid)
	}
	if recoveryUsed {
		if err := e.recordEvent(ctx, EventRecoveryCodeUsed, true, identity, "", nil, map[string]string{
			"context": operation,
		}); err != nil {
			return err
		}
	}
	return nil
}

// checkSecondFactorCode accepts a current TOTP code (subject to replay
// protection) or, failing that, an unused recovery code.
func (e *Engine) checkSecondFactorCode(ctx context.Context, identity *Identity, code string) (accepted, recoveryUsed bool, err error) {
	if code == "" {
		return false, false, nil
	}

	if e.totp.wellFormed(code) {
		ok, step, err := e.verifyTOTP(ctx, identity.SecondFactorSecret, identity.ExternalID, code, e.now())
		if err != nil {
			return false, false, err
		}
		if ok {
			advanced, err := e.store.AdvanceSecondFactorStep(ctx, identity.ID, step)
			if err != nil {
				return false, false, storeError(err)
			}
			if advanced || !e.config.SecondFactor.EnforceReplayProtection {
				return true, false, nil
			}
			e.metricInc(MetricTOTPReplayRejected)
		}
	}

	if _, ok := flows.CanonicalizeRecoveryCode(code); !ok {
		return false, false, nil
	}
	used, err := e.consumeRecoveryCode(ctx, identity.ID, code)
	if err != nil {
		return false, false, storeError(err)
	}
	return used, used, nil
}

func (e *Engine) secondFactorVerifyFailed(ctx context.Context, identity *Identity, operation, reason string, result error) error {
	e.metricInc(MetricSecondFactorVerifyFailure)
	if err := e.recordEvent(ctx, EventSecondFactorVerifyFailed, false, identity, "", result, map[string]string{
		"operation": operation,
		"reason":    reason,
	}); err != nil {
		e.logger.Warn("verify failure not recorded", zap.String("operation", operation))
		return err
	}
	return result
}
