package hostauth

import (
	"context"
	"fmt"
	"time"

	"github.com/MrEthical07/hostauth/internal/flows"
	"github.com/MrEthical07/hostauth/internal/workpool"
	"go.uber.org/zap"
)

// Login authenticates email and password and, for identities with an
// enabled second factor, a TOTP or recovery code.
//
// When the identity needs a code and none was given, the result has
// SecondFactorRequired set and no token; the caller should resubmit the
// same request with SecondFactorCode filled in.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	var loaded *Identity
	deps := e.loginDeps(&loaded)

	outcome, err := flows.RunLogin(ctx, req.Email, req.Password, req.SecondFactorCode, deps)
	if err != nil {
		return nil, err
	}
	if outcome.SecondFactorRequired {
		return &LoginResult{SecondFactorRequired: true}, nil
	}

	identity := loaded
	identity.PasswordHash = outcome.Identity.PasswordHash
	previousIP := identity.LastLoginIP

	now := e.now()
	ip := ClientIPFromContext(ctx)
	if err := e.store.RecordLogin(ctx, identity.ID, now, ip); err != nil {
		e.logger.Warn("last login update failed", zap.Int64("identity_id", identity.ID), zap.Error(err))
	} else {
		identity.LastLoginAt = &now
		identity.LastLoginIP = ip
	}

	auth, err := e.issueSession(ctx, identity)
	if err != nil {
		return nil, err
	}

	method := "password"
	switch {
	case outcome.RecoveryCodeUsed:
		method = "recovery_code"
	case outcome.AcceptedStep >= 0:
		method = "totp"
	}
	if err := e.recordEvent(ctx, EventLoginSuccess, true, identity, auth.SessionID, nil, map[string]string{
		"method": method,
	}); err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)

	if ip != "" && previousIP != "" && ip != previousIP {
		e.notify(ctx, NotifyNewLogin, identity)
	}

	return &LoginResult{
		Auth:             auth,
		RecoveryCodeUsed: outcome.RecoveryCodeUsed,
	}, nil
}

// loginDeps wires the login flow to the Engine. The identity the flow looks
// up is stored in *loaded so the caller can finish the login with the full
// record.
func (e *Engine) loginDeps(loaded **Identity) flows.LoginDeps {
	return flows.LoginDeps{
		EnforceReplayProtection: e.config.SecondFactor.EnforceReplayProtection,
		UpgradeOnLogin:          e.config.Password.UpgradeOnLogin,
		TOTPDigits:              e.config.SecondFactor.Digits,
		DummyHash:               e.dummyHash,
		Now:                     e.now,

		IdentityByEmail: func(ctx context.Context, email string) (*flows.LoginIdentity, error) {
			identity, err := e.store.IdentityByEmail(ctx, email)
			if err != nil {
				return nil, err
			}
			*loaded = identity
			return loginIdentityOf(identity), nil
		},

		VerifyPassword: e.verifyPassword,
		PasswordNeedsUpgrade: func(hash string) bool {
			upgrade, err := e.passwords.NeedsUpgrade(hash)
			return err == nil && upgrade
		},
		HashPassword:       e.hashPassword,
		UpdatePasswordHash: e.store.UpdatePasswordHash,

		VerifyTOTP: func(ctx context.Context, identity *flows.LoginIdentity, code string, now time.Time) (bool, int64, error) {
			return e.verifyTOTP(ctx, identity.SecondFactorSecret, identity.ExternalID, code, now)
		},
		AdvanceTOTPStep:     e.store.AdvanceSecondFactorStep,
		ConsumeRecoveryCode: e.consumeRecoveryCode,

		RecordEvent: func(ctx context.Context, eventType string, success bool, identityID *int64, detail map[string]string) error {
			var subject *Identity
			if identityID != nil {
				subject = *loaded
			}
			return e.recordEvent(ctx, EventType(eventType), success, subject, "", nil, detail)
		},

		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Warn: func(msg string, err error) {
			e.logger.Warn(msg, zap.Error(err))
		},

		Metrics: flows.LoginMetrics{
			LoginFailure:              int(MetricLoginFailure),
			LoginSecondFactorRequired: int(MetricLoginSecondFactorRequired),
			LoginAccountState:         int(MetricLoginAccountState),
			TOTPReplayRejected:        int(MetricTOTPReplayRejected),
		},
		Events: flows.LoginEvents{
			LoginFailed:      string(EventLoginFailed),
			RecoveryCodeUsed: string(EventRecoveryCodeUsed),
		},
		Errors: flows.LoginErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidCredentials:  ErrInvalidCredentials,
			SecondFactorInvalid: ErrSecondFactorInvalid,
			AccountSuspended:    ErrAccountSuspended,
			AccountBanned:       ErrAccountBanned,
			IdentityNotFound:    ErrIdentityNotFound,
			StoreUnavailable:    ErrStoreUnavailable,
			WorkerUnavailable:   ErrWorkerPoolUnavailable,
			CryptoUnavailable:   ErrCryptoUnavailable,
		},
	}
}

func loginIdentityOf(identity *Identity) *flows.LoginIdentity {
	return &flows.LoginIdentity{
		ID:                   identity.ID,
		ExternalID:           identity.ExternalID,
		PasswordHash:         identity.PasswordHash,
		Status:               string(identity.Status),
		SecondFactorEnabled:  identity.SecondFactorEnabled,
		SecondFactorSecret:   identity.SecondFactorSecret,
		SecondFactorLastStep: identity.SecondFactorLastStep,
	}
}

// verifyTOTP opens the sealed secret and checks code on the worker pool.
func (e *Engine) verifyTOTP(ctx context.Context, sealed, externalID, code string, now time.Time) (bool, int64, error) {
	type result struct {
		ok   bool
		step int64
		err  error
	}
	r, err := workpool.Call(ctx, e.pool, func() result {
		ok, step, err := e.totp.matchSealed(sealed, externalID, code, now)
		return result{ok, step, err}
	})
	if err != nil {
		return false, 0, ErrWorkerPoolUnavailable
	}
	if r.err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrCryptoUnavailable, r.err)
	}
	return r.ok, r.step, nil
}
