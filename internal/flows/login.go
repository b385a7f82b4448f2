package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

// LoginIdentity is the flow-local view of a stored identity.
type LoginIdentity struct {
	ID                   int64
	ExternalID           string
	PasswordHash         string
	Status               string
	SecondFactorEnabled  bool
	SecondFactorSecret   string
	SecondFactorLastStep int64
}

// LoginOutcome is the result of credential and second factor checks.
// Session issuance is left to the caller.
type LoginOutcome struct {
	Identity             *LoginIdentity
	SecondFactorRequired bool
	RecoveryCodeUsed     bool
	// AcceptedStep is the TOTP step that satisfied the second factor, or -1.
	AcceptedStep int64
}

type LoginMetrics struct {
	LoginFailure              int
	LoginSecondFactorRequired int
	LoginAccountState         int
	TOTPReplayRejected        int
}

type LoginEvents struct {
	LoginFailed      string
	RecoveryCodeUsed string
}

type LoginErrors struct {
	EngineNotReady      error
	InvalidCredentials  error
	SecondFactorInvalid error
	AccountSuspended    error
	AccountBanned       error
	IdentityNotFound    error
	StoreUnavailable    error
	WorkerUnavailable   error
	CryptoUnavailable   error
}

// LoginDeps captures everything the login state machine touches.
type LoginDeps struct {
	EnforceReplayProtection bool
	UpgradeOnLogin          bool
	TOTPDigits              int
	// DummyHash is verified against when the email is unknown so the
	// response time does not reveal whether an account exists.
	DummyHash string

	Now func() time.Time

	IdentityByEmail func(ctx context.Context, email string) (*LoginIdentity, error)

	VerifyPassword       func(ctx context.Context, plaintext, hash string) (bool, error)
	PasswordNeedsUpgrade func(hash string) bool
	HashPassword         func(ctx context.Context, plaintext string) (string, error)
	UpdatePasswordHash   func(ctx context.Context, identityID int64, hash string) error

	VerifyTOTP          func(ctx context.Context, identity *LoginIdentity, code string, now time.Time) (bool, int64, error)
	AdvanceTOTPStep     func(ctx context.Context, identityID int64, step int64) (bool, error)
	ConsumeRecoveryCode func(ctx context.Context, identityID int64, code string) (bool, error)

	// RecordEvent writes a durable security event. A failure aborts the
	// login with StoreUnavailable.
	RecordEvent func(ctx context.Context, eventType string, success bool, identityID *int64, detail map[string]string) error

	MetricInc func(int)
	Warn      func(msg string, err error)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin walks AwaitingCredentials -> AwaitingSecondFactor ->
// Authenticated. Checks run in a fixed order: lookup, status, password,
// second factor. A missing code for an enrolled identity yields
// SecondFactorRequired without an error or an event.
func RunLogin(ctx context.Context, email, password, code string, deps LoginDeps) (*LoginOutcome, error) {
	normalizeLoginDeps(&deps)

	if deps.IdentityByEmail == nil || deps.VerifyPassword == nil || deps.RecordEvent == nil {
		return nil, deps.Errors.EngineNotReady
	}

	email = NormalizeEmail(email)

	identity, err := deps.IdentityByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, deps.Errors.IdentityNotFound) {
			return nil, deps.Errors.StoreUnavailable
		}
		if deps.DummyHash != "" {
			_, _ = deps.VerifyPassword(ctx, password, deps.DummyHash)
		}
		deps.MetricInc(deps.Metrics.LoginFailure)
		if err := deps.RecordEvent(ctx, deps.Events.LoginFailed, false, nil, map[string]string{
			"reason": "unknown_email",
			"email":  email,
		}); err != nil {
			return nil, deps.Errors.StoreUnavailable
		}
		return nil, deps.Errors.InvalidCredentials
	}

	identityID := identity.ID

	var stateErr error
	switch identity.Status {
	case "suspended":
		stateErr = deps.Errors.AccountSuspended
	case "banned":
		stateErr = deps.Errors.AccountBanned
	}
	if stateErr != nil {
		deps.MetricInc(deps.Metrics.LoginAccountState)
		if err := deps.RecordEvent(ctx, deps.Events.LoginFailed, false, &identityID, map[string]string{
			"reason": "account_" + identity.Status,
		}); err != nil {
			return nil, deps.Errors.StoreUnavailable
		}
		return nil, stateErr
	}

	ok, err := deps.VerifyPassword(ctx, password, identity.PasswordHash)
	if err != nil {
		return nil, deps.Errors.WorkerUnavailable
	}
	if !ok {
		deps.MetricInc(deps.Metrics.LoginFailure)
		if err := deps.RecordEvent(ctx, deps.Events.LoginFailed, false, &identityID, map[string]string{
			"reason": "invalid_password",
		}); err != nil {
			return nil, deps.Errors.StoreUnavailable
		}
		return nil, deps.Errors.InvalidCredentials
	}

	outcome := &LoginOutcome{Identity: identity, AcceptedStep: -1}

	if identity.SecondFactorEnabled {
		code = strings.TrimSpace(code)
		if code == "" {
			deps.MetricInc(deps.Metrics.LoginSecondFactorRequired)
			outcome.SecondFactorRequired = true
			return outcome, nil
		}

		accepted, err := checkLoginSecondFactor(ctx, identity, code, outcome, deps)
		if err != nil {
			return nil, err
		}
		if !accepted {
			deps.MetricInc(deps.Metrics.LoginFailure)
			if err := deps.RecordEvent(ctx, deps.Events.LoginFailed, false, &identityID, map[string]string{
				"reason": "invalid_code",
			}); err != nil {
				return nil, deps.Errors.StoreUnavailable
			}
			return nil, deps.Errors.SecondFactorInvalid
		}
		if outcome.RecoveryCodeUsed {
			if err := deps.RecordEvent(ctx, deps.Events.RecoveryCodeUsed, true, &identityID, map[string]string{
				"context": "login",
			}); err != nil {
				return nil, deps.Errors.StoreUnavailable
			}
		}
	}

	if deps.UpgradeOnLogin {
		upgradePasswordHash(ctx, identity, password, deps)
	}

	return outcome, nil
}

// checkLoginSecondFactor tries TOTP when the code has the TOTP shape and
// falls back to recovery codes.
func checkLoginSecondFactor(ctx context.Context, identity *LoginIdentity, code string, outcome *LoginOutcome, deps LoginDeps) (bool, error) {
	if deps.VerifyTOTP != nil && len(code) == deps.TOTPDigits && isDigits(code) {
		ok, step, err := deps.VerifyTOTP(ctx, identity, code, deps.Now())
		if err != nil {
			return false, deps.Errors.CryptoUnavailable
		}
		if ok {
			accepted, err := acceptTOTPStep(ctx, identity, step, deps)
			if err != nil {
				return false, err
			}
			if accepted {
				outcome.AcceptedStep = step
				return true, nil
			}
		}
	}

	if deps.ConsumeRecoveryCode == nil {
		return false, nil
	}
	if _, ok := CanonicalizeRecoveryCode(code); !ok {
		return false, nil
	}
	used, err := deps.ConsumeRecoveryCode(ctx, identity.ID, code)
	if err != nil {
		return false, deps.Errors.StoreUnavailable
	}
	outcome.RecoveryCodeUsed = used
	return used, nil
}

func acceptTOTPStep(ctx context.Context, identity *LoginIdentity, step int64, deps LoginDeps) (bool, error) {
	if !deps.EnforceReplayProtection {
		if deps.AdvanceTOTPStep != nil {
			if _, err := deps.AdvanceTOTPStep(ctx, identity.ID, step); err != nil {
				deps.Warn("totp step update failed", err)
			}
		}
		return true, nil
	}

	if step <= identity.SecondFactorLastStep || deps.AdvanceTOTPStep == nil {
		deps.MetricInc(deps.Metrics.TOTPReplayRejected)
		return false, nil
	}
	advanced, err := deps.AdvanceTOTPStep(ctx, identity.ID, step)
	if err != nil {
		return false, deps.Errors.StoreUnavailable
	}
	if !advanced {
		deps.MetricInc(deps.Metrics.TOTPReplayRejected)
		return false, nil
	}
	identity.SecondFactorLastStep = step
	return true, nil
}

func upgradePasswordHash(ctx context.Context, identity *LoginIdentity, password string, deps LoginDeps) {
	if deps.PasswordNeedsUpgrade == nil || deps.HashPassword == nil || deps.UpdatePasswordHash == nil {
		return
	}
	if !deps.PasswordNeedsUpgrade(identity.PasswordHash) {
		return
	}
	upgraded, err := deps.HashPassword(ctx, password)
	if err != nil {
		deps.Warn("password rehash failed", err)
		return
	}
	if err := deps.UpdatePasswordHash(ctx, identity.ID, upgraded); err != nil {
		deps.Warn("password rehash update failed", err)
		return
	}
	identity.PasswordHash = upgraded
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func normalizeLoginDeps(deps *LoginDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.TOTPDigits <= 0 {
		deps.TOTPDigits = 6
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Warn == nil {
		deps.Warn = func(string, error) {}
	}
}
