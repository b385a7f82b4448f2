package hostauth

import "errors"

// ErrorKind classifies an error returned by the Engine.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindValidation is malformed input, rejected before the store is touched.
	KindValidation
	// KindAuthentication is a wrong password, code or token. Callers see a
	// generic rejection.
	KindAuthentication
	// KindAccountState is a suspended or banned identity.
	KindAccountState
	// KindConflict is a request that contradicts current state.
	KindConflict
	// KindInfrastructure is a store, crypto or worker failure.
	KindInfrastructure
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthentication:
		return "authentication"
	case KindAccountState:
		return "account_state"
	case KindConflict:
		return "conflict"
	case KindInfrastructure:
		return "infrastructure"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidEmail is returned when an email address is not well formed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrPasswordPolicy is returned when a password is too short or too long.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidCode is returned when a submitted code is not a six digit
	// TOTP or a recovery code shape.
	ErrInvalidCode = errors.New("malformed verification code")
	// ErrInvalidProfile is returned when registration profile fields exceed
	// the configured limits.
	ErrInvalidProfile = errors.New("invalid profile fields")
	// ErrInvalidExternalID is returned for an identity handle that is not a UUID.
	ErrInvalidExternalID = errors.New("invalid identity id")

	// ErrInvalidCredentials is the generic login and re-authentication failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSecondFactorInvalid is returned when a TOTP or recovery code does not verify.
	ErrSecondFactorInvalid = errors.New("invalid second factor code")
	// ErrTokenInvalid is returned for a bad, expired or revoked session token.
	ErrTokenInvalid = errors.New("invalid session token")
	// ErrIdentityNotFound is returned by stores and by lookups on unknown handles.
	ErrIdentityNotFound = errors.New("identity not found")

	// ErrAccountSuspended is returned when a suspended identity authenticates.
	ErrAccountSuspended = errors.New("account suspended")
	// ErrAccountBanned is returned when a banned identity authenticates.
	ErrAccountBanned = errors.New("account banned")

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("email already registered")
	// ErrSecondFactorAlreadyEnabled is returned by setup when enrollment is complete.
	ErrSecondFactorAlreadyEnabled = errors.New("second factor already enabled")
	// ErrSecondFactorNotPending is returned by enable when setup was not started.
	ErrSecondFactorNotPending = errors.New("second factor setup not started")
	// ErrSecondFactorNotEnabled is returned by disable and regenerate when no
	// second factor is enrolled.
	ErrSecondFactorNotEnabled = errors.New("second factor not enabled")

	// ErrStoreUnavailable wraps credential store failures.
	ErrStoreUnavailable = errors.New("credential store unavailable")
	// ErrWorkerPoolUnavailable is returned when hashing could not be scheduled
	// before the request context ended.
	ErrWorkerPoolUnavailable = errors.New("worker pool unavailable")
	// ErrCryptoUnavailable wraps random source, sealing and signing failures.
	ErrCryptoUnavailable = errors.New("crypto subsystem unavailable")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// Kind classifies err. Wrapped errors are classified by their sentinel.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrInvalidEmail),
		errors.Is(err, ErrPasswordPolicy),
		errors.Is(err, ErrPasswordReuse),
		errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidProfile),
		errors.Is(err, ErrInvalidExternalID):
		return KindValidation
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrSecondFactorInvalid),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrIdentityNotFound):
		return KindAuthentication
	case errors.Is(err, ErrAccountSuspended),
		errors.Is(err, ErrAccountBanned):
		return KindAccountState
	case errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrSecondFactorAlreadyEnabled),
		errors.Is(err, ErrSecondFactorNotPending),
		errors.Is(err, ErrSecondFactorNotEnabled):
		return KindConflict
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrWorkerPoolUnavailable),
		errors.Is(err, ErrCryptoUnavailable),
		errors.Is(err, ErrEngineNotReady):
		return KindInfrastructure
	default:
		return KindUnknown
	}
}

// IsAuthenticationFailure reports whether err is a credential or code rejection.
func IsAuthenticationFailure(err error) bool {
	return Kind(err) == KindAuthentication
}

// IsAccountState reports whether err is a suspended or banned rejection.
func IsAccountState(err error) bool {
	return Kind(err) == KindAccountState
}
