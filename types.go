package hostauth

import (
	"context"
	"time"

	internalaudit "github.com/MrEthical07/hostauth/internal/audit"
)

// IdentityStatus is the lifecycle state of an identity.
type IdentityStatus string

const (
	StatusActive    IdentityStatus = "active"
	StatusSuspended IdentityStatus = "suspended"
	StatusBanned    IdentityStatus = "banned"
)

// Valid reports whether s is a known status.
func (s IdentityStatus) Valid() bool {
	switch s {
	case StatusActive, StatusSuspended, StatusBanned:
		return true
	}
	return false
}

// Identity is one account's credential record as held by the
// [CredentialStore].
//
// PasswordHash is never empty. SecondFactorSecret holds the sealed TOTP seed
// and is non-empty exactly while second factor setup is pending or enrollment
// is complete. SecondFactorLastStep is the last accepted TOTP time step.
type Identity struct {
	ID                   int64
	ExternalID           string
	Email                string
	PasswordHash         string
	Status               IdentityStatus
	SecondFactorEnabled  bool
	SecondFactorSecret   string
	SecondFactorLastStep int64
	Role                 string
	CreatedAt            time.Time
	LastLoginAt          *time.Time
	LastLoginIP          string
}

// SecondFactorPending reports whether setup was started but not confirmed.
func (i *Identity) SecondFactorPending() bool {
	return !i.SecondFactorEnabled && i.SecondFactorSecret != ""
}

// RecoveryCode is one hashed single-use backup code. Used codes keep their
// row with UsedAt set.
type RecoveryCode struct {
	ID         int64
	IdentityID int64
	CodeHash   string
	UsedAt     *time.Time
	CreatedAt  time.Time
}

// SessionRecord is the store-side trace of an issued token. It is written
// best-effort and is never consulted for authorization.
type SessionRecord struct {
	ID            string
	IdentityID    int64
	IssuedAt      time.Time
	ExpiresAt     time.Time
	OriginAddress string
	OriginAgent   string
	RevokedAt     *time.Time
}

// Active reports whether the record is neither revoked nor expired at now.
func (r SessionRecord) Active(now time.Time) bool {
	return r.RevokedAt == nil && now.Before(r.ExpiresAt)
}

// EventType names a security event.
type EventType string

const (
	EventRegister                 EventType = "register"
	EventLoginSuccess             EventType = "login_success"
	EventLoginFailed              EventType = "login_failed"
	EventLogout                   EventType = "logout"
	EventPasswordChange           EventType = "password_change"
	EventSecondFactorSetupStarted EventType = "second_factor_setup_started"
	EventSecondFactorEnabled      EventType = "second_factor_enabled"
	EventSecondFactorDisabled     EventType = "second_factor_disabled"
	EventSecondFactorVerifyFailed EventType = "second_factor_verify_failed"
	EventRecoveryCodeUsed         EventType = "recovery_code_used"
	EventRecoveryCodesRegenerated EventType = "recovery_codes_regenerated"
)

// SecurityEvent is an append-only record of an authentication-relevant
// outcome. IdentityID is nil for failures before an identity is known.
type SecurityEvent struct {
	ID            int64
	IdentityID    *int64
	EventType     EventType
	Success       bool
	OriginAddress string
	OriginAgent   string
	Detail        map[string]string
	CreatedAt     time.Time
}

// CredentialStore persists identities, recovery codes, session records and
// security events. Implementations must make every multi-row method atomic.
//
// Lookups return [ErrIdentityNotFound] when no row matches. CreateIdentity
// returns [ErrEmailTaken] on a duplicate email. Any other failure is treated
// as infrastructure.
type CredentialStore interface {
	// CreateIdentity inserts the identity, its profile fields and the
	// register event in one transaction.
	CreateIdentity(ctx context.Context, identity Identity, profile map[string]string, event SecurityEvent) error
	IdentityByEmail(ctx context.Context, email string) (*Identity, error)
	IdentityByExternalID(ctx context.Context, externalID string) (*Identity, error)
	UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error
	RecordLogin(ctx context.Context, identityID int64, at time.Time, originAddress string) error

	// SetPendingSecondFactor stores a sealed secret on an identity whose
	// second factor is not enabled. It returns
	// [ErrSecondFactorAlreadyEnabled] otherwise.
	SetPendingSecondFactor(ctx context.Context, identityID int64, sealedSecret string) error
	// EnableSecondFactor marks the pending secret enabled, records the
	// accepted step and installs the first recovery code batch in one
	// transaction. It returns [ErrSecondFactorNotPending] unless the pending
	// secret is still sealedSecret, the one the accepted code was checked
	// against.
	EnableSecondFactor(ctx context.Context, identityID int64, sealedSecret string, acceptedStep int64, codes []RecoveryCode) error
	// DisableSecondFactor clears the secret and last accepted step and
	// deletes every recovery code in one transaction.
	DisableSecondFactor(ctx context.Context, identityID int64) error
	// AdvanceSecondFactorStep stores step only if it is greater than the
	// stored last step, reporting whether it did.
	AdvanceSecondFactorStep(ctx context.Context, identityID int64, step int64) (bool, error)

	// UnusedRecoveryCodes lists codes with UsedAt unset.
	UnusedRecoveryCodes(ctx context.Context, identityID int64) ([]RecoveryCode, error)
	// ReplaceRecoveryCodes deletes the identity's codes and inserts codes in
	// one transaction.
	ReplaceRecoveryCodes(ctx context.Context, identityID int64, codes []RecoveryCode) error
	// MarkRecoveryCodeUsed stamps UsedAt only if it is still unset,
	// reporting whether this call did the stamping.
	MarkRecoveryCodeUsed(ctx context.Context, codeID int64, at time.Time) (bool, error)

	AppendSecurityEvent(ctx context.Context, event SecurityEvent) error
	ListSecurityEvents(ctx context.Context, identityID int64, limit int) ([]SecurityEvent, error)

	CreateSessionRecord(ctx context.Context, record SessionRecord) error
	ListSessionRecords(ctx context.Context, identityID int64) ([]SessionRecord, error)
	RevokeSessionRecord(ctx context.Context, sessionID string, at time.Time) error
	// RevokeSessionRecords revokes every unrevoked record of the identity
	// and returns the ids it revoked.
	RevokeSessionRecords(ctx context.Context, identityID int64, at time.Time) ([]string, error)

	Ping(ctx context.Context) error
}

// RegisterRequest is the input to [Engine.Register]. Profile holds account
// scaffolding fields (name, company, ...) stored with the identity.
type RegisterRequest struct {
	Email    string
	Password string
	Profile  map[string]string
}

// LoginRequest is the input to [Engine.Login]. SecondFactorCode may be a
// six digit TOTP code or a recovery code.
type LoginRequest struct {
	Email            string
	Password         string
	SecondFactorCode string
}

// IdentityView is the caller-safe projection of an [Identity].
type IdentityView struct {
	ExternalID          string
	Email               string
	Role                string
	Status              IdentityStatus
	SecondFactorEnabled bool
	CreatedAt           time.Time
	LastLoginAt         *time.Time
}

// AuthResult is returned by [Engine.Register] and by a completed login.
type AuthResult struct {
	Identity  IdentityView
	Token     string
	SessionID string
	ExpiresAt time.Time
}

// LoginResult is returned by [Engine.Login]. When SecondFactorRequired is
// true, Auth is nil and no token was issued.
type LoginResult struct {
	SecondFactorRequired bool
	Auth                 *AuthResult
	// RecoveryCodeUsed is set when the second factor was satisfied by a
	// recovery code rather than TOTP.
	RecoveryCodeUsed bool
}

// SecondFactorSetup is returned by [Engine.SetupSecondFactor].
type SecondFactorSetup struct {
	Secret        string
	EnrollmentURI string
}

// RecoveryCodes holds a freshly generated batch in display form. The
// plaintext is never retrievable again.
type RecoveryCodes struct {
	Codes []string
}

// SecondFactorStatus is returned by [Engine.SecondFactorStatus].
type SecondFactorStatus struct {
	Enabled                bool
	Pending                bool
	RecoveryCodesRemaining int
}

// Principal is the authenticated caller behind a verified session token.
type Principal struct {
	IdentityID int64
	ExternalID string
	Email      string
	Role       string
	SessionID  string
	IssuedAt   time.Time
	ExpiresAt  time.Time
}

// NotificationKind names an outbound security notification.
type NotificationKind string

const (
	NotifyNewLogin                 NotificationKind = "new_login"
	NotifyPasswordChanged          NotificationKind = "password_changed"
	NotifySecondFactorEnabled      NotificationKind = "second_factor_enabled"
	NotifySecondFactorDisabled     NotificationKind = "second_factor_disabled"
	NotifyRecoveryCodesRegenerated NotificationKind = "recovery_codes_regenerated"
)

// Notification is handed to a [Notifier] after a sensitive change.
type Notification struct {
	Kind          NotificationKind
	Email         string
	ExternalID    string
	OriginAddress string
	OriginAgent   string
	OccurredAt    time.Time
}

// Notifier delivers security notifications. Delivery is fire-and-forget
// from the Engine's point of view; errors are logged and dropped.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// AuditEvent is the record fanned out to optional audit sinks after the
// durable security event write.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the Engine's dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events to an io.Writer.
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink logs events through a zap logger.
type ZapSink = internalaudit.ZapSink

// MultiSink fans an event out to several sinks.
type MultiSink = internalaudit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}
