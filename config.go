package hostauth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/hostauth/internal/vault"
	"github.com/MrEthical07/hostauth/password"
)

// Config holds every Engine setting. Obtain one from [DefaultConfig], adjust
// it, and pass it to [Builder.WithConfig]. The Builder validates and copies
// it; later mutation of the caller's value has no effect.
type Config struct {
	Registration  RegistrationConfig
	Password      PasswordConfig
	SecondFactor  SecondFactorConfig
	Session       SessionConfig
	Workers       WorkersConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	IDs           IDConfig
	Notifications NotificationConfig
}

/*
====================================
REGISTRATION CONFIG
====================================
*/

// RegistrationConfig controls new identities.
type RegistrationConfig struct {
	DefaultRole string
	// MaxProfileFields caps the profile map accepted by Register.
	MaxProfileFields int
	// MaxProfileValueLength caps each profile value, in bytes.
	MaxProfileValueLength int
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig controls password policy and the two argon2id profiles.
type PasswordConfig struct {
	MinLength int
	MaxLength int
	// UpgradeOnLogin rehashes a verified password whose stored parameters are
	// weaker than Primary.
	UpgradeOnLogin bool
	Primary        password.Config
	Recovery       password.Config
}

/*
====================================
SECOND FACTOR CONFIG
====================================
*/

// SecondFactorConfig controls TOTP parameters and secret sealing.
type SecondFactorConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
	// EnforceReplayProtection rejects a code whose time step is not newer
	// than the last accepted step for the identity.
	EnforceReplayProtection bool
	// SealingKeys is a key ring in "kid:base64key[,kid:base64key]" form.
	// The first key seals new secrets; the rest only open old ones.
	SealingKeys string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls token signing and revocation.
type SessionConfig struct {
	TTL           time.Duration
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	Issuer        string
	Audience      string
	Leeway        time.Duration
	// RevocationCheck makes VerifySession consult the Redis revocation set.
	// It has no effect when no Redis client was supplied.
	RevocationCheck bool
	RedisPrefix     string
	// RecordSessions writes a best-effort session record per issued token.
	RecordSessions bool
}

// WorkersConfig sizes the pool that runs argon2 and TOTP work.
type WorkersConfig struct {
	// Size <= 0 means runtime.NumCPU().
	Size int
}

// AuditConfig controls the async audit fan-out. The durable security event
// log in the store is always written regardless of this setting.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig enables in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// IDConfig controls internal row id generation.
type IDConfig struct {
	// SnowflakeNode must be unique per running process (0..1023).
	SnowflakeNode int64
}

// NotificationConfig controls outbound security notifications.
type NotificationConfig struct {
	Enabled bool
	// Timeout bounds each async Notify call.
	Timeout time.Duration
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Session.PrivateKey and
// SecondFactor.SealingKeys have no default and must be set.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Registration: RegistrationConfig{
			DefaultRole:           "customer",
			MaxProfileFields:      16,
			MaxProfileValueLength: 256,
		},
		Password: PasswordConfig{
			MinLength:      8,
			MaxLength:      128,
			UpgradeOnLogin: true,
			Primary:        password.PrimaryConfig(),
			Recovery:       password.RecoveryConfig(),
		},
		SecondFactor: SecondFactorConfig{
			Issuer:                  "hostauth",
			Digits:                  6,
			Period:                  30,
			Skew:                    1,
			Algorithm:               "SHA1",
			EnforceReplayProtection: true,
		},
		Session: SessionConfig{
			TTL:             24 * time.Hour,
			SigningMethod:   "hs256",
			Leeway:          30 * time.Second,
			RevocationCheck: true,
			RedisPrefix:     "ha",
			RecordSessions:  true,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Notifications: NotificationConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.PrivateKey = cloneBytes(cfg.Session.PrivateKey)
	out.Session.PublicKey = cloneBytes(cfg.Session.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Registration
	if strings.TrimSpace(c.Registration.DefaultRole) == "" {
		return errors.New("Registration DefaultRole must not be empty")
	}
	if c.Registration.MaxProfileFields < 0 || c.Registration.MaxProfileValueLength <= 0 {
		return errors.New("Registration profile limits are invalid")
	}

	// Password
	if c.Password.MinLength < 8 {
		return errors.New("Password MinLength must be >= 8")
	}
	if c.Password.MaxLength < c.Password.MinLength {
		return errors.New("Password MaxLength must be >= MinLength")
	}
	if c.Password.MaxLength > 1024 {
		return errors.New("Password MaxLength must be <= 1024")
	}
	if _, err := password.NewArgon2(c.Password.Primary); err != nil {
		return fmt.Errorf("Password Primary: %w", err)
	}
	if _, err := password.NewArgon2(c.Password.Recovery); err != nil {
		return fmt.Errorf("Password Recovery: %w", err)
	}

	// Second factor
	if strings.TrimSpace(c.SecondFactor.Issuer) == "" {
		return errors.New("SecondFactor Issuer must not be empty")
	}
	if strings.Contains(c.SecondFactor.Issuer, ":") {
		return errors.New("SecondFactor Issuer must not contain ':'")
	}
	if c.SecondFactor.Digits != 6 && c.SecondFactor.Digits != 8 {
		return errors.New("SecondFactor Digits must be 6 or 8")
	}
	if c.SecondFactor.Period <= 0 || c.SecondFactor.Period > 300 {
		return errors.New("SecondFactor Period must be in (0, 300]")
	}
	if c.SecondFactor.Skew < 0 || c.SecondFactor.Skew > 2 {
		return errors.New("SecondFactor Skew must be between 0 and 2")
	}
	switch strings.ToUpper(c.SecondFactor.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("SecondFactor Algorithm must be SHA1, SHA256 or SHA512")
	}
	if strings.TrimSpace(c.SecondFactor.SealingKeys) == "" {
		return errors.New("SecondFactor SealingKeys must be set")
	}
	if _, err := vault.ParseKeyRing(c.SecondFactor.SealingKeys); err != nil {
		return fmt.Errorf("SecondFactor SealingKeys: %w", err)
	}

	// Session
	if c.Session.TTL <= 0 {
		return errors.New("Session TTL must be > 0")
	}
	switch c.Session.SigningMethod {
	case "hs256":
		if len(c.Session.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.Session.PrivateKey) == 0 || len(c.Session.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported Session SigningMethod")
	}
	if c.Session.Leeway < 0 || c.Session.Leeway > 2*time.Minute {
		return errors.New("Session Leeway must be between 0 and 2m")
	}
	if c.Session.RevocationCheck && strings.TrimSpace(c.Session.RedisPrefix) == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	// IDs
	if c.IDs.SnowflakeNode < 0 || c.IDs.SnowflakeNode > 1023 {
		return errors.New("IDs SnowflakeNode must be between 0 and 1023")
	}

	if c.Notifications.Enabled && c.Notifications.Timeout <= 0 {
		return errors.New("Notifications Timeout must be > 0")
	}

	return nil
}
