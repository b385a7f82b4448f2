package hostauth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/hostauth/internal/audit"
	"github.com/MrEthical07/hostauth/internal/ids"
	"github.com/MrEthical07/hostauth/internal/vault"
	"github.com/MrEthical07/hostauth/internal/workpool"
	"github.com/MrEthical07/hostauth/jwt"
	"github.com/MrEthical07/hostauth/password"
	"github.com/MrEthical07/hostauth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config Config
	store  CredentialStore
	redis  *redis.Client

	logger    *zap.Logger
	notifier  Notifier
	auditSink AuditSink
	clock     func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration with a copy of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. It is required.
func (b *Builder) WithStore(store CredentialStore) *Builder {
	b.store = store
	return b
}

// WithRedis enables the token revocation set. Without it, logout and
// password change still mark session records revoked but VerifySession
// cannot see that.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithAuditSink sets where the async audit copy of each security event goes.
// It only takes effect when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for the Engine, its tokens and TOTP checks.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("credential store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	ring, err := vault.ParseKeyRing(cfg.SecondFactor.SealingKeys)
	if err != nil {
		return nil, err
	}

	primary, err := password.NewArgon2(cfg.Password.Primary)
	if err != nil {
		return nil, err
	}
	recovery, err := password.NewArgon2(cfg.Password.Recovery)
	if err != nil {
		return nil, err
	}

	jm, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		KeyID:         cfg.Session.KeyID,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		RequireIAT:    true,
		Clock:         clock,
	})
	if err != nil {
		return nil, err
	}

	gen, err := ids.NewGenerator(cfg.IDs.SnowflakeNode)
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		store:      b.store,
		passwords:  primary,
		recovery:   recovery,
		totp:       newAuthenticator(cfg.SecondFactor, ring),
		jwtManager: jm,
		pool:       workpool.New(cfg.Workers.Size),
		ids:        gen,
		metrics:    NewMetrics(cfg.Metrics),
		notifier:   b.notifier,
		logger:     logger,
		clock:      clock,
	}

	if b.redis != nil {
		engine.revocation = session.NewRevocationStore(b.redis, cfg.Session.RedisPrefix, cfg.Session.TTL)
	}

	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(ev internalaudit.Event) {
			logger.Warn("audit event dropped", zap.String("event_type", ev.EventType))
		},
	}, b.auditSink)

	// Unknown-email logins verify against this hash so they cost the same
	// as a wrong password.
	var filler [16]byte
	if _, err := rand.Read(filler[:]); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}
	engine.dummyHash, err = primary.Hash(hex.EncodeToString(filler[:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	b.built = true

	return engine, nil
}
