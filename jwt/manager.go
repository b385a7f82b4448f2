package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MrEthical07/hostauth/internal/ids"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// DefaultTTL is the session token lifetime when Config.TTL is zero.
const DefaultTTL = 24 * time.Hour

const (
	maxLeeway           = 2 * time.Minute
	defaultMaxFutureIAT = 10 * time.Minute
	minHMACKeyBytes     = 32
)

// ErrTokenInvalid is returned by Parse for any token that fails verification.
var ErrTokenInvalid = errors.New("jwt: invalid token")

// Config controls signing and verification.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or a raw or PEM ed25519
	// private key. An ed25519 manager without one can only verify.
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	RequireIAT bool
	// MaxFutureIAT bounds how far ahead of the clock iat may be.
	MaxFutureIAT time.Duration
	// KeyID is written as the kid header and, when set, required on parse.
	KeyID string
	// VerifyKeys maps kid to verification key for rotation. When set, every
	// token must carry a kid found here.
	VerifyKeys map[string][]byte

	Clock func() time.Time
}

// Manager signs and parses session tokens. It is safe for concurrent use.
type Manager struct {
	ttl          time.Duration
	method       jwt.SigningMethod
	signKey      any
	kid          string
	verifyKeys   map[string]any
	kidRequired  bool
	issuer       string
	audience     string
	maxFutureIAT time.Duration
	clock        func() time.Time
	parser       *jwt.Parser
}

// SessionClaims is the payload of a session token.
type SessionClaims struct {
	ExternalID string `json:"external_id"`
	Email      string `json:"email"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// SessionID returns the jti.
func (c *SessionClaims) SessionID() string { return c.ID }

func (c *SessionClaims) IssuedAtTime() time.Time { return numericTime(c.IssuedAt) }

func (c *SessionClaims) ExpiresAtTime() time.Time { return numericTime(c.ExpiresAt) }

func numericTime(d *jwt.NumericDate) time.Time {
	if d == nil {
		return time.Time{}
	}
	return d.Time
}

// IssueInput names the identity a token is minted for.
type IssueInput struct {
	ExternalID string
	Email      string
	Role       string
	// SessionID becomes the jti. A KSUID is generated when empty.
	SessionID string
}

// NewManager checks cfg and resolves its keys.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.TTL < 0:
		return nil, errors.New("jwt: negative TTL")
	case cfg.Leeway < 0 || cfg.Leeway > maxLeeway:
		return nil, fmt.Errorf("jwt: leeway must be within [0, %s]", maxLeeway)
	case cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour:
		return nil, errors.New("jwt: MaxFutureIAT must be within [0, 24h]")
	}

	m := &Manager{
		ttl:          cfg.TTL,
		kid:          strings.TrimSpace(cfg.KeyID),
		issuer:       cfg.Issuer,
		audience:     cfg.Audience,
		maxFutureIAT: cfg.MaxFutureIAT,
		clock:        cfg.Clock,
	}
	if m.ttl == 0 {
		m.ttl = DefaultTTL
	}
	if m.maxFutureIAT == 0 {
		m.maxFutureIAT = defaultMaxFutureIAT
	}
	if m.clock == nil {
		m.clock = time.Now
	}

	var (
		toVerifyKey func([]byte) (any, error)
		defaultKey  []byte
	)
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("jwt: hs256 key must be at least %d bytes", minHMACKeyBytes)
		}
		m.method = jwt.SigningMethodHS256
		m.signKey = cfg.PrivateKey
		defaultKey = cfg.PrivateKey
		toVerifyKey = func(k []byte) (any, error) { return k, nil }
	case MethodEd25519:
		m.method = jwt.SigningMethodEdDSA
		if len(cfg.PrivateKey) > 0 {
			priv, err := edPrivateKey(cfg.PrivateKey)
			if err != nil {
				return nil, err
			}
			m.signKey = priv
		}
		if len(cfg.PublicKey) == 0 && len(cfg.VerifyKeys) == 0 {
			return nil, errors.New("jwt: ed25519 needs PublicKey or VerifyKeys")
		}
		defaultKey = cfg.PublicKey
		toVerifyKey = func(k []byte) (any, error) { return edPublicKey(k) }
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}

	m.verifyKeys = make(map[string]any)
	switch {
	case len(cfg.VerifyKeys) > 0:
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("jwt: empty kid in VerifyKeys")
			}
			key, err := toVerifyKey(raw)
			if err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
			m.verifyKeys[kid] = key
		}
		if _, ok := m.verifyKeys[m.kid]; m.kid != "" && !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
		m.kidRequired = true
	default:
		key, err := toVerifyKey(defaultKey)
		if err != nil {
			return nil, err
		}
		m.verifyKeys[m.kid] = key
		m.kidRequired = m.kid != ""
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{m.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.clock),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.RequireIAT {
		opts = append(opts, jwt.WithIssuedAt())
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}
	m.parser = jwt.NewParser(opts...)
	return m, nil
}

func (m *Manager) TTL() time.Duration { return m.ttl }

// Issue signs a new session token.
func (m *Manager) Issue(in IssueInput) (string, *SessionClaims, error) {
	if in.ExternalID == "" {
		return "", nil, errors.New("jwt: external id required")
	}
	if m.signKey == nil {
		return "", nil, errors.New("jwt: no signing key configured")
	}
	if in.SessionID == "" {
		in.SessionID = ids.NewSessionID()
	}

	now := m.clock()
	claims := &SessionClaims{
		ExternalID: in.ExternalID,
		Email:      in.Email,
		Role:       in.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        in.SessionID,
			Subject:   in.ExternalID,
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}

	tok := jwt.NewWithClaims(m.method, claims)
	if m.kid != "" {
		tok.Header["kid"] = m.kid
	}
	signed, err := tok.SignedString(m.signKey)
	if err != nil {
		return "", nil, fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, claims, nil
}

// Parse verifies raw and returns its claims. Every failure wraps
// ErrTokenInvalid.
func (m *Manager) Parse(raw string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	tok, err := m.parser.ParseWithClaims(raw, claims, m.keyFor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.ExternalID == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing external id or jti", ErrTokenInvalid)
	}
	if iat := claims.IssuedAtTime(); !iat.IsZero() && iat.After(m.clock().Add(m.maxFutureIAT)) {
		return nil, fmt.Errorf("%w: iat too far in the future", ErrTokenInvalid)
	}
	return claims, nil
}

func (m *Manager) keyFor(t *jwt.Token) (any, error) {
	if t.Method.Alg() != m.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm %s", t.Method.Alg())
	}
	kid := ""
	if m.kidRequired {
		kid, _ = t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
	}
	key, ok := m.verifyKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return key, nil
}

// edPrivateKey accepts a raw 64-byte key or PEM.
func edPrivateKey(b []byte) (ed25519.PrivateKey, error) {
	if len(b) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(b), nil
	}
	k, err := jwt.ParseEdPrivateKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	priv, ok := k.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: PEM is not an ed25519 private key")
	}
	return priv, nil
}

// edPublicKey accepts a raw 32-byte key or PEM.
func edPublicKey(b []byte) (ed25519.PublicKey, error) {
	if len(b) == ed25519.PublicKeySize {
		return ed25519.PublicKey(b), nil
	}
	k, err := jwt.ParseEdPublicKeyFromPEM(b)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	pub, ok := k.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: PEM is not an ed25519 public key")
	}
	return pub, nil
}
