package hostauth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/MrEthical07/hostauth/internal/flows"
	"github.com/MrEthical07/hostauth/internal/ids"
)

const maxEmailLength = 254

// Register creates an active identity and signs it in. The identity, its
// profile fields and the register event are written in one transaction.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := normalizeEmailAddress(req.Email)
	if err != nil {
		return nil, err
	}
	if err := e.checkPasswordPolicy(req.Password); err != nil {
		return nil, err
	}
	profile, err := e.cleanProfile(req.Profile)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.IdentityByEmail(ctx, email); err == nil {
		e.metricInc(MetricRegisterConflict)
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return nil, storeError(err)
	}

	hash, err := e.hashPassword(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now()
	identity := &Identity{
		ID:           e.ids.NextID(),
		ExternalID:   ids.NewExternalID(),
		Email:        email,
		PasswordHash: hash,
		Status:       StatusActive,
		Role:         e.config.Registration.DefaultRole,
		CreatedAt:    now,
	}
	identityID := identity.ID
	event := SecurityEvent{
		ID:            e.ids.NextID(),
		IdentityID:    &identityID,
		EventType:     EventRegister,
		Success:       true,
		OriginAddress: ClientIPFromContext(ctx),
		OriginAgent:   UserAgentFromContext(ctx),
		CreatedAt:     now,
	}

	if err := e.store.CreateIdentity(ctx, *identity, profile, event); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			e.metricInc(MetricRegisterConflict)
		}
		return nil, storeError(err)
	}
	e.fanOut(ctx, event, identity, "", nil)

	e.metricInc(MetricRegisterSuccess)

	return e.issueSession(ctx, identity)
}

// normalizeEmailAddress lower-cases email and requires a bare address
// without a display name.
func normalizeEmailAddress(raw string) (string, error) {
	email := flows.NormalizeEmail(raw)
	if email == "" || len(email) > maxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

func (e *Engine) checkPasswordPolicy(password string) error {
	if !utf8.ValidString(password) {
		return ErrPasswordPolicy
	}
	n := utf8.RuneCountInString(password)
	if n < e.config.Password.MinLength || n > e.config.Password.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

func (e *Engine) cleanProfile(in map[string]string) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) > e.config.Registration.MaxProfileFields {
		return nil, ErrInvalidProfile
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || len(k) > 64 || len(v) > e.config.Registration.MaxProfileValueLength || !utf8.ValidString(v) {
			return nil, ErrInvalidProfile
		}
		if v == "" {
			continue
		}
		out[k] = v
	}
	return out, nil
}
