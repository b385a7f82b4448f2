package hostauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/hostauth/internal/ids"
	"github.com/MrEthical07/hostauth/jwt"
	"go.uber.org/zap"
)

// issueSession mints a token for identity and writes its session record.
// The record is best-effort: a failed write is logged, not returned.
func (e *Engine) issueSession(ctx context.Context, identity *Identity) (*AuthResult, error) {
	token, claims, err := e.jwtManager.Issue(jwt.IssueInput{
		ExternalID: identity.ExternalID,
		Email:      identity.Email,
		Role:       identity.Role,
		SessionID:  ids.NewSessionID(),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoUnavailable, err)
	}

	if e.config.Session.RecordSessions {
		record := SessionRecord{
			ID:            claims.SessionID(),
			IdentityID:    identity.ID,
			IssuedAt:      claims.IssuedAtTime().UTC(),
			ExpiresAt:     claims.ExpiresAtTime().UTC(),
			OriginAddress: ClientIPFromContext(ctx),
			OriginAgent:   UserAgentFromContext(ctx),
		}
		if err := e.store.CreateSessionRecord(ctx, record); err != nil {
			e.logger.Warn("session record write failed",
				zap.String("session_id", record.ID),
				zap.Error(err),
			)
		}
	}

	e.metricInc(MetricSessionIssued)

	return &AuthResult{
		Identity:  viewOf(identity),
		Token:     token,
		SessionID: claims.SessionID(),
		ExpiresAt: claims.ExpiresAtTime().UTC(),
	}, nil
}

// VerifySession checks a token's signature and expiry and, when revocation
// checks are on, the revocation set. It does not read the credential store,
// so the returned Principal has no IdentityID. Use [Engine.Authenticate]
// for a live status check.
func (e *Engine) VerifySession(ctx context.Context, token string) (*Principal, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricSessionVerifyLatency, time.Since(start))
	}()

	claims, err := e.jwtManager.Parse(token)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return nil, ErrTokenInvalid
	}

	if e.config.Session.RevocationCheck && e.revocation != nil {
		revoked, err := e.revocation.IsRevoked(ctx, claims.SessionID(), claims.ExternalID, claims.IssuedAtTime())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if revoked {
			e.metricInc(MetricSessionRejected)
			return nil, ErrTokenInvalid
		}
	}

	return &Principal{
		ExternalID: claims.ExternalID,
		Email:      claims.Email,
		Role:       claims.Role,
		SessionID:  claims.SessionID(),
		IssuedAt:   claims.IssuedAtTime().UTC(),
		ExpiresAt:  claims.ExpiresAtTime().UTC(),
	}, nil
}

// Authenticate is VerifySession plus a fresh identity read. Suspended or
// banned identities are rejected with their account state error even while
// their token is otherwise valid.
func (e *Engine) Authenticate(ctx context.Context, token string) (*Principal, error) {
	principal, err := e.VerifySession(ctx, token)
	if err != nil {
		return nil, err
	}

	identity, err := e.store.IdentityByExternalID(ctx, principal.ExternalID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			e.metricInc(MetricSessionRejected)
			return nil, ErrTokenInvalid
		}
		return nil, storeError(err)
	}
	if err := statusError(identity.Status); err != nil {
		e.metricInc(MetricSessionRejected)
		return nil, e.accountStateRejected(ctx, identity, EventLoginFailed, "authenticate", err)
	}

	principal.IdentityID = identity.ID
	principal.Email = identity.Email
	principal.Role = identity.Role
	return principal, nil
}

// Logout revokes the presented token. Without a Redis client the token
// stays verifiable until it expires; only its session record is marked.
func (e *Engine) Logout(ctx context.Context, token string) error {
	principal, err := e.VerifySession(ctx, token)
	if err != nil {
		return err
	}

	var identity *Identity
	if found, err := e.store.IdentityByExternalID(ctx, principal.ExternalID); err == nil {
		identity = found
	} else if !errors.Is(err, ErrIdentityNotFound) {
		return storeError(err)
	}

	if e.revocation != nil {
		if err := e.revocation.Revoke(ctx, principal.SessionID, principal.ExpiresAt.Sub(e.now())); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}

	if err := e.store.RevokeSessionRecord(ctx, principal.SessionID, e.now()); err != nil {
		e.logger.Warn("session record revoke failed",
			zap.String("session_id", principal.SessionID),
			zap.Error(err),
		)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)

	return e.recordEvent(ctx, EventLogout, true, identity, principal.SessionID, nil, nil)
}

// revokeAllSessions invalidates every token of identity issued before now.
// The watermark catches tokens from earlier seconds; the session records
// supply ids for tokens issued within the current second.
func (e *Engine) revokeAllSessions(ctx context.Context, identity *Identity) error {
	now := e.now()

	revokedIDs, err := e.store.RevokeSessionRecords(ctx, identity.ID, now)
	if err != nil {
		e.logger.Warn("session records revoke failed",
			zap.Int64("identity_id", identity.ID),
			zap.Error(err),
		)
	}

	if e.revocation == nil {
		return nil
	}

	if err := e.revocation.RevokeAllBefore(ctx, identity.ExternalID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	for _, id := range revokedIDs {
		if err := e.revocation.Revoke(ctx, id, e.jwtManager.TTL()); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		e.metricInc(MetricSessionRevoked)
	}

	return nil
}

// ListSessions returns the identity's session records, newest first.
func (e *Engine) ListSessions(ctx context.Context, externalID string) ([]SessionRecord, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	identity, err := e.identityByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	records, err := e.store.ListSessionRecords(ctx, identity.ID)
	if err != nil {
		return nil, storeError(err)
	}
	return records, nil
}
