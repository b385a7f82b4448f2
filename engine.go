package hostauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/hostauth/internal/audit"
	"github.com/MrEthical07/hostauth/internal/ids"
	"github.com/MrEthical07/hostauth/internal/workpool"
	"github.com/MrEthical07/hostauth/jwt"
	"github.com/MrEthical07/hostauth/password"
	"github.com/MrEthical07/hostauth/session"
	"go.uber.org/zap"
)

// Engine is the authentication orchestrator. All methods are safe for
// concurrent use. Build one with [New].
type Engine struct {
	config     Config
	store      CredentialStore
	revocation *session.RevocationStore
	jwtManager *jwt.Manager
	passwords  *password.Argon2
	recovery   *password.Argon2
	totp       *authenticator
	pool       *workpool.Pool
	ids        *ids.Generator
	audit      *internalaudit.Dispatcher
	metrics    *Metrics
	notifier   Notifier
	logger     *zap.Logger
	clock      func() time.Time
	dummyHash  string

	notifyWG sync.WaitGroup
}

// Close drains pending notifications and audit events and stops admitting
// hashing work.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.notifyWG.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
	if e.pool != nil {
		e.pool.Close()
	}
}

// AuditDropped returns how many audit fan-out events were discarded because
// the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Health pings the credential store and, when configured, Redis.
func (e *Engine) Health(ctx context.Context) error {
	if e == nil || e.store == nil {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if e.revocation != nil {
		if err := e.revocation.Ping(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) ready() error {
	if e == nil || e.store == nil || e.passwords == nil || e.jwtManager == nil {
		return ErrEngineNotReady
	}
	return nil
}

// hashPassword runs the primary argon2 profile on the worker pool.
func (e *Engine) hashPassword(ctx context.Context, plaintext string) (string, error) {
	return e.hashWith(ctx, e.passwords, plaintext)
}

func (e *Engine) verifyPassword(ctx context.Context, plaintext, hash string) (bool, error) {
	return e.verifyWith(ctx, e.passwords, plaintext, hash)
}

func (e *Engine) hashWith(ctx context.Context, h *password.Argon2, plaintext string) (string, error) {
	start := time.Now()
	var (
		out     string
		hashErr error
	)
	if err := e.pool.Do(ctx, func() {
		out, hashErr = h.Hash(plaintext)
	}); err != nil {
		return "", ErrWorkerPoolUnavailable
	}
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	if hashErr != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoUnavailable, hashErr)
	}
	return out, nil
}

func (e *Engine) verifyWith(ctx context.Context, h *password.Argon2, plaintext, hash string) (bool, error) {
	start := time.Now()
	ok, err := workpool.Call(ctx, e.pool, func() bool {
		return h.Verify(plaintext, hash)
	})
	if err != nil {
		return false, ErrWorkerPoolUnavailable
	}
	e.metrics.Observe(MetricHashLatency, time.Since(start))
	return ok, nil
}

// identityByExternalID loads an identity by its public handle. Unknown or
// malformed handles yield ErrIdentityNotFound / ErrInvalidExternalID.
func (e *Engine) identityByExternalID(ctx context.Context, externalID string) (*Identity, error) {
	if !ids.ValidExternalID(externalID) {
		return nil, ErrInvalidExternalID
	}
	identity, err := e.store.IdentityByExternalID(ctx, externalID)
	if err != nil {
		return nil, storeError(err)
	}
	return identity, nil
}

// activeIdentity is identityByExternalID plus a status check. A suspended
// or banned identity gets a failed eventType event naming operation before
// the account state error is returned.
func (e *Engine) activeIdentity(ctx context.Context, externalID string, eventType EventType, operation string) (*Identity, error) {
	identity, err := e.identityByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if err := statusError(identity.Status); err != nil {
		return nil, e.accountStateRejected(ctx, identity, eventType, operation, err)
	}
	return identity, nil
}

func (e *Engine) accountStateRejected(ctx context.Context, identity *Identity, eventType EventType, operation string, result error) error {
	if err := e.recordEvent(ctx, eventType, false, identity, "", result, map[string]string{
		"operation": operation,
		"reason":    "account_" + string(identity.Status),
	}); err != nil {
		return err
	}
	return result
}

func statusError(status IdentityStatus) error {
	switch status {
	case StatusSuspended:
		return ErrAccountSuspended
	case StatusBanned:
		return ErrAccountBanned
	}
	return nil
}

// storeError passes store sentinels through and wraps everything else.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrIdentityNotFound),
		errors.Is(err, ErrEmailTaken),
		errors.Is(err, ErrSecondFactorAlreadyEnabled),
		errors.Is(err, ErrSecondFactorNotPending),
		errors.Is(err, ErrSecondFactorNotEnabled),
		errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func viewOf(identity *Identity) IdentityView {
	return IdentityView{
		ExternalID:          identity.ExternalID,
		Email:               identity.Email,
		Role:                identity.Role,
		Status:              identity.Status,
		SecondFactorEnabled: identity.SecondFactorEnabled,
		CreatedAt:           identity.CreatedAt,
		LastLoginAt:         identity.LastLoginAt,
	}
}

// GetIdentity returns the caller-safe view of an identity.
func (e *Engine) GetIdentity(ctx context.Context, externalID string) (*IdentityView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	identity, err := e.identityByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}
	view := viewOf(identity)
	return &view, nil
}
