package hostauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/hostauth/password"
)

// memoryStore is a CredentialStore held in maps. Conditional updates hold
// the mutex for their whole check-and-set.
type memoryStore struct {
	mu sync.Mutex

	identities map[int64]*Identity
	profiles   map[int64]map[string]string
	codes      map[int64]*RecoveryCode
	events     []SecurityEvent
	sessions   map[string]*SessionRecord

	failEvents bool
	failLookup error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		identities: make(map[int64]*Identity),
		profiles:   make(map[int64]map[string]string),
		codes:      make(map[int64]*RecoveryCode),
		sessions:   make(map[string]*SessionRecord),
	}
}

func (s *memoryStore) CreateIdentity(_ context.Context, identity Identity, profile map[string]string, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.identities {
		if existing.Email == identity.Email {
			return ErrEmailTaken
		}
	}
	if s.failEvents {
		return errors.New("event log down")
	}
	cp := identity
	s.identities[identity.ID] = &cp
	s.profiles[identity.ID] = profile
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) IdentityByEmail(_ context.Context, email string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup != nil {
		return nil, s.failLookup
	}
	for _, identity := range s.identities {
		if identity.Email == email {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *memoryStore) IdentityByExternalID(_ context.Context, externalID string) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failLookup != nil {
		return nil, s.failLookup
	}
	for _, identity := range s.identities {
		if identity.ExternalID == externalID {
			cp := *identity
			return &cp, nil
		}
	}
	return nil, ErrIdentityNotFound
}

func (s *memoryStore) identity(id int64) (*Identity, error) {
	identity, ok := s.identities[id]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return identity, nil
}

func (s *memoryStore) UpdatePasswordHash(_ context.Context, identityID int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return err
	}
	identity.PasswordHash = hash
	return nil
}

func (s *memoryStore) RecordLogin(_ context.Context, identityID int64, at time.Time, originAddress string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return err
	}
	identity.LastLoginAt = &at
	identity.LastLoginIP = originAddress
	return nil
}

func (s *memoryStore) SetPendingSecondFactor(_ context.Context, identityID int64, sealed string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return err
	}
	if identity.SecondFactorEnabled {
		return ErrSecondFactorAlreadyEnabled
	}
	identity.SecondFactorSecret = sealed
	return nil
}

func (s *memoryStore) EnableSecondFactor(_ context.Context, identityID int64, sealed string, step int64, codes []RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return err
	}
	if identity.SecondFactorEnabled || sealed == "" || identity.SecondFactorSecret != sealed {
		return ErrSecondFactorNotPending
	}
	identity.SecondFactorEnabled = true
	if step > identity.SecondFactorLastStep {
		identity.SecondFactorLastStep = step
	}
	s.replaceCodesLocked(identityID, codes)
	return nil
}

func (s *memoryStore) DisableSecondFactor(_ context.Context, identityID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return err
	}
	identity.SecondFactorEnabled = false
	identity.SecondFactorSecret = ""
	identity.SecondFactorLastStep = 0
	s.replaceCodesLocked(identityID, nil)
	return nil
}

func (s *memoryStore) AdvanceSecondFactorStep(_ context.Context, identityID int64, step int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	identity, err := s.identity(identityID)
	if err != nil {
		return false, err
	}
	if step <= identity.SecondFactorLastStep {
		return false, nil
	}
	identity.SecondFactorLastStep = step
	return true, nil
}

func (s *memoryStore) UnusedRecoveryCodes(_ context.Context, identityID int64) ([]RecoveryCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []RecoveryCode
	for _, c := range s.codes {
		if c.IdentityID == identityID && c.UsedAt == nil {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) ReplaceRecoveryCodes(_ context.Context, identityID int64, codes []RecoveryCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceCodesLocked(identityID, codes)
	return nil
}

func (s *memoryStore) replaceCodesLocked(identityID int64, codes []RecoveryCode) {
	for id, c := range s.codes {
		if c.IdentityID == identityID {
			delete(s.codes, id)
		}
	}
	for _, c := range codes {
		cp := c
		s.codes[c.ID] = &cp
	}
}

func (s *memoryStore) MarkRecoveryCodeUsed(_ context.Context, codeID int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.codes[codeID]
	if !ok || c.UsedAt != nil {
		return false, nil
	}
	c.UsedAt = &at
	return true, nil
}

func (s *memoryStore) AppendSecurityEvent(_ context.Context, event SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEvents {
		return errors.New("event log down")
	}
	s.events = append(s.events, event)
	return nil
}

func (s *memoryStore) ListSecurityEvents(_ context.Context, identityID int64, limit int) ([]SecurityEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SecurityEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		ev := s.events[i]
		if ev.IdentityID != nil && *ev.IdentityID == identityID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memoryStore) CreateSessionRecord(_ context.Context, record SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := record
	s.sessions[record.ID] = &cp
	return nil
}

func (s *memoryStore) ListSessionRecords(_ context.Context, identityID int64) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SessionRecord
	for _, r := range s.sessions {
		if r.IdentityID == identityID {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *memoryStore) RevokeSessionRecord(_ context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.sessions[sessionID]; ok && r.RevokedAt == nil {
		r.RevokedAt = &at
	}
	return nil
}

func (s *memoryStore) RevokeSessionRecords(_ context.Context, identityID int64, at time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var revoked []string
	for id, r := range s.sessions {
		if r.IdentityID == identityID && r.RevokedAt == nil {
			r.RevokedAt = &at
			revoked = append(revoked, id)
		}
	}
	return revoked, nil
}

func (s *memoryStore) Ping(context.Context) error { return nil }

// eventsOf returns the recorded events of type t in write order.
func (s *memoryStore) eventsOf(t EventType) []SecurityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []SecurityEvent
	for _, ev := range s.events {
		if ev.EventType == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *memoryStore) setStatus(externalID string, status IdentityStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.ExternalID == externalID {
			identity.Status = status
		}
	}
}

func (s *memoryStore) snapshot(externalID string) Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, identity := range s.identities {
		if identity.ExternalID == externalID {
			return *identity
		}
	}
	return Identity{}
}

// stepClock is a settable clock starting at the current second.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Now().Truncate(time.Second)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// cheapArgon2 keeps tests fast while staying above the enforced minimums.
func cheapArgon2() password.Config {
	return password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func testSealingKeys(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return "k1:" + base64.StdEncoding.EncodeToString(key)
}

func engineTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Password.Primary = cheapArgon2()
	cfg.Password.Recovery = cheapArgon2()
	cfg.SecondFactor.Issuer = "Acme Hosting"
	cfg.SecondFactor.SealingKeys = testSealingKeys(t)
	cfg.Session.PrivateKey = []byte("01234567890123456789012345678901")
	cfg.Workers.Size = 2
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

type testEngine struct {
	*Engine
	store *memoryStore
	redis *miniredis.Miniredis
	clock *stepClock
}

type engineOption func(*Builder)

func newTestEngine(t *testing.T, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemoryStore()
	clock := newStepClock()

	b := New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(engine.Close)

	return &testEngine{Engine: engine, store: store, redis: mr, clock: clock}
}

// register creates alice and returns the auth result.
func (te *testEngine) register(t *testing.T, email, pw string) *AuthResult {
	t.Helper()
	res, err := te.Register(context.Background(), RegisterRequest{Email: email, Password: pw})
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

// totpCode computes the current code for a base32 secret at the engine's
// clock.
func (te *testEngine) totpCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := TOTPCode(te.config.SecondFactor, secret, te.clock.Now())
	if err != nil {
		t.Fatalf("TOTPCode: %v", err)
	}
	return code
}

// enroll runs setup and enable for externalID and returns the secret and
// the first recovery code batch. The clock is moved one period past the
// accepted step so the next code is fresh.
func (te *testEngine) enroll(t *testing.T, externalID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	setup, err := te.SetupSecondFactor(ctx, externalID)
	if err != nil {
		t.Fatalf("SetupSecondFactor: %v", err)
	}
	codes, err := te.EnableSecondFactor(ctx, externalID, te.totpCode(t, setup.Secret))
	if err != nil {
		t.Fatalf("EnableSecondFactor: %v", err)
	}
	te.nextStep()
	return setup.Secret, codes.Codes
}

func (te *testEngine) nextStep() {
	te.clock.Advance(time.Duration(te.config.SecondFactor.Period) * time.Second)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) kinds() []NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NotificationKind, 0, len(n.sent))
	for _, msg := range n.sent {
		out = append(out, msg.Kind)
	}
	return out
}
