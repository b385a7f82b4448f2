//go:build integration
// +build integration

package test

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/hostauth"
	"github.com/MrEthical07/hostauth/password"
	"github.com/MrEthical07/hostauth/store/sqlstore"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []hostauth.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note hostauth.Notification) error {
	n.mu.Lock()
	n.sent = append(n.sent, note)
	n.mu.Unlock()
	return nil
}

func (n *recordingNotifier) kinds() []hostauth.NotificationKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]hostauth.NotificationKind, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Kind)
	}
	return out
}

type harness struct {
	engine   *hostauth.Engine
	store    *sqlstore.Store
	redis    *miniredis.Miniredis
	cfg      hostauth.Config
	clock    *fakeClock
	notifier *recordingNotifier
	audit    *hostauth.ChannelSink
}

type harnessOption func(*hostauth.Config)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()

	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "it.db")})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	cheap := password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg := hostauth.DefaultConfig()
	cfg.Password.Primary = cheap
	cfg.Password.Recovery = cheap
	cfg.SecondFactor.Issuer = "Acme Hosting"
	cfg.SecondFactor.SealingKeys = "it1:" + base64.StdEncoding.EncodeToString([]byte(strings.Repeat("q", 32)))
	cfg.Session.PrivateKey = []byte(strings.Repeat("z", 32))
	cfg.Workers.Size = 4
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	cfg.Notifications.Timeout = time.Second
	for _, opt := range opts {
		opt(&cfg)
	}

	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	sink := hostauth.NewChannelSink(256)

	engine, err := hostauth.New().
		WithConfig(cfg).
		WithStore(store).
		WithRedis(rdb).
		WithClock(clock.Now).
		WithNotifier(notifier).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)

	return &harness{
		engine:   engine,
		store:    store,
		redis:    mr,
		cfg:      cfg,
		clock:    clock,
		notifier: notifier,
		audit:    sink,
	}
}

func clientCtx(ip string) context.Context {
	ctx := hostauth.WithClientIP(context.Background(), ip)
	return hostauth.WithUserAgent(ctx, "integration/1.0")
}

func (h *harness) register(t *testing.T, email, pw string) *hostauth.AuthResult {
	t.Helper()
	res, err := h.engine.Register(clientCtx("198.51.100.1"), hostauth.RegisterRequest{Email: email, Password: pw})
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	return res
}

func (h *harness) totp(t *testing.T, secret string) string {
	t.Helper()
	code, err := hostauth.TOTPCode(h.cfg.SecondFactor, secret, h.clock.Now())
	if err != nil {
		t.Fatalf("totp: %v", err)
	}
	return code
}

// enroll runs setup and enable for externalID and returns the secret and
// first recovery code batch. The clock is moved one period forward so the
// next code is not a replay of the enabling one.
func (h *harness) enroll(t *testing.T, externalID string) (string, []string) {
	t.Helper()
	ctx := clientCtx("198.51.100.1")
	setup, err := h.engine.SetupSecondFactor(ctx, externalID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	codes, err := h.engine.EnableSecondFactor(ctx, externalID, h.totp(t, setup.Secret))
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	h.clock.Advance(time.Duration(h.cfg.SecondFactor.Period) * time.Second)
	return setup.Secret, codes.Codes
}

func (h *harness) eventTypes(t *testing.T, externalID string) []hostauth.EventType {
	t.Helper()
	events, err := h.engine.ListSecurityEvents(context.Background(), externalID, 100)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	out := make([]hostauth.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func countOf[T comparable](xs []T, x T) int {
	n := 0
	for _, v := range xs {
		if v == x {
			n++
		}
	}
	return n
}
