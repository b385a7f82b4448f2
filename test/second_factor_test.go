//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/hostauth"
)

var recoveryCodeShape = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

func TestSecondFactorLoginFlow(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "hana@example.com", "a long passphrase")
	secret, codes := h.enroll(t, reg.Identity.ExternalID)

	if len(codes) != 8 {
		t.Fatalf("codes = %d", len(codes))
	}
	seen := map[string]bool{}
	for _, c := range codes {
		if !recoveryCodeShape.MatchString(c) || seen[c] {
			t.Fatalf("bad or duplicate code %q", c)
		}
		seen[c] = true
	}

	ctx := clientCtx("198.51.100.1")
	req := hostauth.LoginRequest{Email: "hana@example.com", Password: "a long passphrase"}

	res, err := h.engine.Login(ctx, req)
	if err != nil || !res.SecondFactorRequired || res.Auth != nil {
		t.Fatalf("login without code: %+v, %v", res, err)
	}

	req.SecondFactorCode = "000000"
	if h.totp(t, secret) == "000000" {
		req.SecondFactorCode = "999999"
	}
	if _, err := h.engine.Login(ctx, req); !errors.Is(err, hostauth.ErrSecondFactorInvalid) {
		t.Fatalf("wrong code: %v", err)
	}

	req.SecondFactorCode = h.totp(t, secret)
	res, err = h.engine.Login(ctx, req)
	if err != nil || res.Auth == nil || res.RecoveryCodeUsed {
		t.Fatalf("totp login: %+v, %v", res, err)
	}

	if _, err := h.engine.Login(ctx, req); !errors.Is(err, hostauth.ErrSecondFactorInvalid) {
		t.Fatalf("replayed code: %v", err)
	}

	h.clock.Advance(time.Duration(h.cfg.SecondFactor.Period) * time.Second)
	req.SecondFactorCode = h.totp(t, secret)
	if _, err := h.engine.Login(ctx, req); err != nil {
		t.Fatalf("next step: %v", err)
	}

	if snap := h.engine.MetricsSnapshot(); snap.Counters[hostauth.MetricTOTPReplayRejected] == 0 {
		t.Fatalf("replay metric not counted: %+v", snap.Counters)
	}
}

func TestRecoveryCodeIsSingleUse(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "ivan@example.com", "a long passphrase")
	_, codes := h.enroll(t, reg.Identity.ExternalID)

	const n = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.engine.Login(clientCtx("198.51.100.1"), hostauth.LoginRequest{
				Email:            "ivan@example.com",
				Password:         "a long passphrase",
				SecondFactorCode: codes[0],
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.RecoveryCodeUsed:
				successes++
			case errors.Is(err, hostauth.ErrSecondFactorInvalid):
				rejected++
			default:
				t.Errorf("unexpected result %+v, %v", res, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || rejected != n-1 {
		t.Fatalf("successes=%d rejected=%d", successes, rejected)
	}

	st, err := h.engine.SecondFactorStatus(context.Background(), reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Enabled || st.RecoveryCodesRemaining != 7 {
		t.Fatalf("status = %+v", st)
	}
	if got := countOf(h.eventTypes(t, reg.Identity.ExternalID), hostauth.EventRecoveryCodeUsed); got != 1 {
		t.Fatalf("recovery_code_used events = %d", got)
	}

	// lower case and without the dash still matches
	lower := []byte(codes[1][:4] + codes[1][5:])
	for i, c := range lower {
		if c >= 'A' && c <= 'Z' {
			lower[i] = c + 'a' - 'A'
		}
	}
	res, err := h.engine.Login(clientCtx("198.51.100.1"), hostauth.LoginRequest{
		Email:            "ivan@example.com",
		Password:         "a long passphrase",
		SecondFactorCode: string(lower),
	})
	if err != nil || !res.RecoveryCodeUsed {
		t.Fatalf("canonicalized code: %+v, %v", res, err)
	}
}

func TestRegenerateInvalidatesOldCodes(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "jade@example.com", "a long passphrase")
	secret, old := h.enroll(t, reg.Identity.ExternalID)
	ctx := clientCtx("198.51.100.1")

	if _, err := h.engine.RegenerateRecoveryCodes(ctx, reg.Identity.ExternalID, "wrong passphrase", h.totp(t, secret)); !errors.Is(err, hostauth.ErrInvalidCredentials) {
		t.Fatalf("wrong password: %v", err)
	}

	fresh, err := h.engine.RegenerateRecoveryCodes(ctx, reg.Identity.ExternalID, "a long passphrase", h.totp(t, secret))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if len(fresh.Codes) != 8 {
		t.Fatalf("fresh codes = %d", len(fresh.Codes))
	}

	h.clock.Advance(time.Duration(h.cfg.SecondFactor.Period) * time.Second)
	login := hostauth.LoginRequest{Email: "jade@example.com", Password: "a long passphrase", SecondFactorCode: old[0]}
	if _, err := h.engine.Login(ctx, login); !errors.Is(err, hostauth.ErrSecondFactorInvalid) {
		t.Fatalf("old code after regenerate: %v", err)
	}
	login.SecondFactorCode = fresh.Codes[0]
	if _, err := h.engine.Login(ctx, login); err != nil {
		t.Fatalf("fresh code: %v", err)
	}

	types := h.eventTypes(t, reg.Identity.ExternalID)
	if countOf(types, hostauth.EventRecoveryCodesRegenerated) != 1 || countOf(types, hostauth.EventSecondFactorVerifyFailed) != 1 {
		t.Fatalf("events = %v", types)
	}
}

func TestDisableSecondFactor(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "kai@example.com", "a long passphrase")
	_, codes := h.enroll(t, reg.Identity.ExternalID)
	ctx := clientCtx("198.51.100.1")

	if err := h.engine.DisableSecondFactor(ctx, reg.Identity.ExternalID, "a long passphrase", "123"); !errors.Is(err, hostauth.ErrSecondFactorInvalid) {
		t.Fatalf("bad code: %v", err)
	}
	if err := h.engine.DisableSecondFactor(ctx, reg.Identity.ExternalID, "a long passphrase", codes[3]); err != nil {
		t.Fatalf("disable with recovery code: %v", err)
	}

	st, err := h.engine.SecondFactorStatus(ctx, reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Enabled || st.Pending || st.RecoveryCodesRemaining != 0 {
		t.Fatalf("status = %+v", st)
	}
	remaining, err := h.store.UnusedRecoveryCodes(ctx, mustIdentityID(t, h, reg.Identity.ExternalID))
	if err != nil || len(remaining) != 0 {
		t.Fatalf("codes left after disable: %d, %v", len(remaining), err)
	}

	res, err := h.engine.Login(ctx, hostauth.LoginRequest{Email: "kai@example.com", Password: "a long passphrase"})
	if err != nil || res.SecondFactorRequired {
		t.Fatalf("login after disable: %+v, %v", res, err)
	}
	if err := h.engine.DisableSecondFactor(ctx, reg.Identity.ExternalID, "a long passphrase", codes[4]); !errors.Is(err, hostauth.ErrSecondFactorNotEnabled) {
		t.Fatalf("second disable: %v", err)
	}

	h.engine.Close()
	kinds := h.notifier.kinds()
	if countOf(kinds, hostauth.NotifySecondFactorEnabled) != 1 || countOf(kinds, hostauth.NotifySecondFactorDisabled) != 1 {
		t.Fatalf("notifications = %v", kinds)
	}
}

func TestSetupStateConflicts(t *testing.T) {
	h := newHarness(t)
	reg := h.register(t, "lena@example.com", "a long passphrase")
	ctx := clientCtx("198.51.100.1")

	if _, err := h.engine.EnableSecondFactor(ctx, reg.Identity.ExternalID, "123456"); !errors.Is(err, hostauth.ErrSecondFactorNotPending) {
		t.Fatalf("enable before setup: %v", err)
	}

	first, err := h.engine.SetupSecondFactor(ctx, reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	second, err := h.engine.SetupSecondFactor(ctx, reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("second setup: %v", err)
	}
	if first.Secret == second.Secret {
		t.Fatal("setup should issue a fresh secret")
	}
	st, _ := h.engine.SecondFactorStatus(ctx, reg.Identity.ExternalID)
	if st.Enabled || !st.Pending {
		t.Fatalf("pending status = %+v", st)
	}

	if _, err := h.engine.EnableSecondFactor(ctx, reg.Identity.ExternalID, h.totp(t, first.Secret)); !errors.Is(err, hostauth.ErrSecondFactorInvalid) {
		t.Fatalf("code for replaced secret: %v", err)
	}
	if _, err := h.engine.EnableSecondFactor(ctx, reg.Identity.ExternalID, h.totp(t, second.Secret)); err != nil {
		t.Fatalf("enable: %v", err)
	}
	if _, err := h.engine.SetupSecondFactor(ctx, reg.Identity.ExternalID); !errors.Is(err, hostauth.ErrSecondFactorAlreadyEnabled) {
		t.Fatalf("setup when enabled: %v", err)
	}
}

func mustIdentityID(t *testing.T, h *harness, externalID string) int64 {
	t.Helper()
	id, err := h.store.IdentityByExternalID(context.Background(), externalID)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	return id.ID
}
