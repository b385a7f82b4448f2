package hostauth

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/hostauth/password"
)

func TestLoginPasswordOnly(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")

	ctx := WithClientIP(context.Background(), "198.51.100.1")
	res, err := te.Login(ctx, LoginRequest{Email: "ALICE@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.SecondFactorRequired || res.Auth == nil || res.Auth.Token == "" {
		t.Fatalf("expected completed login, got %+v", res)
	}
	if res.Auth.Identity.ExternalID != reg.Identity.ExternalID {
		t.Fatal("login returned the wrong identity")
	}

	stored := te.store.snapshot(reg.Identity.ExternalID)
	if stored.LastLoginAt == nil || stored.LastLoginIP != "198.51.100.1" {
		t.Fatalf("last login not recorded: %+v", stored)
	}

	events := te.store.eventsOf(EventLoginSuccess)
	if len(events) != 1 || events[0].Detail["method"] != "password" {
		t.Fatalf("unexpected login_success events: %+v", events)
	}
}

func TestLoginUnknownEmailIsGeneric(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	te.register(t, "alice@example.com", "password123")

	_, unknownErr := te.Login(context.Background(), LoginRequest{Email: "nobody@example.com", Password: "password123"})
	_, wrongErr := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "wrong-password"})

	if !errors.Is(unknownErr, ErrInvalidCredentials) || !errors.Is(wrongErr, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", unknownErr, wrongErr)
	}
	if unknownErr.Error() != wrongErr.Error() {
		t.Fatalf("unknown email must be indistinguishable: %q vs %q", unknownErr, wrongErr)
	}

	failed := te.store.eventsOf(EventLoginFailed)
	if len(failed) != 2 {
		t.Fatalf("expected two login_failed events, got %d", len(failed))
	}
	if failed[0].IdentityID != nil || failed[0].Detail["reason"] != "unknown_email" {
		t.Fatalf("unknown email event: %+v", failed[0])
	}
	if failed[1].IdentityID == nil || failed[1].Detail["reason"] != "invalid_password" {
		t.Fatalf("wrong password event: %+v", failed[1])
	}
	if got := te.MetricsSnapshot().Counters[MetricLoginFailure]; got != 2 {
		t.Fatalf("login failure metric = %d", got)
	}
}

func TestLoginAccountState(t *testing.T) {
	for _, tc := range []struct {
		status IdentityStatus
		want   error
	}{
		{StatusBanned, ErrAccountBanned},
		{StatusSuspended, ErrAccountSuspended},
	} {
		t.Run(string(tc.status), func(t *testing.T) {
			te := newTestEngine(t, engineTestConfig(t))
			reg := te.register(t, "alice@example.com", "password123")
			te.store.setStatus(reg.Identity.ExternalID, tc.status)

			_, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "password123"})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if errors.Is(err, ErrInvalidCredentials) || !IsAccountState(err) {
				t.Fatalf("expected an account state error, got %v", err)
			}
			failed := te.store.eventsOf(EventLoginFailed)
			if len(failed) != 1 || failed[0].Detail["reason"] != "account_"+string(tc.status) {
				t.Fatalf("unexpected login_failed events: %+v", failed)
			}
			if len(te.store.eventsOf(EventLoginSuccess)) != 0 {
				t.Fatal("no login_success may be recorded")
			}
		})
	}
}

func TestLoginRequiresSecondFactorWithoutToken(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")
	te.enroll(t, reg.Identity.ExternalID)
	sessionsBefore := len(te.store.sessions)

	res, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "password123"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !res.SecondFactorRequired || res.Auth != nil {
		t.Fatalf("expected second factor required without auth, got %+v", res)
	}
	if len(te.store.sessions) != sessionsBefore {
		t.Fatal("no session may be issued before the second factor")
	}
	if len(te.store.eventsOf(EventLoginFailed)) != 0 {
		t.Fatal("second factor required is not a failure")
	}
	if got := te.MetricsSnapshot().Counters[MetricLoginSecondFactorRequired]; got != 1 {
		t.Fatalf("second factor required metric = %d", got)
	}
}

func TestLoginWrongThenCorrectTOTP(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")
	secret, _ := te.enroll(t, reg.Identity.ExternalID)

	good := te.totpCode(t, secret)
	bad := "000000"
	if bad == good {
		bad = "111111"
	}

	_, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "password123", SecondFactorCode: bad})
	if !errors.Is(err, ErrSecondFactorInvalid) {
		t.Fatalf("expected ErrSecondFactorInvalid, got %v", err)
	}
	failed := te.store.eventsOf(EventLoginFailed)
	if len(failed) != 1 || failed[0].Detail["reason"] != "invalid_code" {
		t.Fatalf("unexpected login_failed events: %+v", failed)
	}

	res, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "password123", SecondFactorCode: good})
	if err != nil {
		t.Fatalf("Login with correct code: %v", err)
	}
	if res.Auth == nil || res.RecoveryCodeUsed {
		t.Fatalf("expected TOTP login, got %+v", res)
	}
	success := te.store.eventsOf(EventLoginSuccess)
	if len(success) != 1 || success[0].Detail["method"] != "totp" {
		t.Fatalf("unexpected login_success events: %+v", success)
	}
}

func TestLoginRejectsReplayedTOTP(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")
	secret, _ := te.enroll(t, reg.Identity.ExternalID)

	code := te.totpCode(t, secret)
	req := LoginRequest{Email: "alice@example.com", Password: "password123", SecondFactorCode: code}
	if _, err := te.Login(context.Background(), req); err != nil {
		t.Fatalf("first Login: %v", err)
	}
	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrSecondFactorInvalid) {
		t.Fatalf("expected replay rejection, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricTOTPReplayRejected]; got != 1 {
		t.Fatalf("replay metric = %d", got)
	}

	te.nextStep()
	req.SecondFactorCode = te.totpCode(t, secret)
	if _, err := te.Login(context.Background(), req); err != nil {
		t.Fatalf("Login with next step: %v", err)
	}
}

func TestLoginEnrollmentCodeCannotBeReused(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")
	ctx := context.Background()

	setup, err := te.SetupSecondFactor(ctx, reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("SetupSecondFactor: %v", err)
	}
	code := te.totpCode(t, setup.Secret)
	if _, err := te.EnableSecondFactor(ctx, reg.Identity.ExternalID, code); err != nil {
		t.Fatalf("EnableSecondFactor: %v", err)
	}

	_, err = te.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "password123", SecondFactorCode: code})
	if !errors.Is(err, ErrSecondFactorInvalid) {
		t.Fatalf("expected the enrollment code to be spent, got %v", err)
	}
}

func TestLoginWithRecoveryCode(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	reg := te.register(t, "alice@example.com", "password123")
	_, codes := te.enroll(t, reg.Identity.ExternalID)

	req := LoginRequest{Email: "alice@example.com", Password: "password123", SecondFactorCode: codes[0]}
	res, err := te.Login(context.Background(), req)
	if err != nil {
		t.Fatalf("Login with recovery code: %v", err)
	}
	if !res.RecoveryCodeUsed || res.Auth == nil {
		t.Fatalf("expected recovery login, got %+v", res)
	}

	used := te.store.eventsOf(EventRecoveryCodeUsed)
	if len(used) != 1 || used[0].Detail["context"] != "login" {
		t.Fatalf("unexpected recovery_code_used events: %+v", used)
	}
	success := te.store.eventsOf(EventLoginSuccess)
	if len(success) != 1 || success[0].Detail["method"] != "recovery_code" {
		t.Fatalf("unexpected login_success events: %+v", success)
	}

	if _, err := te.Login(context.Background(), req); !errors.Is(err, ErrSecondFactorInvalid) {
		t.Fatalf("expected second use to fail, got %v", err)
	}

	status, err := te.SecondFactorStatus(context.Background(), reg.Identity.ExternalID)
	if err != nil {
		t.Fatalf("SecondFactorStatus: %v", err)
	}
	if status.RecoveryCodesRemaining != 7 {
		t.Fatalf("expected 7 remaining codes, got %d", status.RecoveryCodesRemaining)
	}
}

func TestLoginEventWriteFailureIsFatal(t *testing.T) {
	te := newTestEngine(t, engineTestConfig(t))
	te.register(t, "alice@example.com", "password123")
	te.store.failEvents = true

	_, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "wrong-password"})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestLoginUpgradesWeakHash(t *testing.T) {
	cfg := engineTestConfig(t)
	te := newTestEngine(t, cfg)
	reg := te.register(t, "alice@example.com", "password123")

	// Raise the primary profile after the hash was written.
	stronger := cfg.Password.Primary
	stronger.Time = 2
	upgraded, err := password.NewArgon2(stronger)
	if err != nil {
		t.Fatalf("NewArgon2: %v", err)
	}
	te.passwords = upgraded
	before := te.store.snapshot(reg.Identity.ExternalID).PasswordHash

	if _, err := te.Login(context.Background(), LoginRequest{Email: "alice@example.com", Password: "password123"}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	after := te.store.snapshot(reg.Identity.ExternalID).PasswordHash
	if after == before {
		t.Fatal("expected the stored hash to be upgraded")
	}
	if !upgraded.Verify("password123", after) {
		t.Fatal("upgraded hash must verify")
	}
}

func TestLoginNewAddressNotifies(t *testing.T) {
	notifier := &recordingNotifier{}
	te := newTestEngine(t, engineTestConfig(t), func(b *Builder) { b.WithNotifier(notifier) })
	te.register(t, "alice@example.com", "password123")
	req := LoginRequest{Email: "alice@example.com", Password: "password123"}

	for _, ip := range []string{"198.51.100.1", "198.51.100.1", "192.0.2.44"} {
		if _, err := te.Login(WithClientIP(context.Background(), ip), req); err != nil {
			t.Fatalf("Login from %s: %v", ip, err)
		}
	}
	te.notifyWG.Wait()

	kinds := notifier.kinds()
	if len(kinds) != 1 || kinds[0] != NotifyNewLogin {
		t.Fatalf("expected one new-login notification, got %v", kinds)
	}
}
