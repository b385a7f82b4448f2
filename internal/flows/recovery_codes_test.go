package flows

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/MrEthical07/hostauth/password"
)

var recoveryCodeFormat = regexp.MustCompile(`^[0-9A-F]{4}-[0-9A-F]{4}$`)

type memoryRecoveryCodes struct {
	mu      sync.Mutex
	nextID  int64
	records map[int64]string
	used    map[int64]bool
}

func newMemoryRecoveryCodes(hashes []string) *memoryRecoveryCodes {
	m := &memoryRecoveryCodes{records: map[int64]string{}, used: map[int64]bool{}}
	for _, h := range hashes {
		m.nextID++
		m.records[m.nextID] = h
	}
	return m
}

func (m *memoryRecoveryCodes) listUnused(context.Context, int64) ([]RecoveryCodeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecoveryCodeRecord, 0, len(m.records))
	for id := int64(1); id <= m.nextID; id++ {
		if h, ok := m.records[id]; ok && !m.used[id] {
			out = append(out, RecoveryCodeRecord{ID: id, Hash: h})
		}
	}
	return out, nil
}

func (m *memoryRecoveryCodes) markUsed(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.used[id] {
		return false, nil
	}
	m.used[id] = true
	return true, nil
}

func cheapHasher(t *testing.T) *password.Argon2 {
	t.Helper()
	h, err := password.NewArgon2(password.Config{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	})
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	return h
}

func recoveryDeps(t *testing.T, store *memoryRecoveryCodes) RecoveryCodeDeps {
	h := cheapHasher(t)
	return RecoveryCodeDeps{
		HashParallelism: 4,
		HashCode: func(_ context.Context, canonical string) (string, error) {
			return h.Hash(canonical)
		},
		VerifyCode: func(_ context.Context, canonical, hash string) (bool, error) {
			return h.Verify(canonical, hash), nil
		},
		ListUnused: store.listUnused,
		MarkUsed:   store.markUsed,
		Metrics: RecoveryCodeMetrics{
			RecoveryCodeUsed:   1,
			RecoveryCodeFailed: 2,
		},
	}
}

func TestGenerateRecoveryCodesShape(t *testing.T) {
	deps := recoveryDeps(t, newMemoryRecoveryCodes(nil))
	got, err := RunGenerateRecoveryCodes(context.Background(), deps)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(got.Plain) != RecoveryCodeCount || len(got.Hashes) != RecoveryCodeCount {
		t.Fatalf("expected %d codes, got %d/%d", RecoveryCodeCount, len(got.Plain), len(got.Hashes))
	}

	seen := map[string]bool{}
	h := cheapHasher(t)
	for i, code := range got.Plain {
		if !recoveryCodeFormat.MatchString(code) {
			t.Fatalf("code %q does not match XXXX-XXXX", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q", code)
		}
		seen[code] = true
		canonical, _ := CanonicalizeRecoveryCode(code)
		if !h.Verify(canonical, got.Hashes[i]) {
			t.Fatalf("hash %d does not match its code", i)
		}
		if got.Hashes[i] == canonical {
			t.Fatal("hash must not be the plaintext")
		}
	}
}

func TestGenerateRecoveryCodesRetriesDuplicates(t *testing.T) {
	deps := recoveryDeps(t, newMemoryRecoveryCodes(nil))
	var calls atomic.Int32
	deps.RandomBytes = func(b []byte) error {
		n := calls.Add(1)
		// every value is drawn twice in a row
		v := byte((n + 1) / 2)
		for i := range b {
			b[i] = v
		}
		return nil
	}

	got, err := RunGenerateRecoveryCodes(context.Background(), deps)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got.Plain[0] != "0101-0101" || got.Plain[1] != "0202-0202" {
		t.Fatalf("unexpected codes %v", got.Plain[:2])
	}
}

func TestGenerateRecoveryCodesRandomFailure(t *testing.T) {
	unavailable := errors.New("unavailable")
	deps := recoveryDeps(t, newMemoryRecoveryCodes(nil))
	deps.Errors.Unavailable = unavailable
	deps.RandomBytes = func([]byte) error { return errors.New("entropy") }

	if _, err := RunGenerateRecoveryCodes(context.Background(), deps); !errors.Is(err, unavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestConsumeRecoveryCodeSingleUse(t *testing.T) {
	deps := recoveryDeps(t, newMemoryRecoveryCodes(nil))
	got, err := RunGenerateRecoveryCodes(context.Background(), deps)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	store := newMemoryRecoveryCodes(got.Hashes)
	deps.ListUnused = store.listUnused
	deps.MarkUsed = store.markUsed

	var counts [3]int
	deps.MetricInc = func(id int) { counts[id]++ }

	// lower case, spaces and missing hyphen are all accepted
	input := " " + strings.ToLower(got.Plain[3][:4]) + " " + got.Plain[3][5:] + " "
	ok, err := RunConsumeRecoveryCode(context.Background(), 1, input, deps)
	if err != nil || !ok {
		t.Fatalf("first use ok=%v err=%v", ok, err)
	}
	ok, err = RunConsumeRecoveryCode(context.Background(), 1, got.Plain[3], deps)
	if err != nil || ok {
		t.Fatalf("second use must fail, ok=%v err=%v", ok, err)
	}
	if counts[1] != 1 || counts[2] != 1 {
		t.Fatalf("unexpected metrics %v", counts)
	}

	remaining, _ := store.listUnused(context.Background(), 1)
	if len(remaining) != RecoveryCodeCount-1 {
		t.Fatalf("expected %d unused, got %d", RecoveryCodeCount-1, len(remaining))
	}
}

func TestConsumeRecoveryCodeConcurrentSingleWinner(t *testing.T) {
	deps := recoveryDeps(t, newMemoryRecoveryCodes(nil))
	got, err := RunGenerateRecoveryCodes(context.Background(), deps)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	store := newMemoryRecoveryCodes(got.Hashes)
	deps.ListUnused = store.listUnused
	deps.MarkUsed = store.markUsed

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := RunConsumeRecoveryCode(context.Background(), 1, got.Plain[0], deps)
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestConsumeRecoveryCodeRejectsMalformed(t *testing.T) {
	store := newMemoryRecoveryCodes([]string{"unused"})
	deps := recoveryDeps(t, store)
	listed := false
	deps.ListUnused = func(context.Context, int64) ([]RecoveryCodeRecord, error) {
		listed = true
		return nil, nil
	}

	for _, code := range []string{"", "ABCD-EFG", "ABCD-EFGH", "123456", "ABCD-EF012"} {
		ok, err := RunConsumeRecoveryCode(context.Background(), 1, code, deps)
		if err != nil || ok {
			t.Fatalf("code %q: ok=%v err=%v", code, ok, err)
		}
	}
	if listed {
		t.Fatal("malformed codes must not reach the store")
	}
}

func TestCanonicalizeRecoveryCode(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"abcd-1234", "ABCD1234", true},
		{"ABCD1234", "ABCD1234", true},
		{" ab cd-12 34 ", "ABCD1234", true},
		{"abcd-123", "", false},
		{"wxyz-1234", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, ok := CanonicalizeRecoveryCode(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("CanonicalizeRecoveryCode(%q) = %q,%v want %q,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if FormatRecoveryCode("ABCD1234") != "ABCD-1234" {
		t.Fatal("format mismatch")
	}
}
