package flows

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"

	"golang.org/x/sync/errgroup"
)

// RecoveryCodeCount is the size of every issued batch.
const RecoveryCodeCount = 8

const (
	recoveryCodeBytes     = 4
	recoveryCodeCanonical = recoveryCodeBytes * 2
)

// RecoveryCodeRecord is a stored, hashed code as seen by the flow.
type RecoveryCodeRecord struct {
	ID   int64
	Hash string
}

type RecoveryCodeMetrics struct {
	RecoveryCodeUsed         int
	RecoveryCodeFailed       int
	RecoveryCodesRegenerated int
}

type RecoveryCodeErrors struct {
	EngineNotReady error
	Unavailable    error
	InvalidCode    error
}

type RecoveryCodeDeps struct {
	Count int
	// HashParallelism caps concurrent HashCode calls during generation.
	HashParallelism int

	RandomBytes func([]byte) error
	HashCode    func(ctx context.Context, canonical string) (string, error)
	VerifyCode  func(ctx context.Context, canonical, hash string) (bool, error)

	ListUnused func(ctx context.Context, identityID int64) ([]RecoveryCodeRecord, error)
	MarkUsed   func(ctx context.Context, codeID int64) (bool, error)

	MetricInc func(int)

	Metrics RecoveryCodeMetrics
	Errors  RecoveryCodeErrors
}

// GeneratedRecoveryCodes pairs the display form handed to the user with the
// hashes to persist, index for index.
type GeneratedRecoveryCodes struct {
	Plain  []string
	Hashes []string
}

// RunGenerateRecoveryCodes draws a fresh batch and hashes it. Persisting the
// hashes is the caller's job, so the batch can join a larger transaction.
func RunGenerateRecoveryCodes(ctx context.Context, deps RecoveryCodeDeps) (*GeneratedRecoveryCodes, error) {
	normalizeRecoveryCodeDeps(&deps)

	if deps.HashCode == nil {
		return nil, deps.Errors.EngineNotReady
	}

	out := &GeneratedRecoveryCodes{
		Plain:  make([]string, deps.Count),
		Hashes: make([]string, deps.Count),
	}
	canonical := make([]string, deps.Count)
	seen := make(map[string]struct{}, deps.Count)
	for i := 0; i < deps.Count; i++ {
		for {
			code, err := NewRecoveryCode(deps.RandomBytes)
			if err != nil {
				return nil, deps.Errors.Unavailable
			}
			if _, dup := seen[code]; dup {
				continue
			}
			seen[code] = struct{}{}
			canonical[i] = code
			out.Plain[i] = FormatRecoveryCode(code)
			break
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(deps.HashParallelism)
	for i := range canonical {
		g.Go(func() error {
			h, err := deps.HashCode(gctx, canonical[i])
			if err != nil {
				return err
			}
			out.Hashes[i] = h
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

// RunConsumeRecoveryCode verifies code against the identity's unused codes
// and marks the first match used. It returns false when nothing matches or a
// concurrent caller consumed the same code first.
func RunConsumeRecoveryCode(ctx context.Context, identityID int64, code string, deps RecoveryCodeDeps) (bool, error) {
	normalizeRecoveryCodeDeps(&deps)

	if deps.ListUnused == nil || deps.VerifyCode == nil || deps.MarkUsed == nil {
		return false, deps.Errors.EngineNotReady
	}

	canonical, ok := CanonicalizeRecoveryCode(code)
	if !ok {
		deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
		return false, nil
	}

	records, err := deps.ListUnused(ctx, identityID)
	if err != nil {
		return false, err
	}

	for _, rec := range records {
		match, err := deps.VerifyCode(ctx, canonical, rec.Hash)
		if err != nil {
			return false, err
		}
		if !match {
			continue
		}

		stamped, err := deps.MarkUsed(ctx, rec.ID)
		if err != nil {
			return false, err
		}
		if !stamped {
			deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
			return false, nil
		}
		deps.MetricInc(deps.Metrics.RecoveryCodeUsed)
		return true, nil
	}

	deps.MetricInc(deps.Metrics.RecoveryCodeFailed)
	return false, nil
}

// NewRecoveryCode returns a canonical code: eight uppercase hex characters.
func NewRecoveryCode(randomBytes func([]byte) error) (string, error) {
	if randomBytes == nil {
		randomBytes = cryptoRandomBytes
	}
	buf := make([]byte, recoveryCodeBytes)
	if err := randomBytes(buf); err != nil {
		return "", err
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// FormatRecoveryCode renders a canonical code as XXXX-XXXX.
func FormatRecoveryCode(canonical string) string {
	if len(canonical) != recoveryCodeCanonical {
		return canonical
	}
	return canonical[:4] + "-" + canonical[4:]
}

// CanonicalizeRecoveryCode strips spaces and hyphens and upper-cases the
// rest. It reports false unless exactly eight hex characters remain.
func CanonicalizeRecoveryCode(code string) (string, bool) {
	s := strings.ToUpper(strings.TrimSpace(code))
	s = strings.ReplaceAll(s, "-", "")
	s = strings.ReplaceAll(s, " ", "")
	if len(s) != recoveryCodeCanonical {
		return "", false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return "", false
		}
	}
	return s, true
}

func cryptoRandomBytes(b []byte) error {
	_, err := rand.Read(b)
	return err
}

func normalizeRecoveryCodeDeps(deps *RecoveryCodeDeps) {
	if deps.Count <= 0 {
		deps.Count = RecoveryCodeCount
	}
	if deps.HashParallelism <= 0 {
		deps.HashParallelism = 1
	}
	if deps.RandomBytes == nil {
		deps.RandomBytes = cryptoRandomBytes
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
}
