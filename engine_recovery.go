package hostauth

import (
	"context"

	"github.com/MrEthical07/hostauth/internal/flows"
)

func (e *Engine) recoveryCodeDeps() flows.RecoveryCodeDeps {
	return flows.RecoveryCodeDeps{
		Count:           flows.RecoveryCodeCount,
		HashParallelism: e.pool.Size(),
		HashCode: func(ctx context.Context, canonical string) (string, error) {
			return e.hashWith(ctx, e.recovery, canonical)
		},
		VerifyCode: func(ctx context.Context, canonical, hash string) (bool, error) {
			return e.verifyWith(ctx, e.recovery, canonical, hash)
		},
		ListUnused: func(ctx context.Context, identityID int64) ([]flows.RecoveryCodeRecord, error) {
			codes, err := e.store.UnusedRecoveryCodes(ctx, identityID)
			if err != nil {
				return nil, storeError(err)
			}
			out := make([]flows.RecoveryCodeRecord, 0, len(codes))
			for _, c := range codes {
				out = append(out, flows.RecoveryCodeRecord{ID: c.ID, Hash: c.CodeHash})
			}
			return out, nil
		},
		MarkUsed: func(ctx context.Context, codeID int64) (bool, error) {
			return e.store.MarkRecoveryCodeUsed(ctx, codeID, e.now())
		},
		MetricInc: func(id int) { e.metricInc(MetricID(id)) },
		Metrics: flows.RecoveryCodeMetrics{
			RecoveryCodeUsed:         int(MetricRecoveryCodeUsed),
			RecoveryCodeFailed:       int(MetricRecoveryCodeFailed),
			RecoveryCodesRegenerated: int(MetricRecoveryCodesRegenerated),
		},
		Errors: flows.RecoveryCodeErrors{
			EngineNotReady: ErrEngineNotReady,
			Unavailable:    ErrCryptoUnavailable,
			InvalidCode:    ErrSecondFactorInvalid,
		},
	}
}

func (e *Engine) consumeRecoveryCode(ctx context.Context, identityID int64, code string) (bool, error) {
	return flows.RunConsumeRecoveryCode(ctx, identityID, code, e.recoveryCodeDeps())
}

// newRecoveryCodeBatch generates a batch for identityID. The records are
// ready to persist; plain is the display form, shown once.
func (e *Engine) newRecoveryCodeBatch(ctx context.Context, identityID int64) ([]RecoveryCode, []string, error) {
	generated, err := flows.RunGenerateRecoveryCodes(ctx, e.recoveryCodeDeps())
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	records := make([]RecoveryCode, len(generated.Hashes))
	for i, h := range generated.Hashes {
		records[i] = RecoveryCode{
			ID:         e.ids.NextID(),
			IdentityID: identityID,
			CodeHash:   h,
			CreatedAt:  now,
		}
	}
	return records, generated.Plain, nil
}

// RegenerateRecoveryCodes replaces every recovery code of an enrolled
// identity with a fresh batch. Both the password and a second factor code
// (TOTP or an unused recovery code) are required.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, externalID, password, code string) (*RecoveryCodes, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	identity, err := e.activeIdentity(ctx, externalID, EventSecondFactorVerifyFailed, "regenerate_recovery_codes")
	if err != nil {
		return nil, err
	}
	if !identity.SecondFactorEnabled {
		return nil, ErrSecondFactorNotEnabled
	}

	if err := e.reauthenticate(ctx, identity, password, code, "regenerate_recovery_codes"); err != nil {
		return nil, err
	}

	records, plain, err := e.newRecoveryCodeBatch(ctx, identity.ID)
	if err != nil {
		return nil, err
	}
	if err := e.store.ReplaceRecoveryCodes(ctx, identity.ID, records); err != nil {
		return nil, storeError(err)
	}

	if err := e.recordEvent(ctx, EventRecoveryCodesRegenerated, true, identity, "", nil, nil); err != nil {
		return nil, err
	}
	e.metricInc(MetricRecoveryCodesRegenerated)
	e.notify(ctx, NotifyRecoveryCodesRegenerated, identity)

	return &RecoveryCodes{Codes: plain}, nil
}
