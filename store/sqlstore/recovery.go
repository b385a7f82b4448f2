package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/hostauth"
)

type recoveryCodeRow struct {
	ID         int64         `db:"id"`
	IdentityID int64         `db:"identity_id"`
	CodeHash   string        `db:"code_hash"`
	UsedAt     sql.NullInt64 `db:"used_at"`
	CreatedAt  int64         `db:"created_at"`
}

func (r recoveryCodeRow) code() hostauth.RecoveryCode {
	out := hostauth.RecoveryCode{
		ID:         r.ID,
		IdentityID: r.IdentityID,
		CodeHash:   r.CodeHash,
		CreatedAt:  fromMillis(r.CreatedAt),
	}
	if r.UsedAt.Valid {
		t := fromMillis(r.UsedAt.Int64)
		out.UsedAt = &t
	}
	return out
}

func (s *Store) UnusedRecoveryCodes(ctx context.Context, identityID int64) ([]hostauth.RecoveryCode, error) {
	var rows []recoveryCodeRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(`SELECT id, identity_id, code_hash, used_at, created_at
		FROM recovery_codes WHERE identity_id = ? AND used_at IS NULL ORDER BY id`), identityID); err != nil {
		return nil, err
	}
	out := make([]hostauth.RecoveryCode, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.code())
	}
	return out, nil
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, identityID int64, codes []hostauth.RecoveryCode) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := s.identityExists(ctx, tx, identityID); err != nil {
			return err
		}
		return replaceCodes(ctx, tx, identityID, codes)
	})
}

func replaceCodes(ctx context.Context, tx *sqlx.Tx, identityID int64, codes []hostauth.RecoveryCode) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM recovery_codes WHERE identity_id = ?`), identityID); err != nil {
		return err
	}
	insert := tx.Rebind(`INSERT INTO recovery_codes (id, identity_id, code_hash, used_at, created_at) VALUES (?, ?, ?, ?, ?)`)
	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, insert, c.ID, identityID, c.CodeHash, nullMillis(c.UsedAt), millis(c.CreatedAt)); err != nil {
			return err
		}
	}
	return nil
}

// MarkRecoveryCodeUsed stamps used_at only while it is null. Exactly one
// of several concurrent callers gets true.
func (s *Store) MarkRecoveryCodeUsed(ctx context.Context, codeID int64, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE recovery_codes SET used_at = ? WHERE id = ? AND used_at IS NULL`),
		millis(at), codeID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
