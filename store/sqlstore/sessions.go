package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/hostauth"
)

type sessionRow struct {
	ID            string        `db:"id"`
	IdentityID    int64         `db:"identity_id"`
	IssuedAt      int64         `db:"issued_at"`
	ExpiresAt     int64         `db:"expires_at"`
	OriginAddress string        `db:"origin_address"`
	OriginAgent   string        `db:"origin_agent"`
	RevokedAt     sql.NullInt64 `db:"revoked_at"`
}

func (r sessionRow) record() hostauth.SessionRecord {
	out := hostauth.SessionRecord{
		ID:            r.ID,
		IdentityID:    r.IdentityID,
		IssuedAt:      fromMillis(r.IssuedAt),
		ExpiresAt:     fromMillis(r.ExpiresAt),
		OriginAddress: r.OriginAddress,
		OriginAgent:   r.OriginAgent,
	}
	if r.RevokedAt.Valid {
		t := fromMillis(r.RevokedAt.Int64)
		out.RevokedAt = &t
	}
	return out
}

func (s *Store) CreateSessionRecord(ctx context.Context, record hostauth.SessionRecord) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO session_records
		(id, identity_id, issued_at, expires_at, origin_address, origin_agent, revoked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		record.ID, record.IdentityID, millis(record.IssuedAt), millis(record.ExpiresAt),
		record.OriginAddress, record.OriginAgent, nullMillis(record.RevokedAt),
	)
	return err
}

// ListSessionRecords returns every record of the identity, newest first.
func (s *Store) ListSessionRecords(ctx context.Context, identityID int64) ([]hostauth.SessionRecord, error) {
	var rows []sessionRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(`SELECT id, identity_id, issued_at, expires_at,
		origin_address, origin_agent, revoked_at
		FROM session_records WHERE identity_id = ? ORDER BY issued_at DESC, id DESC`), identityID); err != nil {
		return nil, err
	}
	out := make([]hostauth.SessionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

// RevokeSessionRecord stamps revoked_at on an unrevoked record. Unknown or
// already revoked ids are not an error.
func (s *Store) RevokeSessionRecord(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE session_records SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`),
		millis(at), sessionID)
	return err
}

func (s *Store) RevokeSessionRecords(ctx context.Context, identityID int64, at time.Time) ([]string, error) {
	var ids []string
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		ids = ids[:0]
		if err := tx.SelectContext(ctx, &ids, tx.Rebind(`SELECT id FROM session_records
			WHERE identity_id = ? AND revoked_at IS NULL ORDER BY issued_at`), identityID); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE session_records SET revoked_at = ?
			WHERE identity_id = ? AND revoked_at IS NULL`), millis(at), identityID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

var _ hostauth.CredentialStore = (*Store)(nil)
