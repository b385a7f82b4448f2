package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/hostauth"
)

type identityRow struct {
	ID                   int64          `db:"id"`
	ExternalID           string         `db:"external_id"`
	Email                string         `db:"email"`
	PasswordHash         string         `db:"password_hash"`
	Status               string         `db:"status"`
	SecondFactorEnabled  bool           `db:"second_factor_enabled"`
	SecondFactorSecret   string         `db:"second_factor_secret"`
	SecondFactorLastStep int64          `db:"second_factor_last_step"`
	Role                 string         `db:"role"`
	CreatedAt            int64          `db:"created_at"`
	LastLoginAt          sql.NullInt64  `db:"last_login_at"`
	LastLoginIP          sql.NullString `db:"last_login_ip"`
}

const identityColumns = `id, external_id, email, password_hash, status, second_factor_enabled,
	second_factor_secret, second_factor_last_step, role, created_at, last_login_at, last_login_ip`

func (r identityRow) identity() *hostauth.Identity {
	out := &hostauth.Identity{
		ID:                   r.ID,
		ExternalID:           r.ExternalID,
		Email:                r.Email,
		PasswordHash:         r.PasswordHash,
		Status:               hostauth.IdentityStatus(r.Status),
		SecondFactorEnabled:  r.SecondFactorEnabled,
		SecondFactorSecret:   r.SecondFactorSecret,
		SecondFactorLastStep: r.SecondFactorLastStep,
		Role:                 r.Role,
		CreatedAt:            fromMillis(r.CreatedAt),
		LastLoginIP:          r.LastLoginIP.String,
	}
	if r.LastLoginAt.Valid {
		t := fromMillis(r.LastLoginAt.Int64)
		out.LastLoginAt = &t
	}
	return out
}

// CreateIdentity inserts the identity, its profile and the register event
// in one transaction. A duplicate email or external id yields
// hostauth.ErrEmailTaken.
func (s *Store) CreateIdentity(ctx context.Context, identity hostauth.Identity, profile map[string]string, event hostauth.SecurityEvent) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO identities
			(id, external_id, email, password_hash, status, second_factor_enabled, second_factor_secret,
			 second_factor_last_step, role, created_at, last_login_at, last_login_ip)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			identity.ID, identity.ExternalID, identity.Email, identity.PasswordHash, string(identity.Status),
			identity.SecondFactorEnabled, identity.SecondFactorSecret, identity.SecondFactorLastStep,
			identity.Role, millis(identity.CreatedAt), nullMillis(identity.LastLoginAt), identity.LastLoginIP,
		)
		if err != nil {
			return err
		}

		fields := make([]string, 0, len(profile))
		for k := range profile {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		for _, field := range fields {
			if _, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO identity_profiles (identity_id, field, value) VALUES (?, ?, ?)`),
				identity.ID, field, profile[field],
			); err != nil {
				return err
			}
		}

		return insertEvent(ctx, tx, event)
	})
	if isUniqueViolation(err) {
		return hostauth.ErrEmailTaken
	}
	return err
}

// Profile returns the profile fields stored at registration.
func (s *Store) Profile(ctx context.Context, identityID int64) (map[string]string, error) {
	var rows []struct {
		Field string `db:"field"`
		Value string `db:"value"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		s.rebind(`SELECT field, value FROM identity_profiles WHERE identity_id = ?`), identityID,
	); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Field] = r.Value
	}
	return out, nil
}

func (s *Store) IdentityByEmail(ctx context.Context, email string) (*hostauth.Identity, error) {
	return s.identityWhere(ctx, "email", email)
}

func (s *Store) IdentityByExternalID(ctx context.Context, externalID string) (*hostauth.Identity, error) {
	return s.identityWhere(ctx, "external_id", externalID)
}

func (s *Store) identityWhere(ctx context.Context, column string, value any) (*hostauth.Identity, error) {
	var row identityRow
	err := s.db.GetContext(ctx, &row,
		s.rebind(`SELECT `+identityColumns+` FROM identities WHERE `+column+` = ?`), value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, hostauth.ErrIdentityNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.identity(), nil
}

// SetStatus changes the identity's lifecycle status.
func (s *Store) SetStatus(ctx context.Context, identityID int64, status hostauth.IdentityStatus) error {
	return s.updateOne(ctx, `UPDATE identities SET status = ? WHERE id = ?`, string(status), identityID)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error {
	return s.updateOne(ctx, `UPDATE identities SET password_hash = ? WHERE id = ?`, hash, identityID)
}

func (s *Store) RecordLogin(ctx context.Context, identityID int64, at time.Time, originAddress string) error {
	return s.updateOne(ctx,
		`UPDATE identities SET last_login_at = ?, last_login_ip = ? WHERE id = ?`,
		millis(at), originAddress, identityID)
}

// updateOne runs an update that must match the identity row. The mysql
// driver reports changed rather than matched rows, so a zero count is
// confirmed with an existence check.
func (s *Store) updateOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	return s.identityExists(ctx, s.db, args[len(args)-1].(int64))
}

type queryer interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	Rebind(query string) string
}

func (s *Store) identityExists(ctx context.Context, q queryer, identityID int64) error {
	var n int
	if err := q.GetContext(ctx, &n, q.Rebind(`SELECT COUNT(1) FROM identities WHERE id = ?`), identityID); err != nil {
		return err
	}
	if n == 0 {
		return hostauth.ErrIdentityNotFound
	}
	return nil
}

// SetPendingSecondFactor stores a sealed secret on an identity whose
// second factor is not enabled.
func (s *Store) SetPendingSecondFactor(ctx context.Context, identityID int64, sealedSecret string) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE identities SET second_factor_secret = ? WHERE id = ? AND second_factor_enabled = ?`),
		sealedSecret, identityID, false)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n > 0 {
		return nil
	}
	if err := s.identityExists(ctx, s.db, identityID); err != nil {
		return err
	}
	return hostauth.ErrSecondFactorAlreadyEnabled
}

// EnableSecondFactor flips the pending secret to enabled, raises the last
// accepted step and installs the first recovery batch in one transaction.
// A pending secret replaced since it was read does not match sealedSecret.
func (s *Store) EnableSecondFactor(ctx context.Context, identityID int64, sealedSecret string, acceptedStep int64, codes []hostauth.RecoveryCode) error {
	if sealedSecret == "" {
		return hostauth.ErrSecondFactorNotPending
	}
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE identities
			SET second_factor_enabled = ?,
			    second_factor_last_step = CASE WHEN second_factor_last_step < ? THEN ? ELSE second_factor_last_step END
			WHERE id = ? AND second_factor_enabled = ? AND second_factor_secret = ?`),
			true, acceptedStep, acceptedStep, identityID, false, sealedSecret)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if err := s.identityExists(ctx, tx, identityID); err != nil {
				return err
			}
			return hostauth.ErrSecondFactorNotPending
		}
		return replaceCodes(ctx, tx, identityID, codes)
	})
}

// DisableSecondFactor clears the secret and last accepted step and deletes
// every recovery code.
func (s *Store) DisableSecondFactor(ctx context.Context, identityID int64) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`UPDATE identities
			SET second_factor_enabled = ?, second_factor_secret = '', second_factor_last_step = 0
			WHERE id = ?`), false, identityID); err != nil {
			return err
		}
		if err := s.identityExists(ctx, tx, identityID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM recovery_codes WHERE identity_id = ?`), identityID)
		return err
	})
}

// AdvanceSecondFactorStep stores step only when it is newer than the
// stored one.
func (s *Store) AdvanceSecondFactorStep(ctx context.Context, identityID int64, step int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE identities SET second_factor_last_step = ? WHERE id = ? AND second_factor_last_step < ?`),
		step, identityID, step)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
