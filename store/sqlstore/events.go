package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/MrEthical07/hostauth"
)

type eventRow struct {
	ID            int64         `db:"id"`
	IdentityID    sql.NullInt64 `db:"identity_id"`
	EventType     string        `db:"event_type"`
	Success       bool          `db:"success"`
	OriginAddress string        `db:"origin_address"`
	OriginAgent   string        `db:"origin_agent"`
	Detail        string        `db:"detail"`
	CreatedAt     int64         `db:"created_at"`
}

func (r eventRow) event() (hostauth.SecurityEvent, error) {
	out := hostauth.SecurityEvent{
		ID:            r.ID,
		EventType:     hostauth.EventType(r.EventType),
		Success:       r.Success,
		OriginAddress: r.OriginAddress,
		OriginAgent:   r.OriginAgent,
		CreatedAt:     fromMillis(r.CreatedAt),
	}
	if r.IdentityID.Valid {
		id := r.IdentityID.Int64
		out.IdentityID = &id
	}
	if r.Detail != "" {
		if err := json.Unmarshal([]byte(r.Detail), &out.Detail); err != nil {
			return out, fmt.Errorf("sqlstore: event %d detail: %w", r.ID, err)
		}
	}
	return out, nil
}

func (s *Store) AppendSecurityEvent(ctx context.Context, event hostauth.SecurityEvent) error {
	return insertEvent(ctx, s.db, event)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Rebind(query string) string
}

var (
	_ execer = (*sqlx.DB)(nil)
	_ execer = (*sqlx.Tx)(nil)
)

func insertEvent(ctx context.Context, x execer, event hostauth.SecurityEvent) error {
	detail := ""
	if len(event.Detail) > 0 {
		raw, err := json.Marshal(event.Detail)
		if err != nil {
			return err
		}
		detail = string(raw)
	}
	var identityID any
	if event.IdentityID != nil {
		identityID = *event.IdentityID
	}
	_, err := x.ExecContext(ctx, x.Rebind(`INSERT INTO security_events
		(id, identity_id, event_type, success, origin_address, origin_agent, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		event.ID, identityID, string(event.EventType), event.Success,
		event.OriginAddress, event.OriginAgent, detail, millis(event.CreatedAt),
	)
	return err
}

// ListSecurityEvents returns up to limit events for the identity, newest
// first.
func (s *Store) ListSecurityEvents(ctx context.Context, identityID int64, limit int) ([]hostauth.SecurityEvent, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []eventRow
	if err := s.db.SelectContext(ctx, &rows, s.rebind(`SELECT id, identity_id, event_type, success,
		origin_address, origin_agent, detail, created_at
		FROM security_events WHERE identity_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`), identityID, limit); err != nil {
		return nil, err
	}
	out := make([]hostauth.SecurityEvent, 0, len(rows))
	for _, r := range rows {
		ev, err := r.event()
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, nil
}
