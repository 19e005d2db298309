package audit

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type auditDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Event is one gatekeeper rejection. The trail is an operator aid, not a
// billing record: writes are best effort and never block the response.
type Event struct {
	At       time.Time `json:"at"`
	Method   string    `json:"method"`
	Path     string    `json:"path"`
	ClientIP string    `json:"client_ip"`
	UserID   string    `json:"user_id,omitempty"`
	Role     string    `json:"role,omitempty"`
	Reason   string    `json:"reason"`
	Status   int       `json:"status"`
}

// Writer appends rejection events to Postgres.
type Writer struct {
	DB auditDB
}

func (w *Writer) Append(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := w.DB.Exec(ctx, `
		INSERT INTO auth_audit (at, method, path, client_ip, user_id, role, reason, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, ev.At, ev.Method, ev.Path, ev.ClientIP, ev.UserID, ev.Role, ev.Reason, ev.Status)
	return err
}

// Recent returns the newest events, capped at limit.
func (w *Writer) Recent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := w.DB.Query(ctx, `
		SELECT at, method, path, client_ip, user_id, role, reason, status
		FROM auth_audit ORDER BY at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.At, &ev.Method, &ev.Path, &ev.ClientIP, &ev.UserID, &ev.Role, &ev.Reason, &ev.Status); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
