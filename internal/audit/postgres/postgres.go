package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/applockd/applockd/internal/audit"
)

// DB implements audit.Sink and audit.Reader on PostgreSQL via the pgx
// stdlib driver.
type DB struct {
	db *sql.DB
}

func New(dsn string) (*DB, error) {
	d, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	p := &DB{db: d}
	if err := p.ensureSchema(context.Background()); err != nil {
		_ = d.Close()
		return nil, err
	}
	return p, nil
}

func (p *DB) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lock_audit(
			id BIGSERIAL PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			kind TEXT NOT NULL,
			app_key TEXT NOT NULL,
			pid INTEGER NOT NULL,
			display_name TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			detail TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_lock_audit_app ON lock_audit(app_key);`,
		`CREATE INDEX IF NOT EXISTS idx_lock_audit_occurred ON lock_audit(occurred_at);`,
	}
	for _, q := range stmts {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (p *DB) Close() error { return p.db.Close() }

func (p *DB) Send(ctx context.Context, e audit.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO lock_audit(occurred_at, kind, app_key, pid, display_name, attempt, detail)
		VALUES($1,$2,$3,$4,$5,$6,$7);`,
		e.OccurredAt.UTC(), string(e.Kind), e.AppKey, e.PID, e.DisplayName, e.Attempt, e.Detail)
	return err
}

func (p *DB) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT occurred_at, kind, app_key, pid, display_name, attempt, detail
		FROM lock_audit
		ORDER BY id DESC
		LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]audit.Event, error) {
	out := make([]audit.Event, 0)
	for rows.Next() {
		var e audit.Event
		var kind string
		if err := rows.Scan(&e.OccurredAt, &kind, &e.AppKey, &e.PID, &e.DisplayName, &e.Attempt, &e.Detail); err != nil {
			return nil, err
		}
		e.Kind = audit.Kind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}
