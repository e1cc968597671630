package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrate creates the schema idempotently and adds any missing
// columns, additive-only, never dropping or renaming -- spec.md §4.1.
func (s *SQLStore) migrate(ctx context.Context) error {
	pg := s.d.name() == "postgres"

	idType := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if pg {
		idType = "BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS messages (
			id %s,
			upstream_id TEXT,
			temp_id TEXT,
			user_id TEXT NOT NULL,
			body TEXT,
			kind TEXT,
			from_agent BOOLEAN NOT NULL DEFAULT FALSE,
			status TEXT NOT NULL DEFAULT 'sending',
			caption TEXT,
			price TEXT,
			media_local_path TEXT,
			media_public_url TEXT,
			reply_to_upstream_id TEXT,
			quoted_snippet TEXT,
			reaction_target_upstream_id TEXT,
			reaction_emoji TEXT,
			reaction_action TEXT,
			waveform TEXT,
			product_identifiers TEXT,
			client_ts TEXT,
			server_ts TEXT
		)`, idType),
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_user_upstream ON messages(user_id, upstream_id) WHERE upstream_id IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_user_temp ON messages(user_id, temp_id) WHERE temp_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_messages_upstream ON messages(upstream_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_client_ts ON messages(user_id, client_ts)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user_server_ts ON messages(user_id, server_ts)`,

		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			display_name TEXT,
			phone TEXT,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen TEXT,
			created_at TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS agents (
			id ` + idType + `,
			username TEXT NOT NULL UNIQUE,
			display_name TEXT,
			password_hash TEXT NOT NULL,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE TABLE IF NOT EXISTS conversation_meta (
			user_id TEXT PRIMARY KEY,
			assigned_agent TEXT,
			tags TEXT,
			avatar_url TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			created_at TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	if pg {
		// Partial unique indexes on a nullable column are Postgres
		// syntax already; SQLite (3.8+, modernc.org/sqlite included)
		// supports the same WHERE-clause partial index form.
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %q: %w", firstLine(stmt), err)
		}
	}

	return s.addMissingColumns(ctx)
}

// column describes one additive migration target.
type column struct {
	table, name, sqlType string
}

// additiveColumns lists every column the schema might be missing on an
// existing deployment -- new Message/User/etc. fields are appended
// here, never by editing the CREATE TABLE above once it has shipped.
var additiveColumns = []column{
	{"messages", "reaction_action", "TEXT"},
}

func (s *SQLStore) addMissingColumns(ctx context.Context) error {
	for _, c := range additiveColumns {
		have, err := s.hasColumn(ctx, c.table, c.name)
		if err != nil {
			return err
		}
		if have {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, c.table, c.name, c.sqlType)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.name, err)
		}
	}
	return nil
}

func (s *SQLStore) hasColumn(ctx context.Context, table, col string) (bool, error) {
	if s.d.name() == "postgres" {
		var n int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM information_schema.columns WHERE table_name = $1 AND column_name = $2`,
			table, col).Scan(&n)
		return n > 0, err
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == col {
			return true, nil
		}
	}
	return false, rows.Err()
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
