package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens the embedded single-file backend, following the
// PRAGMA-foreign-keys-on pattern of internal/core/whatsapp/whatsmeow.go's
// initStore. path is a filesystem path or ":memory:" for tests.
func OpenSQLite(path string) (Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_foreign_keys=on"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1) // shared in-memory db needs a single connection to persist across calls
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("store: enable foreign_keys pragma: %w", err)
	}
	return newSQLStore(db, sqliteDialect{})
}
