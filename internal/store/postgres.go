package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// OpenPostgres opens the networked relational backend, following
// internal/shared/database/database.go's connection-pool tuning.
func OpenPostgres(dsn string) (Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("store: DATABASE_URL is empty")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(60 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping postgres: %w", err)
	}
	return newSQLStore(db, postgresDialect{})
}
