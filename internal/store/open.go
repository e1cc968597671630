package store

import "fmt"

// Open selects the backend by driver string, the same switch shape as
// internal/core/whatsapp/whatsmeow.go's initStore.
func Open(driver, dsn string) (Store, error) {
	switch driver {
	case "postgres", "":
		return OpenPostgres(dsn)
	case "sqlite":
		return OpenSQLite(dsn)
	default:
		return nil, fmt.Errorf("store: unknown driver %q", driver)
	}
}
