// Command migrate runs versioned, golang-migrate-managed SQL against
// the Postgres store -- seeding and one-way data changes that
// internal/store/migrate.go's additive, automatic ALTER-TABLE
// migration deliberately never does. That migrator runs on every
// process start and only ever adds columns/tables; it has no up/down
// history and cannot express a destructive change or a one-time data
// seed. This command covers the other half: migrations/gateway holds
// numbered .up.sql/.down.sql pairs for exactly those operations.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/MuhamadAgungGumelar/wa-agent-gateway/internal/config"
)

func main() {
	var command string
	flag.StringVar(&command, "cmd", "up", "migration command (up, down, version, force)")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	m, err := migrate.New("file://migrations/gateway", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("create migrate instance: %v", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate up: %v", err)
		}
		log.Println("migrations up: done")

	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("migrate down: %v", err)
		}
		log.Println("migrations down: done")

	case "version":
		version, dirty, err := m.Version()
		if err != nil && err != migrate.ErrNilVersion {
			log.Fatalf("migrate version: %v", err)
		}
		log.Printf("version=%d dirty=%t", version, dirty)

	case "force":
		if flag.NArg() < 1 {
			log.Fatal("force requires a version argument")
		}
		var version int
		if _, err := fmt.Sscanf(flag.Arg(0), "%d", &version); err != nil {
			log.Fatalf("invalid version argument: %v", err)
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("migrate force: %v", err)
		}
		log.Printf("forced version to %d", version)

	default:
		log.Fatalf("unknown command %q (use: up, down, version, force)", command)
	}
}
