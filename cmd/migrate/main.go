// Package main applies or rolls back the database schema.
//
// Usage: migrate [up|down|version]
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"wmsledger/internal/config"
	"wmsledger/internal/infrastructure/migration"
	"wmsledger/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.Log.Level, Development: true})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	m, err := migration.New(cfg.Database.URL, log)
	if err != nil {
		log.Fatalw("failed to open migrator", "error", err)
	}
	defer m.Close()

	switch cmd {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		v, dirty, ok, verr := m.Version()
		if verr == nil {
			log.Infow("schema version", "version", v, "dirty", dirty, "applied", ok)
		}
		err = verr
	default:
		log.Fatalw("unknown command", "command", cmd, "usage", "migrate [up|down|version]")
	}
	if err != nil {
		log.Fatalw("migration failed", "command", cmd, "error", err)
	}
}
