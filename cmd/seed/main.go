// Package main loads warehouse locations into the database.
//
// Usage: seed locations.csv
//
// The file has a header row and the columns code,name[,active]. Every
// location gets a generated id.
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"wmsledger/internal/config"
	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/ledger"
	"wmsledger/internal/infrastructure/storage/postgres"
	"wmsledger/internal/infrastructure/storage/postgres/ledger_repo"
	"wmsledger/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if len(os.Args) < 2 {
		log.Fatal("usage: seed locations.csv")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("failed to load config", "error", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		log.Fatalw("invalid configuration", "error", err)
	}

	f, err := os.Open(os.Args[1])
	if err != nil {
		log.Fatalw("failed to open file", "error", err)
	}
	defer f.Close()

	locations, err := readLocations(f)
	if err != nil {
		log.Fatalw("failed to parse locations", "error", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(cfg.Database.URL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	txm := postgres.NewTxManager(pool, postgres.DefaultTxOptions())
	repo := ledger_repo.NewLocationRepo(txm)

	var n int64
	err = txm.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		n, err = repo.Import(ctx, locations)
		return err
	})
	if err != nil {
		log.Fatalw("failed to import locations", "error", err)
	}
	log.Infow("locations imported", "count", n)
}

// readLocations parses code,name[,active] rows after a header row.
func readLocations(r io.Reader) ([]ledger.Location, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	if _, err := cr.Read(); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	var out []ledger.Location
	seen := make(map[string]struct{})
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			return nil, fmt.Errorf("line %d: code and name are required", line)
		}
		loc := ledger.Location{
			ID:     id.New(),
			Code:   strings.TrimSpace(row[0]),
			Name:   strings.TrimSpace(row[1]),
			Active: true,
		}
		if len(row) > 2 && strings.TrimSpace(row[2]) != "" {
			active, err := strconv.ParseBool(strings.TrimSpace(row[2]))
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid active flag %q", line, row[2])
			}
			loc.Active = active
		}
		if _, dup := seen[loc.Code]; dup {
			return nil, fmt.Errorf("line %d: duplicate code %q", line, loc.Code)
		}
		seen[loc.Code] = struct{}{}
		out = append(out, loc)
	}
	return out, nil
}
