// Command migrate applies the schema in migrations/ with goose.
//
// Usage:
//
//	go run ./cmd/migrate up
//	go run ./cmd/migrate down
//	go run ./cmd/migrate status
//	go run ./cmd/migrate up-to 3
//
// MIGRATIONS_DIR overrides the default directory.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/wiredan/wiredan/internal/logging"
)

func main() {
	_ = godotenv.Load()
	logger := logging.New(envOrDefault("LOG_LEVEL", "info"), "text")

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: migrate <command> [args]")
		fmt.Fprintln(os.Stderr, "Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(2)
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		logger.Error("open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("connect to database", "error", err)
		os.Exit(1)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		logger.Error("goose dialect", "error", err)
		os.Exit(1)
	}

	command, args := os.Args[1], os.Args[2:]
	dir := envOrDefault("MIGRATIONS_DIR", "migrations")
	if err := goose.RunContext(ctx, command, db, dir, args...); err != nil {
		logger.Error("migration failed", "command", command, "error", err)
		os.Exit(1)
	}
	logger.Info("migration complete", "command", command, "dir", dir)
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
