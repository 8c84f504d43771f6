package main

import (
	"context"
	"embed"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

func main() {
	var (
		dsn       = flag.String("dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
		direction = flag.String("direction", "up", "Migration direction: up or down")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all)")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Fatalf("Failed to create migrations table: %v", err)
	}

	rows, err := pool.Query(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		log.Fatalf("Failed to get applied migrations: %v", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			log.Fatalf("Failed to scan migration version: %v", err)
		}
		applied[version] = true
	}

	suffix := ".up.sql"
	if *direction == "down" {
		suffix = ".down.sql"
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		log.Fatalf("Failed to read embedded migrations: %v", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), suffix) {
			files = append(files, entry.Name())
		}
	}

	sort.Strings(files)
	if *direction == "down" {
		for i, j := 0, len(files)-1; i < j; i, j = i+1, j-1 {
			files[i], files[j] = files[j], files[i]
		}
	}

	count := 0
	for _, file := range files {
		version := strings.TrimSuffix(file, suffix)

		if *direction == "up" {
			if applied[version] {
				continue
			}
		} else {
			if !applied[version] {
				continue
			}
		}

		if *steps > 0 && count >= *steps {
			break
		}

		fmt.Printf("Running migration: %s\n", file)

		content, err := migrationFS.ReadFile("migrations/" + file)
		if err != nil {
			log.Fatalf("Failed to read migration file %s: %v", file, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			log.Fatalf("Failed to begin transaction: %v", err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			tx.Rollback(ctx)
			log.Fatalf("Failed to execute migration %s: %v", file, err)
		}

		if *direction == "up" {
			_, err = tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version)
		} else {
			_, err = tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", version)
		}
		if err != nil {
			tx.Rollback(ctx)
			log.Fatalf("Failed to update migrations table: %v", err)
		}

		if err := tx.Commit(ctx); err != nil {
			log.Fatalf("Failed to commit transaction: %v", err)
		}

		count++
	}

	fmt.Printf("Applied %d migration(s)\n", count)
}
