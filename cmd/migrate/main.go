// Command migrate applies or rolls back the schema in migrations/ against
// DATABASE_URL (or -db-dsn).
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

func main() {
	var dbDSN = flag.String("db-dsn", os.Getenv("DATABASE_URL"), "Database DSN")
	var migrationsPath = flag.String("migrations-path", envOr("MIGRATIONS_PATH", "file://migrations"), "Path to migrations directory")
	flag.Parse()

	if *dbDSN == "" {
		log.Fatal("DATABASE_URL environment variable or -db-dsn flag is required")
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	db, err := sql.Open("postgres", *dbDSN)
	if err != nil {
		log.Fatal("cannot connect to database:", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatal("cannot create database driver:", err)
	}

	m, err := migrate.NewWithDatabaseInstance(*migrationsPath, "postgres", driver)
	if err != nil {
		log.Fatal("cannot create migrator:", err)
	}

	switch args[0] {
	case "up":
		err = m.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("migration up failed:", err)
		}
		fmt.Println("migrations applied")
	case "down":
		steps := 1
		if len(args) > 1 {
			_, _ = fmt.Sscanf(args[1], "%d", &steps)
		}
		err = m.Steps(-steps)
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			log.Fatal("migration down failed:", err)
		}
		fmt.Printf("rolled back %d step(s)\n", steps)
	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatal("cannot get version:", err)
		}
		fmt.Printf("version: %d, dirty: %t\n", version, dirty)
	default:
		printUsage()
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Println("Usage: migrate [options] <up|down [n]|version>")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -db-dsn string          Database DSN (or DATABASE_URL env var)")
	fmt.Println("  -migrations-path string Path to migrations (default: file://migrations)")
}
