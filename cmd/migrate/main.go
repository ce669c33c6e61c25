// ==============================================================================
// DATABASE MIGRATION - cmd/migrate/main.go
// ==============================================================================
package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	flag "github.com/spf13/pflag"
)

func main() {
	_ = godotenv.Load()

	dir := flag.String("path", "migrations", "directory holding the SQL migrations")
	databaseURL := flag.String("database", os.Getenv("DATABASE_URL"), "postgres connection string (defaults to DATABASE_URL)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: migrate [flags] up|down|version|force VERSION")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable or --database is required")
	}
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)

	db, err := sql.Open("postgres", *databaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Fatalf("Failed to create migration driver: %v", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+*dir, "postgres", driver)
	if err != nil {
		log.Fatalf("Failed to create migrate instance: %v", err)
	}

	switch command {
	case "up":
		if err := m.Up(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Migrations applied")

	case "down":
		if err := m.Down(); err != nil && err != migrate.ErrNoChange {
			log.Fatalf("Migration rollback failed: %v", err)
		}
		log.Println("Migrations rolled back")

	case "version":
		version, dirty, err := m.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Current version: %d (dirty: %t)\n", version, dirty)

	case "force":
		if flag.NArg() < 2 {
			log.Fatal("Usage: migrate force VERSION")
		}
		version, err := strconv.Atoi(flag.Arg(1))
		if err != nil {
			log.Fatalf("Invalid version %q", flag.Arg(1))
		}
		if err := m.Force(version); err != nil {
			log.Fatalf("Force migration failed: %v", err)
		}
		log.Printf("Forced version to %d\n", version)

	default:
		log.Fatalf("Unknown command: %s", command)
	}
}
