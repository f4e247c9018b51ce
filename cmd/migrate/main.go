// Migration CLI for the problem catalog.
//
// Usage:
//
//	go run cmd/migrate/main.go up        # Apply all pending migrations
//	go run cmd/migrate/main.go down      # Rollback last migration
//	go run cmd/migrate/main.go version   # Show current migration version
//	go run cmd/migrate/main.go force N   # Force version to N (fix dirty state)
package main

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"cppjudge/internal/catalog"
)

func main() {
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	dbURL, dbType := databaseConfig()
	cfg := &catalog.MigrationConfig{
		DatabaseURL:    dbURL,
		DatabaseType:   dbType,
		MigrationsPath: os.Getenv("MIGRATIONS_PATH"),
	}

	runner, err := catalog.NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer runner.Close()

	switch os.Args[1] {
	case "up":
		if err := runner.Up(); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("All migrations applied")
	case "down":
		if err := runner.Down(); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Println("Rolled back one migration")
	case "version":
		version, dirty, err := runner.Version()
		if err != nil {
			log.Fatalf("Failed to get version: %v", err)
		}
		fmt.Printf("Version: %d\nDirty:   %v\n", version, dirty)
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("Usage: migrate force <version>")
		}
		version, err := strconv.Atoi(os.Args[2])
		if err != nil {
			log.Fatalf("Invalid version number: %s", os.Args[2])
		}
		if err := runner.Force(version); err != nil {
			log.Fatalf("Force failed: %v", err)
		}
		log.Printf("Version forced to %d", version)
	case "help":
		printUsage()
	default:
		log.Printf("Unknown command: %s", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`
cppjudge catalog migration tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  version         Show current migration version
  force <N>       Force version to N (use to fix dirty state)
  help            Show this help message

Environment Variables:
  DATABASE_URL      Database connection URL (postgres:// or a SQLite path)
  MIGRATIONS_PATH   Migrations directory (default ./migrations)
`)
}

func databaseConfig() (string, string) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return "catalog.db", "sqlite"
	}
	if u, err := url.Parse(databaseURL); err == nil {
		switch u.Scheme {
		case "postgres", "postgresql":
			return databaseURL, "postgres"
		case "sqlite", "sqlite3":
			return strings.TrimPrefix(databaseURL, u.Scheme+"://"), "sqlite"
		}
	}
	return databaseURL, "sqlite"
}
