// Versioned SQL migrations for deployments that manage the catalog
// schema explicitly rather than through AutoMigrate.
package catalog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// MigrationConfig selects the database and migrations directory.
type MigrationConfig struct {
	DatabaseURL    string
	DatabaseType   string // "postgres" or "sqlite"
	MigrationsPath string
}

// MigrationRunner applies versioned migrations with golang-migrate.
type MigrationRunner struct {
	migrate *migrate.Migrate
	db      *sql.DB
}

// NewMigrationRunner opens the database and binds it to the file-based
// migration source.
func NewMigrationRunner(cfg *MigrationConfig) (*MigrationRunner, error) {
	if cfg == nil {
		return nil, errors.New("migration config is required")
	}

	path := cfg.MigrationsPath
	if path == "" {
		path = "./migrations"
	}
	if !filepath.IsAbs(path) {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve migrations path: %w", err)
		}
		path = abs
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("migrations directory not found: %s", path)
	}

	var (
		db      *sql.DB
		driver  database.Driver
		drvName string
		err     error
	)
	switch cfg.DatabaseType {
	case "postgres", "postgresql":
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		driver, err = migratepg.WithInstance(db, &migratepg.Config{})
		drvName = "postgres"
	case "sqlite", "sqlite3":
		db, err = sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		driver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
		drvName = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DatabaseType)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+path, drvName, driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create migration instance: %w", err)
	}
	return &MigrationRunner{migrate: m, db: db}, nil
}

// Up applies all pending migrations.
func (r *MigrationRunner) Up() error {
	if err := r.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Down rolls back the last applied migration.
func (r *MigrationRunner) Down() error {
	if err := r.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Version reports the current migration version.
func (r *MigrationRunner) Version() (version uint, dirty bool, err error) {
	version, dirty, err = r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// Force stamps the version without running migrations, to recover a
// dirty state.
func (r *MigrationRunner) Force(version int) error {
	return r.migrate.Force(version)
}

// Close releases the migration source and database handle.
func (r *MigrationRunner) Close() error {
	srcErr, dbErr := r.migrate.Close()
	if srcErr != nil {
		return srcErr
	}
	return dbErr
}
