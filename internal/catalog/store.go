// Package catalog is the durable problem catalog: the mapping from a
// problem ID to its test-pack archive, plus an audit row per completed
// check. Interactive debug sessions are never persisted here.
package catalog

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"cppjudge/pkg/models"
)

// ErrProblemNotFound is returned when a problem ID has no catalog row.
var ErrProblemNotFound = errors.New("problem not found")

// Problem maps a problem ID to its test pack on disk.
type Problem struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Title    string `json:"title"`
	PackPath string `json:"pack_path" gorm:"not null"`
}

// SubmissionRecord is the audit row written after each completed check.
type SubmissionRecord struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	CreatedAt time.Time `json:"created_at"`

	ProblemID           uint    `json:"problem_id" gorm:"index"`
	Token               string  `json:"token" gorm:"index;type:varchar(36)"`
	Percentage          float64 `json:"percentage"`
	TimeLimitExceeded   bool    `json:"time_limit_exceeded"`
	MemoryLimitExceeded bool    `json:"memory_limit_exceeded"`
	CompilationError    bool    `json:"compilation_error"`
}

// Store wraps the catalog database.
type Store struct {
	db *gorm.DB
}

// Open connects to databaseURL: postgres:// DSNs get the PostgreSQL
// driver, anything else is treated as a SQLite path/DSN. The schema is
// auto-migrated on open; versioned SQL migrations live under
// migrations/ for deployments that manage schema explicitly.
func Open(databaseURL string) (*Store, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		dialector = postgres.Open(databaseURL)
	} else {
		dialector = sqlite.Open(strings.TrimPrefix(databaseURL, "sqlite://"))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open catalog database: %w", err)
	}
	if err := db.AutoMigrate(&Problem{}, &SubmissionRecord{}); err != nil {
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Store{db: db}, nil
}

// PackPath resolves a problem ID to its test-pack archive location.
func (s *Store) PackPath(problemID int) (string, error) {
	if problemID <= 0 {
		return "", ErrProblemNotFound
	}
	var p Problem
	if err := s.db.First(&p, "id = ?", problemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrProblemNotFound
		}
		return "", err
	}
	return p.PackPath, nil
}

// AddProblem registers a test pack under a new problem ID.
func (s *Store) AddProblem(title, packPath string) (*Problem, error) {
	p := &Problem{Title: title, PackPath: packPath}
	if err := s.db.Create(p).Error; err != nil {
		return nil, err
	}
	return p, nil
}

// RecordSubmission writes the audit row for a completed check.
func (s *Store) RecordSubmission(problemID int, token string, outcome models.CheckOutcome) error {
	rec := &SubmissionRecord{
		ProblemID:           uint(problemID),
		Token:               token,
		Percentage:          outcome.Percentage,
		TimeLimitExceeded:   outcome.TimeLimitExceeded,
		MemoryLimitExceeded: outcome.MemoryLimitExceeded,
		CompilationError:    outcome.CompilationError,
	}
	return s.db.Create(rec).Error
}
