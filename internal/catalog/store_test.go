package catalog

import (
	"errors"
	"testing"

	"cppjudge/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory catalog: %v", err)
	}
	return s
}

func TestAddAndResolveProblem(t *testing.T) {
	s := openTestStore(t)

	p, err := s.AddProblem("a plus b", "/packs/1.zip")
	if err != nil {
		t.Fatalf("AddProblem: %v", err)
	}

	path, err := s.PackPath(int(p.ID))
	if err != nil {
		t.Fatalf("PackPath: %v", err)
	}
	if path != "/packs/1.zip" {
		t.Errorf("path = %q", path)
	}
}

func TestPackPathUnknownProblem(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.PackPath(12345); !errors.Is(err, ErrProblemNotFound) {
		t.Errorf("err = %v, want ErrProblemNotFound", err)
	}
	if _, err := s.PackPath(0); !errors.Is(err, ErrProblemNotFound) {
		t.Errorf("err = %v, want ErrProblemNotFound for non-positive id", err)
	}
}

func TestRecordSubmission(t *testing.T) {
	s := openTestStore(t)

	err := s.RecordSubmission(7, "tok-1", models.CheckOutcome{
		Percentage:        50,
		TimeLimitExceeded: true,
	})
	if err != nil {
		t.Fatalf("RecordSubmission: %v", err)
	}

	var rec SubmissionRecord
	if err := s.db.First(&rec, "token = ?", "tok-1").Error; err != nil {
		t.Fatalf("read back: %v", err)
	}
	if rec.ProblemID != 7 || rec.Percentage != 50 || !rec.TimeLimitExceeded {
		t.Errorf("record = %+v", rec)
	}
}
