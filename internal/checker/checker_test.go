package checker

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cppjudge/internal/compiler"
	"cppjudge/internal/sandbox"
	"cppjudge/pkg/models"
)

func TestNormalizeOutput(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1 2 3", "1 2 3"},
		{"  1\t2\n3  \n", "1 2 3"},
		{"1\n2\n3", "1 2 3"},
		{"", ""},
		{"   \n\t ", ""},
	}
	for _, tt := range tests {
		if got := normalizeOutput(tt.in); got != tt.want {
			t.Errorf("normalizeOutput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func writePack(t *testing.T, files map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pack.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	w := zip.NewWriter(f)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadPackFile(t *testing.T) {
	path := writePack(t, map[string]string{
		"CONFIG": "2 64\n",
		"in1":    "1 2",
		"out1":   "3",
		"in2":    "5 5",
		"out2":   "10",
	})

	pack, err := LoadPackFile(path)
	if err != nil {
		t.Fatalf("LoadPackFile: %v", err)
	}
	if pack.TimeLimitSeconds != 2 || pack.MemoryLimitMB != 64 {
		t.Errorf("limits = %d/%d", pack.TimeLimitSeconds, pack.MemoryLimitMB)
	}
	if len(pack.Cases) != 2 {
		t.Fatalf("cases = %d", len(pack.Cases))
	}
	if string(pack.Cases[0].Input) != "1 2" || string(pack.Cases[1].Expected) != "10" {
		t.Errorf("cases out of order: %+v", pack.Cases)
	}
}

func TestLoadPackFileRejectsBadPacks(t *testing.T) {
	tests := []struct {
		name  string
		files map[string]string
	}{
		{"missing config", map[string]string{"in1": "a", "out1": "b"}},
		{"count mismatch", map[string]string{"CONFIG": "1 64", "in1": "a", "in2": "b", "out1": "c"}},
		{"no tests", map[string]string{"CONFIG": "1 64"}},
		{"bad limits", map[string]string{"CONFIG": "fast small", "in1": "a", "out1": "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadPackFile(writePack(t, tt.files)); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}

// fakeCompiler always succeeds unless fail is set.
type fakeCompiler struct {
	fail bool
}

func (f *fakeCompiler) Compile(_ context.Context, filename string) (*compiler.Result, error) {
	if f.fail {
		return &compiler.Result{Stderr: "error: expected ';'"}, nil
	}
	out := filename + ".out"
	_ = os.WriteFile(out, []byte("bin"), 0o755)
	return &compiler.Result{OutputPath: out}, nil
}

// fakeRunner replays one CheckResult per test input.
type fakeRunner struct {
	results map[string]*sandbox.CheckResult
	pruned  bool
}

func (f *fakeRunner) BuildImage(context.Context, string, string) (sandbox.BuildStatus, string) {
	return sandbox.BuildSuccess, ""
}

func (f *fakeRunner) RunForCheck(_ context.Context, _, stdin string, _ time.Duration, _ int64) (*sandbox.CheckResult, error) {
	if r, ok := f.results[stdin]; ok {
		return r, nil
	}
	return &sandbox.CheckResult{}, nil
}

func (f *fakeRunner) PruneImages() error {
	f.pruned = true
	return nil
}

type fakeProblems struct {
	path string
	err  error
}

func (f *fakeProblems) PackPath(int) (string, error) { return f.path, f.err }

type memSink struct {
	mu       sync.Mutex
	outcomes map[string]models.CheckOutcome
}

func newMemSink() *memSink { return &memSink{outcomes: make(map[string]models.CheckOutcome)} }

func (s *memSink) Put(_ context.Context, token string, o models.CheckOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[token] = o
	return nil
}

func (s *memSink) get(token string) (models.CheckOutcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outcomes[token]
	return o, ok
}

func newSubmission(t *testing.T) string {
	t.Helper()
	src := filepath.Join(t.TempDir(), "sub.cpp")
	if err := os.WriteFile(src, []byte("int main(){}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return src
}

func runCheck(t *testing.T, c *Checker, src string) models.CheckOutcome {
	t.Helper()
	done := make(chan models.CheckOutcome, 1)
	c.Start()
	defer c.Close()
	c.PushCheck(src, 1, "tok", func(o models.CheckOutcome) { done <- o })
	select {
	case o := <-done:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("check did not complete")
		return models.CheckOutcome{}
	}
}

func TestCheckPassAndFail(t *testing.T) {
	pack := writePack(t, map[string]string{
		"CONFIG": "2 64",
		"in1":    "1 2",
		"out1":   "3",
		"in2":    "5 5",
		"out2":   "10",
	})
	runner := &fakeRunner{results: map[string]*sandbox.CheckResult{
		"1 2": {Stdout: " 3 \n"}, // equal after whitespace normalisation
		"5 5": {Stdout: "11"},
	}}
	sink := newMemSink()
	c := New(&fakeCompiler{}, runner, &fakeProblems{path: pack}, sink, nil)

	src := newSubmission(t)
	outcome := runCheck(t, c, src)

	if outcome.Percentage != 50 {
		t.Errorf("percentage = %v, want 50", outcome.Percentage)
	}
	if outcome.FirstFailed != "5 5" {
		t.Errorf("first_failed = %q", outcome.FirstFailed)
	}
	if outcome.TimeLimitExceeded || outcome.MemoryLimitExceeded || outcome.CompilationError {
		t.Errorf("unexpected flags: %+v", outcome)
	}
	if stored, ok := sink.get("tok"); !ok || stored.Percentage != 50 {
		t.Error("outcome not stored under token")
	}
	if !runner.pruned {
		t.Error("images not pruned after the run")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("submission source not removed")
	}
}

func TestCheckTimeLimitExceeded(t *testing.T) {
	pack := writePack(t, map[string]string{
		"CONFIG": "1 64",
		"in1":    "spin",
		"out1":   "never",
	})
	runner := &fakeRunner{results: map[string]*sandbox.CheckResult{
		"spin": {TimedOut: true, ExitCode: 124},
	}}
	c := New(&fakeCompiler{}, runner, &fakeProblems{path: pack}, newMemSink(), nil)

	outcome := runCheck(t, c, newSubmission(t))

	if !outcome.TimeLimitExceeded {
		t.Error("expected time_limit_exceeded")
	}
	if outcome.Percentage != 0 || outcome.FirstFailed != "spin" {
		t.Errorf("outcome = %+v", outcome)
	}
}

func TestCheckMemoryLimitExceeded(t *testing.T) {
	pack := writePack(t, map[string]string{
		"CONFIG": "1 64",
		"in1":    "big",
		"out1":   "never",
	})
	runner := &fakeRunner{results: map[string]*sandbox.CheckResult{
		"big": {ExitCode: 137},
	}}
	c := New(&fakeCompiler{}, runner, &fakeProblems{path: pack}, newMemSink(), nil)

	outcome := runCheck(t, c, newSubmission(t))

	if !outcome.MemoryLimitExceeded {
		t.Error("expected memory_limit_exceeded")
	}
}

func TestCheckCompilationError(t *testing.T) {
	c := New(&fakeCompiler{fail: true}, &fakeRunner{}, &fakeProblems{path: "unused"}, newMemSink(), nil)

	outcome := runCheck(t, c, newSubmission(t))

	if !outcome.CompilationError {
		t.Error("expected compilation_error")
	}
	if outcome.Percentage != 0 {
		t.Errorf("percentage = %v", outcome.Percentage)
	}
}
