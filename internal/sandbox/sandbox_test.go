package sandbox

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesSeccompProfile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(nil, dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.cfg.SeccompProfile == "" {
		t.Fatal("no seccomp profile path recorded")
	}

	data, err := os.ReadFile(s.cfg.SeccompProfile)
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	var profile seccompProfile
	if err := json.Unmarshal(data, &profile); err != nil {
		t.Fatalf("profile is not valid JSON: %v", err)
	}
	if profile.DefaultAction != "SCMP_ACT_ERRNO" {
		t.Errorf("default action = %q", profile.DefaultAction)
	}

	ptraceAllowed := false
	mountDenied := false
	for _, sc := range profile.Syscalls {
		for _, name := range sc.Names {
			if name == "ptrace" && sc.Action == "SCMP_ACT_ALLOW" {
				ptraceAllowed = true
			}
			if name == "mount" && sc.Action == "SCMP_ACT_ERRNO" {
				mountDenied = true
			}
		}
	}
	if !ptraceAllowed {
		t.Error("ptrace must be allowed for the debugger")
	}
	if !mountDenied {
		t.Error("mount must stay denied")
	}
}

func TestImageTagIsDeterministic(t *testing.T) {
	s, err := New(DefaultConfig(), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tag := s.ImageTag("cppjudge-dbg-abc123")
	if tag != s.ImageTag("cppjudge-dbg-abc123") {
		t.Error("tag not deterministic")
	}
	if !strings.HasPrefix(tag, "cppjudge-img-") || !strings.HasSuffix(tag, ":latest") {
		t.Errorf("tag = %q", tag)
	}
}

func TestStagePrinters(t *testing.T) {
	printers := t.TempDir()
	if err := os.WriteFile(filepath.Join(printers, "printers.py"), []byte("# gdb printers"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	cfg.PrintersDir = printers
	base := t.TempDir()
	if _, err := New(cfg, base); err != nil {
		t.Fatalf("New: %v", err)
	}

	staged := filepath.Join(base, "printers", "printers.py")
	if _, err := os.Stat(staged); err != nil {
		t.Errorf("printer script not staged into build context: %v", err)
	}
}

func TestNewCreatesBaseDir(t *testing.T) {
	base := filepath.Join(t.TempDir(), "nested", "debug")
	if _, err := New(nil, base); err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(base); err != nil {
		t.Errorf("base dir not created: %v", err)
	}
}

func TestLimitedWriterCapsOutput(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	n, err := lw.Write([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("n = %d, want 10 written", n)
	}
	if buf.String() != "0123456789" {
		t.Errorf("buffer = %q", buf.String())
	}

	// Past the cap, writes are swallowed but report success.
	n, err = lw.Write([]byte("more"))
	if err != nil || n != 4 {
		t.Errorf("overflow write = (%d, %v)", n, err)
	}
	if buf.Len() != 10 {
		t.Errorf("buffer grew past the cap: %d", buf.Len())
	}
}
