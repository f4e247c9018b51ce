// Package compiler wraps the external C++ compiler, producing a
// debuggable binary plus a bounded, line-truncated error transcript.
//
// Grounded on the reference platform's execution.CppRunner (g++/clang++
// invocation) generalized to the debug-build flag set and the
// compile-timeout/error-truncation policy the debugger service needs.
package compiler

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"cppjudge/internal/logging"

	"go.uber.org/zap"
)

// Result is the outcome of a compile attempt.
type Result struct {
	OutputPath string // empty on failure
	Stderr     string // truncated transcript
	TimedOut   bool
}

// Driver compiles C++ source with full debug info enabled.
type Driver struct {
	Timeout       time.Duration
	MaxErrorLines int
}

// New returns a Driver with the given compile timeout and stderr line
// budget (spec.md MAX_COMPILATION_ERROR_MESSAGE_LENGTH).
func New(timeout time.Duration, maxErrorLines int) *Driver {
	return &Driver{Timeout: timeout, MaxErrorLines: maxErrorLines}
}

// outputPath derives the deterministic object path for a source file:
// "x.cpp" -> "x.out".
func outputPath(filename string) string {
	trimmed := strings.TrimSuffix(filename, ".cpp")
	trimmed = strings.TrimSuffix(trimmed, ".cc")
	trimmed = strings.TrimSuffix(trimmed, ".cxx")
	return trimmed + ".out"
}

// Compile runs g++ (falling back to clang++) against filename with debug
// flags enabled: full debug info, no inlining, no frame-pointer
// omission, and shadow warnings promoted to errors. On timeout it
// returns the fixed human-readable message. On tool-not-found it logs
// and returns an empty result with no output file.
func (d *Driver) Compile(ctx context.Context, filename string) (*Result, error) {
	compilerPath, err := exec.LookPath("g++")
	if err != nil {
		compilerPath, err = exec.LookPath("clang++")
		if err != nil {
			logging.L().Error("c++ compiler not found on PATH", zap.Error(err))
			return &Result{}, nil
		}
	}

	out := outputPath(filename)

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	compileCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-g", "-O0",
		"-fno-omit-frame-pointer",
		"-fno-inline",
		"-Wshadow", "-Werror=shadow",
		"-std=c++17",
		"-o", out,
		filename,
	}

	cmd := exec.CommandContext(compileCtx, compilerPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if compileCtx.Err() == context.DeadlineExceeded {
		logging.L().Warn("compilation timed out", zap.String("file", filename), zap.Duration("timeout", timeout))
		return &Result{
			Stderr:   fmt.Sprintf("Your program must compile under %d seconds!", int(timeout.Seconds())),
			TimedOut: true,
		}, nil
	}

	truncated := truncateLines(stderr.String(), d.MaxErrorLines)

	if runErr != nil {
		return &Result{Stderr: truncated}, nil
	}

	return &Result{OutputPath: out, Stderr: truncated}, nil
}

// truncateLines bounds text to at most maxLines lines, appending a
// "...and K line(s) more" marker when lines were dropped.
func truncateLines(text string, maxLines int) string {
	if maxLines <= 0 || text == "" {
		return text
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) <= maxLines {
		return text
	}
	kept := lines[:maxLines]
	more := len(lines) - maxLines
	return strings.Join(kept, "\n") + fmt.Sprintf("\n...and %d line(s) more", more)
}
