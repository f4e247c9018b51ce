// Package checker compiles a submission, runs it inside the sandbox
// against a problem's ordered test pack under per-pack time and memory
// limits, and reports the pass percentage plus the first failing input.
package checker

import (
	"context"
	"os"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"cppjudge/internal/compiler"
	"cppjudge/internal/logging"
	"cppjudge/internal/sandbox"
	"cppjudge/pkg/models"
)

// oomExitCode is what docker reports when the kernel kills the process
// for exceeding its memory cap.
const oomExitCode = 137

// Compiler produces a binary from a source file.
type Compiler interface {
	Compile(ctx context.Context, filename string) (*compiler.Result, error)
}

// Runner is the sandbox surface the pipeline drives.
type Runner interface {
	BuildImage(ctx context.Context, name, binPath string) (sandbox.BuildStatus, string)
	RunForCheck(ctx context.Context, name, stdin string, timeout time.Duration, memLimitMB int64) (*sandbox.CheckResult, error)
	PruneImages() error
}

// checkerImageName is the single image tag the checker rebuilds per
// submission; the previous submission's image goes dangling and the
// post-run prune collects it.
const checkerImageName = "checker"

// ProblemSource resolves a problem ID to its test-pack archive.
type ProblemSource interface {
	PackPath(problemID int) (string, error)
}

// OutcomeSink records a completed check, keyed by submission token.
type OutcomeSink interface {
	Put(ctx context.Context, token string, outcome models.CheckOutcome) error
}

// AuditSink optionally records a durable per-submission audit row.
type AuditSink interface {
	RecordSubmission(problemID int, token string, outcome models.CheckOutcome) error
}

type job struct {
	filename  string
	problemID int
	token     string
	onDone    func(models.CheckOutcome)
}

// Checker is the single-consumer check pipeline.
type Checker struct {
	comp     Compiler
	box      Runner
	problems ProblemSource
	results  OutcomeSink
	audit    AuditSink

	queue chan job
	done  chan struct{}
}

// New builds a Checker. audit may be nil.
func New(comp Compiler, box Runner, problems ProblemSource, results OutcomeSink, audit AuditSink) *Checker {
	return &Checker{
		comp:     comp,
		box:      box,
		problems: problems,
		results:  results,
		audit:    audit,
		queue:    make(chan job, 100),
		done:     make(chan struct{}),
	}
}

// QueueDepth reports how many submissions are waiting.
func (c *Checker) QueueDepth() int { return len(c.queue) }

// PushCheck enqueues one submission. onDone may be nil; when set it is
// invoked with the outcome after it has been stored.
func (c *Checker) PushCheck(filename string, problemID int, token string, onDone func(models.CheckOutcome)) {
	c.queue <- job{filename: filename, problemID: problemID, token: token, onDone: onDone}
}

// Start launches the consumer goroutine. One job runs at a time.
func (c *Checker) Start() {
	go func() {
		for {
			select {
			case <-c.done:
				return
			case j := <-c.queue:
				outcome := c.check(j)
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := c.results.Put(ctx, j.token, outcome); err != nil {
					logging.L().Error("store check outcome", zap.String("token", j.token), zap.Error(err))
				}
				cancel()
				if c.audit != nil {
					if err := c.audit.RecordSubmission(j.problemID, j.token, outcome); err != nil {
						logging.L().Warn("record submission audit row", zap.Error(err))
					}
				}
				if j.onDone != nil {
					j.onDone(outcome)
				}
			}
		}
	}()
}

// Close stops the consumer.
func (c *Checker) Close() { close(c.done) }

// check runs the compile-build-run-compare pipeline for one job.
func (c *Checker) check(j job) models.CheckOutcome {
	var outcome models.CheckOutcome
	ctx := context.Background()

	res, err := c.comp.Compile(ctx, j.filename)
	if err != nil || res.OutputPath == "" {
		outcome.CompilationError = true
		c.removeArtifacts(j.filename, "")
		return outcome
	}
	binPath := res.OutputPath
	defer func() {
		c.removeArtifacts(j.filename, binPath)
		if err := c.box.PruneImages(); err != nil {
			logging.L().Debug("prune images", zap.Error(err))
		}
	}()

	if status, out := c.box.BuildImage(ctx, checkerImageName, binPath); status != sandbox.BuildSuccess {
		logging.L().Error("checker image build failed",
			zap.String("status", string(status)), zap.String("output", out))
		outcome.CompilationError = true
		return outcome
	}

	pack, err := c.loadPack(j.problemID)
	if err != nil {
		logging.L().Warn("load test pack", zap.Int("problem", j.problemID), zap.Error(err))
		outcome.InvalidProblemID = true
		return outcome
	}

	timeLimit := time.Duration(pack.TimeLimitSeconds) * time.Second

	passes := 0
	for _, tc := range pack.Cases {
		run, err := c.box.RunForCheck(ctx, checkerImageName, string(tc.Input), timeLimit, int64(pack.MemoryLimitMB))
		if err != nil {
			outcome.FirstFailed = string(tc.Input)
			break
		}
		if run.TimedOut {
			outcome.TimeLimitExceeded = true
			outcome.FirstFailed = string(tc.Input)
			break
		}
		if run.ExitCode == oomExitCode {
			outcome.MemoryLimitExceeded = true
			outcome.FirstFailed = string(tc.Input)
			break
		}
		if normalizeOutput(run.Stdout) != normalizeOutput(string(tc.Expected)) {
			outcome.FirstFailed = string(tc.Input)
			break
		}
		passes++
	}

	outcome.Percentage = float64(passes) / float64(len(pack.Cases)) * 100
	return outcome
}

func (c *Checker) loadPack(problemID int) (*models.TestPack, error) {
	path, err := c.problems.PackPath(problemID)
	if err != nil {
		return nil, err
	}
	return LoadPackFile(path)
}

func (c *Checker) removeArtifacts(srcPath, binPath string) {
	_ = os.Remove(srcPath)
	if binPath != "" {
		_ = os.Remove(binPath)
	}
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// normalizeOutput collapses whitespace runs to single spaces and trims,
// so formatting-only differences compare equal.
func normalizeOutput(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}
