// Package sandbox runs compiled C++ binaries inside isolated Docker
// containers, driven through os/exec rather than the Docker Engine API.
//
// Grounded on the reference platform's execution.ContainerSandbox:
// seccomp-profile generation, docker-run argument construction, and
// image lifecycle management, adapted for the two call shapes the
// debugger and checker need instead of the teacher's language-dispatch
// Execute: a long-lived, ptrace-capable container that a PTY attaches
// to (StartDebuggerStream) and a short-lived, capability-dropped
// container that runs one test case to completion (RunForCheck). Each
// session gets its own image: the recipe is materialized in the debug
// directory, the binary is copied in as /app/a.out owned by a non-root
// user with execute-only permissions.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"cppjudge/internal/logging"
	"cppjudge/internal/ptyio"

	"go.uber.org/zap"
)

// BuildStatus classifies the outcome of an image build.
type BuildStatus string

const (
	BuildSuccess       BuildStatus = "success"
	BuildError         BuildStatus = "docker_build_error"
	BuildInternalError BuildStatus = "internal_docker_manager_error"
)

// printersImagePath is where the pretty-printer scripts land inside
// the image, on gdb's python library path.
const printersImagePath = "/usr/share/gdb/python"

// Config controls image naming, resource limits and security posture
// for every container this package launches.
type Config struct {
	ImagePrefix    string
	PrintersDir    string // host directory holding the gdb pretty-printer scripts
	MemoryLimitMB  int64
	CPULimit       float64
	PidsLimit      int64
	TmpfsSize      string
	EnableSeccomp  bool
	SeccompProfile string // populated by New
}

// DefaultConfig mirrors the reference platform's DefaultContainerSandboxConfig
// defaults, scaled to the per-session debug images this service builds.
func DefaultConfig() *Config {
	return &Config{
		ImagePrefix:   "cppjudge",
		MemoryLimitMB: 256,
		CPULimit:      0.5,
		PidsLimit:     64,
		TmpfsSize:     "64m",
		EnableSeccomp: true,
	}
}

// Sandbox manages the lifecycle of C++ debug/run images and containers.
type Sandbox struct {
	cfg     *Config
	baseDir string

	// buildMu serialises image builds: the generated recipe lives at a
	// fixed path in the debug directory.
	buildMu   sync.Mutex
	baseBuilt bool
}

// New creates a Sandbox rooted at baseDir (the debug directory),
// writing its seccomp profile there and staging the pretty-printer
// scripts into the image build context.
func New(cfg *Config, baseDir string) (*Sandbox, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create sandbox base dir: %w", err)
	}
	s := &Sandbox{cfg: cfg, baseDir: baseDir}
	if cfg.EnableSeccomp {
		path := filepath.Join(baseDir, "seccomp-debug.json")
		if err := writeSeccompProfile(path); err != nil {
			return nil, fmt.Errorf("write seccomp profile: %w", err)
		}
		cfg.SeccompProfile = path
	}
	if err := s.stagePrinters(); err != nil {
		return nil, err
	}
	return s, nil
}

// stagePrinters copies the pretty-printer scripts into the build
// context so the per-session recipe can COPY them.
func (s *Sandbox) stagePrinters() error {
	dst := filepath.Join(s.baseDir, "printers")
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return fmt.Errorf("create printers staging dir: %w", err)
	}
	if s.cfg.PrintersDir == "" {
		return nil
	}
	entries, err := os.ReadDir(s.cfg.PrintersDir)
	if err != nil {
		return fmt.Errorf("read printers dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.cfg.PrintersDir, e.Name()))
		if err != nil {
			return fmt.Errorf("read printer script %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("stage printer script %s: %w", e.Name(), err)
		}
	}
	return nil
}

// baseImageName is the shared layer every session image builds FROM:
// the debugger, its python support and the non-root user, built once.
func (s *Sandbox) baseImageName() string {
	return s.cfg.ImagePrefix + "-gdb-base:latest"
}

// ImageTag is the deterministic per-session image tag.
func (s *Sandbox) ImageTag(name string) string {
	return s.cfg.ImagePrefix + "-img-" + name + ":latest"
}

const baseDockerfile = `FROM gcc:13
RUN apt-get update && apt-get install -y --no-install-recommends gdb python3 \
    && rm -rf /var/lib/apt/lists/*
RUN useradd -m -u 1000 sandbox && mkdir -p /app && chown sandbox:sandbox /app
`

func (s *Sandbox) ensureBaseImage(ctx context.Context) error {
	if s.baseBuilt {
		return nil
	}
	path := filepath.Join(s.baseDir, "dockerfile.base")
	if err := os.WriteFile(path, []byte(baseDockerfile), 0o644); err != nil {
		return fmt.Errorf("write base dockerfile: %w", err)
	}
	if out, err := s.dockerBuild(ctx, s.baseImageName(), path); err != nil {
		return fmt.Errorf("build base image: %w: %s", err, out)
	}
	s.baseBuilt = true
	return nil
}

// BuildImage materializes the per-session recipe in the debug
// directory and builds the session image: the compiled binary becomes
// /app/a.out, owned by the non-root user with execute-only
// permissions, and the pretty-printers land on gdb's library path.
// binPath must live under the debug directory.
func (s *Sandbox) BuildImage(ctx context.Context, name, binPath string) (BuildStatus, string) {
	s.buildMu.Lock()
	defer s.buildMu.Unlock()

	if err := s.ensureBaseImage(ctx); err != nil {
		logging.L().Error("base image build failed", zap.Error(err))
		return BuildInternalError, err.Error()
	}

	// Stage the binary into the build context under its canonical name.
	bin, err := os.ReadFile(binPath)
	if err != nil {
		return BuildInternalError, fmt.Sprintf("read binary: %v", err)
	}
	staged := filepath.Join(s.baseDir, "a.out")
	if err := os.WriteFile(staged, bin, 0o755); err != nil {
		return BuildInternalError, fmt.Sprintf("stage binary: %v", err)
	}
	defer os.Remove(staged)

	recipe := fmt.Sprintf(`FROM %s
COPY printers/ %s/
COPY a.out /app/a.out
RUN chown sandbox:sandbox /app/a.out && chmod 500 /app/a.out
USER sandbox
WORKDIR /app
`, s.baseImageName(), printersImagePath)

	recipePath := filepath.Join(s.baseDir, "dockerfile")
	if err := os.WriteFile(recipePath, []byte(recipe), 0o644); err != nil {
		return BuildInternalError, fmt.Sprintf("write dockerfile: %v", err)
	}

	if out, err := s.dockerBuild(ctx, s.ImageTag(name), recipePath); err != nil {
		logging.L().Error("docker build failed",
			zap.String("image", s.ImageTag(name)), zap.String("output", out))
		return BuildError, out
	}
	return BuildSuccess, ""
}

func (s *Sandbox) dockerBuild(ctx context.Context, tag, dockerfile string) (string, error) {
	cmd := osexec.CommandContext(ctx, "docker", "build", "-t", tag, "-f", dockerfile, s.baseDir)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	return out.String(), err
}

// StartDebuggerStream launches the session image as a long-lived
// container running gdb in MI mode against /app/a.out, with ptrace
// allowed (every other Linux capability dropped) so gdb can trace the
// debuggee it forks inside the same container, and attaches a
// supervised PTY stream to drive it.
//
// The docker-run hardening keeps the teacher profile's read-only
// rootfs, tmpfs /tmp, --network=none, resource caps and
// no-new-privileges; the ptrace allowance is the one inversion a
// debugger requires. The debug directory is mounted read-only at
// /work so the per-session stdin file is reachable.
func (s *Sandbox) StartDebuggerStream(ctx context.Context, name string) (*ptyio.Stream, error) {
	args := []string{
		"run", "--rm", "-i",
		"--name", name,
		"--memory", fmt.Sprintf("%dm", s.cfg.MemoryLimitMB),
		"--memory-swap", fmt.Sprintf("%dm", s.cfg.MemoryLimitMB),
		"--cpus", fmt.Sprintf("%.2f", s.cfg.CPULimit),
		"--pids-limit", fmt.Sprintf("%d", s.cfg.PidsLimit),
		"--cap-drop=ALL",
		"--cap-add=SYS_PTRACE",
		"--security-opt=no-new-privileges:true",
		"--read-only",
	}
	if s.cfg.EnableSeccomp && s.cfg.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+s.cfg.SeccompProfile)
	}
	workDir, err := filepath.Abs(s.baseDir)
	if err != nil {
		workDir = s.baseDir
	}
	args = append(args,
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,size=%s,mode=1777,uid=1000,gid=1000", s.cfg.TmpfsSize),
		"--network=none",
		"-v", fmt.Sprintf("%s:/work:ro", workDir),
		s.ImageTag(name),
		"gdb", "--interpreter=mi2", "--nx", "/app/a.out",
	)

	cmd := osexec.CommandContext(ctx, "docker", args...)
	stream, err := ptyio.Start(cmd)
	if err != nil {
		return nil, fmt.Errorf("start debugger container %s: %w", name, err)
	}
	return stream, nil
}

// CheckResult is the outcome of one sandboxed run against a single test
// case, used by internal/checker.
type CheckResult struct {
	Stdout     string
	Stderr     string
	ExitCode   int
	TimedOut   bool
	DurationMs int64
}

// RunForCheck runs the session image's /app/a.out to completion
// against stdin inside a throwaway, fully capability-dropped container
// bounded by timeout. Grounded on ContainerSandbox.runContainer's
// status classification and its limitedWriter output cap.
func (s *Sandbox) RunForCheck(ctx context.Context, name, stdin string, timeout time.Duration, memLimitMB int64) (*CheckResult, error) {
	containerName := s.cfg.ImagePrefix + "-run-" + name
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if memLimitMB <= 0 {
		memLimitMB = s.cfg.MemoryLimitMB
	}

	args := []string{
		"run", "--rm", "-i",
		"--name", containerName,
		"--memory", fmt.Sprintf("%dm", memLimitMB),
		"--memory-swap", fmt.Sprintf("%dm", memLimitMB),
		"--cpus", fmt.Sprintf("%.2f", s.cfg.CPULimit),
		"--pids-limit", fmt.Sprintf("%d", s.cfg.PidsLimit),
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges:true",
		"--read-only",
	}
	if s.cfg.EnableSeccomp && s.cfg.SeccompProfile != "" {
		args = append(args, "--security-opt", "seccomp="+s.cfg.SeccompProfile)
	}
	args = append(args,
		"--tmpfs", fmt.Sprintf("/tmp:rw,nosuid,size=%s,mode=1777,uid=1000,gid=1000", s.cfg.TmpfsSize),
		"--network=none",
		s.ImageTag(name),
		"/app/a.out",
	)

	cmd := osexec.CommandContext(runCtx, "docker", args...)
	cmd.Stdin = strings.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitedWriter{w: &stdout, limit: 1024 * 1024}
	cmd.Stderr = &limitedWriter{w: &stderr, limit: 1024 * 1024}

	start := time.Now()
	err := cmd.Run()
	result := &CheckResult{
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		DurationMs: time.Since(start).Milliseconds(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.TimedOut = true
		result.ExitCode = 124
		go s.forceKill(containerName)
	case err != nil:
		if exitErr, ok := err.(*osexec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = 1
		}
	}

	return result, nil
}

// StopContainer force-removes a running container by name. Idempotent:
// a missing container is not an error worth surfacing.
func (s *Sandbox) StopContainer(name string) error {
	_ = osexec.Command("docker", "rm", "-f", name).Run()
	return nil
}

func (s *Sandbox) forceKill(name string) {
	_ = osexec.Command("docker", "rm", "-f", name).Run()
}

// RemoveImage deletes a session's image.
func (s *Sandbox) RemoveImage(name string) error {
	return osexec.Command("docker", "rmi", "-f", s.ImageTag(name)).Run()
}

// PruneImages removes dangling images left behind by rebuilt recipes.
func (s *Sandbox) PruneImages() error {
	if err := osexec.Command("docker", "image", "prune", "-f").Run(); err != nil {
		return fmt.Errorf("prune images: %w", err)
	}
	return nil
}

type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	if lw.written >= lw.limit {
		return len(p), nil
	}
	remaining := lw.limit - lw.written
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if n < len(p) {
		return len(p), err
	}
	return n, err
}

// seccompProfile is the JSON shape docker --security-opt seccomp=<file>
// expects.
type seccompProfile struct {
	DefaultAction string           `json:"defaultAction"`
	Architectures []string         `json:"architectures"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names  []string `json:"names"`
	Action string   `json:"action"`
}

// writeSeccompProfile mirrors ContainerSandbox.writeSeccompProfile's
// allow-list, with one deliberate omission: ptrace is not blocked here
// (see StartDebuggerStream). mount/umount2/reboot/swapon/kexec_load/acct
// stay denied.
func writeSeccompProfile(path string) error {
	profile := seccompProfile{
		DefaultAction: "SCMP_ACT_ERRNO",
		Architectures: []string{"SCMP_ARCH_X86_64", "SCMP_ARCH_AARCH64"},
		Syscalls: []seccompSyscall{
			{Names: []string{"read", "write", "open", "openat", "close", "stat", "fstat", "lstat", "newfstatat"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"poll", "ppoll", "pselect6", "select", "lseek", "mmap", "mprotect", "munmap", "brk"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"rt_sigaction", "rt_sigprocmask", "rt_sigreturn", "ioctl", "access", "pipe", "pipe2"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"sched_yield", "mremap", "dup", "dup2", "dup3", "nanosleep", "clock_nanosleep"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"getpid", "gettid", "clone", "fork", "vfork", "execve", "execveat", "exit", "exit_group"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"wait4", "waitid", "kill", "tgkill", "tkill", "uname", "fcntl", "flock", "fsync", "fdatasync"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"ptrace"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"getdents", "getdents64", "getcwd", "chdir", "fchdir", "rename", "renameat", "renameat2"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"mkdir", "mkdirat", "rmdir", "creat", "link", "linkat", "unlink", "unlinkat", "symlink", "symlinkat"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"readlink", "readlinkat", "chmod", "fchmod", "fchmodat", "chown", "fchown", "lchown", "fchownat"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"umask", "gettimeofday", "getrlimit", "setrlimit", "prlimit64", "getrusage", "sysinfo", "times"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"getuid", "getgid", "geteuid", "getegid", "setuid", "setgid", "setpgid", "getppid", "getpgrp", "setsid"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"futex", "set_robust_list", "get_robust_list", "set_tid_address", "arch_prctl", "prctl"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"rt_sigpending", "rt_sigtimedwait", "rt_sigqueueinfo", "sigaltstack", "restart_syscall"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"statx", "getrandom", "memfd_create", "epoll_create1", "epoll_ctl", "epoll_wait", "epoll_pwait"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"socket", "connect", "bind", "listen", "accept4", "setsockopt", "getsockopt", "getsockname", "socketpair"}, Action: "SCMP_ACT_ALLOW"},
			{Names: []string{"mount", "umount2"}, Action: "SCMP_ACT_ERRNO"},
			{Names: []string{"reboot", "swapon", "swapoff", "kexec_load", "kexec_file_load", "acct"}, Action: "SCMP_ACT_ERRNO"},
		},
	}
	data, err := json.MarshalIndent(profile, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
