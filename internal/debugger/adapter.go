package debugger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"cppjudge/internal/compiler"
	"cppjudge/internal/logging"
	"cppjudge/internal/sandbox"
	"cppjudge/pkg/models"
)

// State is the adapter lifecycle position. Transitions to StateStopped
// are irreversible.
type State int32

const (
	StateNew State = iota
	StateCompiling
	StateBuildingImage
	StateLaunching
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateCompiling:
		return "compiling"
	case StateBuildingImage:
		return "building_image"
	case StateLaunching:
		return "launching"
	case StateRunning:
		return "running"
	default:
		return "stopped"
	}
}

// Stream is the supervised line-synchronized channel to the debugger
// subprocess. internal/ptyio provides the real implementation; tests
// substitute a scripted one.
type Stream interface {
	SendLine(data string) error
	ExpectToken(timeout time.Duration, tokens ...string) (raw []string, matched string, err error)
	Close(force bool) error
	Alive() bool
}

// Launcher starts the session's debugger container and returns the
// stream attached to it.
type Launcher func(ctx context.Context, containerName string) (Stream, error)

// Options wires an Adapter's collaborators and per-session paths.
type Options struct {
	Token         string
	DebugDir      string
	ExpectTimeout time.Duration
	Compiler      *compiler.Driver
	Sandbox       *sandbox.Sandbox
	Launch        Launcher // defaults to Sandbox.StartDebuggerStream
}

// Adapter drives one gdb/MI subprocess for one debugging session.
type Adapter struct {
	token         string
	containerName string
	debugDir      string
	expectTimeout time.Duration

	comp   *compiler.Driver
	box    *sandbox.Sandbox
	launch Launcher

	// cmdMu serialises Init and motion commands so no two commands
	// interleave their MI I/O on the same stream.
	cmdMu sync.Mutex

	// stateMu guards the fields Stop and the janitor touch while a
	// command may be blocked inside an expect.
	stateMu sync.Mutex
	stream  Stream

	state       atomic.Int32
	initialized atomic.Bool

	pingMu   sync.Mutex
	lastPing time.Time

	sourcePath string
	binPath    string
	stdinPath  string

	breakpoints map[int]bool
	stdoutSeen  int
}

// New creates an adapter in StateNew. The session source is expected at
// <DebugDir>/<Token>.cpp before Init is called.
func New(opts Options) *Adapter {
	a := &Adapter{
		token:         opts.Token,
		containerName: "cppjudge-dbg-" + shortToken(opts.Token),
		debugDir:      opts.DebugDir,
		expectTimeout: opts.ExpectTimeout,
		comp:          opts.Compiler,
		box:           opts.Sandbox,
		launch:        opts.Launch,
		sourcePath:    filepath.Join(opts.DebugDir, opts.Token+".cpp"),
		breakpoints:   make(map[int]bool),
		lastPing:      time.Now(),
	}
	if a.expectTimeout <= 0 {
		a.expectTimeout = 5 * time.Second
	}
	if a.launch == nil {
		a.launch = a.defaultLaunch
	}
	return a
}

func shortToken(token string) string {
	if len(token) > 12 {
		return token[:12]
	}
	return token
}

func (a *Adapter) defaultLaunch(ctx context.Context, containerName string) (Stream, error) {
	return a.box.StartDebuggerStream(ctx, containerName)
}

// Token returns the session's opaque identifier.
func (a *Adapter) Token() string { return a.token }

// ContainerName returns the deterministic container name of the session.
func (a *Adapter) ContainerName() string { return a.containerName }

// SourcePath returns the per-session source file location.
func (a *Adapter) SourcePath() string { return a.sourcePath }

// CurrentState reports the lifecycle position.
func (a *Adapter) CurrentState() State { return State(a.state.Load()) }

func (a *Adapter) setState(s State) { a.state.Store(int32(s)) }

// Initialized reports whether Init has completed. The janitor treats a
// session still initializing as live.
func (a *Adapter) Initialized() bool { return a.initialized.Load() }

// LastPing returns the time of the most recent client ping.
func (a *Adapter) LastPing() time.Time {
	a.pingMu.Lock()
	defer a.pingMu.Unlock()
	return a.lastPing
}

// Ping refreshes the liveness timestamp.
func (a *Adapter) Ping() {
	a.pingMu.Lock()
	a.lastPing = time.Now()
	a.pingMu.Unlock()
}

// StreamAlive reports whether the supervised debugger stream exists and
// its subprocess is still running.
func (a *Adapter) StreamAlive() bool {
	a.stateMu.Lock()
	st := a.stream
	a.stateMu.Unlock()
	return st != nil && st.Alive()
}

// Init compiles the session source, builds and launches the sandbox,
// and brings gdb to a running inferior stopped at main.
//
// Return codes: 0 success; -1 compilation failure (detail holds the
// truncated compiler stderr); -2 sandbox build or launch failure
// (detail holds the builder output).
func (a *Adapter) Init(ctx context.Context, input string) (int, string) {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	if a.CurrentState() != StateNew {
		return -1, "session is not in a startable state"
	}

	a.setState(StateCompiling)
	res, err := a.comp.Compile(ctx, a.sourcePath)
	if err != nil {
		return -1, err.Error()
	}
	if res.OutputPath == "" {
		return -1, res.Stderr
	}
	a.binPath = res.OutputPath

	a.stdinPath = filepath.Join(a.debugDir, "input_"+a.containerName+".txt")
	if err := os.WriteFile(a.stdinPath, []byte(input), 0o644); err != nil {
		return -2, fmt.Sprintf("write stdin file: %v", err)
	}

	a.setState(StateBuildingImage)
	if status, out := a.box.BuildImage(ctx, a.containerName, a.binPath); status != sandbox.BuildSuccess {
		return -2, out
	}

	a.setState(StateLaunching)
	stream, err := a.launch(ctx, a.containerName)
	if err != nil {
		return -2, err.Error()
	}
	a.stateMu.Lock()
	a.stream = stream
	a.stateMu.Unlock()

	if _, _, err := stream.ExpectToken(a.expectTimeout, "(gdb)"); err != nil {
		a.Stop()
		return -2, "debugger did not reach its prompt"
	}

	// One batch: pretty-printers, header skipping, the entry
	// breakpoint, and the program start with redirected stdio. The
	// whole batch is acknowledged by a single ^running.
	initCmds := []string{
		`python import sys; sys.path.insert(0, "/usr/share/gdb/python"); from libstdcxx.v6.printers import register_libstdcxx_printers; register_libstdcxx_printers(None)`,
		"skip -gfi /usr/include/*",
		"break main",
		fmt.Sprintf("run < /work/%s > /tmp/output", filepath.Base(a.stdinPath)),
	}
	for _, cmd := range initCmds {
		if err := stream.SendLine(cmd); err != nil {
			a.Stop()
			return -2, fmt.Sprintf("send init command: %v", err)
		}
	}
	if _, _, err := stream.ExpectToken(a.expectTimeout, "^running"); err != nil {
		a.Stop()
		return -2, "debugger did not start the program"
	}

	a.initialized.Store(true)
	a.setState(StateRunning)
	a.Ping()
	logging.L().Info("debug session initialized",
		zap.String("token", a.token), zap.String("container", a.containerName))
	return 0, ""
}

// Run resumes from the entry breakpoint.
func (a *Adapter) Run(adds, removes []int) *models.Snapshot {
	return a.motion("run", adds, removes)
}

// Continue resumes until the next breakpoint or exit.
func (a *Adapter) Continue(adds, removes []int) *models.Snapshot {
	return a.motion("continue", adds, removes)
}

// Step executes one source line, entering calls.
func (a *Adapter) Step(adds, removes []int) *models.Snapshot {
	return a.motion("step", adds, removes)
}

// Finish runs until the current function returns.
func (a *Adapter) Finish(adds, removes []int) *models.Snapshot {
	return a.motion("finish", adds, removes)
}

// motion applies breakpoint deltas, issues the motion command, then
// runs the state-after-move routine. A nil snapshot means the session
// was not in a state that accepts motion commands.
func (a *Adapter) motion(command string, adds, removes []int) *models.Snapshot {
	a.cmdMu.Lock()
	defer a.cmdMu.Unlock()

	if a.CurrentState() != StateRunning {
		return nil
	}

	// Adds before removes, so a re-arm on the same line takes effect.
	// Both are idempotent against the tracked breakpoint set.
	for _, line := range adds {
		if a.breakpoints[line] {
			continue
		}
		if _, _, err := a.command(fmt.Sprintf("break %d", line)); err != nil {
			return a.timeoutSnapshot()
		}
		a.breakpoints[line] = true
	}
	for _, line := range removes {
		if !a.breakpoints[line] {
			continue
		}
		if _, _, err := a.command(fmt.Sprintf("clear %d", line)); err != nil {
			return a.timeoutSnapshot()
		}
		delete(a.breakpoints, line)
	}

	moveRecords, _, err := a.command(command)
	if err != nil {
		return a.timeoutSnapshot()
	}

	return a.stateAfterMove(moveRecords)
}

// stateAfterMove issues info program and classifies the combined
// console output of the motion command and the program query.
func (a *Adapter) stateAfterMove(moveRecords []Record) *models.Snapshot {
	infoRecords, _, err := a.command("info program")
	if err != nil {
		return a.timeoutSnapshot()
	}

	// After a natural exit the info program payload also says "not
	// being run", so the terminal classifications are checked first;
	// the advisory only fires when the program was never started.
	text := consoleText(moveRecords) + consoleText(infoRecords)
	switch {
	case strings.Contains(text, "exited normally]"):
		snap := models.NewSnapshot()
		snap.IsRunning = false
		snap.Stdout = a.captureStdout()
		a.Stop()
		return snap

	case strings.Contains(text, " received signal"):
		snap := models.NewSnapshot()
		snap.IsRunning = false
		snap.RuntimeError = true
		snap.RuntimeErrorDetails = signalDetails(text)
		snap.Stdout = a.captureStdout()
		a.Stop()
		return snap

	case strings.Contains(text, "The program being debugged is not being run."):
		snap := models.NewSnapshot()
		snap.IsRunning = true
		snap.RuntimeErrorDetails = "The program being debugged is not being run."
		return snap

	default:
		return a.buildSnapshot()
	}
}

// signalDetails extracts "SIGSEGV, Segmentation fault" from a console
// payload like "Program received signal SIGSEGV, Segmentation fault.".
func signalDetails(text string) string {
	idx := strings.Index(text, " received signal ")
	if idx < 0 {
		return ""
	}
	rest := text[idx+len(" received signal "):]
	if end := strings.IndexAny(rest, ".\n"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func (a *Adapter) timeoutSnapshot() *models.Snapshot {
	snap := models.NewSnapshot()
	snap.IsRunning = false
	snap.Timeout = true
	a.Stop()
	return snap
}

// buildSnapshot populates the full structured view: frame, return
// type, argument/local/global variables and the program output delta.
func (a *Adapter) buildSnapshot() *models.Snapshot {
	snap := models.NewSnapshot()
	snap.IsRunning = true

	frameRecords, _, err := a.command("frame")
	if err != nil {
		return a.timeoutSnapshot()
	}
	if fn, line, ok := parseFrame(consoleText(frameRecords)); ok {
		snap.Function = fn
		snap.Line = line

		whatisRecords, _, err := a.command("whatis " + fn)
		if err != nil {
			return a.timeoutSnapshot()
		}
		if ret, ok := parseReturnType(consoleText(whatisRecords)); ok {
			snap.FunctionReturnType = ret
		}
	} else {
		logging.L().Debug("frame output did not parse", zap.String("token", a.token))
	}

	snap.Arguments = a.listedVariables("info args", "No arguments.")
	snap.LocalVariables = a.listedVariables("info locals", "No locals.")
	snap.GlobalVariables = a.globalVariables()
	snap.Stdout = a.captureStdout()
	return snap
}

// listedVariables fetches the variables reported by info args or info
// locals. The literal sentinel payloads mean an empty list.
func (a *Adapter) listedVariables(command, sentinel string) []models.Variable {
	records, _, err := a.command(command)
	if err != nil {
		return []models.Variable{}
	}
	text := strings.TrimSpace(consoleText(records))
	if text == "" || text == sentinel {
		return []models.Variable{}
	}

	vars := []models.Variable{}
	for _, name := range parseNameList(text) {
		vars = append(vars, a.fetchVariable(name))
	}
	return vars
}

// fetchVariable resolves one variable's value and declared type. Any
// parse miss degrades to a supported=false placeholder.
func (a *Adapter) fetchVariable(name string) models.Variable {
	printRecords, _, err := a.command("p " + name)
	if err != nil {
		return models.Unsupported()
	}
	value, ok := parseValue(consoleText(printRecords))
	if !ok {
		return models.Unsupported()
	}

	whatisRecords, _, err := a.command("whatis " + name)
	if err != nil {
		return models.Unsupported()
	}
	typ, ok := parseDeclaredType(consoleText(whatisRecords))
	if !ok {
		return models.Unsupported()
	}

	return models.Variable{
		Supported:  true,
		Name:       name,
		Type:       typ,
		Value:      value,
		Dimensions: parseDimensions(typ),
	}
}

// declLineNoRe strips the "NN:" line-number prefix info variables puts
// in front of each declaration.
var declLineNoRe = regexp.MustCompile(`^\d+:\s*`)

// globalVariables scans info variables output for the file section
// belonging to this session's debug directory and resolves every
// declaration in it.
func (a *Adapter) globalVariables() []models.Variable {
	records, _, err := a.command("info variables")
	if err != nil {
		return []models.Variable{}
	}

	vars := []models.Variable{}
	inSection := false
	for _, line := range strings.Split(consoleText(records), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Non-debugging symbols:"):
			return vars
		case strings.HasPrefix(trimmed, "File "):
			path := strings.TrimSuffix(strings.TrimPrefix(trimmed, "File "), ":")
			inSection = strings.HasPrefix(filepath.Clean(path), filepath.Clean(a.debugDir))
		case inSection && trimmed != "" && !strings.HasPrefix(trimmed, "All defined variables"):
			decl := declLineNoRe.ReplaceAllString(trimmed, "")
			typ, name, dims, ok := parseDeclaration(decl)
			if !ok {
				vars = append(vars, models.Unsupported())
				continue
			}
			v := a.fetchVariable(name)
			if v.Supported {
				v.Type = typ
				v.Dimensions = dims
			}
			vars = append(vars, v)
		}
	}
	return vars
}

// captureStdout reads the program's output file inside the container
// and returns the portion not yet delivered in a previous snapshot.
func (a *Adapter) captureStdout() string {
	records, _, err := a.command("shell cat /tmp/output")
	if err != nil {
		return ""
	}
	full := outputText(records)
	if len(full) < a.stdoutSeen {
		// The file shrank (program restarted); deliver from the top.
		a.stdoutSeen = 0
	}
	delta := full[a.stdoutSeen:]
	a.stdoutSeen = len(full)
	return delta
}

// command sends one line and waits for the machine-interface
// terminator, returning every record captured in between.
func (a *Adapter) command(line string) ([]Record, string, error) {
	a.stateMu.Lock()
	st := a.stream
	a.stateMu.Unlock()
	if st == nil {
		return nil, "", fmt.Errorf("debugger stream is closed")
	}
	if err := st.SendLine(line); err != nil {
		return nil, "", err
	}
	raw, term, err := st.ExpectToken(a.expectTimeout, Terminators...)
	if err != nil {
		return nil, "", err
	}
	return parseRecords(raw), term, nil
}

// Stop tears the session down: closes the supervised stream, kills the
// container and removes the per-session files. Idempotent, and safe to
// call while a command is blocked inside an expect.
func (a *Adapter) Stop() error {
	a.stateMu.Lock()
	if a.CurrentState() == StateStopped {
		a.stateMu.Unlock()
		return nil
	}
	a.setState(StateStopped)
	st := a.stream
	a.stream = nil
	a.stateMu.Unlock()

	if st != nil {
		_ = st.Close(true)
	}
	if a.box != nil {
		_ = a.box.StopContainer(a.containerName)
		_ = a.box.RemoveImage(a.containerName)
	}
	for _, path := range []string{a.sourcePath, a.binPath, a.stdinPath} {
		if path != "" {
			_ = os.Remove(path)
		}
	}
	logging.L().Info("debug session stopped", zap.String("token", a.token))
	return nil
}
