// Package models defines the wire-level records shared between the
// debugger adapter, the checker pipeline and the HTTP/event surfaces.
package models

// Variable is one program variable as reported by the debugger. When
// the best-effort output parsers cannot make sense of a declaration,
// Supported is false and the string fields are empty rather than the
// whole snapshot failing.
type Variable struct {
	Supported  bool   `json:"supported"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Value      string `json:"value"`
	Dimensions []int  `json:"dimensions"`
}

// Unsupported returns the placeholder emitted when parsing a variable
// failed.
func Unsupported() Variable {
	return Variable{Supported: false, Dimensions: []int{1}}
}

// Snapshot is the structured view of the debugged program returned
// after every step-class command.
type Snapshot struct {
	IsRunning           bool       `json:"is_running"`
	Timeout             bool       `json:"timeout"`
	RuntimeError        bool       `json:"runtime_error"`
	RuntimeErrorDetails string     `json:"runtime_error_details"`
	Function            string     `json:"function"`
	FunctionReturnType  string     `json:"function_return_type"`
	Line                int        `json:"line"`
	GlobalVariables     []Variable `json:"global_variables"`
	LocalVariables      []Variable `json:"local_variables"`
	Arguments           []Variable `json:"arguments"`
	Stdout              string     `json:"stdout"`
	Status              string     `json:"status"`
}

// NewSnapshot returns a snapshot with non-nil variable slices so the
// JSON encoding always carries arrays, never null.
func NewSnapshot() *Snapshot {
	return &Snapshot{
		GlobalVariables: []Variable{},
		LocalVariables:  []Variable{},
		Arguments:       []Variable{},
		Status:          "ok",
	}
}

// TestCase is one (input, expected output) pair of a test pack.
type TestCase struct {
	Input    []byte
	Expected []byte
}

// TestPack is the ordered set of tests plus the per-pack limits loaded
// from a problem's archive.
type TestPack struct {
	Cases            []TestCase
	TimeLimitSeconds int
	MemoryLimitMB    int
}

// CheckOutcome is the result of running one submission through the
// checker pipeline.
type CheckOutcome struct {
	Percentage          float64 `json:"percentage"`
	FirstFailed         string  `json:"first_failed"`
	TimeLimitExceeded   bool    `json:"time_limit_exceeded"`
	MemoryLimitExceeded bool    `json:"memory_limit_exceeded"`
	CompilationError    bool    `json:"compilation_error"`
	InvalidProblemID    bool    `json:"invalid_problem_id"`
	Unauthorized        bool    `json:"unauthorized"`
}
