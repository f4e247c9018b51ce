// Package debugger owns one interactive gdb subprocess per session,
// drives it over the machine interface through a supervised PTY stream,
// and synthesizes structured snapshots of the debugged program's state.
package debugger

import (
	"regexp"
	"strconv"
	"strings"
)

// RecordKind classifies one line of machine-interface output.
type RecordKind string

const (
	KindConsole RecordKind = "console" // ~"..." stream: human-readable command output
	KindOutput  RecordKind = "output"  // @"..." or raw: output of the debugged program
	KindLog     RecordKind = "log"     // &"..." stream: gdb's own log echo
	KindResult  RecordKind = "result"  // ^done, ^error, ...
	KindExec    RecordKind = "exec"    // *stopped, *running
	KindNotify  RecordKind = "notify"  // =thread-created, ...
	KindPrompt  RecordKind = "prompt"  // (gdb)
)

// Record is one parsed machine-interface line.
type Record struct {
	Kind    RecordKind
	Payload string
}

// Terminators is the fixed set of result tokens a command waits on.
var Terminators = []string{"^done", "^error", "^running", "^connected", "^exit"}

// ParseRecord classifies a raw machine-interface line. Lines that match
// no MI prefix are the debugged program's own stdout leaking through the
// PTY and are classified as output.
func ParseRecord(line string) Record {
	switch {
	case strings.HasPrefix(line, "~"):
		return Record{Kind: KindConsole, Payload: unquoteMI(line[1:])}
	case strings.HasPrefix(line, "@"):
		return Record{Kind: KindOutput, Payload: unquoteMI(line[1:])}
	case strings.HasPrefix(line, "&"):
		return Record{Kind: KindLog, Payload: unquoteMI(line[1:])}
	case strings.HasPrefix(line, "^"):
		return Record{Kind: KindResult, Payload: line}
	case strings.HasPrefix(line, "*"):
		return Record{Kind: KindExec, Payload: line[1:]}
	case strings.HasPrefix(line, "="):
		return Record{Kind: KindNotify, Payload: line[1:]}
	case strings.HasPrefix(line, "(gdb)"):
		return Record{Kind: KindPrompt, Payload: ""}
	default:
		return Record{Kind: KindOutput, Payload: line}
	}
}

// unquoteMI strips the C-string quoting MI wraps stream records in.
func unquoteMI(s string) string {
	s = strings.TrimSuffix(strings.TrimPrefix(s, `"`), `"`)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 == len(s) {
			b.WriteByte(s[i])
			continue
		}
		i++
		switch s[i] {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '"':
			b.WriteByte('"')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// parseRecords maps every captured raw line to a Record.
func parseRecords(raw []string) []Record {
	records := make([]Record, 0, len(raw))
	for _, line := range raw {
		records = append(records, ParseRecord(line))
	}
	return records
}

// consoleText concatenates the console-stream payloads of records.
func consoleText(records []Record) string {
	var b strings.Builder
	for _, r := range records {
		if r.Kind == KindConsole {
			b.WriteString(r.Payload)
		}
	}
	return b.String()
}

// outputText concatenates the program-output payloads of records,
// joining raw PTY lines with newlines.
func outputText(records []Record) string {
	var parts []string
	for _, r := range records {
		if r.Kind == KindOutput {
			parts = append(parts, r.Payload)
		}
	}
	return strings.Join(parts, "\n")
}

// The exact parser contracts. These are best-effort: a miss degrades to
// a supported=false variable, never a failure.
var (
	frameRe    = regexp.MustCompile(`.+\s+((.+::)+)*([A-Za-z_0-9]+).*\s+\(.*\).+:(\d+)`)
	whatisRe   = regexp.MustCompile(`.+=\s+(.+)\s+\(.+`)
	variableRe = regexp.MustCompile(`(.+?)\s+([A-Za-z_][A-Za-z0-9_]*)\s*((?:\[[^\]]*\])*)$`)
	pointerRe  = regexp.MustCompile(`\s*\*`)
	dimRe      = regexp.MustCompile(`\[(\d+)\]`)
)

// parseFrame extracts the function name and 1-based source line from
// the console output of the frame command.
func parseFrame(text string) (function string, line int, ok bool) {
	m := frameRe.FindStringSubmatch(text)
	if m == nil {
		return "", 0, false
	}
	line, err := strconv.Atoi(m[4])
	if err != nil {
		return "", 0, false
	}
	return m[3], line, true
}

// parseReturnType extracts a function's return type from whatis output
// such as "type = int (void)".
func parseReturnType(text string) (string, bool) {
	m := whatisRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// parseDeclaredType extracts a variable's declared type from whatis
// output such as "type = int [10]": everything after the first '='.
func parseDeclaredType(text string) (string, bool) {
	idx := strings.Index(text, "=")
	if idx < 0 {
		return "", false
	}
	typ := strings.TrimSpace(text[idx+1:])
	if typ == "" {
		return "", false
	}
	return typ, true
}

// parseValue extracts a printed value from "p" output such as
// "$3 = 42": everything after the first '='.
func parseValue(text string) (string, bool) {
	idx := strings.Index(text, "=")
	if idx < 0 {
		return "", false
	}
	return strings.TrimSpace(text[idx+1:]), true
}

// parseDimensions reads a fixed-array suffix like "[2][3]" into its
// dimension list. Scalars get [1].
func parseDimensions(typ string) []int {
	matches := dimRe.FindAllStringSubmatch(typ, -1)
	if len(matches) == 0 {
		return []int{1}
	}
	dims := make([]int, 0, len(matches))
	for _, m := range matches {
		n, err := strconv.Atoi(m[1])
		if err != nil || n <= 0 {
			return []int{1}
		}
		dims = append(dims, n)
	}
	return dims
}

// parseDeclaration splits one declaration line from "info variables"
// output, e.g. "static int counter;" or "char grid[4][4];", into its
// type, name and dimension suffix. Pointer stars are normalised onto
// the type ("int *p" and "int* p" both parse as type "int*").
func parseDeclaration(decl string) (typ, name string, dims []int, ok bool) {
	decl = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(decl), ";"))
	if decl == "" {
		return "", "", nil, false
	}
	decl = pointerRe.ReplaceAllString(decl, "* ")
	m := variableRe.FindStringSubmatch(decl)
	if m == nil {
		return "", "", nil, false
	}
	typ = strings.TrimSpace(m[1])
	name = m[2]
	dims = parseDimensions(m[3])
	return typ, name, dims, true
}

// nameListRe matches one "name = value" line of info args/locals output.
var nameListRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=`)

// parseNameList extracts the reported variable names from info args /
// info locals console output, one "name = expr" per line.
func parseNameList(text string) []string {
	var names []string
	for _, line := range strings.Split(text, "\n") {
		if m := nameListRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			names = append(names, m[1])
		}
	}
	return names
}
