package debugger

import (
	"reflect"
	"testing"
)

func TestParseRecord(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		kind    RecordKind
		payload string
	}{
		{"console stream", `~"a = 1\n"`, KindConsole, "a = 1\n"},
		{"target output", `@"hello"`, KindOutput, "hello"},
		{"log stream", `&"break main\n"`, KindLog, "break main\n"},
		{"result done", "^done", KindResult, "^done"},
		{"result running", "^running", KindResult, "^running"},
		{"exec async", `*stopped,reason="breakpoint-hit"`, KindExec, `stopped,reason="breakpoint-hit"`},
		{"notify", `=thread-created,id="1"`, KindNotify, `thread-created,id="1"`},
		{"prompt", "(gdb) ", KindPrompt, ""},
		{"raw program stdout", "3", KindOutput, "3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ParseRecord(tt.line)
			if r.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", r.Kind, tt.kind)
			}
			if r.Payload != tt.payload {
				t.Errorf("payload = %q, want %q", r.Payload, tt.payload)
			}
		})
	}
}

func TestUnquoteMI(t *testing.T) {
	if got := unquoteMI(`"line\twith\n\"quotes\" and \\"`); got != "line\twith\n\"quotes\" and \\" {
		t.Errorf("unquoteMI = %q", got)
	}
}

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		function string
		line     int
		ok       bool
	}{
		{"plain main", "#0  main () at /tmp/debug/abc.cpp:4", "main", 4, true},
		{"args in frame", "#1  compute (x=3, y=4) at /tmp/debug/abc.cpp:12", "compute", 12, true},
		{"class method", "#0  Stack::push (this=0x7ffe, v=1) at /tmp/debug/abc.cpp:9", "push", 9, true},
		{"garbage", "not a frame line", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fn, line, ok := parseFrame(tt.text)
			if ok != tt.ok || fn != tt.function || line != tt.line {
				t.Errorf("parseFrame(%q) = (%q, %d, %v), want (%q, %d, %v)",
					tt.text, fn, line, ok, tt.function, tt.line, tt.ok)
			}
		})
	}
}

func TestParseReturnType(t *testing.T) {
	ret, ok := parseReturnType("type = int (void)")
	if !ok || ret != "int" {
		t.Errorf("parseReturnType = (%q, %v), want (int, true)", ret, ok)
	}
	if _, ok := parseReturnType("no equals sign here"); ok {
		t.Error("expected miss on malformed whatis output")
	}
}

func TestParseDeclaredType(t *testing.T) {
	typ, ok := parseDeclaredType("type = std::vector<int>")
	if !ok || typ != "std::vector<int>" {
		t.Errorf("parseDeclaredType = (%q, %v)", typ, ok)
	}
	if _, ok := parseDeclaredType("nothing"); ok {
		t.Error("expected miss without equals sign")
	}
}

func TestParseValue(t *testing.T) {
	v, ok := parseValue("$3 = 42")
	if !ok || v != "42" {
		t.Errorf("parseValue = (%q, %v)", v, ok)
	}
	v, _ = parseValue(`$4 = {a = 1, b = 2}`)
	if v != "{a = 1, b = 2}" {
		t.Errorf("parseValue struct = %q", v)
	}
}

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		typ  string
		want []int
	}{
		{"int", []int{1}},
		{"int [10]", []int{10}},
		{"char [2][3]", []int{2, 3}},
		{"std::vector<int>", []int{1}},
	}
	for _, tt := range tests {
		if got := parseDimensions(tt.typ); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseDimensions(%q) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestParseDeclaration(t *testing.T) {
	tests := []struct {
		name string
		decl string
		typ  string
		varn string
		dims []int
		ok   bool
	}{
		{"scalar", "int counter;", "int", "counter", []int{1}, true},
		{"static scalar", "static int hits;", "static int", "hits", []int{1}, true},
		{"array", "char grid[4][4];", "char", "grid", []int{4, 4}, true},
		{"pointer", "int *head;", "int*", "head", []int{1}, true},
		{"empty", "   ", "", "", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			typ, name, dims, ok := parseDeclaration(tt.decl)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if typ != tt.typ || name != tt.varn || !reflect.DeepEqual(dims, tt.dims) {
				t.Errorf("parseDeclaration(%q) = (%q, %q, %v)", tt.decl, typ, name, dims)
			}
		})
	}
}

func TestParseNameList(t *testing.T) {
	names := parseNameList("a = 1\nb = {x = 2}\nnot a binding line\n")
	if !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("parseNameList = %v", names)
	}
}

func TestSignalDetails(t *testing.T) {
	text := "Program received signal SIGSEGV, Segmentation fault.\n0x0000555555555131 in main ()"
	if got := signalDetails(text); got != "SIGSEGV, Segmentation fault" {
		t.Errorf("signalDetails = %q", got)
	}
}
