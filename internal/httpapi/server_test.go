package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cppjudge/internal/catalog"
	"cppjudge/internal/checker"
	"cppjudge/internal/compiler"
	"cppjudge/internal/debugger"
	"cppjudge/internal/events"
	"cppjudge/internal/registry"
	"cppjudge/internal/resultstore"
	"cppjudge/internal/sandbox"
	"cppjudge/pkg/models"
)

type stubCompiler struct{}

func (stubCompiler) Compile(_ context.Context, filename string) (*compiler.Result, error) {
	return &compiler.Result{OutputPath: filename + ".out"}, nil
}

type stubRunner struct{}

func (stubRunner) BuildImage(context.Context, string, string) (sandbox.BuildStatus, string) {
	return sandbox.BuildSuccess, ""
}
func (stubRunner) RunForCheck(context.Context, string, string, time.Duration, int64) (*sandbox.CheckResult, error) {
	return &sandbox.CheckResult{}, nil
}
func (stubRunner) PruneImages() error { return nil }

type stubProblems struct {
	known map[int]string
}

func (s stubProblems) PackPath(id int) (string, error) {
	path, ok := s.known[id]
	if !ok {
		return "", catalog.ErrProblemNotFound
	}
	return path, nil
}

func newTestServer(t *testing.T) (*Server, *resultstore.Memory, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	receivedDir := t.TempDir()
	results := resultstore.NewMemory(time.Minute)
	t.Cleanup(func() { _ = results.Close() })

	problems := stubProblems{known: map[int]string{1: "somewhere/pack.zip"}}
	checks := checker.New(stubCompiler{}, stubRunner{}, problems, results, nil)

	reg := registry.New(time.Minute, time.Minute)
	t.Cleanup(reg.Close)
	minter := registry.NewMinter("test-signing-key-0123456789abcdef", time.Hour)
	factory := func(sessionID string) *debugger.Adapter {
		return debugger.New(debugger.Options{Token: sessionID, DebugDir: t.TempDir()})
	}
	debugEvents := events.NewHandler(reg, minter, factory)

	return NewServer(checks, problems, results, debugEvents, nil, receivedDir), results, receivedDir
}

func TestSubmitRejectsMissingProblemHeader(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checker/submit", strings.NewReader("int main(){}"))
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitRejectsUnknownProblem(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checker/submit", strings.NewReader("int main(){}"))
	req.Header.Set("Problem", "999")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitRejectsEmptyBody(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checker/submit", strings.NewReader(""))
	req.Header.Set("Problem", "1")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitQueuesAndReturnsToken(t *testing.T) {
	s, _, receivedDir := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/checker/submit", strings.NewReader("int main(){return 0;}"))
	req.Header.Set("Problem", "1")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var body struct {
		Status        string `json:"status"`
		Authorization string `json:"authorization"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "queued", body.Status)
	require.NotEmpty(t, body.Authorization)

	srcPath := filepath.Join(receivedDir, body.Authorization+".cpp")
	if _, err := os.Stat(srcPath); err != nil {
		t.Errorf("submission source not written: %v", err)
	}
}

func TestStatusUnknownTokenIsUnauthorized(t *testing.T) {
	s, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/checker/status/no-such-token", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var outcome models.CheckOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.True(t, outcome.Unauthorized)
}

func TestStatusConsumesOutcomeOnRead(t *testing.T) {
	s, results, _ := newTestServer(t)
	require.NoError(t, results.Put(context.Background(), "tok", models.CheckOutcome{Percentage: 100}))

	req := httptest.NewRequest(http.MethodGet, "/checker/status/tok", nil)
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)

	var outcome models.CheckOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, float64(100), outcome.Percentage)
	assert.False(t, outcome.Unauthorized)

	w = httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/checker/status/tok", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.True(t, outcome.Unauthorized, "outcome must be consumed on first read")
}

func TestHealthz(t *testing.T) {
	s, _, _ := newTestServer(t)

	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
