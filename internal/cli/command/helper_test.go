package command

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/urfave/cli/v2"
)

// mockServer is a test admin API. Handlers are registered with ServeMux
// patterns such as "GET /admin/v1/status/summary".
type mockServer struct {
	*httptest.Server
	mux *http.ServeMux
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{mux: http.NewServeMux()}
	m.Server = httptest.NewServer(m.mux)
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, handler http.HandlerFunc) {
	m.mux.HandleFunc(pattern, handler)
}

// jsonResponse writes data in the server envelope.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       "OK",
		"message":    "Success",
		"request_id": "req-test",
		"data":       data,
	})
}

// errorResponse writes an error envelope.
func errorResponse(w http.ResponseWriter, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":       code,
		"message":    message,
		"request_id": "req-test",
		"details":    details,
	})
}

type result struct {
	stdout string
	stderr string
	err    error
}

// run executes the CLI with a private configuration file.
func run(t *testing.T, args ...string) result {
	t.Helper()
	return runWithConfig(t, filepath.Join(t.TempDir(), "cli.yaml"), args...)
}

func runWithConfig(t *testing.T, cfgPath string, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	app := App()
	app.Writer = &stdout
	app.ErrWriter = &stderr
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := append([]string{"rxcheckpoint-cli", "--config", cfgPath}, args...)
	err := app.Run(full)
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}
