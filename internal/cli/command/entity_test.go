package command

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/server/httpserver/handler"
)

func sampleEntity(id string) handler.EntityResponse {
	return handler.EntityResponse{
		ID:          id,
		Kind:        "subscription",
		Expression:  json.RawMessage(`{"param":"rx://observables/ticks"}`),
		State:       []byte("abc"),
		Initialized: true,
		CreatedAt:   time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEntityList(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/entities/{kind}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "subscription", r.PathValue("kind"))
		jsonResponse(w, http.StatusOK, handler.ListEntitiesResponse{
			Kind:  "subscription",
			Items: []handler.EntityResponse{sampleEntity("rx://subscriptions/s1"), sampleEntity("rx://subscriptions/s2")},
			Total: 2,
		})
	})

	res := run(t, "--server", srv.URL, "entity", "list", "subscription")
	require.NoError(t, res.err)
	for _, want := range []string{"STATE_BYTES", "rx://subscriptions/s2", "2026-03-01 12:00", "Total: 2"} {
		assert.Contains(t, res.stdout, want)
	}
	assert.NotContains(t, res.stdout, "EXPRESSION", "expression column is wide-only")

	res = run(t, "--server", srv.URL, "--wide", "entity", "list", "subscription")
	assert.Contains(t, res.stdout, "rx://observables/ticks", "wide output should show the expression")
}

func TestEntityList_UnknownKind(t *testing.T) {
	res := run(t, "--server", "http://127.0.0.1:1", "entity", "list", "widget")
	assert.Error(t, res.err)
}

func TestEntityGet(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /v1/entities/{kind}", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id != "rx://subscriptions/a b" {
			errorResponse(w, http.StatusNotFound, "RX-ENT-4040", "not found", nil)
			return
		}
		jsonResponse(w, http.StatusOK, sampleEntity(id))
	})

	res := run(t, "--server", srv.URL, "-o", "json", "entity", "get", "subscription", "rx://subscriptions/a b")
	require.NoError(t, res.err)
	var got handler.EntityResponse
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &got))
	assert.Equal(t, "rx://subscriptions/a b", got.ID)
	assert.Equal(t, "abc", string(got.State))

	assert.Error(t, run(t, "--server", srv.URL, "entity", "get", "subscription").err, "missing id")
}

func TestEntityCreate(t *testing.T) {
	var got handler.EntityRequest
	srv := newMockServer(t)
	srv.handle("POST /v1/entities/{kind}", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		jsonResponse(w, http.StatusCreated, sampleEntity(got.ID))
	})

	stateFile := filepath.Join(t.TempDir(), "state.bin")
	require.NoError(t, os.WriteFile(stateFile, []byte{0, 1, 2}, 0o600))

	res := run(t, "--server", srv.URL, "entity", "create",
		"--expr", `{"param":"rx://observables/ticks"}`, "--state-file", stateFile,
		"subscription", "rx://subscriptions/s9")
	require.NoError(t, res.err)
	assert.Equal(t, "rx://subscriptions/s9", got.ID)
	assert.JSONEq(t, `{"param":"rx://observables/ticks"}`, string(got.Expression))
	assert.Equal(t, []byte{0, 1, 2}, got.State)
	assert.Contains(t, res.stdout, "subscription rx://subscriptions/s9 created")
}

func TestEntityCreate_Validation(t *testing.T) {
	var called atomic.Bool
	srv := newMockServer(t)
	srv.handle("POST /v1/entities/{kind}", func(w http.ResponseWriter, r *http.Request) {
		called.Store(true)
	})

	tests := []struct {
		name string
		args []string
	}{
		{"no expression", []string{"entity", "create", "stream", "s1"}},
		{"invalid json", []string{"entity", "create", "--expr", "{nope", "stream", "s1"}},
		{"state twice", []string{"entity", "create", "--expr", "{}", "--state", "a", "--state-file", "b", "stream", "s1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"--server", srv.URL}, tt.args...)
			assert.Error(t, run(t, args...).err)
		})
	}
	assert.False(t, called.Load(), "invalid input should not reach the server")
}

func TestEntityDelete(t *testing.T) {
	var gotID string
	srv := newMockServer(t)
	srv.handle("DELETE /v1/entities/{kind}", func(w http.ResponseWriter, r *http.Request) {
		gotID = r.URL.Query().Get("id")
		jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
	})

	res := run(t, "--server", srv.URL, "entity", "rm", "observable", "rx://observables/ticks")
	require.NoError(t, res.err)
	assert.Equal(t, "rx://observables/ticks", gotID)
}

func TestEntitySetState(t *testing.T) {
	var got handler.StateRequest
	srv := newMockServer(t)
	srv.handle("PUT /v1/entities/{kind}/state", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "s1", r.URL.Query().Get("id"))
		json.NewDecoder(r.Body).Decode(&got)
		jsonResponse(w, http.StatusOK, map[string]bool{"success": true})
	})

	assert.Error(t, run(t, "--server", srv.URL, "entity", "set-state", "stream", "s1").err, "missing --state")

	res := run(t, "--server", srv.URL, "entity", "set-state", "--state", "offset=42", "stream", "s1")
	require.NoError(t, res.err)
	assert.Equal(t, "offset=42", string(got.State))
	assert.Contains(t, res.stdout, "(9 bytes)")
}
