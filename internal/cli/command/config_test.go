package command

import (
	"net/http"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/cli/config"
)

func TestConfigSetProfileAndUse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")

	res := runWithConfig(t, path, "config", "set-profile", "--server", "http://a:7080", "--token", "rxat_first_token_value", "prod")
	require.NoError(t, res.err)
	res = runWithConfig(t, path, "config", "set-profile", "--server", "http://b:7080", "staging")
	require.NoError(t, res.err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.CurrentProfile, "the first profile becomes current")
	assert.Equal(t, "rxat_first_token_value", cfg.Profiles["prod"].Token)
	assert.Equal(t, "http://b:7080", cfg.Profiles["staging"].Server)

	require.NoError(t, runWithConfig(t, path, "config", "use", "staging").err)
	cfg, err = config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.CurrentProfile)

	assert.Error(t, runWithConfig(t, path, "config", "use", "missing").err, "unknown profile")
}

func TestConfigShow_MasksTokens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, runWithConfig(t, path, "config", "set-profile", "--token", "rxat_supersecretvalue", "prod").err)

	for _, format := range []string{"table", "yaml"} {
		res := runWithConfig(t, path, "-o", format, "config", "show")
		require.NoError(t, res.err)
		assert.NotContains(t, res.stdout, "supersecret", "%s output leaks the token", format)
		assert.Contains(t, res.stdout, "rxat****alue", "%s output should show the masked token", format)
	}
}

func TestConfigDeleteProfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, runWithConfig(t, path, "config", "set-profile", "prod").err)
	require.NoError(t, runWithConfig(t, path, "config", "delete-profile", "prod").err)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Empty(t, cfg.Profiles)
	assert.Empty(t, cfg.CurrentProfile)
}

func TestProfileUsedForRequests(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /admin/v1/status/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer rxat_profile_token" {
			errorResponse(w, http.StatusUnauthorized, "RX-AUTH-4010", "unauthorized", nil)
			return
		}
		jsonResponse(w, http.StatusOK, sampleStatus())
	})

	path := filepath.Join(t.TempDir(), "cli.yaml")
	require.NoError(t, runWithConfig(t, path, "config", "set-profile", "--server", srv.URL, "--token", "rxat_profile_token", "local").err)

	res := runWithConfig(t, path, "server", "status")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "engine-1")

	assert.Error(t, runWithConfig(t, path, "--profile", "nope", "server", "status").err, "unknown profile")
}
