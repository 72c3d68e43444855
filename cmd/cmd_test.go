package cmd

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/geocat-ops/geocatctl/internal/auditlog"
	"github.com/geocat-ops/geocatctl/internal/config"
)

// run executes the root command with args, capturing stdout output.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var buf bytes.Buffer
	prev := out
	SetOut(&buf)
	t.Cleanup(func() { SetOut(prev) })

	rootCmd.SetArgs(args)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	err := rootCmd.Execute()
	return buf.String(), err
}

// stubEnvironment points the "test" environment at an httptest server and
// selects it, restoring the previous state afterwards.
func stubEnvironment(t *testing.T, mux *http.ServeMux) {
	t.Helper()

	mux.HandleFunc("/geonetwork/srv/eng/info", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "tok", Path: "/"})
		w.Write([]byte(`<info><me authenticated="true"/></info>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	prevCfg, prevEnv := cfg, envName
	t.Cleanup(func() { cfg, envName = prevCfg, prevEnv })

	cfg = config.Default()
	cfg.Environments["test"] = config.Environment{Name: "test", BaseURL: srv.URL}
	cfg.Proxies = []string{""}
	cfg.Retry = config.Retry{Attempts: 1, Delay: time.Millisecond, MaxDelay: time.Millisecond}
	envName = "test"
}

func TestGuideCmd(t *testing.T) {
	t.Run("overview", func(t *testing.T) {
		out, err := run(t, "guide")
		require.NoError(t, err)
		assert.Contains(t, out, "geocatctl")
		assert.Contains(t, out, "Topics")
	})

	t.Run("topics", func(t *testing.T) {
		for topic, needle := range map[string]string{
			"backup":       "report.json",
			"restore":      "Ownership policies",
			"subtemplate":  "Pruning",
			"environments": "config.yaml",
		} {
			out, err := run(t, "guide", topic)
			require.NoError(t, err)
			assert.Contains(t, out, needle)
		}
	})

	t.Run("lists available on not found", func(t *testing.T) {
		_, err := run(t, "guide", "nonexistent")
		require.ErrorContains(t, err, "Available:")
	})
}

func TestEnvCmd(t *testing.T) {
	out, err := run(t, "env")
	require.NoError(t, err)
	assert.Contains(t, out, "int")
	assert.Contains(t, out, "prod")
	assert.Contains(t, out, "(production)")
}

func TestSearchCmd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/search/records/_search", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"hits": map[string]any{"hits": []map[string]any{
				{"_source": map[string]string{"uuid": "rec-1"}, "sort": []string{"rec-1"}},
				{"_source": map[string]string{"uuid": "rec-2"}, "sort": []string{"rec-2"}},
			}},
		})
	})
	stubEnvironment(t, mux)

	out, err := run(t, "search", "--anonymous", "--no-harvested")
	require.NoError(t, err)
	assert.Contains(t, out, "rec-1\n")
	assert.Contains(t, out, "rec-2\n")
	assert.Contains(t, out, "2 records")
}

func TestRestoreCmdAudits(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("GEOCAT_USERNAME", "admin")
	t.Setenv("GEOCAT_PASSWORD", "secret")
	require.NoError(t, auditlog.Open())
	t.Cleanup(auditlog.Close)

	mux := http.NewServeMux()
	mux.HandleFunc("/geonetwork/srv/api/groups", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`[]`))
	})
	stubEnvironment(t, mux)

	// Not a zip; the restore fails per item but must still leave a trail.
	archive := filepath.Join(t.TempDir(), "broken.zip")
	require.NoError(t, os.WriteFile(archive, []byte("not a zip"), 0o644))

	_, err := run(t, "restore", archive)
	require.Error(t, err)

	db, err := sql.Open("sqlite", auditlog.DBPath())
	require.NoError(t, err)
	defer db.Close()

	var failures int
	require.NoError(t, db.QueryRow(
		`SELECT count(*) FROM log WHERE source = 'restore:record' AND success = 0`).
		Scan(&failures))
	assert.Equal(t, 1, failures)
}

func TestUnknownEnvironmentFails(t *testing.T) {
	prevCfg, prevEnv := cfg, envName
	t.Cleanup(func() { cfg, envName = prevCfg, prevEnv })
	cfg = config.Default()
	envName = "staging"

	_, err := run(t, "search", "--anonymous")
	require.ErrorIs(t, err, config.ErrUnknownEnvironment)
}
