package geocat

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geocat-ops/geocatctl/internal/config"
)

// testConfig returns a config whose "test" environment points at the given
// server, with a direct connection and a fast retry policy.
func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.Environments["test"] = config.Environment{Name: "test", BaseURL: baseURL}
	cfg.Proxies = []string{""}
	cfg.Retry = config.Retry{Attempts: 3, Delay: time.Millisecond, MaxDelay: 10 * time.Millisecond}
	return cfg
}

// infoHandler answers the "who am I" endpoint: sets the XSRF cookie and
// reports authentication based on basic auth against user/pass.
func infoHandler(user, pass string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "tok-123", Path: "/"})
		authenticated := "false"
		if u, p, ok := r.BasicAuth(); ok && u == user && p == pass {
			authenticated = "true"
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write([]byte(`<info><me authenticated="` + authenticated + `"/></info>`))
	}
}

// mefZip builds a minimal MEF archive for export tests.
func mefZip(t *testing.T, uuid string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(uuid + "/info.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<info><general><uuid>` + uuid + `</uuid></general></info>`))
	require.NoError(t, err)
	w, err = zw.Create(uuid + "/metadata/metadata.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(`<gmd:MD_Metadata/>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestConnect(t *testing.T) {
	t.Run("anonymous session installs token", func(t *testing.T) {
		var gotToken string
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/eng/info", infoHandler("", "-"))
		mux.HandleFunc("/geonetwork/srv/api/me", func(w http.ResponseWriter, r *http.Request) {
			gotToken = r.Header.Get("X-XSRF-TOKEN")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"profile":"Guest"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c, err := Connect(context.Background(), testConfig(srv.URL), "test", nil)
		require.NoError(t, err)
		assert.False(t, c.Authenticated())

		admin, err := c.CheckAdmin(context.Background())
		require.NoError(t, err)
		assert.False(t, admin)
		// Anonymous sessions never send the me request.
		assert.Empty(t, gotToken)
	})

	t.Run("authenticated session", func(t *testing.T) {
		var gotToken string
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/eng/info", infoHandler("admin", "secret"))
		mux.HandleFunc("/geonetwork/srv/api/me", func(w http.ResponseWriter, r *http.Request) {
			gotToken = r.Header.Get("X-XSRF-TOKEN")
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"profile":"Administrator"}`))
		})
		srv := httptest.NewServer(mux)
		defer srv.Close()

		c, err := Connect(context.Background(), testConfig(srv.URL), "test",
			&Credentials{Username: "admin", Password: "secret"})
		require.NoError(t, err)
		assert.True(t, c.Authenticated())

		admin, err := c.CheckAdmin(context.Background())
		require.NoError(t, err)
		assert.True(t, admin)
		assert.Equal(t, "tok-123", gotToken)
	})

	t.Run("bad credentials are fatal", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/eng/info", infoHandler("admin", "secret"))
		srv := httptest.NewServer(mux)
		defer srv.Close()

		_, err := Connect(context.Background(), testConfig(srv.URL), "test",
			&Credentials{Username: "admin", Password: "wrong"})
		require.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("unknown environment", func(t *testing.T) {
		_, err := Connect(context.Background(), config.Default(), "staging", nil)
		require.ErrorIs(t, err, config.ErrUnknownEnvironment)
	})

	t.Run("unreachable proxy falls back to direct", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/geonetwork/srv/eng/info", infoHandler("", "-"))
		srv := httptest.NewServer(mux)
		defer srv.Close()

		cfg := testConfig(srv.URL)
		// Nothing listens on this port; the probe must move on.
		cfg.Proxies = []string{"http://127.0.0.1:1", ""}

		c, err := Connect(context.Background(), cfg, "test", nil)
		require.NoError(t, err)
		assert.Equal(t, srv.URL, c.Environment().BaseURL)
	})

	t.Run("no candidate reaches the server", func(t *testing.T) {
		cfg := testConfig("http://127.0.0.1:1")
		cfg.Proxies = []string{""}

		_, err := Connect(context.Background(), cfg, "test", nil)
		require.Error(t, err)
	})

	t.Run("missing token cookie", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`<info/>`))
		}))
		defer srv.Close()

		_, err := Connect(context.Background(), testConfig(srv.URL), "test", nil)
		require.ErrorContains(t, err, "XSRF-TOKEN")
	})
}

// connectTest returns a client connected to a server built from mux, with
// the info endpoint pre-wired.
func connectTest(t *testing.T, mux *http.ServeMux, creds *Credentials) (*Client, *httptest.Server) {
	t.Helper()
	user, pass := "", "-"
	if creds != nil {
		user, pass = creds.Username, creds.Password
	}
	mux.HandleFunc("/geonetwork/srv/eng/info", infoHandler(user, pass))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := Connect(context.Background(), testConfig(srv.URL), "test", creds)
	require.NoError(t, err)
	return c, srv
}
