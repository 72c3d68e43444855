// Package geocat is a client for the GeoNetwork REST API behind geocat.ch.
//
// A Client is created once per process with Connect, which probes the
// configured proxy candidates, fetches the anti-forgery token and, when
// credentials are supplied, verifies them. Everything else in the package is
// a thin, typed wrapper over individual endpoints; batch behaviour (skip,
// retry policy, reporting) lives with the callers.
package geocat

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/juju/clock"

	"github.com/geocat-ops/geocatctl/internal/config"
)

const (
	// infoPath is the lightweight "who am I" endpoint used both as the
	// proxy probe target and for credential verification. It sets the
	// XSRF-TOKEN cookie on first contact.
	infoPath = "/geonetwork/srv/eng/info?type=me"
	apiPath  = "/geonetwork/srv/api"

	xsrfCookie = "XSRF-TOKEN"
	xsrfHeader = "X-XSRF-TOKEN"

	requestTimeout = 120 * time.Second
)

var (
	// ErrBadCredentials is returned by Connect when the server rejects the
	// supplied username/password. Fatal at startup.
	ErrBadCredentials = errors.New("geocat: username or password not valid")
	// ErrNotAuthenticated is returned by operations that require a
	// logged-in session when the client is anonymous.
	ErrNotAuthenticated = errors.New("geocat: operation requires an authenticated session")
)

// Credentials are the catalogue username and password.
type Credentials struct {
	Username string
	Password string
}

// Client is an authenticated (or anonymous, read-only) API session.
// It is mutated only during Connect and is safe for sequential reuse.
type Client struct {
	env   config.Environment
	retry config.Retry
	httpc *http.Client
	creds *Credentials
	token string
	clock clock.Clock
}

// StatusError reports a non-2xx response from the API. Batch callers treat
// it as a soft, skippable failure; it is never retried.
type StatusError struct {
	Op         string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("geocat: %s returned HTTP %d", e.Op, e.StatusCode)
}

// Connect establishes a session against the named environment.
//
// The proxy candidates from cfg are probed in order with a request to the
// info endpoint; the first that completes without a connection-level error
// is adopted for the process lifetime (one-time, best-effort, never
// re-probed). The probe response carries the XSRF cookie, which is installed
// as a header on all subsequent requests. When creds is non-nil the
// authentication result is verified and ErrBadCredentials returned on
// rejection; a nil creds yields an anonymous, read-only session.
func Connect(ctx context.Context, cfg *config.Config, envName string, creds *Credentials) (*Client, error) {
	env, err := cfg.Environment(envName)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("geocat: creating cookie jar: %w", err)
	}

	c := &Client{
		env:   env,
		retry: cfg.Retry,
		creds: creds,
		clock: clock.WallClock,
	}

	if err := c.probeProxies(ctx, cfg.Proxies, jar); err != nil {
		return nil, err
	}

	if err := c.readToken(); err != nil {
		return nil, err
	}

	if creds != nil {
		if err := c.verifyAuth(ctx); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// probeProxies tries each candidate in order and keeps the first transport
// whose probe request does not fail at the connection level. HTTP status
// codes are irrelevant here; reaching the server at all is the test.
func (c *Client) probeProxies(ctx context.Context, candidates []string, jar http.CookieJar) error {
	var lastErr error
	for _, candidate := range candidates {
		transport, err := transportFor(candidate)
		if err != nil {
			lastErr = err
			continue
		}

		httpc := &http.Client{Transport: transport, Jar: jar, Timeout: requestTimeout}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.env.BaseURL+infoPath, nil)
		if err != nil {
			return fmt.Errorf("geocat: building probe request: %w", err)
		}
		if c.creds != nil {
			req.SetBasicAuth(c.creds.Username, c.creds.Password)
		}

		resp, err := httpc.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		c.httpc = httpc
		return nil
	}
	return fmt.Errorf("geocat: no proxy candidate reached %s: %w", c.env.BaseURL, lastErr)
}

func transportFor(proxyURL string) (*http.Transport, error) {
	if proxyURL == "" {
		return &http.Transport{}, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("geocat: invalid proxy %q: %w", proxyURL, err)
	}
	return &http.Transport{Proxy: http.ProxyURL(u)}, nil
}

// readToken lifts the XSRF cookie set by the probe into a header value used
// for the rest of the session.
func (c *Client) readToken() error {
	base, err := url.Parse(c.env.BaseURL)
	if err != nil {
		return fmt.Errorf("geocat: invalid base URL %q: %w", c.env.BaseURL, err)
	}
	for _, cookie := range c.httpc.Jar.Cookies(base) {
		if cookie.Name == xsrfCookie {
			c.token = cookie.Value
			return nil
		}
	}
	return fmt.Errorf("geocat: server did not set the %s cookie", xsrfCookie)
}

// infoResponse is the XML body of the info endpoint.
type infoResponse struct {
	XMLName xml.Name `xml:"info"`
	Me      struct {
		Authenticated string `xml:"authenticated,attr"`
	} `xml:"me"`
}

// verifyAuth re-issues the info request with credentials attached and checks
// the authenticated flag in the body. A 200 alone is not proof: the endpoint
// answers anonymously as well.
func (c *Client) verifyAuth(ctx context.Context) error {
	resp, err := c.do(ctx, request{method: http.MethodPost, rawPath: infoPath})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ErrBadCredentials
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("geocat: reading info response: %w", err)
	}
	var info infoResponse
	if err := xml.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("geocat: parsing info response: %w", err)
	}
	if info.Me.Authenticated != "true" {
		return ErrBadCredentials
	}
	return nil
}

// Authenticated reports whether the session carries credentials.
func (c *Client) Authenticated() bool { return c.creds != nil }

// Environment returns the environment this client is connected to.
func (c *Client) Environment() config.Environment { return c.env }

// request describes one API call for do.
type request struct {
	method string
	// path is relative to /geonetwork/srv/api; rawPath overrides it for
	// the few non-API endpoints.
	path    string
	rawPath string
	query   url.Values
	body    io.Reader

	accept      string
	contentType string

	// anonymous strips credentials and the XSRF header, yielding the
	// public visibility the dual-pass search needs.
	anonymous bool
}

// do issues a request on the session, applying base URL, token and
// credentials. The caller owns the response body.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	target := c.env.BaseURL + apiPath + r.path
	if r.rawPath != "" {
		target = c.env.BaseURL + r.rawPath
	}
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, r.body)
	if err != nil {
		return nil, fmt.Errorf("geocat: building request: %w", err)
	}

	if r.accept != "" {
		req.Header.Set("Accept", r.accept)
	}
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if !r.anonymous {
		if c.token != "" {
			req.Header.Set(xsrfHeader, c.token)
		}
		if c.creds != nil {
			req.SetBasicAuth(c.creds.Username, c.creds.Password)
		}
	}

	return c.httpc.Do(req)
}

// getJSON issues a GET and decodes the JSON response into v (when non-nil),
// returning the raw body for callers that archive it verbatim.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) ([]byte, error) {
	resp, err := c.do(ctx, request{
		method: http.MethodGet,
		path:   path,
		query:  query,
		accept: "application/json",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: "GET " + path, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("geocat: reading %s: %w", path, err)
	}
	if v != nil {
		if err := json.Unmarshal(body, v); err != nil {
			return nil, fmt.Errorf("geocat: decoding %s: %w", path, err)
		}
	}
	return body, nil
}

// me is the JSON shape of /srv/api/me.
type me struct {
	Profile string `json:"profile"`
}

// CheckAdmin reports whether the session belongs to a catalogue
// administrator. Anonymous sessions are never admin.
func (c *Client) CheckAdmin(ctx context.Context) (bool, error) {
	if !c.Authenticated() {
		return false, nil
	}
	var m me
	if _, err := c.getJSON(ctx, "/me", nil, &m); err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return false, nil
		}
		return false, err
	}
	return m.Profile == "Administrator", nil
}

// drainClose discards and closes a response body so the connection can be
// reused.
func drainClose(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
