package portal

import (
	"context"
	"crypto/tls"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Headers mimic the institution's mobile app. The portal gates on this
// signature and silently rejects anything that looks like a desktop browser.
const (
	mobileUserAgent = "Mozilla/5.0 (Linux; Android 12; SM-A156E Build/V417IR; wv) AppleWebKit/537.36 (KHTML, like Gecko) Version/4.0 Chrome/101.0.4951.61 Safari/537.36"
	requestedWith   = "com.fcuapp.app"
)

// Config selects the portal endpoints and transport behavior.
type Config struct {
	BaseURL     string
	LoginPath   string
	RecordPath  string
	Timeout     time.Duration
	InsecureTLS bool
}

// Client builds and drives authenticated portal sessions. It holds no
// per-user state; each Session owns its own cookie jar and connection pool
// so one user's cookies can never leak into another's request.
type Client struct {
	cfg Config
	log *zap.Logger
}

// New creates a portal client.
func New(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/clockin/login.aspx"
	}
	if cfg.RecordPath == "" {
		cfg.RecordPath = "/clockin/ClassClockinRecord.aspx"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, log: log}
}

// Session is one user's live authenticated state on the portal.
type Session struct {
	Username string
	http     *http.Client
}

func (c *Client) newSession(username string) *Session {
	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{}
	if c.cfg.InsecureTLS {
		// The portal serves a non-standard certificate chain; verification is
		// relaxed toward this one origin only, never as a general policy.
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Session{
		Username: username,
		http: &http.Client{
			Jar:       jar,
			Timeout:   c.cfg.Timeout,
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *Client) loginURL() string  { return c.cfg.BaseURL + c.cfg.LoginPath }
func (c *Client) recordURL() string { return c.cfg.BaseURL + c.cfg.RecordPath }

func setHeaders(req *http.Request, form bool) {
	req.Header.Set("User-Agent", mobileUserAgent)
	req.Header.Set("X-Requested-With", requestedWith)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "zh-TW,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	if form {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Origin", "null")
	}
}

// Login authenticates one user and, when a token is present, doubles as the
// check-in submission. It performs the portal's two-step dance: a cookie-seed
// GET of the login page, then the credential POST with redirects disabled so
// the status is inspectable.
//
// A 3xx without a token means plain authentication succeeded. A 3xx with a
// token means the submission was accepted at the transport level; the
// redirect is followed once and the landing document returned so the caller
// can verify. A 200 means the credentials were rejected. Everything else is
// transient.
func (c *Client) Login(ctx context.Context, username, password string, tok Token) (*Session, []byte, error) {
	s := c.newSession(username)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.loginURL(), nil)
	if err != nil {
		return nil, nil, &TransientError{Op: "login seed", Err: err}
	}
	setHeaders(req, false)
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, nil, &TransientError{Op: "login seed", Err: err}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil, transientf("login seed", "unexpected status %s", resp.Status)
	}

	form := url.Values{
		"username":   {username},
		"password":   {password},
		"appversion": {"qr"},
		"uuid":       {tok.UUID},
		"major":      {tok.Major},
		"minor":      {tok.Minor},
		"page":       {"cls"},
	}
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, c.loginURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, &TransientError{Op: "login submit", Err: err}
	}
	setHeaders(req, true)
	resp, err = s.http.Do(req)
	if err != nil {
		return nil, nil, &TransientError{Op: "login submit", Err: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		if tok.Empty() {
			return s, nil, nil
		}
		landing := c.followRedirect(ctx, s, resp.Header.Get("Location"))
		return s, landing, nil
	case resp.StatusCode == http.StatusOK:
		return nil, nil, ErrBadCredentials
	default:
		return nil, nil, transientf("login submit", "unexpected status %s", resp.Status)
	}
}

// followRedirect completes the check-in flow by landing on the redirect
// target once. A failed landing fetch is not fatal: the submission may have
// been recorded anyway, and verification decides.
func (c *Client) followRedirect(ctx context.Context, s *Session, location string) []byte {
	if location == "" {
		return nil
	}
	target := location
	if strings.HasPrefix(location, "/") {
		target = c.cfg.BaseURL + location
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil
	}
	setHeaders(req, false)
	resp, err := s.http.Do(req)
	if err != nil {
		c.log.Warn("landing fetch failed", zap.String("user", s.Username), zap.Error(err))
		return nil
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}
	return body
}

// Probe issues a cheap authenticated request to decide whether a cached
// session is still live. Any non-200 answer or network fault counts as dead.
func (c *Client) Probe(ctx context.Context, s *Session) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.recordURL(), nil)
	if err != nil {
		return false
	}
	setHeaders(req, false)
	resp, err := s.http.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Records fetches the raw record-listing document for a live session.
func (c *Client) Records(ctx context.Context, s *Session) ([]byte, error) {
	return c.Fetch(ctx, s, c.recordURL())
}

// Fetch retrieves an arbitrary portal page through the session. Used by the
// history endpoint, which lets callers pick the listing page.
func (c *Client) Fetch(ctx context.Context, s *Session, target string) ([]byte, error) {
	if target == "" {
		target = c.recordURL()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &TransientError{Op: "fetch", Err: err}
	}
	setHeaders(req, false)
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, &TransientError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, transientf("fetch", "unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Op: "fetch", Err: err}
	}
	return body, nil
}
