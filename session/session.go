// Package session owns the authenticated HTTP context shared by all product
// fetchers. The remote shop uses a Spring-style form login guarded by a CSRF
// token; cookies issued by that flow authorize the stock-page requests.
//
// Refresh is blocking single-flight: the first caller that finds the session
// expired re-authenticates while holding the provider lock, and concurrent
// callers block on that one login instead of triggering their own. Waiters
// therefore always reuse the cookie state the winning login produced.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/nattapongw/ktw-product-api/config"
)

const (
	loginPagePath  = "/ktw/th/THB/login"
	loginCheckPath = "/ktw/th/THB/j_spring_security_check"
	profilePath    = "/ktw/th/THB/my-account/update-profile"
)

// ErrLoginRejected indicates the remote site refused the configured
// credentials. Unreachable auth endpoints surface as wrapped transport
// errors instead.
var ErrLoginRejected = errors.New("session: login rejected")

// Provider lazily authenticates against the shop host and hands out the
// shared cookie-bearing client. Safe for concurrent use.
type Provider struct {
	cfg    *config.Config
	client *http.Client
	auth   *retryablehttp.Client

	mu       sync.Mutex
	authed   bool
	authedAt time.Time
}

// NewProvider builds a provider around one cookie jar shared by the auth path
// and all fetches.
func NewProvider(cfg *config.Config) (*Provider, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: cfg.RequestTimeout,
	}

	// Retries are confined to the authentication path; per-SKU fetches
	// report transient failures instead of retrying.
	auth := retryablehttp.NewClient()
	auth.HTTPClient = client
	auth.RetryMax = cfg.AuthMaxRetries
	auth.RetryWaitMin = cfg.AuthRetryWait
	auth.RetryWaitMax = 4 * cfg.AuthRetryWait
	auth.Logger = nil

	return &Provider{
		cfg:    cfg,
		client: client,
		auth:   auth,
	}, nil
}

// Client returns the shared HTTP client carrying the session cookies.
func (p *Provider) Client() *http.Client {
	return p.client
}

// EnsureAuthenticated makes sure a trusted session exists, logging in when
// none does. Concurrent callers during the authentication window block on the
// in-flight login.
func (p *Provider) EnsureAuthenticated(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.authed && time.Since(p.authedAt) < p.cfg.SessionTTL {
		return nil
	}

	// A previously trusted session may still be alive on the remote end;
	// re-verify before paying for a full login.
	if p.authed && p.verify(ctx) {
		p.authedAt = time.Now()
		return nil
	}

	return p.loginLocked(ctx)
}

// Login forces a fresh authentication regardless of current state.
func (p *Provider) Login(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loginLocked(ctx)
}

// Invalidate drops trust in the current session so the next call
// re-authenticates. Used when a fetch lands on a login redirect.
func (p *Provider) Invalidate() {
	p.mu.Lock()
	p.authed = false
	p.mu.Unlock()
}

func (p *Provider) loginLocked(ctx context.Context) error {
	p.authed = false

	token, err := p.fetchCSRFToken(ctx)
	if err != nil {
		return err
	}

	form := url.Values{
		"j_username": {p.cfg.Credentials.Username},
		"j_password": {p.cfg.Credentials.Password},
		"CSRFToken":  {token},
		"_csrf":      {token},
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.shopURL(loginCheckPath), strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build login request: %w", err)
	}
	p.decorate(req.Request)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Origin", p.cfg.Credentials.StockBaseURL)
	req.Header.Set("Referer", p.shopURL(loginPagePath))

	resp, err := p.auth.Do(req)
	if err != nil {
		return fmt.Errorf("login post: %w", err)
	}
	resp.Body.Close()

	if !p.verify(ctx) {
		slog.Warn("login verification failed", slog.String("username", p.cfg.Credentials.Username))
		return ErrLoginRejected
	}

	p.authed = true
	p.authedAt = time.Now()
	slog.Info("session authenticated", slog.String("host", p.cfg.Credentials.StockBaseURL))
	return nil
}

// fetchCSRFToken pulls the hidden token off the login form.
func (p *Provider) fetchCSRFToken(ctx context.Context) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, p.shopURL(loginPagePath), nil)
	if err != nil {
		return "", fmt.Errorf("build login page request: %w", err)
	}
	p.decorate(req.Request)

	resp, err := p.auth.Do(req)
	if err != nil {
		return "", fmt.Errorf("get login page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("login page status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse login page: %w", err)
	}

	token, ok := doc.Find("input[name='CSRFToken']").First().Attr("value")
	if !ok || token == "" {
		return "", fmt.Errorf("csrf token not found in login page")
	}
	return token, nil
}

// verify checks the session by loading the profile page, which redirects to
// the login form for anonymous visitors.
func (p *Provider) verify(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.shopURL(profilePath), nil)
	if err != nil {
		return false
	}
	p.decorate(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	if resp.Request != nil && resp.Request.URL != nil && strings.Contains(resp.Request.URL.Path, "/login") {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return false
	}
	return doc.Find("form#updateProfileForm, a[href*='logout']").Length() > 0
}

func (p *Provider) shopURL(path string) string {
	return strings.TrimSuffix(p.cfg.Credentials.StockBaseURL, "/") + path
}

func (p *Provider) decorate(req *http.Request) {
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Cache-Control", "no-cache")
}

// Decorate applies the provider's standard request headers. Fetchers use it
// so product-page requests look identical to the auth-path requests.
func (p *Provider) Decorate(req *http.Request) {
	p.decorate(req)
}
