// Package httpclient wraps net/http with the defences every upstream call
// goes through: URL validation against private ranges, a rebinding check at
// dial time, manual redirect handling with sensitive header stripping,
// bounded response bodies, per host request spacing and retries with
// exponential backoff.
package httpclient

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/ratelimit"
	"github.com/Origamihase/wien-oepnv/internal/security"
)

// Config controls one Client instance.
type Config struct {
	Timeout          time.Duration
	MaxResponseBytes int64
	MaxRedirects     int
	MaxRetries       int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	BackoffFactor    float64
	JitterFactor     float64
	PerHostInterval  time.Duration
	UserAgent        string
	AllowedPorts     []int

	// AllowLocal disables the private address checks so tests can talk to
	// loopback listeners.
	AllowLocal bool
}

// FromConfig maps the application HTTP section onto a client Config.
func FromConfig(hc config.HTTPConfig) Config {
	return Config{
		Timeout:          hc.Timeout,
		MaxResponseBytes: hc.MaxResponseBytes,
		MaxRedirects:     hc.MaxRedirects,
		MaxRetries:       hc.MaxRetries,
		RetryBaseDelay:   hc.RetryBaseDelay,
		RetryMaxDelay:    hc.RetryMaxDelay,
		PerHostInterval:  hc.PerHostInterval,
		UserAgent:        hc.UserAgent,
		AllowedPorts:     hc.AllowedPorts,
	}
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.MaxResponseBytes <= 0 {
		c.MaxResponseBytes = 10 * 1024 * 1024
	}
	if c.MaxRedirects <= 0 {
		c.MaxRedirects = 5
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2.0
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.1
	}
	if c.UserAgent == "" {
		c.UserAgent = "wien-oepnv/1 (+https://github.com/Origamihase/wien-oepnv)"
	}
}

// Response is a fully buffered upstream response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   string
}

// Client performs hardened outbound requests.
type Client struct {
	cfg     Config
	inner   *http.Client
	guard   *security.URLGuard
	limiter *ratelimit.HostRateLimiter
	logger  *slog.Logger
}

// New builds a Client. The returned client never follows redirects on its
// own; the redirect loop lives in this package so headers can be audited
// on every hop.
func New(cfg Config, logger *slog.Logger) *Client {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	guard := security.NewURLGuard(security.GuardConfig{
		AllowedPorts: cfg.AllowedPorts,
		AllowLocal:   cfg.AllowLocal,
	})

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: guard.DialControl,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
	}

	return &Client{
		cfg: cfg,
		inner: &http.Client{
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		guard:   guard,
		limiter: ratelimit.NewHostRateLimiter(cfg.PerHostInterval),
		logger:  logger,
	}
}

// Get fetches rawURL with the full retry policy.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, header, c.cfg.MaxRetries)
}

// GetOnce fetches rawURL with retries disabled. Callers that account every
// attempt against an external budget drive their own loop around this.
func (c *Client) GetOnce(ctx context.Context, rawURL string, header http.Header) (*Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, header, 0)
}

func (c *Client) do(ctx context.Context, method, rawURL string, header http.Header, maxRetries int) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var lastErr error
	retryAfter := time.Duration(0)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt, retryAfter)
			c.logger.Debug("retrying request",
				"url", security.Redact(rawURL), "attempt", attempt, "delay_ms", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, apperr.TimeoutError("request budget exhausted while waiting to retry", ctx.Err(),
					map[string]interface{}{"url": security.Redact(rawURL)})
			case <-time.After(delay):
			}
		}

		resp, err := c.attempt(ctx, method, rawURL, header)
		if err != nil {
			if !isRetryableError(err) {
				return nil, err
			}
			lastErr = err
			retryAfter = 0
			continue
		}

		if isRetryableStatus(resp.StatusCode) && attempt < maxRetries {
			retryAfter = ParseRetryAfter(resp.Header.Get("Retry-After"))
			c.logger.Warn("upstream asked for a retry",
				"url", security.Redact(rawURL), "status", resp.StatusCode, "attempt", attempt)
			continue
		}
		return resp, nil
	}
	return nil, lastErr
}

// attempt performs a single request including its redirect chain.
func (c *Client) attempt(ctx context.Context, method, rawURL string, header http.Header) (*Response, error) {
	carried := cloneHeader(header)
	current := rawURL
	var prev *url.URL

	for hop := 0; ; hop++ {
		if hop > c.cfg.MaxRedirects {
			return nil, apperr.RedirectRejected("too many redirects",
				map[string]interface{}{"url": security.Redact(rawURL), "redirects": hop})
		}

		if err := c.guard.ValidateURL(ctx, current); err != nil {
			return nil, err
		}
		u, err := url.Parse(current)
		if err != nil {
			return nil, apperr.URLRejected("URL does not parse", map[string]interface{}{"url": security.Redact(current)})
		}

		if prev != nil && !sameOrigin(prev, u) {
			stripped := stripSensitiveHeaders(carried)
			if len(stripped) > 0 {
				c.logger.Info("redirect crosses origin, sensitive headers dropped",
					"from", prev.Host, "to", u.Host, "headers", stripped)
			}
		}

		if err := c.limiter.WaitForHost(ctx, u.Hostname()); err != nil {
			return nil, apperr.TimeoutError("cancelled while waiting for the per-host slot", err,
				map[string]interface{}{"host": u.Hostname()})
		}

		req, err := http.NewRequestWithContext(ctx, method, current, nil)
		if err != nil {
			return nil, apperr.URLRejected("request construction failed", map[string]interface{}{"url": security.Redact(current)})
		}
		req.Header.Set("User-Agent", c.cfg.UserAgent)
		for k, vs := range carried {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := c.inner.Do(req)
		if err != nil {
			return nil, classifyTransportError(err, current)
		}

		if isRedirect(resp.StatusCode) {
			loc, locErr := resp.Location()
			drain(resp.Body)
			if locErr != nil {
				return nil, apperr.RedirectRejected("redirect without location",
					map[string]interface{}{"url": security.Redact(current), "status": resp.StatusCode})
			}
			if resp.StatusCode == http.StatusSeeOther {
				method = http.MethodGet
			}
			prev = u
			current = loc.String()
			continue
		}

		body, err := c.readBounded(resp.Body)
		resp.Body.Close()
		if err != nil {
			if apperr.HasCode(err, apperr.ErrCodeTooLarge) {
				return nil, apperr.ResponseTooLarge("response exceeds the configured cap",
					map[string]interface{}{"url": security.Redact(current), "cap_bytes": c.cfg.MaxResponseBytes})
			}
			return nil, classifyTransportError(err, current)
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header,
			Body:       body,
			FinalURL:   current,
		}, nil
	}
}

var errBodyTooLarge = apperr.ResponseTooLarge("response body too large", nil)

func (c *Client) readBounded(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, c.cfg.MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > c.cfg.MaxResponseBytes {
		return nil, errBodyTooLarge
	}
	return body, nil
}

func drain(body io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(body, 4096))
	body.Close()
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests, http.StatusInternalServerError,
		http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isRetryableError(err error) bool {
	switch apperr.CodeOf(err) {
	case apperr.ErrCodeTransport:
		return true
	}
	return false
}

func classifyTransportError(err error, rawURL string) error {
	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	redacted := security.Redact(rawURL)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.TimeoutError("request deadline exceeded", err, map[string]interface{}{"url": redacted})
	}
	if errors.Is(err, context.Canceled) {
		return apperr.TimeoutError("request cancelled", err, map[string]interface{}{"url": redacted})
	}
	return apperr.TransportError("request failed", errors.New(security.RedactError(err)),
		map[string]interface{}{"url": redacted})
}

// sameOrigin compares scheme, host and effective port.
func sameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) &&
		strings.EqualFold(a.Hostname(), b.Hostname()) &&
		effectivePort(a) == effectivePort(b)
}

func effectivePort(u *url.URL) string {
	if p := u.Port(); p != "" {
		return p
	}
	if strings.EqualFold(u.Scheme, "https") {
		return "443"
	}
	return "80"
}

func stripSensitiveHeaders(h http.Header) []string {
	var stripped []string
	for name := range h {
		if security.IsSensitiveHeader(name) {
			stripped = append(stripped, name)
			h.Del(name)
		}
	}
	return stripped
}

func cloneHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		out[k] = append([]string(nil), vs...)
	}
	return out
}
