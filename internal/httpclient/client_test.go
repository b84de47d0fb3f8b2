package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
)

func testClient(t *testing.T, mutate func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Timeout:        5 * time.Second,
		MaxRedirects:   5,
		MaxRetries:     4,
		RetryBaseDelay: 2 * time.Millisecond,
		RetryMaxDelay:  10 * time.Millisecond,
		AllowLocal:     true,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(cfg, nil)
}

func TestGetSetsUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := testClient(t, nil).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(resp.Body))
	assert.True(t, strings.HasPrefix(gotUA, "wien-oepnv/"), "got %q", gotUA)
}

func TestResponseCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := testClient(t, func(cfg *Config) { cfg.MaxResponseBytes = 1024 })
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeTooLarge, apperr.CodeOf(err))
}

func TestRetryOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("done"))
	}))
	defer srv.Close()

	resp, err := testClient(t, nil).Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "done", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaustedReturnLastStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, func(cfg *Config) { cfg.MaxRetries = 2 })
	resp, err := c.Get(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGetOnceNeverRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := testClient(t, nil).GetOnce(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRedirectLimit(t *testing.T) {
	var calls atomic.Int32
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Redirect(w, r, srv.URL, http.StatusFound)
	}))
	defer srv.Close()

	c := testClient(t, func(cfg *Config) { cfg.MaxRedirects = 2 })
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeRedirect, apperr.CodeOf(err))
	assert.Equal(t, int32(3), calls.Load())
}

func TestCrossOriginRedirectStripsSensitiveHeaders(t *testing.T) {
	var target http.Header
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target = r.Header.Clone()
		w.Write([]byte("b"))
	}))
	defer b.Close()

	var origin http.Header
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin = r.Header.Clone()
		http.Redirect(w, r, b.URL, http.StatusFound)
	}))
	defer a.Close()

	header := http.Header{}
	header.Set("X-Api-Key", "super-secret")
	header.Set("Authorization", "Bearer abc")
	header.Set("Accept", "application/json")

	resp, err := testClient(t, nil).Get(context.Background(), a.URL, header)
	require.NoError(t, err)
	assert.Equal(t, "b", string(resp.Body))

	// First hop carries everything.
	assert.Equal(t, "super-secret", origin.Get("X-Api-Key"))
	assert.Equal(t, "Bearer abc", origin.Get("Authorization"))

	// The two listeners share the host but not the port.
	assert.Empty(t, target.Get("X-Api-Key"))
	assert.Empty(t, target.Get("Authorization"))
	assert.Equal(t, "application/json", target.Get("Accept"))
}

func TestSameOriginRedirectKeepsHeaders(t *testing.T) {
	var second http.Header
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/first", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/second", http.StatusFound)
	})
	mux.HandleFunc("/second", func(w http.ResponseWriter, r *http.Request) {
		second = r.Header.Clone()
		w.Write([]byte("ok"))
	})

	header := http.Header{}
	header.Set("X-Api-Key", "super-secret")

	_, err := testClient(t, nil).Get(context.Background(), srv.URL+"/first", header)
	require.NoError(t, err)
	assert.Equal(t, "super-secret", second.Get("X-Api-Key"))
}

func TestMetadataEndpointRejected(t *testing.T) {
	_, err := testClient(t, nil).Get(context.Background(), "http://169.254.169.254/latest/meta-data/", nil)
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeURLRejected, apperr.CodeOf(err))
}

func TestTimeoutClassified(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c := testClient(t, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })
	_, err := c.Get(context.Background(), srv.URL, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.ErrCodeTimeout, apperr.CodeOf(err))
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, ParseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("-3"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter("soon"))
	assert.Equal(t, time.Duration(0), ParseRetryAfter(""))

	date := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	got := ParseRetryAfter(date)
	assert.Greater(t, got, 80*time.Second)
	assert.LessOrEqual(t, got, 90*time.Second)
}

func TestBackoffDelayCapsRetryAfter(t *testing.T) {
	c := testClient(t, nil)
	assert.Equal(t, RetryAfterCap, c.backoffDelay(1, 5*time.Minute))
	assert.Equal(t, 30*time.Second, c.backoffDelay(1, 30*time.Second))

	// Without Retry-After the schedule is bounded by RetryMaxDelay plus jitter.
	d := c.backoffDelay(10, 0)
	assert.LessOrEqual(t, d, 11*time.Millisecond)
	assert.Greater(t, d, time.Duration(0))
}
