package httpclient

import (
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryAfterCap bounds how long a single Retry-After header may stall us.
const RetryAfterCap = 60 * time.Second

// backoffDelay computes the wait before retry number attempt (1-based).
// An upstream Retry-After wins over the exponential schedule.
func (c *Client) backoffDelay(attempt int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		if retryAfter > RetryAfterCap {
			return RetryAfterCap
		}
		return retryAfter
	}

	delay := float64(c.cfg.RetryBaseDelay) * math.Pow(c.cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(c.cfg.RetryMaxDelay) {
		delay = float64(c.cfg.RetryMaxDelay)
	}
	jitter := 1.0 + (rand.Float64()-0.5)*c.cfg.JitterFactor
	return time.Duration(delay * jitter)
}

// ParseRetryAfter understands both forms of the header: delay seconds and
// an HTTP date. Anything unparsable or negative counts as absent.
func ParseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t)
		if d <= 0 {
			return 0
		}
		return d
	}
	return 0
}
