package platform

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// APIError is a non-2xx response from the platform.
type APIError struct {
	Status int
	Body   string
	// Wait is the parsed Retry-After header, zero when absent.
	Wait time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lichess api error: status=%d body=%s", e.Status, e.Body)
}

func (e *APIError) StatusCode() int { return e.Status }

func (e *APIError) RetryAfter() (time.Duration, bool) {
	return e.Wait, e.Wait > 0
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0
		}
		return time.Duration(n) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
