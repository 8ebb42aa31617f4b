// Package resilience retries, throttles and reconnects outbound platform calls.
package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/valyala/fasthttp"
)

// Kind is the outcome class of a failed call.
type Kind int

const (
	KindNone Kind = iota
	// KindBenign is a race the caller may ignore: the move was already
	// rejected, the game is over or the resource is already gone.
	KindBenign
	KindRateLimited
	KindTransient
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBenign:
		return "benign"
	case KindRateLimited:
		return "rate_limited"
	case KindTransient:
		return "transient"
	default:
		return "fatal"
	}
}

// StatusCoder is implemented by HTTP API errors.
type StatusCoder interface {
	StatusCode() int
}

// RetryAfterer exposes a server-suggested wait.
type RetryAfterer interface {
	RetryAfter() (time.Duration, bool)
}

var transientMarkers = []string{
	"remote end closed connection",
	"connection aborted",
	"connection reset",
	"broken pipe",
	"protocolerror",
	"temporarily unavailable",
	"gateway timeout",
	"bad gateway",
	"service unavailable",
	"api timeout",
	"timeout",
	"chunked",
	"unexpected eof",
}

var benignMarkers = []string{
	"not your turn",
	"game already over",
	"game is already over",
	"already finished",
}

// Classify maps err to a Kind. It is the only place error strings and
// status codes are interpreted.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, context.Canceled) {
		return KindFatal
	}

	var sc StatusCoder
	if errors.As(err, &sc) {
		switch code := sc.StatusCode(); {
		case code == 429:
			return KindRateLimited
		case code == 404:
			return KindBenign
		case code == 500 || code == 502 || code == 503 || code == 504:
			return KindTransient
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "429") || strings.Contains(msg, "too many requests") {
		return KindRateLimited
	}
	for _, m := range benignMarkers {
		if strings.Contains(msg, m) {
			return KindBenign
		}
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, fasthttp.ErrTimeout) ||
		errors.Is(err, fasthttp.ErrDialTimeout) ||
		errors.Is(err, fasthttp.ErrConnectionClosed) {
		return KindTransient
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTransient
	}
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return KindTransient
		}
	}
	return KindFatal
}

// IsBenign reports whether err is an ignorable race.
func IsBenign(err error) bool { return Classify(err) == KindBenign }

// IsNotFound reports a 404 from the platform.
func IsNotFound(err error) bool {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode() == 404
	}
	return false
}

// RetryAfter extracts the server hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ra RetryAfterer
	if errors.As(err, &ra) {
		return ra.RetryAfter()
	}
	return 0, false
}
