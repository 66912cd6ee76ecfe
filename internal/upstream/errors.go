package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
)

var (
	// ErrNotModified is returned when the upstream answers 304.
	ErrNotModified = errors.New("not modified")
	// ErrUnavailable is returned when the upstream cannot be reached at all.
	ErrUnavailable = errors.New("upstream unavailable")
)

// HTTPError is a non-success response from the upstream.
type HTTPError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// HTTPStatus returns the status code carried by err, if any.
func HTTPStatus(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}
	return 0, false
}

// IsConflict reports a 409 Conflict or 412 Precondition Failed answer.
func IsConflict(err error) bool {
	status, ok := HTTPStatus(err)
	return ok && (status == http.StatusConflict || status == http.StatusPreconditionFailed)
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// IsCommunication reports whether err means the upstream could not be
// talked to, as opposed to the upstream rejecting the request. Such errors
// are transient and must not dead-letter an entry.
func IsCommunication(err error) bool {
	if err == nil {
		return false
	}
	if IsTimeout(err) || errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}

	if status, ok := HTTPStatus(err); ok {
		switch status {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
