package httpx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type proxyKey struct{}

// WithProxy attaches the proxy for one request; nil means a direct connection.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, proxyKey{}, u)
}

func proxyFromContext(req *http.Request) (*url.URL, error) {
	if u, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
		return u, nil
	}
	return nil, nil
}

// NewClient builds the shared client. The proxy is chosen per request through WithProxy.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		Proxy:               proxyFromContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// TransportError is a failure to get any HTTP response at all.
type TransportError struct {
	Class string // timeout | unavailable | error
	Err   error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: %v", e.Class, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

func newTransportError(err error) *TransportError {
	return &TransportError{Class: classifyTransportError(err), Err: err}
}

// classifyTransportError returns a coarse class for transport failures.
func classifyTransportError(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "timeout"
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "deadline exceeded"), strings.Contains(s, "timeout"), strings.Contains(s, "timed out"):
		return "timeout"
	case strings.Contains(s, "connection refused"), strings.Contains(s, "connection reset"),
		strings.Contains(s, "broken pipe"), strings.Contains(s, "eof"),
		strings.Contains(s, "no such host"), strings.Contains(s, "proxyconnect"):
		return "unavailable"
	}
	return "error"
}
