package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
)

const maxBodyBytes = 4 << 20

var defaultClient = NewClient(0)

var (
	// ErrRateLimited marks an HTTP 429 answer.
	ErrRateLimited = errors.New("rate limited (HTTP 429)")
	// ErrRetriesExhausted means no usable response was obtained within the retry budget.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ExhaustedError is returned when every attempt failed with a retriable condition.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("no successful response after %d attempt(s): %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrRetriesExhausted, e.Last} }

// ProxySelector picks the proxy for a single attempt (nil = direct).
type ProxySelector interface {
	Select() *url.URL
}

type Request struct {
	Label  string // short name used in log lines
	Method string
	URL    string
	Header http.Header
	Body   []byte
	// CorrelationHeader, when set, receives a fresh random client id on every attempt.
	CorrelationHeader string
}

// JSONRequest marshals payload as the request body and sets Content-Type.
func JSONRequest(label, method, url string, header http.Header, payload any) (Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("%s: encode body: %w", label, err)
	}
	h := header.Clone()
	if h == nil {
		h = http.Header{}
	}
	h.Set("Content-Type", "application/json")
	return Request{Label: label, Method: method, URL: url, Header: h, Body: body}, nil
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Invoker performs one logical HTTP call with bounded retries.
// Transport failures and 429 are retried after BaseDelay*2^attempt plus 1-3s of jitter;
// every other status is handed back untouched.
type Invoker struct {
	Client     *http.Client
	Proxies    ProxySelector
	MaxRetries int
	BaseDelay  time.Duration
	Logf       func(format string, args ...any)

	// hooks, replaced in tests
	Jitter func() time.Duration
	Sleep  func(ctx context.Context, d time.Duration) error
	NewID  func() string
}

// NewInvoker returns an invoker with the default hooks.
func NewInvoker(client *http.Client, proxies ProxySelector, maxRetries int, baseDelay time.Duration) *Invoker {
	return &Invoker{Client: client, Proxies: proxies, MaxRetries: maxRetries, BaseDelay: baseDelay}
}

// Jitter returns a uniform duration in [1s, 3s).
func Jitter() time.Duration {
	return time.Second + time.Duration(rand.Int64N(int64(2*time.Second)))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is the pause after the failed attempt with the given 0-based index.
func (iv *Invoker) Backoff(attempt int) time.Duration {
	jitter := iv.Jitter
	if jitter == nil {
		jitter = Jitter
	}
	return iv.BaseDelay*time.Duration(1<<uint(attempt)) + jitter()
}

func (iv *Invoker) attempts() int {
	if iv.MaxRetries < 1 {
		return 1
	}
	return iv.MaxRetries
}

func (iv *Invoker) logf(format string, args ...any) {
	if iv.Logf != nil {
		iv.Logf(format, args...)
	}
}

// Invoke runs req. A nil error means a response other than 429 was received, whatever its
// status. On exhaustion the error is an *ExhaustedError; the last 429 response, if any, is
// returned alongside it.
func (iv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	sleep := iv.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	n := iv.attempts()
	var (
		lastResp *Response
		lastErr  error
		made     int
	)
	for i := 0; i < n; i++ {
		made++
		resp, err := iv.once(ctx, req)
		if err == nil && resp.StatusCode != http.StatusTooManyRequests {
			return resp, nil
		}
		if err != nil {
			var te *TransportError
			if !errors.As(err, &te) {
				return nil, err
			}
			lastResp, lastErr = nil, err
		} else {
			lastResp, lastErr = resp, ErrRateLimited
		}
		if i == n-1 || ctx.Err() != nil {
			break
		}
		d := iv.Backoff(i)
		iv.logf("[%s] %v, retrying in %.1fs (attempt %d/%d)", req.Label, lastErr, d.Seconds(), i+1, n)
		if err := sleep(ctx, d); err != nil {
			lastErr = err
			break
		}
	}
	if n > 1 {
		iv.logf("[%s] giving up after %d attempt(s): %v", req.Label, made, lastErr)
	}
	return lastResp, &ExhaustedError{Attempts: made, Last: lastErr}
}

func (iv *Invoker) once(ctx context.Context, req Request) (*Response, error) {
	if iv.Proxies != nil {
		ctx = WithProxy(ctx, iv.Proxies.Select())
	}
	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	hr, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", req.Label, err)
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			hr.Header.Add(k, v)
		}
	}
	if req.CorrelationHeader != "" {
		newID := iv.NewID
		if newID == nil {
			newID = uuid.NewString
		}
		hr.Header.Set(req.CorrelationHeader, newID())
	}
	client := iv.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(hr)
	if err != nil {
		return nil, newTransportError(err)
	}
	defer resp.Body.Close()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, newTransportError(err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: rb}, nil
}
