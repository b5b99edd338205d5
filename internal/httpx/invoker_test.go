package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return nil
}

func testInvoker(rec *sleepRecorder) *Invoker {
	iv := NewInvoker(NewClient(5*time.Second), nil, 5, 3*time.Second)
	iv.Sleep = rec.sleep
	return iv
}

func TestBackoffBounds(t *testing.T) {
	iv := NewInvoker(nil, nil, 5, 3*time.Second)
	for i := 0; i < 5; i++ {
		base := 3 * time.Second * time.Duration(1<<uint(i))
		for n := 0; n < 200; n++ {
			d := iv.Backoff(i)
			assert.GreaterOrEqual(t, d, base+time.Second, "attempt %d", i)
			assert.Less(t, d, base+3*time.Second, "attempt %d", i)
		}
	}
}

func TestInvokeRetriesRateLimitThenSucceeds(t *testing.T) {
	var calls int32
	var mu sync.Mutex
	var ids []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		ids = append(ids, r.Header.Get("privy-ca-id"))
		mu.Unlock()
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"nonce":"abc"}`))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	iv := testInvoker(rec)
	iv.Jitter = func() time.Duration { return 2 * time.Second }

	resp, err := iv.Invoke(context.Background(), Request{Label: "nonce", Method: http.MethodPost, URL: srv.URL, CorrelationHeader: "privy-ca-id"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"nonce":"abc"}`, string(resp.Body))

	assert.Equal(t, []time.Duration{5 * time.Second, 8 * time.Second}, rec.delays)
	require.Len(t, ids, 3)
	assert.NotEmpty(t, ids[0])
	assert.NotEqual(t, ids[0], ids[1])
	assert.NotEqual(t, ids[1], ids[2])
}

func TestInvokeStopsAtMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	iv := testInvoker(rec)

	resp, err := iv.Invoke(context.Background(), Request{Label: "auth", URL: srv.URL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	assert.True(t, errors.Is(err, ErrRateLimited))
	var ex *ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 5, ex.Attempts)

	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(5), atomic.LoadInt32(&calls))
	assert.Len(t, rec.delays, 4)
}

func TestInvokeDoesNotRetryOtherStatuses(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	resp, err := testInvoker(rec).Invoke(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, rec.delays)
}

func TestInvokeTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	var logs []string
	iv := testInvoker(rec)
	iv.MaxRetries = 3
	iv.Logf = func(f string, a ...any) { logs = append(logs, f) }

	resp, err := iv.Invoke(context.Background(), Request{Label: "nonce", URL: addr})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRetriesExhausted))
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "unavailable", te.Class)
	assert.Len(t, rec.delays, 2)
	assert.Len(t, logs, 3)
}

func TestInvokeSingleAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	iv := testInvoker(rec)
	iv.MaxRetries = 1

	resp, err := iv.Invoke(context.Background(), Request{URL: srv.URL})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, rec.delays)
}

func TestInvokeBadURLIsNotRetried(t *testing.T) {
	rec := &sleepRecorder{}
	_, err := testInvoker(rec).Invoke(context.Background(), Request{Label: "x", URL: "://bad"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRetriesExhausted))
	assert.Empty(t, rec.delays)
}

type fixedProxy struct{ u *url.URL }

func (f fixedProxy) Select() *url.URL { return f.u }

func TestInvokeGoesThroughSelectedProxy(t *testing.T) {
	var seenHost string
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHost = r.URL.Host
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxySrv.Close()
	pu, err := url.Parse(proxySrv.URL)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	iv := testInvoker(rec)
	iv.Proxies = fixedProxy{u: pu}

	resp, err := iv.Invoke(context.Background(), Request{URL: "http://api.example.invalid/api/tokens/activity"})
	require.NoError(t, err)
	assert.Equal(t, "via proxy", string(resp.Body))
	assert.Equal(t, "api.example.invalid", seenHost)
}

func TestJSONRequest(t *testing.T) {
	h := http.Header{}
	h.Set("Origin", "https://app.example")
	req, err := JSONRequest("nonce", http.MethodPost, "http://x", h, map[string]string{"address": "0xabc"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"address":"0xabc"}`, string(req.Body))
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Empty(t, h.Get("Content-Type"), "caller header must not be mutated")
}

func TestClassifyTransportError(t *testing.T) {
	assert.Equal(t, "timeout", classifyTransportError(context.DeadlineExceeded))
	assert.Equal(t, "unavailable", classifyTransportError(errors.New("dial tcp 127.0.0.1:1: connect: connection refused")))
	assert.Equal(t, "error", classifyTransportError(errors.New("tls: bad certificate")))
}
