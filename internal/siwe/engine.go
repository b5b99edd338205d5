package siwe

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ligun0805/warden-keeper/internal/httpx"
	"github.com/ligun0805/warden-keeper/internal/wallet"
)

var (
	// ErrProtocol: the provider answered, but not with what the handshake needs.
	ErrProtocol = errors.New("sign-in protocol error")
	// ErrNoCredential: authentication succeeded without any credential field in the body.
	ErrNoCredential = errors.New("authenticated but no credential issued")
)

const (
	initPath         = "/api/v1/siwe/init"
	authenticatePath = "/api/v1/siwe/authenticate"
	resource         = "https://privy.io"
	correlationHdr   = "privy-ca-id"
	authUserAgent    = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// credentialKeys are tried in order; the first non-empty string wins.
var credentialKeys = []string{"token", "accessToken", "jwt"}

// Session is the state of one handshake.
type Session struct {
	Address   common.Address
	Nonce     string
	Message   string
	IssuedAt  time.Time
	Signature string
}

// Engine runs the handshake for a list of private keys, one key at a time.
type Engine struct {
	Invoker          *httpx.Invoker
	AuthBaseURL      string
	AppID            string
	Origin           string // also the URI in the signed message
	Domain           string
	ChainID          int
	WalletClientType string
	ConnectorType    string
	Logf             func(format string, args ...any)

	Now           func() time.Time
	Sleep         func(ctx context.Context, d time.Duration) error
	InterKeyDelay func() time.Duration
}

// InterKeyDelay is a uniform pause in [5s, 8s).
func InterKeyDelay() time.Duration {
	return 5*time.Second + time.Duration(rand.Int64N(int64(3*time.Second)))
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logf != nil {
		e.Logf(format, args...)
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) header() http.Header {
	h := http.Header{}
	h.Set("User-Agent", authUserAgent)
	h.Set("Origin", e.Origin)
	h.Set("Referer", e.Origin+"/")
	h.Set("Accept", "application/json, text/plain, */*")
	h.Set("Accept-Language", "en-US,en;q=0.9,zh-CN;q=0.8,zh;q=0.7")
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	h.Set("Sec-Fetch-Dest", "empty")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Site", "cross-site")
	h.Set("privy-app-id", e.AppID)
	return h
}

func (e *Engine) post(ctx context.Context, label, path string, payload any) (*httpx.Response, error) {
	req, err := httpx.JSONRequest(label, http.MethodPost, e.AuthBaseURL+path, e.header(), payload)
	if err != nil {
		return nil, err
	}
	req.CorrelationHeader = correlationHdr
	resp, err := e.Invoker.Invoke(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: HTTP %d - %s", ErrProtocol, label, resp.StatusCode, snippet(resp.Body))
	}
	return resp, nil
}

// Nonce asks the provider for a one-time nonce bound to addr.
func (e *Engine) Nonce(ctx context.Context, addr common.Address) (string, error) {
	resp, err := e.post(ctx, "nonce", initPath, map[string]string{"address": addr.Hex()})
	if err != nil {
		return "", err
	}
	var body struct {
		Nonce string `json:"nonce"`
	}
	if err := resp.DecodeJSON(&body); err != nil || body.Nonce == "" {
		return "", fmt.Errorf("%w: nonce missing in %s", ErrProtocol, snippet(resp.Body))
	}
	return body.Nonce, nil
}

// Exchange trades a signed message for the provider's JSON answer.
func (e *Engine) Exchange(ctx context.Context, message, signature string) (map[string]any, error) {
	payload := map[string]string{
		"message":          message,
		"signature":        signature,
		"chainId":          fmt.Sprintf("eip155:%d", e.ChainID),
		"walletClientType": e.WalletClientType,
		"connectorType":    e.ConnectorType,
		"mode":             "login-or-sign-up",
	}
	resp, err := e.post(ctx, "authenticate", authenticatePath, payload)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := resp.DecodeJSON(&out); err != nil || out == nil {
		return nil, fmt.Errorf("%w: authenticate answer is not a JSON object: %s", ErrProtocol, snippet(resp.Body))
	}
	return out, nil
}

// CredentialFrom picks the credential out of an authenticate answer.
func CredentialFrom(m map[string]any) (string, bool) {
	for _, k := range credentialKeys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// SignIn runs the full handshake for one key and returns the issued credential.
func (e *Engine) SignIn(ctx context.Context, key string) (string, *Session, error) {
	addr, err := wallet.DeriveAddress(key)
	if err != nil {
		return "", nil, fmt.Errorf("derive address: %w", err)
	}
	s := &Session{Address: addr}
	if s.Nonce, err = e.Nonce(ctx, addr); err != nil {
		return "", s, fmt.Errorf("nonce: %w", err)
	}
	s.IssuedAt = e.now().UTC().Truncate(time.Millisecond)
	s.Message = BuildMessage(Params{
		Domain:   e.Domain,
		Address:  addr,
		URI:      e.Origin,
		Version:  "1",
		ChainID:  e.ChainID,
		Nonce:    s.Nonce,
		IssuedAt: s.IssuedAt,
		Resource: resource,
	})
	if s.Signature, err = wallet.SignPersonal(key, s.Message); err != nil {
		return "", s, err
	}
	ans, err := e.Exchange(ctx, s.Message, s.Signature)
	if err != nil {
		return "", s, fmt.Errorf("authenticate: %w", err)
	}
	cred, ok := CredentialFrom(ans)
	if !ok {
		keys := make([]string, 0, len(ans))
		for k := range ans {
			keys = append(keys, k)
		}
		return "", s, fmt.Errorf("%w (fields: %s)", ErrNoCredential, strings.Join(keys, ","))
	}
	return cred, s, nil
}

// Run signs in with every key in order and returns the credentials obtained.
// A failing key is logged and skipped. Keys are spaced by InterKeyDelay; only a
// cancelled ctx ends the batch early.
func (e *Engine) Run(ctx context.Context, keys []string) []string {
	sleep := e.Sleep
	if sleep == nil {
		sleep = httpx.Sleep
	}
	delay := e.InterKeyDelay
	if delay == nil {
		delay = InterKeyDelay
	}
	var creds []string
	for i, key := range keys {
		e.logf("[auth] wallet %d/%d", i+1, len(keys))
		cred, s, err := e.SignIn(ctx, key)
		switch {
		case err != nil && s != nil:
			e.logf("[auth] wallet %d (%s) failed: %v", i+1, s.Address.Hex(), err)
		case err != nil:
			e.logf("[auth] wallet %d failed: %v", i+1, err)
		default:
			creds = append(creds, cred)
			e.logf("[auth] wallet %d (%s) ok, credential %s", i+1, s.Address.Hex(), preview(cred))
		}
		if i == len(keys)-1 {
			break
		}
		d := delay()
		e.logf("[auth] next wallet in %.1fs", d.Seconds())
		if err := sleep(ctx, d); err != nil {
			e.logf("[auth] stopped after wallet %d: %v", i+1, err)
			break
		}
	}
	e.logf("[auth] done: %d/%d wallets issued a credential", len(creds), len(keys))
	return creds
}

func preview(s string) string {
	if len(s) > 24 {
		return s[:24] + "..."
	}
	return s
}

func snippet(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if s == "" {
		return "(empty)"
	}
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
