package warden

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ligun0805/warden-keeper/internal/account"
	"github.com/ligun0805/warden-keeper/internal/httpx"
)

// UTC+8, the zone the web app stamps activity with.
var beijing = time.FixedZone("CST", 8*3600)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/137.0.0.0 Safari/537.36"

var ErrNoTokenObject = errors.New("response has no token object")

// Client talks to the activity API with a bearer credential.
type Client struct {
	BaseURL string
	Origin  string
	Invoker *httpx.Invoker
	Now     func() time.Time
}

func New(baseURL, origin string, inv *httpx.Invoker) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), Origin: strings.TrimRight(origin, "/"), Invoker: inv, Now: time.Now}
}

type ActivityRequest struct {
	ActivityType string           `json:"activityType"`
	Metadata     ActivityMetadata `json:"metadata"`
}

type ActivityMetadata struct {
	Action        string `json:"action"`
	MessageLength int    `json:"message_length"`
	Timestamp     string `json:"timestamp"`
}

// BeijingTimestamp renders t in UTC+8 with milliseconds and a literal Z, as the web app does.
func BeijingTimestamp(t time.Time) string {
	return t.In(beijing).Format("2006-01-02T15:04:05.000") + "Z"
}

func (c *Client) headers(credential string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+credential)
	h.Set("User-Agent", userAgent)
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9")
	h.Set("Origin", c.Origin)
	h.Set("Referer", c.Origin+"/")
	h.Set("sec-ch-ua", `"Google Chrome";v="137", "Chromium";v="137", "Not/A)Brand";v="24"`)
	h.Set("sec-ch-ua-mobile", "?0")
	h.Set("sec-ch-ua-platform", `"macOS"`)
	h.Set("Sec-Fetch-Site", "same-site")
	h.Set("Sec-Fetch-Mode", "cors")
	h.Set("Sec-Fetch-Dest", "empty")
	return h
}

func (c *Client) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Activity posts one chat-interaction ping. The invoker decides how many attempts are made;
// the keeper uses a single one.
func (c *Client) Activity(ctx context.Context, credential string) account.Outcome {
	payload := ActivityRequest{
		ActivityType: "CHAT_INTERACTION",
		Metadata: ActivityMetadata{
			Action:        "user_chat",
			MessageLength: 20,
			Timestamp:     BeijingTimestamp(c.now()),
		},
	}
	req, err := httpx.JSONRequest("activity", http.MethodPost, c.BaseURL+"/api/tokens/activity", c.headers(credential), payload)
	if err != nil {
		return account.Outcome{Err: err}
	}
	resp, err := c.Invoker.Invoke(ctx, req)
	if resp != nil {
		return account.Outcome{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return account.Outcome{Err: err}
}

// UserInfo fetches display metadata for a credential.
func (c *Client) UserInfo(ctx context.Context, credential string) (account.Metadata, error) {
	req := httpx.Request{
		Label:  "user",
		Method: http.MethodGet,
		URL:    c.BaseURL + "/api/tokens/user/me",
		Header: c.headers(credential),
	}
	resp, err := c.Invoker.Invoke(ctx, req)
	if err != nil {
		return account.Metadata{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return account.Metadata{}, fmt.Errorf("HTTP %d - %s", resp.StatusCode, strings.TrimSpace(string(resp.Body)))
	}
	return ParseUserInfo(resp.Body)
}

// ParseUserInfo reads {"token":{"tokenName","pointsTotal","createdAt"}}.
// createdAt is shown in UTC+8 as "2006-01-02 15:04"; values that do not parse are kept as is.
func ParseUserInfo(body []byte) (account.Metadata, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return account.Metadata{}, fmt.Errorf("user info is not JSON: %w", err)
	}
	var tok map[string]interface{}
	if b, ok := raw["token"]; ok {
		_ = json.Unmarshal(b, &tok)
	}
	if len(tok) == 0 {
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return account.Metadata{}, fmt.Errorf("%w (keys: %s)", ErrNoTokenObject, strings.Join(keys, ","))
	}
	md := account.Metadata{
		DisplayName: field(tok, "tokenName"),
		PointTotal:  field(tok, "pointsTotal"),
		CreatedAt:   field(tok, "createdAt"),
	}
	if md.CreatedAt != "-" {
		if t, err := time.Parse(time.RFC3339Nano, md.CreatedAt); err == nil {
			md.CreatedAt = t.In(beijing).Format("2006-01-02 15:04")
		}
	}
	return md, nil
}

func field(m map[string]interface{}, k string) string {
	v, ok := m[k]
	if !ok || v == nil {
		return "-"
	}
	switch x := v.(type) {
	case string:
		if x == "" {
			return "-"
		}
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	}
	b, _ := json.Marshal(v)
	return string(b)
}
