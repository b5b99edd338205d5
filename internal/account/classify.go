package account

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Outcome is what a single activity call produced.
// Err is set when no HTTP response was received at all.
type Outcome struct {
	StatusCode int
	Body       []byte
	Err        error
}

// Classify maps an activity outcome to exactly one Status.
// The returned string is a one-line detail for the log.
//
// The text patterns are heuristics over an undocumented error vocabulary; keep them in
// this fixed order: success shape, "done today", "invalid credential", fallback.
func Classify(o Outcome) (Status, string) {
	if o.Err != nil {
		return Error, o.Err.Error()
	}
	if o.StatusCode != 200 && o.StatusCode != 201 {
		return Failed, fmt.Sprintf("HTTP %d - %s", o.StatusCode, clip(string(o.Body)))
	}

	var parsed interface{}
	if err := json.Unmarshal(o.Body, &parsed); err != nil {
		text := string(o.Body)
		switch {
		case completedText(text):
			return Completed, "already done today"
		case invalidCredentialText(text):
			return CredentialInvalid, clip(text)
		}
		return Unknown, clip(text)
	}

	obj, ok := parsed.(map[string]interface{})
	if !ok {
		return Unknown, clip(string(o.Body))
	}
	_, hasID := obj["activityId"]
	_, hasPrice := obj["newTokenPrice"]
	if hasID && hasPrice {
		return Success, fmt.Sprintf("HTTP %d - activityId: %s, newTokenPrice: %s", o.StatusCode, plain(obj["activityId"]), plain(obj["newTokenPrice"]))
	}

	msg, ok := errorText(obj)
	if !ok {
		return Unknown, clip(string(o.Body))
	}
	switch {
	case completedText(msg):
		return Completed, "already done today"
	case invalidCredentialText(msg):
		return CredentialInvalid, clip(msg)
	}
	return Error, clip(msg)
}

// plain renders a decoded JSON scalar without exponent notation.
func plain(v interface{}) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// errorText prefers "error" over "message".
func errorText(obj map[string]interface{}) (string, bool) {
	for _, k := range []string{"error", "message"} {
		if v, ok := obj[k]; ok {
			if s, isStr := v.(string); isStr {
				return s, true
			}
			b, _ := json.Marshal(v)
			return string(b), true
		}
	}
	return "", false
}

func completedText(s string) bool {
	ls := strings.ToLower(s)
	return strings.Contains(ls, "today") || strings.Contains(ls, "already") || strings.Contains(s, "已完成")
}

func invalidCredentialText(s string) bool {
	ls := strings.ToLower(s)
	return strings.Contains(ls, "invalid access token") ||
		(strings.Contains(ls, "token") && strings.Contains(ls, "invalid"))
}

func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return "(empty)"
	}
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}
