package account

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   Outcome
		want Status
	}{
		{"success shape", Outcome{StatusCode: 200, Body: []byte(`{"activityId":"a1","newTokenPrice":"2.00"}`)}, Success},
		{"success on 201", Outcome{StatusCode: 201, Body: []byte(`{"activityId":7,"newTokenPrice":null,"extra":1}`)}, Success},
		{"already today", Outcome{StatusCode: 200, Body: []byte(`{"error":"already completed today"}`)}, Completed},
		{"today in message", Outcome{StatusCode: 201, Body: []byte(`{"message":"Daily limit reached for TODAY"}`)}, Completed},
		{"chinese done", Outcome{StatusCode: 200, Body: []byte(`{"error":"任务已完成"}`)}, Completed},
		{"invalid access token", Outcome{StatusCode: 200, Body: []byte(`{"message":"invalid access token"}`)}, CredentialInvalid},
		{"token + invalid", Outcome{StatusCode: 200, Body: []byte(`{"error":"Token is Invalid or expired"}`)}, CredentialInvalid},
		{"other error text", Outcome{StatusCode: 200, Body: []byte(`{"error":"internal hiccup"}`)}, Error},
		{"error preferred over message", Outcome{StatusCode: 200, Body: []byte(`{"error":"boom","message":"already"}`)}, Error},
		{"non-string error", Outcome{StatusCode: 200, Body: []byte(`{"error":{"code":42}}`)}, Error},
		{"only id no price", Outcome{StatusCode: 200, Body: []byte(`{"activityId":"a1"}`)}, Unknown},
		{"empty object", Outcome{StatusCode: 200, Body: []byte(`{}`)}, Unknown},
		{"json array", Outcome{StatusCode: 200, Body: []byte(`["already"]`)}, Unknown},
		{"text already", Outcome{StatusCode: 200, Body: []byte(`You already did this`)}, Completed},
		{"text invalid token", Outcome{StatusCode: 201, Body: []byte(`invalid access token`)}, CredentialInvalid},
		{"text other", Outcome{StatusCode: 200, Body: []byte(`<html>ok</html>`)}, Unknown},
		{"empty body", Outcome{StatusCode: 200, Body: nil}, Unknown},
		{"http 500", Outcome{StatusCode: 500, Body: []byte(`{"activityId":"a1","newTokenPrice":"2.00"}`)}, Failed},
		{"http 429", Outcome{StatusCode: 429, Body: []byte(`slow down`)}, Failed},
		{"http 204", Outcome{StatusCode: 204}, Failed},
		{"connection refused", Outcome{Err: errors.New("dial tcp 127.0.0.1:443: connect: connection refused")}, Error},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, detail := Classify(tc.in)
			assert.Equal(t, tc.want, got)
			assert.NotEmpty(t, detail)
		})
	}
}

func TestClassifySuccessDetailKeepsLargeNumbers(t *testing.T) {
	st, detail := Classify(Outcome{StatusCode: 200, Body: []byte(`{"activityId":12345678,"newTokenPrice":1000000}`)})
	assert.Equal(t, Success, st)
	assert.Equal(t, "HTTP 200 - activityId: 12345678, newTokenPrice: 1000000", detail)

	_, detail = Classify(Outcome{StatusCode: 201, Body: []byte(`{"activityId":"a1","newTokenPrice":2.5}`)})
	assert.Equal(t, "HTTP 201 - activityId: a1, newTokenPrice: 2.5", detail)
}

func TestClassifyIsTotal(t *testing.T) {
	bodies := [][]byte{nil, []byte(""), []byte("{"), []byte("null"), []byte("1"), []byte(`"s"`), []byte(`{"message":null}`), []byte(`{"error":""}`)}
	codes := []int{0, 100, 200, 201, 202, 301, 400, 401, 429, 500, 503}
	for _, c := range codes {
		for _, b := range bodies {
			st, _ := Classify(Outcome{StatusCode: c, Body: b})
			assert.Contains(t, All, st)
			assert.NotEqual(t, Pending, st)
		}
	}
}

func TestStatusString(t *testing.T) {
	seen := map[string]bool{}
	for _, s := range All {
		seen[s.String()] = true
	}
	assert.Len(t, seen, len(All))
	assert.Equal(t, "credential-invalid", CredentialInvalid.String())
}
