// Package siwe implements the Sign-In With Ethereum handshake against the identity provider:
// nonce, message, personal signature, credential.
package siwe

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// IssuedAtLayout is UTC with milliseconds and a Z suffix.
const IssuedAtLayout = "2006-01-02T15:04:05.000Z"

const statement = "By signing, you are proving you own this wallet and logging in. This does not initiate a transaction or cost any fees."

var ErrMalformedMessage = errors.New("malformed sign-in message")

// Params are the variable parts of the sign-in message.
type Params struct {
	Domain   string
	Address  common.Address
	URI      string
	Version  string
	ChainID  int
	Nonce    string
	IssuedAt time.Time
	Resource string
}

func FormatIssuedAt(t time.Time) string {
	return t.UTC().Format(IssuedAtLayout)
}

// BuildMessage renders p exactly as the provider expects it, no trailing newline.
func BuildMessage(p Params) string {
	version := p.Version
	if version == "" {
		version = "1"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants you to sign in with your Ethereum account:\n", p.Domain)
	b.WriteString(p.Address.Hex())
	b.WriteString("\n\n")
	b.WriteString(statement)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "URI: %s\n", p.URI)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Chain ID: %d\n", p.ChainID)
	fmt.Fprintf(&b, "Nonce: %s\n", p.Nonce)
	fmt.Fprintf(&b, "Issued At: %s\n", FormatIssuedAt(p.IssuedAt))
	b.WriteString("Resources:\n")
	fmt.Fprintf(&b, "- %s", p.Resource)
	return b.String()
}

// ParseMessage reads back the fields written by BuildMessage.
func ParseMessage(msg string) (Params, error) {
	lines := strings.Split(msg, "\n")
	if len(lines) < 2 {
		return Params{}, ErrMalformedMessage
	}
	var p Params
	domain, ok := strings.CutSuffix(lines[0], " wants you to sign in with your Ethereum account:")
	if !ok {
		return Params{}, fmt.Errorf("%w: header line", ErrMalformedMessage)
	}
	p.Domain = domain
	if !common.IsHexAddress(lines[1]) {
		return Params{}, fmt.Errorf("%w: address %q", ErrMalformedMessage, lines[1])
	}
	p.Address = common.HexToAddress(lines[1])

	for i := 2; i < len(lines); i++ {
		l := lines[i]
		switch {
		case strings.HasPrefix(l, "URI: "):
			p.URI = strings.TrimPrefix(l, "URI: ")
		case strings.HasPrefix(l, "Version: "):
			p.Version = strings.TrimPrefix(l, "Version: ")
		case strings.HasPrefix(l, "Chain ID: "):
			n, err := strconv.Atoi(strings.TrimPrefix(l, "Chain ID: "))
			if err != nil {
				return Params{}, fmt.Errorf("%w: chain id: %v", ErrMalformedMessage, err)
			}
			p.ChainID = n
		case strings.HasPrefix(l, "Nonce: "):
			p.Nonce = strings.TrimPrefix(l, "Nonce: ")
		case strings.HasPrefix(l, "Issued At: "):
			t, err := time.Parse(IssuedAtLayout, strings.TrimPrefix(l, "Issued At: "))
			if err != nil {
				return Params{}, fmt.Errorf("%w: issued at: %v", ErrMalformedMessage, err)
			}
			p.IssuedAt = t
		case strings.HasPrefix(l, "- ") && i > 0 && lines[i-1] == "Resources:":
			p.Resource = strings.TrimPrefix(l, "- ")
		}
	}
	if p.Nonce == "" {
		return Params{}, fmt.Errorf("%w: no nonce", ErrMalformedMessage)
	}
	return p, nil
}
