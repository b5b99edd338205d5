package wallet

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ligun0805/warden-keeper/internal/textfile"
)

var (
	// ErrInvalidKeyFormat: the line is neither 64 hex chars nor 0x + 64 hex chars.
	ErrInvalidKeyFormat = errors.New("invalid private key format")
	// ErrInvalidKey: the hex does not decode to a valid secp256k1 scalar.
	ErrInvalidKey = errors.New("invalid private key")
	ErrSigning    = errors.New("signing failed")
)

// ParseKeyLine validates one line of the key file and returns the bare 64-char hex.
func ParseKeyLine(line string) (string, error) {
	s := strings.TrimSpace(line)
	switch {
	case len(s) == 64 && isHex(s):
		return s, nil
	case len(s) == 66 && (s[:2] == "0x" || s[:2] == "0X") && isHex(s[2:]):
		return s[2:], nil
	}
	return "", ErrInvalidKeyFormat
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// LoadPrivateKeys keeps every well-formed key; bad lines are reported and skipped.
func LoadPrivateKeys(lines []textfile.Line, logf func(string, ...any)) []string {
	keys := make([]string, 0, len(lines))
	for _, l := range lines {
		k, err := ParseKeyLine(l.Text)
		if err != nil {
			if logf != nil {
				logf("[keys] line %d skipped (%v): %s", l.No, err, preview(l.Text))
			}
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

// preview shows just enough of a bad line to find it without leaking a usable secret.
func preview(s string) string {
	if len(s) <= 6 {
		return "***"
	}
	return s[:6] + "…"
}

func privateKey(secret string) (*ecdsa.PrivateKey, error) {
	h := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(secret, "0x"), "0X"))
	if h == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	key, err := gethcrypto.HexToECDSA(h)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return key, nil
}

// DeriveAddress returns the checksummed address of secret.
func DeriveAddress(secret string) (common.Address, error) {
	key, err := privateKey(secret)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(key.PublicKey), nil
}

// SignPersonal signs message with the EIP-191 personal_sign prefix.
// The result is 0x-hex with V in {27,28}.
func SignPersonal(secret, message string) (string, error) {
	key, err := privateKey(secret)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	sig, err := gethcrypto.Sign(accounts.TextHash([]byte(message)), key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSigning, err)
	}
	sig[gethcrypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverPersonal returns the signer of a SignPersonal signature.
func RecoverPersonal(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return common.Address{}, fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != gethcrypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature length %d", len(sig))
	}
	if sig[gethcrypto.RecoveryIDOffset] >= 27 {
		sig[gethcrypto.RecoveryIDOffset] -= 27
	}
	pub, err := gethcrypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return gethcrypto.PubkeyToAddress(*pub), nil
}
