package wallet

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ligun0805/warden-keeper/internal/textfile"
)

// Well-known hardhat/anvil account #0.
const (
	testKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func TestParseKeyLine(t *testing.T) {
	k, err := ParseKeyLine(testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	k, err = ParseKeyLine("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, k)

	k, err = ParseKeyLine("  0X" + strings.ToUpper(testKey) + "  ")
	require.NoError(t, err)
	assert.Equal(t, strings.ToUpper(testKey), k)
}

func TestParseKeyLineRejectsMalformed(t *testing.T) {
	bad := []string{
		"",
		testKey[:63],
		testKey + "0",
		"0x" + testKey[:63],
		"zz" + testKey,
		testKey[:62] + "zz",
		"0x" + testKey[:62] + "g1",
		"1x" + testKey,
	}
	for _, s := range bad {
		_, err := ParseKeyLine(s)
		assert.ErrorIs(t, err, ErrInvalidKeyFormat, "line %q", s)
	}
}

func TestLoadPrivateKeysSkipsBadLines(t *testing.T) {
	data := "# header\n" + testKey + "\nnot-a-key\n\n0x" + testKey + "\n" + testKey[:10] + "\n"
	var warns []string
	keys := LoadPrivateKeys(textfile.ParseLines([]byte(data), true), func(f string, a ...any) {
		warns = append(warns, fmt.Sprintf(f, a...))
	})
	assert.Equal(t, []string{testKey, testKey}, keys)
	require.Len(t, warns, 2)
	assert.Contains(t, warns[0], "line 3")
	assert.Contains(t, warns[1], "line 6")
	for _, w := range warns {
		assert.NotContains(t, w, testKey[:10])
	}
}

func TestDeriveAddress(t *testing.T) {
	addr, err := DeriveAddress(testKey)
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr.Hex())

	addr, err = DeriveAddress("0x" + testKey)
	require.NoError(t, err)
	assert.Equal(t, testAddr, addr.Hex())
}

func TestDeriveAddressInvalidScalar(t *testing.T) {
	_, err := DeriveAddress(strings.Repeat("0", 64))
	assert.True(t, errors.Is(err, ErrInvalidKey))

	// secp256k1 group order N is not a valid private key
	_, err = DeriveAddress("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141")
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestSignPersonalDeterministicAndRecoverable(t *testing.T) {
	msg := "app.example wants you to sign in with your Ethereum account:\n" + testAddr

	sig1, err := SignPersonal(testKey, msg)
	require.NoError(t, err)
	sig2, err := SignPersonal(testKey, msg)
	require.NoError(t, err)
	assert.Equal(t, sig1, sig2)
	assert.Len(t, sig1, 2+65*2)
	assert.True(t, strings.HasPrefix(sig1, "0x"))
	v := sig1[len(sig1)-2:]
	assert.Contains(t, []string{"1b", "1c"}, v)

	signer, err := RecoverPersonal(msg, sig1)
	require.NoError(t, err)
	assert.Equal(t, testAddr, signer.Hex())

	other, err := SignPersonal(testKey, msg+" ")
	require.NoError(t, err)
	assert.NotEqual(t, sig1, other)
}

func TestSignPersonalBadKey(t *testing.T) {
	_, err := SignPersonal("nothex", "hello")
	assert.True(t, errors.Is(err, ErrSigning))
}
