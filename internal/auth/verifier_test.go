package auth

import (
	"encoding/hex"
	"strings"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (*secp256k1.PrivateKey, string) {
	t.Helper()
	key, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return key, PubKeyToAddress(key.PubKey())
}

func TestPersonalSign_RoundTrip(t *testing.T) {
	key, addr := newKey(t)
	sig := SignPersonal(key, "nonce-123")

	v := NewPersonalSign()
	assert.True(t, v.Verify(addr, "nonce-123", sig))
	assert.True(t, v.Verify(strings.ToUpper(addr[:2])+strings.ToUpper(addr[2:]), "nonce-123", sig), "address comparison is case-insensitive")
}

func TestPersonalSign_WrongMessage(t *testing.T) {
	key, addr := newKey(t)
	sig := SignPersonal(key, "nonce-123")

	assert.False(t, NewPersonalSign().Verify(addr, "nonce-124", sig))
}

func TestPersonalSign_WrongAddress(t *testing.T) {
	key, _ := newKey(t)
	_, other := newKey(t)
	sig := SignPersonal(key, "hello")

	assert.False(t, NewPersonalSign().Verify(other, "hello", sig))
}

func TestPersonalSign_ZeroOneRecoveryID(t *testing.T) {
	key, addr := newKey(t)
	sig := SignPersonal(key, "hello")

	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	require.NoError(t, err)
	raw[64] -= 27

	assert.True(t, NewPersonalSign().Verify(addr, "hello", hex.EncodeToString(raw)))
}

func TestPersonalSign_Malformed(t *testing.T) {
	_, addr := newKey(t)
	v := NewPersonalSign()

	assert.False(t, v.Verify("", "m", "0x00"))
	assert.False(t, v.Verify(addr, "", "0x00"))
	assert.False(t, v.Verify(addr, "m", ""))
	assert.False(t, v.Verify(addr, "m", "0xzz"))
	assert.False(t, v.Verify(addr, "m", "0x"+strings.Repeat("ab", 64)))
	assert.False(t, v.Verify(addr, "m", "0x"+strings.Repeat("ab", 64)+"05"))
}

func TestIsAddress(t *testing.T) {
	_, addr := newKey(t)
	assert.True(t, IsAddress(addr))
	assert.False(t, IsAddress("LOBBY"))
	assert.False(t, IsAddress("0x1234"))
	assert.False(t, IsAddress("0x"+strings.Repeat("g", 40)))
	assert.Equal(t, addr, NormalizeAddress(" "+strings.ToUpper(addr)+" "))
}

func TestVerifierFunc(t *testing.T) {
	var calls int
	v := VerifierFunc(func(address, message, signature string) bool {
		calls++
		return signature == "ok"
	})
	assert.True(t, v.Verify("a", "b", "ok"))
	assert.False(t, v.Verify("a", "b", "no"))
	assert.Equal(t, 2, calls)
}
