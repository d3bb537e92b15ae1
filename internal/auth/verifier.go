package auth

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// Verifier checks that signature was produced over message by the key behind address
type Verifier interface {
	Verify(address, message, signature string) bool
}

// VerifierFunc adapts a plain function to the Verifier interface
type VerifierFunc func(address, message, signature string) bool

// Verify calls f(address, message, signature)
func (f VerifierFunc) Verify(address, message, signature string) bool {
	return f(address, message, signature)
}

const personalPrefix = "\x19Ethereum Signed Message:\n"

// PersonalSign verifies wallet personal_sign signatures (65 byte r||s||v, hex encoded)
type PersonalSign struct{}

// NewPersonalSign creates a personal_sign verifier
func NewPersonalSign() *PersonalSign {
	return &PersonalSign{}
}

// Verify recovers the signer of message and compares it to address
func (PersonalSign) Verify(address, message, signature string) bool {
	if address == "" || message == "" || signature == "" {
		return false
	}
	recovered, err := Recover(message, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered, address)
}

// Recover returns the lowercase address that signed message
func Recover(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil {
		return "", err
	}
	if len(sig) != 65 {
		return "", errBadSignatureLength
	}

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return "", errBadRecoveryID
	}

	// decred's compact format puts the recovery code first
	compact := make([]byte, 65)
	compact[0] = 27 + v
	copy(compact[1:], sig[:64])

	pub, _, err := ecdsa.RecoverCompact(compact, PersonalHash(message))
	if err != nil {
		return "", err
	}
	return PubKeyToAddress(pub), nil
}

// SignPersonal signs message the same way a wallet's personal_sign does
func SignPersonal(key *secp256k1.PrivateKey, message string) string {
	compact := ecdsa.SignCompact(key, PersonalHash(message), false)

	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return "0x" + hex.EncodeToString(sig)
}

// PersonalHash is keccak256 over the prefixed message
func PersonalHash(message string) []byte {
	return Keccak256([]byte(personalPrefix + strconv.Itoa(len(message)) + message))
}

// PubKeyToAddress derives the 20 byte account address of a public key
func PubKeyToAddress(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	hash := Keccak256(raw[1:])
	return "0x" + hex.EncodeToString(hash[12:])
}

// Keccak256 hashes the concatenation of data
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// NormalizeAddress lowercases an address so it can be used as a map key
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// IsAddress reports whether s looks like a 0x-prefixed 20 byte hex address
func IsAddress(s string) bool {
	if len(s) != 42 || !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}

type authError string

func (e authError) Error() string { return string(e) }

const (
	errBadSignatureLength = authError("signature must be 65 bytes")
	errBadRecoveryID      = authError("invalid recovery id")
)
