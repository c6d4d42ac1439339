// Package gateway is the boundary to the external payment provider:
// creating a payable order for an amount and verifying the signed
// payment outcome the provider reports back.
package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Verifier signs and checks payment outcomes with a shared secret.
// The signed message is "gatewayOrderRef|paymentRef" and the signature
// is the lowercase hex HMAC-SHA256 of it. The separator is not escaped,
// so a gateway order ref containing '|' never verifies; provider refs
// never contain one.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier keyed by secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign returns the expected signature for the pair.
func (v *Verifier) Sign(gatewayOrderRef, paymentRef string) string {
	return hex.EncodeToString(v.mac(gatewayOrderRef, paymentRef))
}

// Verify reports whether signature was produced with the shared secret
// over exactly (gatewayOrderRef, paymentRef). It never errors: malformed
// input is simply a mismatch.
func (v *Verifier) Verify(gatewayOrderRef, paymentRef, signature string) bool {
	if strings.ContainsRune(gatewayOrderRef, '|') {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.mac(gatewayOrderRef, paymentRef))
}

func (v *Verifier) mac(gatewayOrderRef, paymentRef string) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write([]byte(gatewayOrderRef))
	m.Write([]byte{'|'})
	m.Write([]byte(paymentRef))
	return m.Sum(nil)
}
