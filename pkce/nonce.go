package pkce

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// GenerateNonce generates a new random OIDC nonce parameter. The nonce is
// carried inside the signed ID token, where state only binds the redirect.
func GenerateNonce() (Nonce, error) { return generateNonce(rand.Reader) }

func generateNonce(rand io.Reader) (Nonce, error) {
	var buf [32]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate random nonce: %w", err)
	}
	return Nonce(hex.EncodeToString(buf[:])), nil
}

// Nonce is an OIDC nonce parameter.
type Nonce string

func (n *Nonce) String() string { return string(*n) }
