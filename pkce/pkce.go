// Package pkce implements the client half of RFC 7636 (Proof Key for Code
// Exchange) plus the OAuth2 state and OIDC nonce parameters that bind one
// authorization round trip to the attempt that started it.
package pkce

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
)

// Generate generates a new random PKCE code verifier.
func Generate() (Code, error) { return generate(rand.Reader) }

func generate(rand io.Reader) (Code, error) {
	// From https://tools.ietf.org/html/rfc7636#section-4.1:
	//   code_verifier = high-entropy cryptographic random STRING using the
	//   unreserved characters [A-Z] / [a-z] / [0-9] / "-" / "." / "_" / "~",
	//   with a minimum length of 43 characters and a maximum length of 128.
	// 32 random bytes hex-encoded gives 64 characters of that alphabet.
	var buf [32]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate PKCE code: %w", err)
	}
	return Code(hex.EncodeToString(buf[:])), nil
}

// Code is a PKCE code verifier. Only its Challenge is ever sent to the
// authorization endpoint; the verifier itself goes only to the token endpoint.
type Code string

func (c *Code) String() string { return string(*c) }

// Challenge returns the S256 code challenge derived from the verifier:
// unpadded base64url of its SHA-256 digest. The plain challenge method is
// deliberately not supported.
func (c *Code) Challenge() string {
	b := sha256.Sum256([]byte(*c))
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// Method returns the only supported code challenge method.
func (c *Code) Method() string { return "S256" }
