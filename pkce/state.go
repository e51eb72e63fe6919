package pkce

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
)

// GenerateState generates a new random OAuth2 state parameter.
func GenerateState() (State, error) { return generateState(rand.Reader) }

func generateState(rand io.Reader) (State, error) {
	// RFC 6749 section 10.12: the CSRF binding value must be non-guessable.
	// Same entropy floor as the verifier; never reused across attempts.
	var buf [32]byte
	if _, err := io.ReadFull(rand, buf[:]); err != nil {
		return "", fmt.Errorf("could not generate random state: %w", err)
	}
	return State(hex.EncodeToString(buf[:])), nil
}

// State is an OAuth2 state parameter: a nonce echoed back by the provider to
// bind a callback to the request that initiated it.
type State string

func (s *State) String() string { return string(*s) }

// Validate compares the state returned in a callback parameter in constant
// time.
func (s *State) Validate(returned string) error {
	if subtle.ConstantTimeCompare([]byte(returned), []byte(*s)) != 1 {
		return InvalidStateError{Expected: *s, Got: State(returned)}
	}
	return nil
}

// InvalidStateError is returned by Validate when the returned state does not
// match.
type InvalidStateError struct {
	Expected State
	Got      State
}

// Error reports the mismatch without the expected value: the state is a CSRF
// binding secret and must not leak through logs or responses.
func (e InvalidStateError) Error() string {
	return "state parameter does not match the value from the login request"
}
