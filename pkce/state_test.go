package pkce

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestState(t *testing.T) {
	s, err := GenerateState()
	require.NoError(t, err)
	require.Len(t, s.String(), 64)

	require.NoError(t, s.Validate(s.String()))
	err = s.Validate("wrong")
	require.Error(t, err)
	require.IsType(t, InvalidStateError{}, err)
	// The message must not leak the CSRF binding value.
	require.NotContains(t, err.Error(), s.String())

	other, err := GenerateState()
	require.NoError(t, err)
	require.NotEqual(t, s, other)

	var empty bytes.Buffer
	s, err = generateState(&empty)
	require.EqualError(t, err, "could not generate random state: EOF")
	require.Empty(t, s)
}

func TestNonce(t *testing.T) {
	n, err := GenerateNonce()
	require.NoError(t, err)
	require.Len(t, n.String(), 64)

	other, err := GenerateNonce()
	require.NoError(t, err)
	require.NotEqual(t, n, other)
}
