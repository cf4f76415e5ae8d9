package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseParty(t *testing.T) {
	for in, want := range map[string]string{
		"":       FreeForAll,
		"ffa":    FreeForAll,
		"FFA":    FreeForAll,
		"#ab12c": "AB12C",
		" XCVR9": "XCVR9",
	} {
		got, err := ParseParty(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"ABC", "ABCDEF", "AB-12", "ÄBCDE"} {
		_, err := ParseParty(in)
		assert.ErrorIs(t, err, ErrorInvalidToken, in)
	}
}

func TestSessionID(t *testing.T) {
	a, err := NewSessionID()
	require.NoError(t, err)
	b, err := NewSessionID()
	require.NoError(t, err)

	assert.Len(t, a, SessionIDLength)
	assert.NotEqual(t, a, b)
	assert.NoError(t, ValidSessionID(a))

	assert.ErrorIs(t, ValidSessionID("short"), ErrorInvalidSessionID)
	assert.ErrorIs(t, ValidSessionID("0000000000000000"), ErrorInvalidSessionID) // 0 is not base32
}
