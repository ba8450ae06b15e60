package validator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidatePlayerNameTrimsAndCollapses(t *testing.T) {
	got, err := ValidatePlayerName("  Alice   Bob  ")
	require.NoError(t, err)
	require.Equal(t, "Alice Bob", got)
}

func TestValidatePlayerNameRejectsEmpty(t *testing.T) {
	_, err := ValidatePlayerName("   \t\n  ")
	require.ErrorIs(t, err, ErrEmptyName)
}

func TestValidatePlayerNameTruncates(t *testing.T) {
	long := strings.Repeat("a", 64)
	got, err := ValidatePlayerName(long)
	require.NoError(t, err)
	require.LessOrEqual(t, len([]rune(got)), maxPlayerNameLen)
}

func TestValidatePlayerNameIsIdempotent(t *testing.T) {
	first, err := ValidatePlayerName("  weird\x00 name here ")
	require.NoError(t, err)
	second, err := ValidatePlayerName(first)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestValidateRoomCodeNormalizesAndRejects(t *testing.T) {
	got, err := ValidateRoomCode("abcdef")
	require.NoError(t, err)
	require.Equal(t, "ABCDEF", got)

	_, err = ValidateRoomCode("ABCDE")
	require.ErrorIs(t, err, ErrInvalidCode)

	_, err = ValidateRoomCode("ABCD0I")
	require.ErrorIs(t, err, ErrInvalidCode)
}

func TestValidateChatMessage(t *testing.T) {
	got, err := ValidateChatMessage("  hello world  ")
	require.NoError(t, err)
	require.Equal(t, "hello world", got)

	_, err = ValidateChatMessage("   ")
	require.ErrorIs(t, err, ErrEmptyMessage)

	_, err = ValidateChatMessage(strings.Repeat("x", 501))
	require.ErrorIs(t, err, ErrMessageTooLong)
}

func TestGenerateRoomCodeShapeAndAlphabet(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateRoomCode()
		require.NoError(t, err)
		require.Len(t, code, roomCodeLen)
		for _, r := range code {
			require.True(t, strings.ContainsRune(roomCodeAlphabet, r), "unexpected rune %q", r)
		}
		seen[code] = true
	}
	// Not a strict uniqueness guarantee, but 50 draws from a 32^6 space
	// colliding would be exceptionally unlikely and would indicate a bug.
	require.Greater(t, len(seen), 45)
}
