package ids

import (
	"encoding/base32"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsHexAnd32Chars(t *testing.T) {
	id := New()
	assert.Len(t, id, 32)
	assert.Regexp(t, "^[0-9a-f]{32}$", id)
}

func TestNewIsUnique(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
}

func TestNormalizeHexPassesThrough(t *testing.T) {
	id := New()
	normalized, err := Normalize(id)
	require.NoError(t, err)
	assert.Equal(t, id, normalized)
}

func TestNormalizeAcceptsBase32OnRead(t *testing.T) {
	id := New()
	raw, err := hex.DecodeString(id)
	require.NoError(t, err)
	b32 := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)

	normalized, err := Normalize(b32)
	require.NoError(t, err)
	assert.Equal(t, id, normalized)
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize("not-an-id")
	assert.Error(t, err)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(New()))
	assert.False(t, Valid("xyz"))
}
