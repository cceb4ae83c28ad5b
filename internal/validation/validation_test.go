package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestURL(t *testing.T) {
	u, err := URL("example.com/path")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path", u)

	_, err = URL("")
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = URL("ftp://example.com")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestChunkParams(t *testing.T) {
	require.NoError(t, ChunkParams(512, 50))
	require.Error(t, ChunkParams(10, 5))
	require.Error(t, ChunkParams(512, 512))
	require.Error(t, ChunkParams(512, -1))
}

func TestDocumentTitle(t *testing.T) {
	title, err := DocumentTitle("  hello world  ", 500)
	require.NoError(t, err)
	assert.Equal(t, "hello world", title)

	_, err = DocumentTitle("   ", 500)
	require.ErrorIs(t, err, ErrInvalidInput)

	long := ""
	for i := 0; i < 600; i++ {
		long += "a"
	}
	truncated, err := DocumentTitle(long, 500)
	require.NoError(t, err)
	assert.True(t, len([]rune(truncated)) <= 501)
}

func TestSanitizeMetadata(t *testing.T) {
	out := SanitizeMetadata(map[string]any{
		"a": "x",
		"b": nil,
		"":  "dropped",
		"n": 42,
	})
	assert.Equal(t, "x", out["a"])
	assert.Equal(t, "42", out["n"])
	_, hasB := out["b"]
	assert.False(t, hasB)
	_, hasEmpty := out[""]
	assert.False(t, hasEmpty)
}

func TestUserID(t *testing.T) {
	require.NoError(t, UserID("user-1_ok"))
	require.Error(t, UserID(""))
	require.Error(t, UserID("bad/id"))
}
