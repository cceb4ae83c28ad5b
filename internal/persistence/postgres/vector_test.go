package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToVectorLiteral(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "[]", toVectorLiteral(nil))
	assert.Equal(t, "[0.5,-1,2.25]", toVectorLiteral([]float32{0.5, -1, 2.25}))
}

func TestJSONOrEmpty(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte("{}"), jsonOrEmpty(nil))
	assert.Equal(t, []byte("{}"), jsonOrEmpty([]byte("null")))
	assert.Equal(t, []byte(`{"a":1}`), jsonOrEmpty([]byte(`{"a":1}`)))
}

func TestJSONOrArray(t *testing.T) {
	t.Parallel()

	require.Equal(t, []byte("[]"), jsonOrArray(nil))
	require.Equal(t, []byte("[]"), jsonOrArray([]byte("null")))
	require.Equal(t, []byte(`[{"chunk_id":"c1"}]`), jsonOrArray([]byte(`[{"chunk_id":"c1"}]`)))
}
