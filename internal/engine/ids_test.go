package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7Generator(t *testing.T) {
	gen := UUIDv7Generator{}

	a := gen.Generate()
	b := gen.Generate()

	parsed, err := uuid.Parse(a)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.NotEqual(t, a, b)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("b1", "b2")

	assert.Equal(t, "b1", gen.Generate())
	assert.Equal(t, "b2", gen.Generate())
	assert.Equal(t, "b2-1", gen.Generate())
	assert.Equal(t, "b2-2", gen.Generate())
}

func TestFixedGenerator_Empty(t *testing.T) {
	gen := NewFixedGenerator()

	assert.Equal(t, "batch", gen.Generate())
	assert.Equal(t, "batch-1", gen.Generate())
}
