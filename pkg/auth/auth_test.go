package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticTokenFullAccess(t *testing.T) {
	v, err := NewStaticToken("s3cret", "")
	require.NoError(t, err)

	assert.NoError(t, v.Check("s3cret", OpRead))
	assert.NoError(t, v.Check("s3cret", OpWrite))

	assert.ErrorIs(t, v.Check("wrong", OpRead), ErrUnauthorized)
	assert.ErrorIs(t, v.Check("", OpRead), ErrUnauthorized)
}

func TestStaticTokenReadOnly(t *testing.T) {
	v, err := NewStaticToken("admin", "viewer")
	require.NoError(t, err)

	assert.NoError(t, v.Check("viewer", OpRead))
	assert.ErrorIs(t, v.Check("viewer", OpWrite), ErrUnauthorized)
	assert.NoError(t, v.Check("admin", OpWrite))
}

func TestStaticTokenRejectsEmptyConfig(t *testing.T) {
	_, err := NewStaticToken("", "viewer")
	assert.Error(t, err)
}

func TestEmptyCredentialNeverMatchesReadOnlySlot(t *testing.T) {
	v, err := NewStaticToken("admin", "")
	require.NoError(t, err)
	// ReadOnlyToken unset: empty credential must not sneak through the
	// read-only comparison.
	assert.ErrorIs(t, v.Check("", OpRead), ErrUnauthorized)
}

func TestOpenAdmitsEverything(t *testing.T) {
	v := Open{}
	assert.NoError(t, v.Check("", OpWrite))
	assert.NoError(t, v.Check("anything", OpRead))
}
