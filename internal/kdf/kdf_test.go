package kdf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCost keeps the tests fast; production costs are exercised implicitly
// through the constants.
const testCost = 1 << 4

func TestDeriveDeterministic(t *testing.T) {
	salt := bytes.Repeat([]byte{7}, SaltLen)

	k1, s1, err := Derive([]byte("correct horse"), salt, testCost)
	require.NoError(t, err)
	k2, s2, err := Derive([]byte("correct horse"), salt, testCost)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, s1, s2)
	assert.Len(t, k1, KeyLen)
}

func TestDeriveSaltChangesKey(t *testing.T) {
	saltA := bytes.Repeat([]byte{1}, SaltLen)
	saltB := bytes.Repeat([]byte{2}, SaltLen)

	kA, _, err := Derive([]byte("secret"), saltA, testCost)
	require.NoError(t, err)
	kB, _, err := Derive([]byte("secret"), saltB, testCost)
	require.NoError(t, err)

	assert.NotEqual(t, kA, kB)
}

func TestDeriveCostChangesKey(t *testing.T) {
	salt := bytes.Repeat([]byte{3}, SaltLen)

	kA, _, err := Derive([]byte("secret"), salt, 1<<4)
	require.NoError(t, err)
	kB, _, err := Derive([]byte("secret"), salt, 1<<5)
	require.NoError(t, err)

	assert.NotEqual(t, kA, kB)
}

func TestDeriveGeneratesSalt(t *testing.T) {
	k1, s1, err := Derive([]byte("secret"), nil, testCost)
	require.NoError(t, err)
	k2, s2, err := Derive([]byte("secret"), nil, testCost)
	require.NoError(t, err)

	assert.Len(t, s1, SaltLen)
	assert.Len(t, s2, SaltLen)
	assert.NotEqual(t, s1, s2, "fresh salts must differ")
	assert.NotEqual(t, k1, k2, "keys under fresh salts must differ")
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0, 0}, b)

	Zero(nil) // must not panic
}
