package hashing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHasher(pepper string) *Hasher {
	return New(Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, pepper)
}

func TestHashAndVerify(t *testing.T) {
	h := testHasher("pepper")

	encoded, err := h.Hash("correct horse")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"))

	ok, err := h.Verify("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify("battery staple", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHash_SaltedPerCall(t *testing.T) {
	h := testHasher("")
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestVerify_PepperMismatch(t *testing.T) {
	encoded, err := testHasher("one").Hash("secret")
	require.NoError(t, err)

	ok, err := testHasher("two").Verify("secret", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_MalformedHash(t *testing.T) {
	h := testHasher("")

	for _, encoded := range []string{
		"",
		"plaintext",
		"$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=x,t=1,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=1024,t=1,p=1$!!$a2V5",
	} {
		_, err := h.Verify("x", encoded)
		assert.ErrorIs(t, err, ErrInvalidHash, encoded)
	}

	_, err := h.Verify("x", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdA$a2V5")
	assert.ErrorIs(t, err, ErrIncompatibleVersion)
}
