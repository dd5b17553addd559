package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() Argon2Params {
	return Argon2Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func TestHashAndVerifyOTP(t *testing.T) {
	h := New(testParams(), "pepper")

	res, err := h.HashOTP("123456")
	require.NoError(t, err)
	assert.NotContains(t, res.Hash, "123456")
	assert.Equal(t, 1, res.PepperVersion)

	ok, err := h.VerifyOTP("123456", res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.VerifyOTP("654321", res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaltsDiffer(t *testing.T) {
	h := New(testParams(), "pepper")

	a, err := h.HashOTP("111111")
	require.NoError(t, err)
	b, err := h.HashOTP("111111")
	require.NoError(t, err)

	assert.NotEqual(t, a.Salt, b.Salt)
	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestPepperMustMatch(t *testing.T) {
	res, err := New(testParams(), "one").HashOTP("123456")
	require.NoError(t, err)

	ok, err := New(testParams(), "two").VerifyOTP("123456", res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRotateKeepsOlderVersionsVerifiable(t *testing.T) {
	h := New(testParams(), "")

	v1, err := h.HashOTP("123456")
	require.NoError(t, err)

	assert.Equal(t, 2, h.Rotate())
	v2, err := h.HashOTP("123456")
	require.NoError(t, err)
	assert.Equal(t, 2, v2.PepperVersion)

	h.Rotate()
	h.Rotate()
	for _, res := range []*HashResult{v1, v2} {
		ok, err := h.VerifyOTP("123456", res)
		require.NoError(t, err)
		assert.True(t, ok, "version %d", res.PepperVersion)
	}

	_, err = h.VerifyOTP("123456", &HashResult{Algorithm: algorithm, PepperVersion: 0, Salt: v1.Salt, Hash: v1.Hash})
	assert.ErrorIs(t, err, ErrUnknownPepper)
}

func TestRotatedPeppersAgreeAcrossInstances(t *testing.T) {
	a := New(testParams(), "shared-pepper")
	b := New(testParams(), "shared-pepper")

	a.Rotate()
	b.Rotate()
	res, err := a.HashOTP("123456")
	require.NoError(t, err)
	require.Equal(t, 2, res.PepperVersion)

	ok, err := b.VerifyOTP("123456", res)
	require.NoError(t, err)
	assert.True(t, ok)

	// A freshly started instance still at version 1.
	ok, err = New(testParams(), "shared-pepper").VerifyOTP("123456", res)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = New(testParams(), "other-pepper").VerifyOTP("123456", res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyRejectsMalformed(t *testing.T) {
	h := New(testParams(), "pepper")

	_, err := h.VerifyOTP("123456", nil)
	assert.ErrorIs(t, err, ErrInvalidHash)

	_, err = h.VerifyOTP("123456", &HashResult{Algorithm: "md5"})
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	_, err = h.VerifyOTP("123456", &HashResult{Algorithm: algorithm, PepperVersion: 1, Salt: "!!", Hash: "x"})
	assert.ErrorIs(t, err, ErrInvalidHash)
}
