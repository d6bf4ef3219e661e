package api

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ovpnadmin/internal/util"
)

func TestOperator_Verify(t *testing.T) {
	op, err := NewOperator("admin", "s3cret", testKDFParams(t))
	require.NoError(t, err)

	assert.True(t, op.Verify("admin", "s3cret"))
	assert.False(t, op.Verify("admin", "wrong"))
	assert.False(t, op.Verify("root", "s3cret"))
	assert.False(t, op.Verify("", ""))
	assert.Equal(t, "admin", op.User())
}

func TestOperator_NormalizesUnicode(t *testing.T) {
	// Decomposed and precomposed forms of the same password.
	op, err := NewOperator("op\u00e9rateur", "caf\u00e9", testKDFParams(t))
	require.NoError(t, err)
	assert.True(t, op.Verify("ope\u0301rateur", "cafe\u0301"))
}

func TestOperator_RequiresCredentials(t *testing.T) {
	_, err := NewOperator("admin", "", testKDFParams(t))
	assert.Error(t, err)
	_, err = NewOperator("", "pw", testKDFParams(t))
	assert.Error(t, err)
}

func TestOperator_RejectsWeakParams(t *testing.T) {
	_, err := NewOperator("admin", "pw", util.Argon2idParams{Time: 1, MemoryKiB: 8, Parallelism: 1, KeyLen: 32})
	assert.Error(t, err)
}

func testKDFParams(t testing.TB) util.Argon2idParams {
	t.Helper()
	p, err := util.Argon2idProfile(util.KDFProfileInteractive)
	require.NoError(t, err)
	return p
}
