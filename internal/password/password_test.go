package password

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, err := Hash("s3cret")
	require.NoError(t, err)

	t.Run("正确密码", func(t *testing.T) {
		assert.True(t, Verify("s3cret", hash))
	})

	t.Run("错误密码", func(t *testing.T) {
		assert.False(t, Verify("S3cret", hash))
	})

	t.Run("空密码", func(t *testing.T) {
		assert.False(t, Verify("", hash))
		_, err := Hash("")
		assert.ErrorIs(t, err, ErrEmptyPassword)
	})

	t.Run("损坏的哈希", func(t *testing.T) {
		assert.False(t, Verify("s3cret", "not-a-bcrypt-hash"))
		assert.False(t, Verify("s3cret", ""))
	})
}

func TestFingerprint(t *testing.T) {
	a, err := Hash("one")
	require.NoError(t, err)
	b, err := Hash("one")
	require.NoError(t, err)

	assert.Len(t, Fingerprint(a), 16)
	assert.Equal(t, Fingerprint(a), Fingerprint(a))
	// 相同明文不同盐，指纹不同
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}
