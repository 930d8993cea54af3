package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-key-for-development-32-chars"

func TestManager_IssueAndValidate(t *testing.T) {
	manager := NewManager(secret, "linkgate", 30*time.Minute)

	token, err := manager.Issue("link-1", "abcd")
	require.NoError(t, err)

	claims, err := manager.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "link-1", claims.LinkID)
	assert.Equal(t, "abcd", claims.Fingerprint)

	t.Run("授权匹配的链接与指纹", func(t *testing.T) {
		assert.True(t, manager.Grants(token, "link-1", "abcd"))
	})

	t.Run("其他链接不授权", func(t *testing.T) {
		assert.False(t, manager.Grants(token, "link-2", "abcd"))
	})

	t.Run("密码修改后不授权", func(t *testing.T) {
		assert.False(t, manager.Grants(token, "link-1", "ef01"))
	})

	t.Run("空令牌", func(t *testing.T) {
		assert.False(t, manager.Grants("", "link-1", "abcd"))
	})
}

func TestManager_Rejects(t *testing.T) {
	manager := NewManager(secret, "linkgate", time.Minute)

	t.Run("过期令牌", func(t *testing.T) {
		token, err := manager.Issue("link-1", "abcd")
		require.NoError(t, err)

		manager.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { manager.now = time.Now }()

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrExpiredToken)
	})

	t.Run("其他密钥签名", func(t *testing.T) {
		other := NewManager("another-secret-key-for-development-32", "linkgate", time.Minute)
		token, err := other.Issue("link-1", "abcd")
		require.NoError(t, err)

		_, err = manager.ValidateToken(token)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := manager.ValidateToken("not.a.jwt")
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}
