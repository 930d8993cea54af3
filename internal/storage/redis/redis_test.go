package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"linkgate/backend/internal/config"
	"linkgate/backend/internal/geo"
	"linkgate/backend/internal/ratelimit"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	client, err := New(context.Background(), &config.RedisConfig{Address: srv.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, srv
}

func TestRateLimitBackend(t *testing.T) {
	ctx := context.Background()
	policy := ratelimit.DefaultPolicy()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	t.Run("预算内逐次扣减", func(t *testing.T) {
		client, _ := newTestClient(t)
		backend := NewRateLimitBackend(client)

		for i := 1; i <= 5; i++ {
			d, err := backend.Hit(ctx, "link:1.2.3.4", now.Add(time.Duration(i)*time.Second), policy)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 5-i, d.Remaining)
		}
	})

	t.Run("查询不消耗次数", func(t *testing.T) {
		client, srv := newTestClient(t)
		backend := NewRateLimitBackend(client)

		for i := 0; i < 10; i++ {
			d, err := backend.Peek(ctx, "link:1.2.3.4", now, policy)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 5, d.Remaining)
		}
		assert.False(t, srv.Exists("{link:1.2.3.4}"))

		d, err := backend.Hit(ctx, "link:1.2.3.4", now, policy)
		require.NoError(t, err)
		assert.Equal(t, 4, d.Remaining)

		d, err = backend.Peek(ctx, "link:1.2.3.4", now.Add(time.Second), policy)
		require.NoError(t, err)
		assert.Equal(t, 4, d.Remaining)
	})

	t.Run("超出预算后冷却", func(t *testing.T) {
		client, srv := newTestClient(t)
		backend := NewRateLimitBackend(client)

		for i := 1; i <= 5; i++ {
			_, err := backend.Hit(ctx, "link:1.2.3.4", now.Add(time.Duration(i)*time.Second), policy)
			require.NoError(t, err)
		}

		// 预算用尽时查询仍放行，只有下一次尝试才触发冷却
		peek, err := backend.Peek(ctx, "link:1.2.3.4", now.Add(6*time.Second), policy)
		require.NoError(t, err)
		assert.True(t, peek.Allowed)
		assert.Equal(t, 0, peek.Remaining)

		d, err := backend.Hit(ctx, "link:1.2.3.4", now.Add(7*time.Second), policy)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 900, d.RetryAfterSeconds())
		assert.True(t, srv.Exists("{link:1.2.3.4}:blocked"))

		d, err = backend.Peek(ctx, "link:1.2.3.4", now.Add(8*time.Second), policy)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Greater(t, d.RetryAfter, time.Duration(0))

		// 其他主体不受影响
		d, err = backend.Hit(ctx, "link:5.6.7.8", now.Add(8*time.Second), policy)
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		srv.FastForward(policy.Cooldown)
		d, err = backend.Hit(ctx, "link:1.2.3.4", now.Add(policy.Cooldown+8*time.Second), policy)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4, d.Remaining)
	})

	t.Run("无冷却时按窗口滑出恢复", func(t *testing.T) {
		client, _ := newTestClient(t)
		backend := NewRateLimitBackend(client)
		sliding := ratelimit.Policy{Window: time.Minute, Budget: 2}

		for _, offset := range []time.Duration{0, 10 * time.Second} {
			d, err := backend.Hit(ctx, "issue:a@acme.com", now.Add(offset), sliding)
			require.NoError(t, err)
			assert.True(t, d.Allowed)
		}

		d, err := backend.Hit(ctx, "issue:a@acme.com", now.Add(20*time.Second), sliding)
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 40*time.Second, d.RetryAfter)

		d, err = backend.Hit(ctx, "issue:a@acme.com", now.Add(61*time.Second), sliding)
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
	})

	t.Run("Redis 不可用时返回错误", func(t *testing.T) {
		client, srv := newTestClient(t)
		backend := NewRateLimitBackend(client)
		srv.Close()

		_, err := backend.Hit(ctx, "link:1.2.3.4", now, policy)
		assert.Error(t, err)
	})
}

func TestRateLimitBackend_WithLimiter(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	limiter, err := ratelimit.New(NewRateLimitBackend(client), ratelimit.GuardPassword, ratelimit.DefaultPolicy())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		d, err := limiter.Allow(ctx, "link", "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := limiter.Allow(ctx, "link", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = limiter.Peek(ctx, "link", "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestCountryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("写入后可读取并按 TTL 过期", func(t *testing.T) {
		client, srv := newTestClient(t)
		cache := NewCountryCache(client)

		_, ok, err := cache.Get(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, cache.Set(ctx, "198.51.100.1", "DE", time.Minute))
		country, ok, err := cache.Get(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "DE", country)

		got, err := srv.Get("geo:198.51.100.1")
		require.NoError(t, err)
		assert.Equal(t, "DE", got)

		srv.FastForward(time.Minute + time.Second)
		_, ok, err = cache.Get(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("作为解析器二级缓存在实例间共享", func(t *testing.T) {
		client, _ := newTestClient(t)
		shared := NewCountryCache(client)

		first := geo.NewResolver(geo.StaticLookup{"8.8.8.8": "us"}, shared, geo.DefaultOptions(), zap.NewNop(), nil)
		assert.Equal(t, "US", first.ResolveCountry(ctx, "8.8.8.8"))

		country, ok, err := shared.Get(ctx, "8.8.8.8")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "US", country)

		// 第二个实例没有上游，只能从共享缓存得到结果
		second := geo.NewResolver(nil, shared, geo.DefaultOptions(), zap.NewNop(), nil)
		assert.Equal(t, "US", second.ResolveCountry(ctx, "8.8.8.8"))
		assert.Equal(t, geo.Unknown, second.ResolveCountry(ctx, "9.9.9.9"))
	})

	t.Run("Redis 不可用时解析器退回上游", func(t *testing.T) {
		client, srv := newTestClient(t)
		shared := NewCountryCache(client)
		srv.Close()

		r := geo.NewResolver(geo.StaticLookup{"8.8.8.8": "US"}, shared, geo.DefaultOptions(), zap.NewNop(), nil)
		assert.Equal(t, "US", r.ResolveCountry(ctx, "8.8.8.8"))
	})
}
