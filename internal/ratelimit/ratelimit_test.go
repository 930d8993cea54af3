package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newLimiter(t *testing.T, guard Guard, policy Policy) (*Limiter, *MemoryBackend, *clock) {
	t.Helper()
	backend := NewMemoryBackend()
	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l, err := New(backend, guard, policy)
	require.NoError(t, err)
	return l.WithClock(clk.Now), backend, clk
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.ErrorIs(t, Policy{Window: 0, Budget: 5}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{Window: time.Minute, Budget: 0}.Validate(), ErrInvalidPolicy)
	assert.ErrorIs(t, Policy{Window: time.Minute, Budget: 1, Cooldown: -time.Second}.Validate(), ErrInvalidPolicy)

	_, err := New(NewMemoryBackend(), GuardPassword, Policy{})
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestLimiter_Cooldown(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newLimiter(t, GuardPassword, DefaultPolicy())

	t.Run("窗口内前五次放行", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			d, err := l.Allow(ctx, "link-1", "1.2.3.4")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 4-i, d.Remaining)
		}
	})

	t.Run("第六次触发冷却", func(t *testing.T) {
		d, err := l.Allow(ctx, "link-1", "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 900, d.RetryAfterSeconds())
	})

	t.Run("冷却期内一律拒绝且不延长", func(t *testing.T) {
		clk.Advance(5 * time.Minute)
		d, err := l.Allow(ctx, "link-1", "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 600, d.RetryAfterSeconds())

		peek, err := l.Peek(ctx, "link-1", "1.2.3.4")
		require.NoError(t, err)
		assert.False(t, peek.Allowed)
	})

	t.Run("冷却结束后恢复", func(t *testing.T) {
		clk.Advance(10 * time.Minute)
		d, err := l.Allow(ctx, "link-1", "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4, d.Remaining)
	})
}

func TestLimiter_Independence(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	policy := Policy{Window: time.Minute, Budget: 1, Cooldown: time.Minute}
	password, err := New(backend, GuardPassword, policy)
	require.NoError(t, err)
	codes, err := New(backend, GuardCodeRequest, policy)
	require.NoError(t, err)

	_, _ = password.Allow(ctx, "link-1", "ip")
	d, _ := password.Allow(ctx, "link-1", "ip")
	require.False(t, d.Allowed)

	t.Run("不同守卫类型互不影响", func(t *testing.T) {
		d, err := codes.Allow(ctx, "link-1", "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("不同链接互不影响", func(t *testing.T) {
		d, err := password.Allow(ctx, "link-2", "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	t.Run("不同客户端互不影响", func(t *testing.T) {
		d, err := password.Allow(ctx, "link-1", "other-ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	})

	assert.Equal(t, "ratelimit:password:link-1:ip", password.Key("link-1", "ip"))
}

func TestLimiter_SlidingWindowWithoutCooldown(t *testing.T) {
	ctx := context.Background()
	l, _, clk := newLimiter(t, GuardCodeIssue, Policy{Window: time.Hour, Budget: 2})

	d, _ := l.Allow(ctx, "link", "a@b.com")
	assert.True(t, d.Allowed)
	clk.Advance(20 * time.Minute)
	d, _ = l.Allow(ctx, "link", "a@b.com")
	assert.True(t, d.Allowed)

	d, err := l.Allow(ctx, "link", "a@b.com")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 40*time.Minute, d.RetryAfter)

	peek, _ := l.Peek(ctx, "link", "a@b.com")
	assert.False(t, peek.Allowed)

	clk.Advance(40 * time.Minute)
	d, _ = l.Allow(ctx, "link", "a@b.com")
	assert.True(t, d.Allowed)
}

func TestLimiter_PeekDoesNotConsume(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, GuardPassword, Policy{Window: time.Minute, Budget: 1, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		d, err := l.Peek(ctx, "link", "ip")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 1, d.Remaining)
	}
	d, _ := l.Allow(ctx, "link", "ip")
	assert.True(t, d.Allowed)
}

func TestMemoryBackend_Concurrent(t *testing.T) {
	ctx := context.Background()
	l, _, _ := newLimiter(t, GuardPassword, Policy{Window: time.Minute, Budget: 5, Cooldown: time.Minute})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Allow(ctx, "link", "ip")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 5, allowed)
}

func TestMemoryBackend_Sweep(t *testing.T) {
	ctx := context.Background()
	policy := Policy{Window: time.Minute, Budget: 1, Cooldown: time.Minute}
	l, backend, clk := newLimiter(t, GuardPassword, policy)

	_, _ = l.Allow(ctx, "link", "a")
	_, _ = l.Allow(ctx, "link", "b")
	_, _ = l.Allow(ctx, "link", "b")

	assert.Equal(t, 0, backend.Sweep(clk.Now(), policy))

	clk.Advance(2 * time.Minute)
	assert.Equal(t, 2, backend.Sweep(clk.Now(), policy))
}
