// Package ratelimit 实现按 (守卫类型, 链接, 客户端) 划分的滑动窗口限流。
//
// 计数保存在外部存储（Redis）中，多实例网关共享同一份窗口；内存实现仅用于单实例和测试。
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// Guard 限流的守卫类型，不同类型使用独立的键空间
type Guard string

const (
	// GuardPassword 密码尝试
	GuardPassword Guard = "password"
	// GuardCodeRequest 验证码发送请求
	GuardCodeRequest Guard = "code-request"
	// GuardCodeVerify 验证码校验
	GuardCodeVerify Guard = "code-verify"
	// GuardCodeIssue 每个 (链接, 邮箱) 的验证码签发上限
	GuardCodeIssue Guard = "code-issue"
)

// ErrInvalidPolicy 限流策略参数不合法
var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy 限流策略
//
// 窗口内最多记录 Budget 次尝试；超出后若 Cooldown > 0，则在冷却期内拒绝所有请求，
// 否则等待窗口内最早的记录过期。
type Policy struct {
	Window   time.Duration
	Budget   int
	Cooldown time.Duration
}

// DefaultPolicy 15 分钟 5 次，超出后冷却 15 分钟
func DefaultPolicy() Policy {
	return Policy{
		Window:   15 * time.Minute,
		Budget:   5,
		Cooldown: 15 * time.Minute,
	}
}

// Validate 校验策略参数
func (p Policy) Validate() error {
	if p.Window <= 0 || p.Budget <= 0 || p.Cooldown < 0 {
		return fmt.Errorf("%w: window=%s budget=%d cooldown=%s", ErrInvalidPolicy, p.Window, p.Budget, p.Cooldown)
	}
	return nil
}

// Decision 一次限流判断的结果
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// RetryAfterSeconds 向上取整的重试秒数
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(d.RetryAfter.Seconds()))
}

// Backend 限流计数的存储后端，每个方法都必须是原子操作
type Backend interface {
	// Hit 记录一次尝试并返回记录后的判断
	Hit(ctx context.Context, key string, now time.Time, policy Policy) (Decision, error)
	// Peek 只查询当前状态，不记录尝试
	Peek(ctx context.Context, key string, now time.Time, policy Policy) (Decision, error)
}

// Limiter 绑定某一守卫类型与策略的限流器
type Limiter struct {
	backend Backend
	guard   Guard
	policy  Policy
	now     func() time.Time
}

// New 创建限流器
func New(backend Backend, guard Guard, policy Policy) (*Limiter, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Limiter{
		backend: backend,
		guard:   guard,
		policy:  policy,
		now:     time.Now,
	}, nil
}

// WithClock 替换时钟（测试用）
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Guard 返回守卫类型
func (l *Limiter) Guard() Guard {
	return l.guard
}

// Policy 返回限流策略
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Key 生成限流键: ratelimit:{guard}:{linkID}:{subject}
func (l *Limiter) Key(linkID, subject string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%s", l.guard, linkID, subject)
}

// Allow 记录一次尝试
//
// 参数:
//   - linkID: 链接 ID
//   - subject: 客户端标识（IP 或邮箱）
//
// 返回值:
//   - Decision: Allowed=false 时 RetryAfter 为建议的重试等待时间
//   - error: 存储后端错误
func (l *Limiter) Allow(ctx context.Context, linkID, subject string) (Decision, error) {
	return l.backend.Hit(ctx, l.Key(linkID, subject), l.now(), l.policy)
}

// Peek 查询是否已被限流，不消耗次数
func (l *Limiter) Peek(ctx context.Context, linkID, subject string) (Decision, error) {
	return l.backend.Peek(ctx, l.Key(linkID, subject), l.now(), l.policy)
}
