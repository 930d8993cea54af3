package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits         []time.Time
	blockedUntil time.Time
}

// MemoryBackend 进程内滑动窗口日志，适用于单实例部署与测试
type MemoryBackend struct {
	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryBackend 创建内存限流后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{windows: make(map[string]*window)}
}

// Hit 记录一次尝试
func (m *MemoryBackend) Hit(_ context.Context, key string, now time.Time, policy Policy) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.window(key)
	if d, blocked := w.check(now, policy); blocked {
		return d, nil
	}

	if len(w.hits) >= policy.Budget {
		if policy.Cooldown > 0 {
			w.blockedUntil = now.Add(policy.Cooldown)
			w.hits = nil
			return Decision{Allowed: false, RetryAfter: policy.Cooldown}, nil
		}
		return Decision{Allowed: false, RetryAfter: w.hits[0].Add(policy.Window).Sub(now)}, nil
	}

	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Remaining: policy.Budget - len(w.hits)}, nil
}

// Peek 查询当前状态
func (m *MemoryBackend) Peek(_ context.Context, key string, now time.Time, policy Policy) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := m.window(key)
	if d, blocked := w.check(now, policy); blocked {
		return d, nil
	}
	if len(w.hits) >= policy.Budget && policy.Cooldown == 0 {
		return Decision{Allowed: false, RetryAfter: w.hits[0].Add(policy.Window).Sub(now)}, nil
	}
	return Decision{Allowed: true, Remaining: policy.Budget - len(w.hits)}, nil
}

// Sweep 清理已空闲的键，返回清理数量
func (m *MemoryBackend) Sweep(now time.Time, policy Policy) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		w.check(now, policy)
		if len(w.hits) == 0 && !now.Before(w.blockedUntil) {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

func (m *MemoryBackend) window(key string) *window {
	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	return w
}

// check 剔除窗口外的记录，并判断是否处于冷却期
func (w *window) check(now time.Time, policy Policy) (Decision, bool) {
	if now.Before(w.blockedUntil) {
		return Decision{Allowed: false, RetryAfter: w.blockedUntil.Sub(now)}, true
	}

	cutoff := now.Add(-policy.Window)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	w.hits = w.hits[i:]
	return Decision{}, false
}

var _ Backend = (*MemoryBackend)(nil)
