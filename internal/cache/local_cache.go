package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LocalCache 本地内存缓存（L1 缓存）
//
// 特点：
// - 容量限制，超出后淘汰最久未使用的条目
// - 所有条目共享同一个 TTL，过期后自动清理
// - 仅在当前进程内可见，多实例之间不共享
type LocalCache[V any] struct {
	lru *expirable.LRU[string, V]
}

// NewLocalCache 创建本地缓存
//
// 参数:
//   - maxSize: 最大缓存条目数，<= 0 时使用 1024
//   - ttl: 条目过期时间
func NewLocalCache[V any](maxSize int, ttl time.Duration) *LocalCache[V] {
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &LocalCache[V]{lru: expirable.NewLRU[string, V](maxSize, nil, ttl)}
}

// Get 获取缓存值
func (c *LocalCache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Set 设置缓存值
func (c *LocalCache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Delete 删除缓存值
func (c *LocalCache[V]) Delete(key string) {
	c.lru.Remove(key)
}

// Len 当前条目数
func (c *LocalCache[V]) Len() int {
	return c.lru.Len()
}

// Purge 清空缓存
func (c *LocalCache[V]) Purge() {
	c.lru.Purge()
}
