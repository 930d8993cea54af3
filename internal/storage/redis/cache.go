package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// CountryCache 以 Redis 作为地理位置的共享缓存（二级缓存）
type CountryCache struct {
	client *Client
	prefix string
}

// NewCountryCache 创建地理位置缓存
func NewCountryCache(client *Client) *CountryCache {
	return &CountryCache{client: client, prefix: "geo"}
}

func (c *CountryCache) key(ip string) string {
	return fmt.Sprintf("%s:%s", c.prefix, ip)
}

// Get 读取缓存的国家代码，未命中时 ok 为 false
func (c *CountryCache) Get(ctx context.Context, ip string) (string, bool, error) {
	country, err := c.client.rdb.Get(ctx, c.key(ip)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", false, nil
		}
		return "", false, err
	}
	return country, true, nil
}

// Set 写入国家代码
func (c *CountryCache) Set(ctx context.Context, ip, country string, ttl time.Duration) error {
	return c.client.rdb.Set(ctx, c.key(ip), country, ttl).Err()
}
