// Package geo 将客户端 IP 解析为 ISO 国家代码
//
// 查询顺序：进程内缓存 → 共享缓存（Redis，可选）→ 上游 HTTP 接口。
// 上游失败、超时、私有地址一律返回 "unknown"，不会让网关整体失败。
package geo

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"linkgate/backend/internal/cache"
	"linkgate/backend/internal/monitoring"
)

// Unknown 无法确定国家
const Unknown = "unknown"

// Lookup 上游地理位置查询
type Lookup interface {
	Country(ctx context.Context, ip netip.Addr) (string, error)
}

// SharedCache 多实例共享的二级缓存
type SharedCache interface {
	Get(ctx context.Context, ip string) (string, bool, error)
	Set(ctx context.Context, ip, country string, ttl time.Duration) error
}

// Options 解析器参数
type Options struct {
	CacheSize   int
	CacheTTL    time.Duration
	NegativeTTL time.Duration
	Timeout     time.Duration
}

// DefaultOptions 默认参数
func DefaultOptions() Options {
	return Options{
		CacheSize:   10000,
		CacheTTL:    24 * time.Hour,
		NegativeTTL: time.Minute,
		Timeout:     2 * time.Second,
	}
}

// Resolver 带多级缓存的地理位置解析器
type Resolver struct {
	upstream Lookup
	shared   SharedCache
	local    *cache.LocalCache[string]
	negative *cache.LocalCache[struct{}]
	group    singleflight.Group
	opts     Options
	log      *zap.Logger
	metrics  *monitoring.Metrics
}

// NewResolver 创建解析器，upstream 为 nil 时所有公网地址都解析为 unknown
func NewResolver(upstream Lookup, shared SharedCache, opts Options, log *zap.Logger, metrics *monitoring.Metrics) *Resolver {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	if opts.NegativeTTL <= 0 {
		opts.NegativeTTL = time.Minute
	}
	return &Resolver{
		upstream: upstream,
		shared:   shared,
		local:    cache.NewLocalCache[string](opts.CacheSize, opts.CacheTTL),
		negative: cache.NewLocalCache[struct{}](opts.CacheSize, opts.NegativeTTL),
		opts:     opts,
		log:      log,
		metrics:  metrics,
	}
}

// ResolveCountry 返回 IP 所属国家的 ISO 代码（大写），无法确定时返回 "unknown"
func (r *Resolver) ResolveCountry(ctx context.Context, ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		r.metrics.RecordGeoLookup("invalid")
		return Unknown
	}
	addr = addr.Unmap()
	if !isPublic(addr) {
		r.metrics.RecordGeoLookup("private")
		return Unknown
	}
	key := addr.String()

	if country, ok := r.local.Get(key); ok {
		r.metrics.RecordGeoLookup("local")
		return country
	}
	if _, ok := r.negative.Get(key); ok {
		r.metrics.RecordGeoLookup("negative")
		return Unknown
	}

	// 同一 IP 的并发未命中只查询一次；共享查询不随任一调用方取消
	lookupCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(key, func() (interface{}, error) {
		return r.resolveMiss(lookupCtx, addr), nil
	})
	select {
	case res := <-ch:
		return res.Val.(string)
	case <-ctx.Done():
		r.metrics.RecordGeoLookup("cancelled")
		return Unknown
	}
}

func (r *Resolver) resolveMiss(ctx context.Context, addr netip.Addr) string {
	key := addr.String()

	if r.shared != nil {
		country, ok, err := r.shared.Get(ctx, key)
		if err != nil {
			r.log.Warn("geo shared cache read failed", zap.Error(err))
		} else if ok {
			r.metrics.RecordGeoLookup("shared")
			r.local.Set(key, country)
			return country
		}
	}

	if r.upstream == nil {
		r.metrics.RecordGeoLookup("disabled")
		return Unknown
	}

	lookupCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	country, err := r.upstream.Country(lookupCtx, addr)
	if err != nil || !validCountry(country) {
		r.metrics.RecordGeoLookup("error")
		r.log.Debug("geo lookup failed", zap.String("ip", key), zap.Error(err))
		// 只缓存上游自身的失败
		if ctx.Err() == nil {
			r.negative.Set(key, struct{}{})
		}
		return Unknown
	}
	country = strings.ToUpper(country)

	r.metrics.RecordGeoLookup("upstream")
	r.local.Set(key, country)
	if r.shared != nil {
		if err := r.shared.Set(ctx, key, country, r.opts.CacheTTL); err != nil {
			r.log.Warn("geo shared cache write failed", zap.Error(err))
		}
	}
	return country
}

// FromHeader 解析边缘节点提供的国家头（如 CF-IPCountry），无效值返回空串
func FromHeader(value string) string {
	value = strings.TrimSpace(value)
	// XX 与 T1 分别表示未知与 Tor 出口
	if !validCountry(value) || strings.EqualFold(value, "XX") || strings.EqualFold(value, "T1") {
		return ""
	}
	return strings.ToUpper(value)
}

func validCountry(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}

func isPublic(addr netip.Addr) bool {
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}
