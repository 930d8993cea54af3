package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// DefaultCheckTimeout 单项检查超时
const DefaultCheckTimeout = 2 * time.Second

// maxGoroutines 协程数超过该值视为泄漏
const maxGoroutines = 10000

// Pinger 可探活的依赖（数据库、Redis）
type Pinger interface {
	Health(ctx context.Context) error
}

// PingFunc 函数适配 Pinger
type PingFunc func(ctx context.Context) error

// Health 实现 Pinger
func (f PingFunc) Health(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 健康检查器
//
// 存活检查只看进程自身；就绪检查覆盖存储和计数后端，不可用时负载均衡应摘除该实例。
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器，registry 非空时检查结果同时导出为指标
func NewHealthChecker(registry prometheus.Registerer, logger *zap.Logger) *HealthChecker {
	var h healthcheck.Handler
	if registry != nil {
		h = healthcheck.NewMetricsHandler(registry, "linkgate")
	} else {
		h = healthcheck.NewHandler()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := &HealthChecker{health: h, logger: logger}
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	return hc
}

// AddDependency 注册就绪检查
func (hc *HealthChecker) AddDependency(name string, dep Pinger) {
	check := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultCheckTimeout)
		defer cancel()
		if err := dep.Health(ctx); err != nil {
			hc.logger.Warn("dependency unhealthy", zap.String("dependency", name), zap.Error(err))
			return err
		}
		return nil
	}
	hc.health.AddReadinessCheck(name, healthcheck.Timeout(check, DefaultCheckTimeout))
}

// LiveEndpoint 存活检查
func (hc *HealthChecker) LiveEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.LiveEndpoint(w, r)
}

// ReadyEndpoint 就绪检查
func (hc *HealthChecker) ReadyEndpoint(w http.ResponseWriter, r *http.Request) {
	hc.health.ReadyEndpoint(w, r)
}
