package httptransport

import (
	"net/http"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"linkgate/backend/internal/config"
	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/gateway"
	"linkgate/backend/internal/health"
	"linkgate/backend/internal/middleware"
	"linkgate/backend/internal/monitoring"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config  *config.Config
	Gateway *gateway.Gateway
	Metrics *monitoring.Metrics
	Health  *health.HealthChecker // 为 nil 时只提供 /health
	Logger  *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) (*gin.Engine, error) {
	router := gin.New()
	if err := router.SetTrustedProxies(deps.Config.Server.TrustedProxies); err != nil {
		return nil, err
	}

	monitor := middleware.NewMonitoringMiddleware(deps.Metrics, deps.Logger)
	router.Use(monitor.PanicRecovery())
	router.Use(monitor.HTTPMetrics())
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.BodySizeLimit(deps.Config.Server.MaxBodyBytes))
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// CORS 配置
	corsConfig := gincors.Config{
		AllowOrigins: deps.Config.CORS.AllowedOrigins,
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", HeaderPassword, HeaderToken},
		ExposeHeaders: []string{
			"Content-Length",
			"Retry-After",
		},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	// 如果允许所有来源，则需清空凭证支持。
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 {
		router.Use(gincors.New(corsConfig))
	}

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Health != nil {
		router.GET("/health/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/health/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	links := NewLinkHandler(deps.Gateway, deps.Config.Gateway.TrustEdgeGeo)

	// V1 API
	v1 := router.Group("/v1")
	{
		// ========== Link Routes ==========
		// 文档链接与数据室链接形状相同，入口类型与链接类型不一致时视为不存在
		for _, linkType := range []domain.LinkType{domain.LinkTypeDocument, domain.LinkTypeDataRoom} {
			group := v1.Group("/links/" + string(linkType))
			group.GET("/:id", links.resolve(linkType))
			group.POST("/:id/actions/:action", middleware.ValidateContentType("application/json"), links.act(linkType))
		}
	}

	router.NoRoute(func(c *gin.Context) {
		Reject(c, domain.CodeLinkNotFound, GetErrorMessage(domain.CodeLinkNotFound), denial{ErrorCode: domain.CodeLinkNotFound})
	})

	return router, nil
}
