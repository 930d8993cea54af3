// Package gateway 按固定顺序执行链接访问守卫链，给出通过、需要补充凭证或拒绝的结论。
//
// 守卫顺序：存在 → 启用 → 过期 → 访问配额 → 密码 → 邮箱验证 → 保密协议 → 访问控制 → 授权。
// 第一个未通过的守卫即为最终结果，之后的守卫不会产生任何副作用。
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"linkgate/backend/internal/acl"
	"linkgate/backend/internal/auth/jwt"
	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/monitoring"
	"linkgate/backend/internal/otp"
	"linkgate/backend/internal/ratelimit"
	"linkgate/backend/internal/storage"
)

var (
	// ErrMissingDependency 构造网关时缺少必需的协作组件
	ErrMissingDependency = errors.New("gateway: missing dependency")
)

// CountryResolver IP 到国家代码的解析
type CountryResolver interface {
	ResolveCountry(ctx context.Context, ip string) string
}

// Request 一次访问请求携带的上下文
type Request struct {
	// LinkRef 链接 ID 或自定义 slug
	LinkRef string
	// LinkType 入口的链接类型，为空时不校验
	LinkType domain.LinkType

	Password string
	Token    string
	Email    string
	IP       string
	// Country 边缘节点提供的国家代码，为空时按 IP 解析
	Country   string
	UserAgent string
}

// Decision 访问判定结果
type Decision struct {
	Outcome
	// Link 授权成功时为计数更新后的链接
	Link *domain.ShareLink
}

// Allowed 是否授权访问
func (d *Decision) Allowed() bool {
	return d.Passed() && d.Link != nil
}

// Dependencies 网关依赖的协作组件
type Dependencies struct {
	Store    storage.Store
	Codes    *otp.Service
	Geo      CountryResolver
	Tokens   *jwt.Manager
	Password *ratelimit.Limiter
	// CodeRequest 验证码发送请求限流
	CodeRequest *ratelimit.Limiter
	// CodeVerify 验证码校验限流
	CodeVerify *ratelimit.Limiter
	Logger     *zap.Logger
	Metrics    *monitoring.Metrics
}

// Gateway 链接访问网关
type Gateway struct {
	store       storage.Store
	acl         *acl.Service
	codes       *otp.Service
	geo         CountryResolver
	tokens      *jwt.Manager
	password    *ratelimit.Limiter
	codeRequest *ratelimit.Limiter
	codeVerify  *ratelimit.Limiter
	log         *zap.Logger
	metrics     *monitoring.Metrics
	now         func() time.Time

	chain []guard
}

// New 创建网关
func New(deps Dependencies) (*Gateway, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: store", ErrMissingDependency)
	case deps.Codes == nil:
		return nil, fmt.Errorf("%w: verification codes", ErrMissingDependency)
	case deps.Password == nil || deps.CodeRequest == nil || deps.CodeVerify == nil:
		return nil, fmt.Errorf("%w: rate limiters", ErrMissingDependency)
	}

	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	g := &Gateway{
		store:       deps.Store,
		acl:         acl.NewService(deps.Store),
		codes:       deps.Codes,
		geo:         deps.Geo,
		tokens:      deps.Tokens,
		password:    deps.Password,
		codeRequest: deps.CodeRequest,
		codeVerify:  deps.CodeVerify,
		log:         log.Named("gateway"),
		metrics:     deps.Metrics,
		now:         time.Now,
	}
	g.chain = g.guards()
	return g, nil
}

// Resolve 执行完整守卫链，全部通过后原子地增加一次访问计数
//
// 返回的 error 只表示内部故障（已包装 domain.ErrInternal），业务拒绝通过 Decision 表达。
func (g *Gateway) Resolve(ctx context.Context, req Request) (*Decision, error) {
	start := g.now()
	linkType := string(req.LinkType)

	decision, stage, err := g.resolve(ctx, req)
	if err != nil {
		return nil, g.fault(stage, req, err)
	}

	g.metrics.RecordDecision(linkType, decision.codeLabel(), g.now().Sub(start))
	g.logDecision("resolve", req, decision.Outcome)
	if decision.Allowed() {
		g.metrics.RecordViewGranted(linkType)
	}
	return decision, nil
}

func (g *Gateway) resolve(ctx context.Context, req Request) (*Decision, string, error) {
	ev, outcome, err := g.prefix(ctx, req, len(g.chain), false)
	if err != nil {
		return nil, ev.stage, err
	}
	if !outcome.Passed() {
		return &Decision{Outcome: outcome}, "", nil
	}

	// 授权：单次原子自增并复核配额
	views, err := g.store.IncrementViews(ctx, ev.link.ID)
	if err != nil {
		if errors.Is(err, storage.ErrViewLimitReached) {
			return &Decision{Outcome: Denied(domain.CodeViewLimitExceeded, "view limit reached")}, "", nil
		}
		return nil, "grant", err
	}
	if ev.link.ViewLimit != nil && views > *ev.link.ViewLimit {
		return &Decision{Outcome: Denied(domain.CodeViewLimitExceeded, "view limit reached")}, "", nil
	}

	link := *ev.link
	link.CurrentViews = views
	return &Decision{Outcome: Pass(), Link: &link}, "", nil
}

// fault 记录内部故障，对外只返回通用错误
func (g *Gateway) fault(stage string, req Request, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %w", domain.ErrInternal, err)
	}
	g.metrics.RecordFault(stage)
	g.log.Error("gateway internal fault",
		zap.String("stage", stage),
		zap.String("link", req.LinkRef),
		zap.String("ip", req.IP),
		zap.Error(err),
	)
	return fmt.Errorf("%w: %w", domain.ErrInternal, err)
}

func (g *Gateway) logDecision(op string, req Request, o Outcome) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("link", req.LinkRef),
		zap.String("outcome", o.Kind.String()),
		zap.String("code", o.codeLabel()),
		zap.String("ip", req.IP),
	}
	if o.Reason != "" && !o.Passed() {
		fields = append(fields, zap.String("reason", o.Reason))
	}
	g.log.Info("link access decision", fields...)
}
