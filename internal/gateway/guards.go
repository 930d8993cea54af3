package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"linkgate/backend/internal/acl"
	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/geo"
	"linkgate/backend/internal/password"
	"linkgate/backend/internal/storage"
)

// 守卫链前缀长度，动作只执行到各自需要的位置
const (
	passwordGuards = 5
	emailGuards    = 6
)

type passwordState int

const (
	passwordNotRequired passwordState = iota
	passwordAccepted
	passwordMissing
	passwordWrong
	passwordBlocked
)

// evaluation 一次守卫链执行过程中按需收集的事实
type evaluation struct {
	req   Request
	email string
	now   time.Time
	stage string

	link *domain.ShareLink

	password          passwordState
	attemptsRemaining int
	retryAfter        time.Duration
	// skipToken verify-password 动作只认密码本身
	skipToken bool

	emailVerified bool
	ndaAccepted   bool

	access  *domain.AccessControlList
	country string
}

// guard 守卫：gather 负责调用协作组件收集事实，check 是只读事实的纯函数
type guard struct {
	name   string
	gather func(ctx context.Context, ev *evaluation) error
	check  func(ev *evaluation) Outcome
}

func (g *Gateway) guards() []guard {
	return []guard{
		{name: "existence", gather: g.loadLink, check: checkExistence},
		{name: "active", check: checkActive},
		{name: "expiry", check: checkExpiry},
		{name: "quota", check: checkQuota},
		{name: "password", gather: g.gatherPassword, check: checkPassword},
		{name: "email", gather: g.gatherEmail, check: checkEmail},
		{name: "nda", gather: g.gatherNDA, check: checkNDA},
		{name: "access_control", gather: g.gatherAccess, check: checkAccess},
	}
}

func (g *Gateway) loadLink(ctx context.Context, ev *evaluation) error {
	if ev.req.LinkRef == "" {
		return nil
	}
	link, err := g.store.GetLink(ctx, ev.req.LinkRef)
	if err != nil {
		if errors.Is(err, storage.ErrLinkNotFound) {
			return nil
		}
		return fmt.Errorf("load link: %w", err)
	}
	// 文档链接不能从数据室入口访问，反之亦然
	if ev.req.LinkType != "" && link.LinkType != ev.req.LinkType {
		return nil
	}
	ev.link = link
	return nil
}

func checkExistence(ev *evaluation) Outcome {
	if ev.link == nil {
		return Denied(domain.CodeLinkNotFound, "link not found")
	}
	return Pass()
}

func checkActive(ev *evaluation) Outcome {
	if !ev.link.IsActive {
		return Denied(domain.CodeLinkInactive, "link is disabled")
	}
	return Pass()
}

func checkExpiry(ev *evaluation) Outcome {
	if ev.link.IsExpired(ev.now) {
		return Denied(domain.CodeLinkExpired, "link has expired")
	}
	return Pass()
}

func checkQuota(ev *evaluation) Outcome {
	if ev.link.QuotaExhausted() {
		return Denied(domain.CodeViewLimitExceeded, "view limit reached")
	}
	return Pass()
}

// gatherPassword 有效令牌直接通过；被限流时不再校验密码；空密码不消耗尝试次数
func (g *Gateway) gatherPassword(ctx context.Context, ev *evaluation) error {
	if !ev.link.HasPassword() {
		ev.password = passwordNotRequired
		return nil
	}
	hash := *ev.link.PasswordHash

	if !ev.skipToken && ev.req.Token != "" && g.tokens != nil &&
		g.tokens.Grants(ev.req.Token, ev.link.ID, password.Fingerprint(hash)) {
		ev.password = passwordAccepted
		return nil
	}

	d, err := g.password.Peek(ctx, ev.link.ID, ev.req.IP)
	if err != nil {
		return fmt.Errorf("peek password limiter: %w", err)
	}
	if !d.Allowed {
		ev.password = passwordBlocked
		ev.retryAfter = d.RetryAfter
		return nil
	}

	if ev.req.Password == "" {
		ev.password = passwordMissing
		return nil
	}
	if password.Verify(ev.req.Password, hash) {
		ev.password = passwordAccepted
		return nil
	}

	d, err = g.password.Allow(ctx, ev.link.ID, ev.req.IP)
	if err != nil {
		return fmt.Errorf("record password attempt: %w", err)
	}
	if !d.Allowed {
		g.metrics.RecordRateLimitBlock(string(g.password.Guard()))
		ev.password = passwordBlocked
		ev.retryAfter = d.RetryAfter
		return nil
	}
	ev.password = passwordWrong
	ev.attemptsRemaining = d.Remaining
	return nil
}

func checkPassword(ev *evaluation) Outcome {
	switch ev.password {
	case passwordMissing:
		return NeedsInput(domain.CodePasswordRequired, "password required")
	case passwordWrong:
		return NeedsInput(domain.CodeInvalidPassword, "incorrect password").withAttempts(ev.attemptsRemaining)
	case passwordBlocked:
		return RateLimited(ev.retryAfter)
	}
	return Pass()
}

func (g *Gateway) gatherEmail(ctx context.Context, ev *evaluation) error {
	if !ev.link.RequireEmail || ev.email == "" {
		return nil
	}
	if domain.ValidateEmailAddress(ev.email) != nil {
		return nil
	}
	verified, err := g.codes.IsVerified(ctx, ev.link.ID, ev.email)
	if err != nil {
		return fmt.Errorf("check email verification: %w", err)
	}
	ev.emailVerified = verified
	return nil
}

func checkEmail(ev *evaluation) Outcome {
	if !ev.link.RequireEmail {
		return Pass()
	}
	if ev.email == "" {
		return NeedsInput(domain.CodeEmailRequired, "email required")
	}
	if domain.ValidateEmailAddress(ev.email) != nil {
		return Denied(domain.CodeInvalidRequest, "malformed email address")
	}
	if !ev.emailVerified {
		return NeedsInput(domain.CodeEmailNotVerified, "email not verified")
	}
	return Pass()
}

func (g *Gateway) gatherNDA(ctx context.Context, ev *evaluation) error {
	if !ev.link.RequireNDA || ev.email == "" {
		return nil
	}
	accepted, err := g.store.HasNdaAcceptance(ctx, ev.link.ID, ev.email)
	if err != nil {
		return fmt.Errorf("check nda acceptance: %w", err)
	}
	ev.ndaAccepted = accepted
	return nil
}

// checkNDA 签署记录以邮箱为身份，未提供邮箱时先要求邮箱
func checkNDA(ev *evaluation) Outcome {
	if !ev.link.RequireNDA {
		return Pass()
	}
	if ev.email == "" {
		return NeedsInput(domain.CodeEmailRequired, "email required to accept the agreement")
	}
	if !ev.ndaAccepted {
		o := NeedsInput(domain.CodeNDARequired, "agreement must be accepted")
		o.NDAText = ev.link.NDAText
		return o
	}
	return Pass()
}

// gatherAccess 只有配置了国家规则时才解析地理位置
func (g *Gateway) gatherAccess(ctx context.Context, ev *evaluation) error {
	list, err := g.acl.Load(ctx, ev.link.ID)
	if err != nil {
		return err
	}
	ev.access = list
	if !list.HasCountryRules() {
		return nil
	}

	switch {
	case ev.req.Country != "":
		ev.country = ev.req.Country
	case g.geo != nil:
		ev.country = g.geo.ResolveCountry(ctx, ev.req.IP)
	default:
		ev.country = geo.Unknown
	}
	// 请求已取消时解析结果不可信，不能据此放行
	return ctx.Err()
}

func checkAccess(ev *evaluation) Outcome {
	res := acl.Evaluate(ev.access, acl.Subject{
		Email:   ev.email,
		IP:      ev.req.IP,
		Country: ev.country,
	})
	if !res.Allowed {
		return Denied(domain.CodeAccessDenied, res.Reason)
	}
	return Pass()
}
