package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/otp"
	"linkgate/backend/internal/password"
)

// Action 链接上的写操作
type Action string

const (
	ActionVerifyPassword   Action = "verify-password"
	ActionSendVerification Action = "send-verification"
	ActionVerifyCode       Action = "verify-code"
	ActionResendCode       Action = "resend-code"
	ActionAcceptNDA        Action = "accept-nda"
)

// ParseAction 校验动作名称
func ParseAction(name string) (Action, bool) {
	switch a := Action(name); a {
	case ActionVerifyPassword, ActionSendVerification, ActionVerifyCode, ActionResendCode, ActionAcceptNDA:
		return a, true
	}
	return "", false
}

// ActionRequest 动作请求
type ActionRequest struct {
	Request
	Action Action
	// Code 提交的验证码（verify-code）
	Code string
}

// ActionResult 动作结果
type ActionResult struct {
	Outcome

	// Token verify-password 成功后签发的访问令牌
	Token          string
	TokenExpiresAt *time.Time
	// CodeExpiresAt 验证码过期时间
	CodeExpiresAt *time.Time
}

// Act 执行链接上的动作
//
// 每个动作先执行生命周期守卫，不可用的链接不会签发验证码，也不会记录协议签署。
func (g *Gateway) Act(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	var (
		res *ActionResult
		err error
	)
	stage := string(req.Action)

	switch req.Action {
	case ActionVerifyPassword:
		res, err = g.verifyPassword(ctx, req)
	case ActionSendVerification, ActionResendCode:
		res, err = g.sendCode(ctx, req)
	case ActionVerifyCode:
		res, err = g.verifyCode(ctx, req)
	case ActionAcceptNDA:
		res, err = g.acceptNDA(ctx, req)
	default:
		res = &ActionResult{Outcome: Denied(domain.CodeInvalidRequest, fmt.Sprintf("unknown action %q", req.Action))}
	}
	if err != nil {
		return nil, g.fault(stage, req.Request, err)
	}

	g.metrics.RecordAction(string(req.Action), res.codeLabel())
	g.logDecision(string(req.Action), req.Request, res.Outcome)
	return res, nil
}

// prefix 执行守卫链的前 n 个守卫
func (g *Gateway) prefix(ctx context.Context, req Request, n int, skipToken bool) (*evaluation, Outcome, error) {
	ev := &evaluation{req: req, email: domain.NormalizeEmail(req.Email), now: g.now(), skipToken: skipToken}
	for _, gd := range g.chain[:n] {
		ev.stage = gd.name
		if gd.gather != nil {
			if err := gd.gather(ctx, ev); err != nil {
				return ev, Outcome{}, err
			}
		}
		if outcome := gd.check(ev); !outcome.Passed() {
			return ev, outcome, nil
		}
	}
	return ev, Pass(), nil
}

func (g *Gateway) verifyPassword(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	ev, outcome, err := g.prefix(ctx, req.Request, passwordGuards, true)
	if err != nil {
		return nil, err
	}
	res := &ActionResult{Outcome: outcome}
	if !outcome.Passed() || !ev.link.HasPassword() || g.tokens == nil {
		return res, nil
	}

	token, err := g.tokens.Issue(ev.link.ID, password.Fingerprint(*ev.link.PasswordHash))
	if err != nil {
		return nil, fmt.Errorf("issue access token: %w", err)
	}
	expiresAt := ev.now.Add(g.tokens.Expiry())
	res.Token = token
	res.TokenExpiresAt = &expiresAt
	return res, nil
}

func (g *Gateway) sendCode(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	ev, outcome, err := g.prefix(ctx, req.Request, passwordGuards, false)
	if err != nil {
		return nil, err
	}
	if !outcome.Passed() {
		return &ActionResult{Outcome: outcome}, nil
	}
	if !ev.link.RequireEmail {
		return &ActionResult{Outcome: Denied(domain.CodeInvalidRequest, "link does not require email verification")}, nil
	}
	if o := requireEmail(ev.email); !o.Passed() {
		return &ActionResult{Outcome: o}, nil
	}

	d, err := g.codeRequest.Allow(ctx, ev.link.ID, req.IP)
	if err != nil {
		return nil, fmt.Errorf("record code request: %w", err)
	}
	if !d.Allowed {
		g.metrics.RecordRateLimitBlock(string(g.codeRequest.Guard()))
		return &ActionResult{Outcome: RateLimited(d.RetryAfter)}, nil
	}

	issue := g.codes.Issue
	if req.Action == ActionResendCode {
		issue = g.codes.Resend
	}
	issued, err := issue(ctx, ev.link, ev.email)
	if err != nil {
		var ceiling *otp.CeilingError
		if errors.As(err, &ceiling) {
			o := Denied(domain.CodeAttemptsExceeded, "too many codes requested for this email")
			o.RetryAfter = ceiling.RetryAfter
			return &ActionResult{Outcome: o}, nil
		}
		return nil, err
	}
	return &ActionResult{Outcome: Pass(), CodeExpiresAt: &issued.ExpiresAt}, nil
}

func (g *Gateway) verifyCode(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	ev, outcome, err := g.prefix(ctx, req.Request, passwordGuards, false)
	if err != nil {
		return nil, err
	}
	if !outcome.Passed() {
		return &ActionResult{Outcome: outcome}, nil
	}
	if o := requireEmail(ev.email); !o.Passed() {
		return &ActionResult{Outcome: o}, nil
	}
	if req.Code == "" {
		return &ActionResult{Outcome: Denied(domain.CodeInvalidRequest, "code is required")}, nil
	}

	d, err := g.codeVerify.Peek(ctx, ev.link.ID, req.IP)
	if err != nil {
		return nil, fmt.Errorf("peek code limiter: %w", err)
	}
	if !d.Allowed {
		return &ActionResult{Outcome: RateLimited(d.RetryAfter)}, nil
	}

	err = g.codes.Verify(ctx, ev.link.ID, ev.email, req.Code)
	if err == nil {
		return &ActionResult{Outcome: Pass()}, nil
	}
	var ge *domain.GatewayError
	if !errors.As(err, &ge) {
		return nil, err
	}

	d, err = g.codeVerify.Allow(ctx, ev.link.ID, req.IP)
	if err != nil {
		return nil, fmt.Errorf("record code attempt: %w", err)
	}
	if !d.Allowed {
		g.metrics.RecordRateLimitBlock(string(g.codeVerify.Guard()))
		return &ActionResult{Outcome: RateLimited(d.RetryAfter)}, nil
	}
	return &ActionResult{Outcome: NeedsInput(ge.Code, ge.Reason).withAttempts(d.Remaining)}, nil
}

// acceptNDA 写入签署快照；已签署或无需签署时直接成功
func (g *Gateway) acceptNDA(ctx context.Context, req ActionRequest) (*ActionResult, error) {
	ev, outcome, err := g.prefix(ctx, req.Request, emailGuards, false)
	if err != nil {
		return nil, err
	}
	if !outcome.Passed() {
		return &ActionResult{Outcome: outcome}, nil
	}
	if ev.email == "" {
		return &ActionResult{Outcome: NeedsInput(domain.CodeEmailRequired, "email required to accept the agreement")}, nil
	}
	if o := requireEmail(ev.email); !o.Passed() {
		return &ActionResult{Outcome: o}, nil
	}
	if !ev.link.RequireNDA {
		return &ActionResult{Outcome: Pass()}, nil
	}

	accepted, err := g.store.HasNdaAcceptance(ctx, ev.link.ID, ev.email)
	if err != nil {
		return nil, fmt.Errorf("check nda acceptance: %w", err)
	}
	if accepted {
		return &ActionResult{Outcome: Pass()}, nil
	}

	record := &domain.NdaAcceptance{
		ID:         uuid.NewString(),
		LinkID:     ev.link.ID,
		Email:      ev.email,
		NDAText:    ev.link.NDAText,
		IPAddress:  req.IP,
		UserAgent:  req.UserAgent,
		AcceptedAt: ev.now.UTC(),
		Binding:    true,
	}
	if err := g.store.CreateNdaAcceptance(ctx, record); err != nil {
		return nil, fmt.Errorf("record nda acceptance: %w", err)
	}
	g.log.Info("nda accepted",
		zap.String("link", ev.link.ID),
		zap.String("acceptance", record.ID),
	)
	return &ActionResult{Outcome: Pass()}, nil
}

func requireEmail(email string) Outcome {
	if email == "" {
		return NeedsInput(domain.CodeEmailRequired, "email required")
	}
	if err := domain.ValidateEmailAddress(email); err != nil {
		return Denied(domain.CodeInvalidRequest, err.Error())
	}
	return Pass()
}
