// Package otp 签发与校验绑定 (链接, 邮箱) 的一次性验证码
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"linkgate/backend/internal/domain"
	"linkgate/backend/internal/logger"
	"linkgate/backend/internal/mailer"
	"linkgate/backend/internal/monitoring"
	"linkgate/backend/internal/pool"
	"linkgate/backend/internal/ratelimit"
	"linkgate/backend/internal/storage"
)

// Options 验证码参数
type Options struct {
	CodeLength      int
	TTL             time.Duration
	DeliveryTimeout time.Duration
}

// DefaultOptions 6 位数字，15 分钟有效
func DefaultOptions() Options {
	return Options{
		CodeLength:      6,
		TTL:             15 * time.Minute,
		DeliveryTimeout: 10 * time.Second,
	}
}

// IssueResult 签发结果，不包含验证码本身
type IssueResult struct {
	ExpiresAt time.Time
	Remaining int
}

// Service 验证码服务
type Service struct {
	repo     storage.VerificationRepository
	ceiling  *ratelimit.Limiter
	mailer   mailer.Mailer
	workers  *pool.WorkerPool
	opts     Options
	log      *zap.Logger
	metrics  *monitoring.Metrics
	now      func() time.Time
	generate func(length int) (string, error)
}

// NewService 创建验证码服务
//
// 参数:
//   - repo: 验证记录存储
//   - ceiling: 每个 (链接, 邮箱) 的签发上限（独立于请求限流）
//   - m: 投递器
//   - workers: 异步投递协程池，为 nil 时同步投递
func NewService(
	repo storage.VerificationRepository,
	ceiling *ratelimit.Limiter,
	m mailer.Mailer,
	workers *pool.WorkerPool,
	opts Options,
	log *zap.Logger,
	metrics *monitoring.Metrics,
) *Service {
	if opts.CodeLength <= 0 {
		opts.CodeLength = 6
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.DeliveryTimeout <= 0 {
		opts.DeliveryTimeout = 10 * time.Second
	}
	return &Service{
		repo:     repo,
		ceiling:  ceiling,
		mailer:   m,
		workers:  workers,
		opts:     opts,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
		generate: GenerateCode,
	}
}

// Issue 签发验证码并异步投递
//
// 同一 (链接, 邮箱) 之前未验证的验证码会先被作废。投递失败只记录日志，不影响签发结果。
func (s *Service) Issue(ctx context.Context, link *domain.ShareLink, email string) (*IssueResult, error) {
	email = domain.NormalizeEmail(email)

	decision, err := s.ceiling.Allow(ctx, link.ID, email)
	if err != nil {
		return nil, fmt.Errorf("check issuance ceiling: %w", err)
	}
	if !decision.Allowed {
		s.metrics.RecordRateLimitBlock(string(s.ceiling.Guard()))
		return nil, &CeilingError{RetryAfter: decision.RetryAfter}
	}

	code, err := s.generate(s.opts.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}

	now := s.now().UTC()
	record := &domain.VerificationRecord{
		ID:        uuid.NewString(),
		LinkID:    link.ID,
		Email:     email,
		Code:      code,
		CreatedAt: now,
		ExpiresAt: now.Add(s.opts.TTL),
	}
	if err := s.repo.InvalidateAndCreate(ctx, record); err != nil {
		return nil, fmt.Errorf("store verification: %w", err)
	}
	s.metrics.RecordCodeIssued()

	s.dispatch(mailer.VerificationMessage{
		To:       email,
		Code:     code,
		LinkName: link.ResourceName,
		TTL:      s.opts.TTL,
	})

	return &IssueResult{ExpiresAt: record.ExpiresAt, Remaining: decision.Remaining}, nil
}

// Resend 重新发送，与 Issue 共用签发上限
func (s *Service) Resend(ctx context.Context, link *domain.ShareLink, email string) (*IssueResult, error) {
	return s.Issue(ctx, link, email)
}

// dispatch 投递与请求生命周期无关，使用独立的超时上下文
func (s *Service) dispatch(msg mailer.VerificationMessage) {
	deliver := func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.DeliveryTimeout)
		defer cancel()
		if err := s.mailer.SendVerificationCode(ctx, msg); err != nil {
			s.metrics.RecordDeliveryFailure()
			s.log.Warn("verification code delivery failed",
				logger.Email("email", msg.To),
				zap.Error(err),
			)
		}
	}

	if s.workers != nil && s.workers.TrySubmit(deliver) {
		return
	}
	// 协程池已满或已停止时同步投递，仍受超时约束
	deliver()
}

// Verify 校验验证码
//
// 返回值:
//   - nil: 校验通过（已验证过的验证码再次提交也视为通过）
//   - *domain.GatewayError: CODE_NOT_FOUND / CODE_EXPIRED / CODE_MISMATCH
//   - 其他 error: 存储故障
func (s *Service) Verify(ctx context.Context, linkID, email, code string) error {
	email = domain.NormalizeEmail(email)
	now := s.now().UTC()

	record, err := s.repo.FindVerification(ctx, linkID, email, code)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrVerificationNotFound):
		return s.classifyMiss(ctx, linkID, email)
	default:
		return fmt.Errorf("find verification: %w", err)
	}

	if record.Verified {
		return nil
	}
	if record.IsExpired(now) {
		return domain.NewGatewayError(domain.CodeCodeExpired, "verification code has expired")
	}

	if err := s.repo.MarkVerified(ctx, record.ID, now); err != nil {
		if errors.Is(err, storage.ErrVerificationNotFound) {
			// 校验期间被重新签发作废
			return domain.NewGatewayError(domain.CodeCodeMismatch, "verification code was replaced by a newer one")
		}
		return fmt.Errorf("mark verified: %w", err)
	}
	return nil
}

// classifyMiss 区分从未签发与验证码不一致
func (s *Service) classifyMiss(ctx context.Context, linkID, email string) error {
	_, err := s.repo.LatestVerification(ctx, linkID, email)
	switch {
	case err == nil:
		return domain.NewGatewayError(domain.CodeCodeMismatch, "verification code does not match")
	case errors.Is(err, storage.ErrVerificationNotFound):
		return domain.NewGatewayError(domain.CodeCodeNotFound, "no verification code was issued for this email")
	default:
		return fmt.Errorf("latest verification: %w", err)
	}
}

// IsVerified 邮箱是否已通过验证
func (s *Service) IsVerified(ctx context.Context, linkID, email string) (bool, error) {
	return s.repo.HasVerifiedEmail(ctx, linkID, domain.NormalizeEmail(email))
}

// Purge 清理 retention 之前过期且未验证的记录
func (s *Service) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := s.repo.PurgeExpiredVerifications(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		return 0, err
	}
	s.metrics.RecordPurged(n)
	return n, nil
}

// CeilingError 签发次数超过上限
type CeilingError struct {
	RetryAfter time.Duration
}

func (e *CeilingError) Error() string {
	return fmt.Sprintf("%s: retry after %s", domain.CodeAttemptsExceeded, e.RetryAfter)
}

// GenerateCode 使用 crypto/rand 生成定长数字验证码
func GenerateCode(length int) (string, error) {
	max := big.NewInt(10)
	buf := make([]byte, length)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = byte('0' + n.Int64())
	}
	return string(buf), nil
}
