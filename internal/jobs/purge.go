package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"linkgate/backend/internal/ratelimit"
)

// CodePurger 清理过期验证码
type CodePurger interface {
	Purge(ctx context.Context, retention time.Duration) (int64, error)
}

// PurgeCodesJob 删除过期超过 retention 且未验证的验证码
type PurgeCodesJob struct {
	codes     CodePurger
	retention time.Duration
	log       *zap.Logger
}

// NewPurgeCodesJob 创建清理任务
func NewPurgeCodesJob(codes CodePurger, retention time.Duration, log *zap.Logger) *PurgeCodesJob {
	if log == nil {
		log = zap.NewNop()
	}
	return &PurgeCodesJob{codes: codes, retention: retention, log: log}
}

func (j *PurgeCodesJob) Name() string { return "purge-verification-codes" }

func (j *PurgeCodesJob) Run(ctx context.Context) error {
	n, err := j.codes.Purge(ctx, j.retention)
	if err != nil {
		return err
	}
	if n > 0 {
		j.log.Info("expired verification codes purged", zap.Int64("count", n))
	}
	return nil
}

// SweepLimiterJob 回收内存限流后端中已空闲的窗口（Redis 后端依靠键过期，无需回收）
type SweepLimiterJob struct {
	backend *ratelimit.MemoryBackend
	policy  ratelimit.Policy
	now     func() time.Time
}

// NewSweepLimiterJob 创建回收任务，policy 取各守卫中最长的窗口与冷却
func NewSweepLimiterJob(backend *ratelimit.MemoryBackend, policy ratelimit.Policy) *SweepLimiterJob {
	return &SweepLimiterJob{backend: backend, policy: policy, now: time.Now}
}

func (j *SweepLimiterJob) Name() string { return "sweep-rate-limit-windows" }

func (j *SweepLimiterJob) Run(context.Context) error {
	j.backend.Sweep(j.now(), j.policy)
	return nil
}
