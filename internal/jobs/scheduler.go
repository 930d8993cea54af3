// Package jobs 运行后台定时任务（过期验证码清理、限流窗口回收）
package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job 定时任务
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler 基于 cron 表达式的调度器，同一任务上一轮未结束时跳过本轮
type Scheduler struct {
	cron    *cron.Cron
	entries map[string]cron.EntryID
	log     *zap.Logger
	ctx     context.Context
}

// NewScheduler 创建调度器，支持标准五段表达式和 @every 描述符
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		entries: make(map[string]cron.EntryID),
		log:     log.Named("jobs"),
		ctx:     context.Background(),
	}
}

// AddJob 注册任务
func (s *Scheduler) AddJob(job Job, spec string) error {
	logger := s.log.With(zap.String("job", job.Name()), zap.String("spec", spec))
	entryID, err := s.cron.AddFunc(spec, s.wrap(job, logger))
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	s.entries[job.Name()] = entryID
	logger.Info("job scheduled")
	return nil
}

// Start 启动调度，ctx 传给每次任务执行
func (s *Scheduler) Start(ctx context.Context) {
	if ctx != nil {
		s.ctx = ctx
	}
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) wrap(job Job, logger *zap.Logger) func() {
	var running atomic.Bool
	return func() {
		if !running.CompareAndSwap(false, true) {
			logger.Info("job skipped: still running")
			return
		}
		defer running.Store(false)

		start := time.Now()
		err := job.Run(s.ctx)
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("job failed", zap.Error(err), zap.Duration("duration", elapsed))
			return
		}
		logger.Debug("job finished", zap.Duration("duration", elapsed))
	}
}
