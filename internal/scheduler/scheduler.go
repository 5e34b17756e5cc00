package scheduler

import (
	"fmt"
	"time"

	"tradeloop/internal/logger"

	"github.com/robfig/cron/v3"
)

// Job 是被调度的周期任务。
type Job interface {
	Name() string
	Run() error
}

// Scheduler 基于 cron 的后台任务调度器，负责按固定间隔触发交易循环。
type Scheduler struct {
	cron *cron.Cron
}

func New() *Scheduler {
	return &Scheduler{cron: cron.New(cron.WithSeconds())}
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logger.Infof("调度器已启动")
}

// Stop 停止调度并等待在途任务结束。
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	logger.Infof("调度器已停止")
}

// AddEvery 按固定间隔注册任务，例如 3*time.Minute。
func (s *Scheduler) AddEvery(interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("调度间隔必须大于 0")
	}
	spec := fmt.Sprintf("@every %s", interval)
	_, err := s.cron.AddFunc(spec, func() {
		if err := job.Run(); err != nil {
			logger.Errorf("任务 %s 执行失败: %v", job.Name(), err)
		}
	})
	if err != nil {
		return err
	}
	logger.Infof("已注册任务 %s (间隔 %s)", job.Name(), interval)
	return nil
}
