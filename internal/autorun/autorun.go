package autorun

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/pkg/logger"
)

// MinInterval 是自动运行的最小间隔。
const MinInterval = 10 * time.Second

// DefaultInterval 在未配置间隔时使用。
const DefaultInterval = 60 * time.Second

// Submitter 提交一次任务，由 orchestrator.Orchestrator 实现。
type Submitter interface {
	SubmitTask(ctx context.Context, text string) (orchestrator.Result, error)
}

// Status 是调度器的当前状态。
type Status struct {
	Running         bool      `json:"running"`
	IntervalSeconds int       `json:"interval_seconds"`
	Task            string    `json:"task"`
	Runs            int64     `json:"runs"`
	Skipped         int64     `json:"skipped"`
	LastError       string    `json:"last_error,omitempty"`
	LastRunAt       time.Time `json:"last_run_at,omitempty"`
}

// Scheduler 按固定间隔提交同一个任务。上一次提交尚未结束时跳过本次触发。
type Scheduler struct {
	submitter Submitter
	task      string
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	busy      atomic.Bool
	runs      atomic.Int64
	skipped   atomic.Int64
	lastError string
	lastRunAt time.Time
}

// Option 定义 Scheduler 的可选配置。
type Option func(*Scheduler)

// WithLogger 替换默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Interval 把配置的秒数换算为间隔：非正数取默认值，且不低于 MinInterval。
func Interval(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultInterval
	}
	return max(time.Duration(seconds)*time.Second, MinInterval)
}

// New 创建调度器。task 为空时调用方应传入默认剧本的提示词。
func New(submitter Submitter, task string, interval time.Duration, opts ...Option) *Scheduler {
	if interval < MinInterval {
		interval = MinInterval
	}
	s := &Scheduler{
		submitter: submitter,
		task:      strings.TrimSpace(task),
		interval:  interval,
		logger:    logger.Named("autorun"),
		now:       time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start 启动调度循环。已在运行时返回 false。
func (s *Scheduler) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return false
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)
	s.logger.Info("自动运行已启动", slog.Duration("interval", s.interval), slog.String("task", s.task))
	return true
}

// Stop 停止调度并等待进行中的提交结束。未运行时返回 false。
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("自动运行已停止")
	return true
}

// Running 报告调度循环是否在运行。
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

// Status 返回状态快照。
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:         s.cancel != nil,
		IntervalSeconds: int(s.interval / time.Second),
		Task:            s.task,
		Runs:            s.runs.Load(),
		Skipped:         s.skipped.Load(),
		LastError:       s.lastError,
		LastRunAt:       s.lastRunAt,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		s.logger.Debug("上一次自动运行尚未结束，跳过")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		_, err := s.submitter.SubmitTask(ctx, s.task)
		s.runs.Add(1)

		s.mu.Lock()
		s.lastRunAt = s.now().UTC()
		s.lastError = ""
		if err != nil {
			s.lastError = err.Error()
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("自动运行失败", slog.String("error", err.Error()))
		}
	}()
}
