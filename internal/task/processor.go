package task

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/observability/alerting"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/pkg/logger"
)

// Executor 执行一次编排请求，由 orchestrator.Orchestrator 实现。
type Executor interface {
	Execute(ctx context.Context, text string, mode history.Mode) (orchestrator.Result, error)
}

// Processor 从队列消费任务并交给 Executor。只使用一个消费协程，
// 因此同一时刻最多只有一个编排在执行。
type Processor struct {
	executor Executor
	store    Store
	consumer Consumer
	producer Producer
	logger   *slog.Logger
	alerter  alerting.Dispatcher
	now      func() time.Time
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(l *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor: executor,
		store:    store,
		consumer: consumer,
		producer: producer,
		logger:   logger.Named("task"),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, 1, p.handle)
}

func (p *Processor) handle(ctx context.Context, taskID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	task, err := p.store.Claim(ctx, taskID)
	if err != nil {
		if stdErrors.Is(err, ErrTaskNotFound) || stdErrors.Is(err, ErrTaskCompleted) || stdErrors.Is(err, ErrTaskExhausted) {
			p.logger.Debug("跳过任务", slog.String("task_id", taskID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务失败", slog.Any("error", err), slog.String("task_id", taskID))
		return err
	}

	result, execErr := p.executor.Execute(ctx, task.Text, task.Mode)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, task, execErr)
	}

	if err := p.store.MarkSucceeded(ctx, task.ID, Result{Source: result.Source, Body: result.Body}); err != nil {
		p.logger.Error("标记任务成功状态失败", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Info("任务执行成功",
		slog.String("task_id", task.ID),
		slog.String("mode", string(task.Mode)),
		slog.String("source", result.Source),
		slog.Int("attempts", task.Attempts),
	)
	return nil
}

// handleExecutionFailure 记录失败。可重试的错误在次数未耗尽前重新排队；
// 不可重试的错误（例如未选择智能体或参数错误）直接进入终态。
func (p *Processor) handleExecutionFailure(ctx context.Context, task *Task, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeTaskProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := task.Attempts >= task.MaxRetries || !retryable

	if err := p.store.MarkFailed(ctx, task.ID, string(code), xerrors.UserMessage(execErr), terminal); err != nil {
		p.logger.Error("标记任务失败状态出错", slog.Any("error", err), slog.String("task_id", task.ID))
		return err
	}
	logger.Audit().Warn("任务执行失败",
		slog.String("task_id", task.ID),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", task.Attempts),
		slog.Int("max_retries", task.MaxRetries),
	)

	if terminal {
		stage := "exhausted"
		if !retryable {
			stage = "non_retryable"
		}
		p.emitAlert(ctx, task, code, execErr, stage)
		return nil
	}
	if err := p.producer.Publish(ctx, task.ID); err != nil {
		return xerrors.Wrap(CodeTaskPublish, err, fmt.Sprintf("任务 %s 重投失败", task.ID))
	}
	p.logger.Debug("任务已重新排队", slog.String("task_id", task.ID), slog.Int("attempts", task.Attempts))
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, task *Task, code xerrors.Code, cause error, stage string) {
	if p.alerter == nil {
		return
	}
	event := alerting.Event{
		Code:       code,
		Message:    xerrors.UserMessage(cause),
		Severity:   xerrors.SeverityOf(cause),
		TaskID:     task.ID,
		Attempts:   task.Attempts,
		MaxRetries: task.MaxRetries,
		Metadata:   map[string]string{"stage": stage, "mode": string(task.Mode)},
		OccurredAt: p.now().UTC(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("task_id", task.ID),
			slog.String("stage", stage),
		)
	}
}
