package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"OpenBoBS/internal/agent"
	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/learning"
	"OpenBoBS/internal/llm"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/pkg/logger"
)

// CodeNoAgentsSelected 表示运行时没有启用任何智能体。
const CodeNoAgentsSelected xerrors.Code = "NO_AGENTS_SELECTED"

// ErrNoAgentsSelected 可用于 errors.Is 判断。
var ErrNoAgentsSelected = xerrors.New(CodeNoAgentsSelected, "No agents enabled.")

// DefaultCycleCap 是自主模式下的循环上限。
const DefaultCycleCap = 5

func init() {
	xerrors.Register(CodeNoAgentsSelected, xerrors.Attributes{
		Message:  "No agents enabled.",
		Severity: xerrors.SeverityInfo,
	})
}

// Autonomy 控制是否执行多轮循环。
type Autonomy struct {
	Enabled bool `json:"enabled"`
	Cycles  int  `json:"cycles"`
}

// RunRequest 描述一次运行的全部输入。
type RunRequest struct {
	Task     string
	Mode     history.Mode
	Project  string
	Profile  Profile
	Autonomy Autonomy
	// Delegate 为 false 时不调用生成服务，直接使用本地合成。
	Delegate bool
	Model    string
	Observer Observer
}

// Runner 依次执行 1..N 个循环，每个循环委托生成服务，失败时回退到本地合成。
type Runner struct {
	mu        sync.Mutex
	selection *agent.Selection
	memory    *learning.Memory
	history   *history.Log
	client    llm.Client
	cycleCap  int
	timeout   time.Duration
	observers []Observer
	runtime   *metrics.Runtime
	logger    *slog.Logger
	audit     *slog.Logger
	now       func() time.Time
	newID     func() string
}

// RunnerOption 定义 Runner 的可选配置。
type RunnerOption func(*Runner)

// WithCycleCap 设置循环上限。
func WithCycleCap(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.cycleCap = n
		}
	}
}

// WithCallTimeout 为每次委托调用设置超时。
func WithCallTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithObserver 注册进度观察者。
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

// WithRuntimeMetrics 指定运行计数器。
func WithRuntimeMetrics(m *metrics.Runtime) RunnerOption {
	return func(r *Runner) {
		r.runtime = m
	}
}

// WithRunnerLogger 替换默认日志器。
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithAuditLogger 替换审计日志器。
func WithAuditLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.audit = l
		}
	}
}

// NewRunner 创建循环执行器。client 可以为 nil，此时所有循环都使用本地合成。
func NewRunner(selection *agent.Selection, memory *learning.Memory, log *history.Log, client llm.Client, opts ...RunnerOption) *Runner {
	r := &Runner{
		selection: selection,
		memory:    memory,
		history:   log,
		client:    client,
		cycleCap:  DefaultCycleCap,
		logger:    logger.Named("orchestrator"),
		audit:     logger.Audit(),
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// CycleCount 返回请求实际执行的循环数。
func (r *Runner) CycleCount(a Autonomy) int {
	if !a.Enabled {
		return 1
	}
	return min(max(a.Cycles, 1), r.cycleCap)
}

// Run 执行一次编排。前置条件失败时不修改任何状态；成功时恰好写入一条
// 历史记录并更新一次自学习状态，无论循环次数。只返回最后一个循环的输出。
func (r *Runner) Run(ctx context.Context, req RunRequest) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task := strings.TrimSpace(req.Task)
	if task == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "task must not be empty")
	}
	if !req.Profile.Valid() {
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown profile %q", req.Profile))
	}
	if req.Mode == "" {
		req.Mode = history.ModeManual
	}
	active := r.selection.Selected()
	if len(active) == 0 {
		return "", ErrNoAgentsSelected
	}

	runID := r.newID()
	emit := r.emitter(runID, req.Observer)
	started := r.now()
	emit(Event{Stage: StageRequestCaptured, Detail: task})

	if _, err := r.history.Add(ctx, task, req.Mode); err != nil {
		return "", err
	}
	if _, err := r.memory.RecordTask(ctx, task); err != nil {
		return "", err
	}
	learningSummary := r.memory.Summary()
	adaptivePolicy := r.memory.Policy()
	emit(Event{Stage: StageSelfLearningUpdate, Detail: learningSummary})

	total := r.CycleCount(req.Autonomy)
	names := make([]string, len(active))
	for i, a := range active {
		names[i] = a.Name
	}
	emit(Event{Stage: StageAgentComposition, Agents: names, Total: total})
	r.runtime.Inc(metrics.Runs)

	var output string
	fallbacks := 0
	for cycle := 1; cycle <= total; cycle++ {
		cc := cycleContext{
			project:        req.Project,
			profile:        req.Profile,
			learning:       learningSummary,
			adaptivePolicy: adaptivePolicy,
			cycle:          cycle,
			total:          total,
			agents:         active,
			task:           task,
		}
		text, source := r.executeCycle(ctx, cc, req, runID)
		if source == SourceFallback {
			fallbacks++
		}
		output = text
		r.runtime.Inc(metrics.Cycles)
		emit(Event{Stage: StageExecution, Cycle: cycle, Total: total, Source: source, Output: text})
	}

	emit(Event{Stage: StageDeploymentSummary, Total: total,
		Detail: fmt.Sprintf("%d cycle(s), %d fallback(s), v%d", total, fallbacks, r.memory.Version())})

	r.audit.Info("orchestration run",
		slog.String("run_id", runID),
		slog.String("mode", string(req.Mode)),
		slog.String("profile", string(req.Profile)),
		slog.Int("cycles", total),
		slog.Int("fallbacks", fallbacks),
		slog.Any("agents", names),
		slog.Duration("duration", r.now().Sub(started)),
	)
	return output, nil
}

func (r *Runner) executeCycle(ctx context.Context, cc cycleContext, req RunRequest, runID string) (string, string) {
	if !req.Delegate || r.client == nil {
		r.runtime.Inc(metrics.Fallbacks)
		return cc.fallback(), SourceFallback
	}

	r.runtime.Inc(metrics.Delegations)
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.Chat(callCtx, llm.Request{Model: req.Model, Messages: cc.messages()})
	if err == nil && resp != nil && strings.TrimSpace(resp.Reply) != "" {
		return resp.Reply, SourceRemote
	}
	if err == nil {
		err = llm.Failure("unknown", llm.ErrEmptyReply, "empty reply")
	}
	provider := "unknown"
	if coded, ok := xerrors.From(err); ok {
		if p := coded.Metadata()["provider"]; p != "" {
			provider = p
		}
	}

	r.runtime.Inc(metrics.DelegationFailures)
	r.runtime.Inc(metrics.Fallbacks)
	r.logger.Warn("委托生成失败，使用本地合成",
		slog.String("run_id", runID),
		slog.Int("cycle", cc.cycle),
		slog.String("provider", provider),
		slog.String("error", err.Error()),
	)
	return cc.fallback(), SourceFallback
}

func (r *Runner) emitter(runID string, extra Observer) func(Event) {
	return func(e Event) {
		e.RunID = runID
		e.At = r.now().UTC()
		for _, o := range r.observers {
			o.OnEvent(e)
		}
		if extra != nil {
			extra.OnEvent(e)
		}
	}
}
