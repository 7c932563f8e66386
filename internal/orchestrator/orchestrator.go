package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"OpenBoBS/internal/agent"
	"OpenBoBS/internal/catalog"
	"OpenBoBS/internal/command"
	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/learning"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/pkg/logger"
)

// CodeUnknownPlaybook 表示剧本 ID 不存在。
const CodeUnknownPlaybook xerrors.Code = "UNKNOWN_PLAYBOOK"

func init() {
	xerrors.Register(CodeUnknownPlaybook, xerrors.Attributes{
		Message:  "unknown playbook",
		Severity: xerrors.SeverityInfo,
	})
}

// 结果来源，对应回复的作者。
const (
	SourceCommandCenter = "Command Center"
	SourceOrchestrator  = "Orchestrator"
	SourcePlaybook      = "Playbook"
	SourceReplay        = "Replay"
	SourceBotPack       = "Bot Pack"
)

// Result 是一次提交的输出。
type Result struct {
	Source string `json:"source"`
	Body   string `json:"body"`
}

// Settings 是会话级的可调参数。
type Settings struct {
	ProjectName string   `json:"project_name"`
	Profile     Profile  `json:"profile"`
	Autonomy    Autonomy `json:"autonomy"`
	Delegate    bool     `json:"delegate"`
	Model       string   `json:"model"`
}

// SettingsUpdate 只修改非 nil 字段。
type SettingsUpdate struct {
	ProjectName *string `json:"project_name,omitempty"`
	Profile     *string `json:"profile,omitempty"`
	Autonomy    *bool   `json:"autonomy,omitempty"`
	Cycles      *int    `json:"cycles,omitempty"`
	Delegate    *bool   `json:"delegate,omitempty"`
	Model       *string `json:"model,omitempty"`
}

// AgentView 是带选中状态的智能体。
type AgentView struct {
	agent.Agent
	Selected bool `json:"selected"`
}

// Orchestrator 组合注册表、选择集、自学习状态、历史记录、命令路由与循环执行器，
// 对外提供会话级操作。
type Orchestrator struct {
	mu        sync.RWMutex
	settings  Settings
	registry  *agent.Registry
	selection *agent.Selection
	memory    *learning.Memory
	history   *history.Log
	catalog   *catalog.Catalog
	runner    *Runner
	router    *command.Router
	runtime   *metrics.Runtime
	logger    *slog.Logger
	now       func() time.Time
}

// Deps 汇总构造 Orchestrator 所需的依赖。
type Deps struct {
	Registry  *agent.Registry
	Selection *agent.Selection
	Memory    *learning.Memory
	History   *history.Log
	Catalog   *catalog.Catalog
	Runner    *Runner
	Runtime   *metrics.Runtime
}

// New 创建 Orchestrator 并校验初始设置。
func New(deps Deps, settings Settings) (*Orchestrator, error) {
	if deps.Registry == nil || deps.Selection == nil || deps.Memory == nil || deps.History == nil || deps.Runner == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "orchestrator dependencies are incomplete")
	}
	if deps.Catalog == nil {
		deps.Catalog = &catalog.Catalog{}
	}
	if err := validateSettings(settings); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		settings:  settings,
		registry:  deps.Registry,
		selection: deps.Selection,
		memory:    deps.Memory,
		history:   deps.History,
		catalog:   deps.Catalog,
		runner:    deps.Runner,
		runtime:   deps.Runtime,
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
	o.router = command.NewRouter(o)
	return o, nil
}

func validateSettings(s Settings) error {
	if strings.TrimSpace(s.ProjectName) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "project name must not be empty")
	}
	if !s.Profile.Valid() {
		return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("unknown profile %q", s.Profile))
	}
	if s.Autonomy.Cycles < 1 {
		return xerrors.New(xerrors.CodeInvalidArgument, "cycles must be at least 1")
	}
	return nil
}

// SubmitTask 先尝试命令路由，未命中时以 manual 模式运行。
func (o *Orchestrator) SubmitTask(ctx context.Context, text string) (Result, error) {
	return o.submit(ctx, text, nil)
}

// SubmitTaskWithObserver 与 SubmitTask 相同，但额外把进度事件交给 observer。
func (o *Orchestrator) SubmitTaskWithObserver(ctx context.Context, text string, observer Observer) (Result, error) {
	return o.submit(ctx, text, observer)
}

func (o *Orchestrator) submit(ctx context.Context, text string, observer Observer) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, xerrors.New(xerrors.CodeInvalidArgument, "task must not be empty")
	}
	if reply, ok := o.router.Route(text); ok {
		o.runtime.Inc(metrics.Commands)
		return Result{Source: SourceCommandCenter, Body: reply}, nil
	}
	body, err := o.run(ctx, text, history.ModeManual, observer)
	if err != nil {
		return Result{}, err
	}
	return Result{Source: SourceOrchestrator, Body: body}, nil
}

// RunPlaybook 以 playbook 模式运行预置剧本的提示词。
func (o *Orchestrator) RunPlaybook(ctx context.Context, id string) (Result, error) {
	p, ok := o.catalog.Playbook(strings.TrimSpace(id))
	if !ok {
		return Result{}, xerrors.New(CodeUnknownPlaybook, fmt.Sprintf("unknown playbook %q", id),
			xerrors.WithMetadata("playbook", id))
	}
	body, err := o.run(ctx, p.Prompt, history.ModePlaybook, nil)
	if err != nil {
		return Result{}, err
	}
	return Result{Source: SourcePlaybook, Body: body}, nil
}

// Replay 重新运行指定位置的历史任务，并以 replay 模式新增一条记录。
func (o *Orchestrator) Replay(ctx context.Context, index int) (Result, error) {
	entry, err := o.history.Replay(index)
	if err != nil {
		return Result{}, err
	}
	body, err := o.run(ctx, entry.Task, history.ModeReplay, nil)
	if err != nil {
		return Result{}, err
	}
	o.runtime.Inc(metrics.Replays)
	return Result{Source: SourceReplay, Body: body}, nil
}

// Execute 供异步任务使用：manual 提交文本，playbook 的文本是剧本 ID，
// replay 的文本是历史位置。
func (o *Orchestrator) Execute(ctx context.Context, text string, mode history.Mode) (Result, error) {
	switch mode {
	case history.ModePlaybook:
		return o.RunPlaybook(ctx, text)
	case history.ModeReplay:
		index, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return Result{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "replay text must be a history index")
		}
		return o.Replay(ctx, index)
	default:
		return o.SubmitTask(ctx, text)
	}
}

func (o *Orchestrator) run(ctx context.Context, task string, mode history.Mode, observer Observer) (string, error) {
	s := o.Settings()
	return o.runner.Run(ctx, RunRequest{
		Task:     task,
		Mode:     mode,
		Project:  s.ProjectName,
		Profile:  s.Profile,
		Autonomy: s.Autonomy,
		Delegate: s.Delegate,
		Model:    s.Model,
		Observer: observer,
	})
}

// ToggleAgent 设置单个智能体的选中状态，未注册的 id 不产生任何变化。
func (o *Orchestrator) ToggleAgent(id string, enabled bool) {
	o.selection.Toggle(id, enabled)
}

// SelectAll 选中全部智能体。
func (o *Orchestrator) SelectAll() { o.selection.SetAll(true) }

// ClearAll 取消全部选中。
func (o *Orchestrator) ClearAll() { o.selection.SetAll(false) }

// RegisterAgent 创建自定义智能体，新智能体默认选中。
func (o *Orchestrator) RegisterAgent(name, role, prompt string) (agent.Agent, error) {
	a, err := o.registry.Create(name, role, prompt)
	if err != nil {
		return agent.Agent{}, err
	}
	o.selection.Toggle(a.ID, true)
	o.logger.Info("注册自定义智能体", slog.String("agent_id", a.ID), slog.String("name", a.Name))
	return a, nil
}

// ApplyBotPack 将指定模板注册为智能体。
func (o *Orchestrator) ApplyBotPack(index int) (agent.Agent, error) {
	packs := o.catalog.BotPacks
	if index < 0 || index >= len(packs) {
		return agent.Agent{}, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("bot pack %d not found", index))
	}
	p := packs[index]
	return o.RegisterAgent(p.Name, p.Role, p.Prompt)
}

// Agents 返回带选中状态的智能体列表。
func (o *Orchestrator) Agents() []AgentView {
	all := o.registry.All()
	views := make([]AgentView, len(all))
	for i, a := range all {
		views[i] = AgentView{Agent: a, Selected: o.selection.IsSelected(a.ID)}
	}
	return views
}

// MemorySummary 返回自学习摘要。
func (o *Orchestrator) MemorySummary() string { return o.memory.Summary() }

// MemoryPolicy 返回当前的自适应策略。
func (o *Orchestrator) MemoryPolicy() string { return o.memory.Policy() }

// MemoryState 返回自学习状态副本。
func (o *Orchestrator) MemoryState() learning.State { return o.memory.Snapshot() }

// HistoryEntries 返回最新在前的历史记录。
func (o *Orchestrator) HistoryEntries() []history.Entry { return o.history.Entries() }

// Catalog 返回启动时加载的目录。
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Settings 返回当前设置。
func (o *Orchestrator) Settings() Settings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings
}

// UpdateSettings 校验并应用设置变更，失败时保持原值。
func (o *Orchestrator) UpdateSettings(u SettingsUpdate) (Settings, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	next := o.settings
	if u.ProjectName != nil {
		next.ProjectName = strings.TrimSpace(*u.ProjectName)
	}
	if u.Profile != nil {
		p, err := ParseProfile(*u.Profile)
		if err != nil {
			return o.settings, err
		}
		next.Profile = p
	}
	if u.Autonomy != nil {
		next.Autonomy.Enabled = *u.Autonomy
	}
	if u.Cycles != nil {
		next.Autonomy.Cycles = *u.Cycles
	}
	if u.Delegate != nil {
		next.Delegate = *u.Delegate
	}
	if u.Model != nil {
		next.Model = strings.TrimSpace(*u.Model)
	}
	if err := validateSettings(next); err != nil {
		return o.settings, err
	}
	o.settings = next
	return next, nil
}

// Export 是会话快照。
type Export struct {
	ProjectName  string          `json:"project_name"`
	Profile      Profile         `json:"profile"`
	Autonomy     Autonomy        `json:"autonomy"`
	Delegate     bool            `json:"delegate"`
	Model        string          `json:"model"`
	SelfLearning learning.State  `json:"self_learning"`
	History      []history.Entry `json:"history"`
	ActiveAgents []string        `json:"active_agents"`
	ExportedAt   time.Time       `json:"exported_at"`
}

// Export 生成可序列化的会话快照。
func (o *Orchestrator) Export() Export {
	s := o.Settings()
	return Export{
		ProjectName:  s.ProjectName,
		Profile:      s.Profile,
		Autonomy:     s.Autonomy,
		Delegate:     s.Delegate,
		Model:        s.Model,
		SelfLearning: o.memory.Snapshot(),
		History:      o.history.Entries(),
		ActiveAgents: o.selection.IDs(),
		ExportedAt:   o.now().UTC(),
	}
}

// 以下方法实现 command.State。

func (o *Orchestrator) ProjectName() string { return o.Settings().ProjectName }

func (o *Orchestrator) Profile() string { return string(o.Settings().Profile) }

func (o *Orchestrator) AgentNames() []string {
	all := o.registry.All()
	names := make([]string, len(all))
	for i, a := range all {
		names[i] = a.Name
	}
	return names
}

func (o *Orchestrator) Playbooks() []catalog.Playbook { return o.catalog.Playbooks }

func (o *Orchestrator) BotPacks() []catalog.BotPack { return o.catalog.BotPacks }

func (o *Orchestrator) LearningVersion() int { return o.memory.Version() }

func (o *Orchestrator) LearningSummary() string { return o.memory.Summary() }

func (o *Orchestrator) LearningPolicy() string { return o.memory.Policy() }

func (o *Orchestrator) MetricsLines() ([]string, error) {
	if o.runtime == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "metrics disabled")
	}
	return o.runtime.Lines(), nil
}
