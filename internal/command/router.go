package command

import (
	"fmt"
	"strings"

	"OpenBoBS/internal/catalog"
)

// State 为命令提供只读的实时状态。
type State interface {
	ProjectName() string
	Profile() string
	AgentNames() []string
	Playbooks() []catalog.Playbook
	BotPacks() []catalog.BotPack
	LearningVersion() int
	LearningSummary() string
	LearningPolicy() string
	MetricsLines() ([]string, error)
}

// Names 是所有可识别的命令，顺序与 /help 输出一致。
var Names = []string{"/help", "/plan", "/agents", "/risk", "/ship", "/summary", "/selfupdate", "/playbooks", "/metrics", "/botpacks"}

const metricsUnavailable = "Metrics unavailable."

// Router 识别斜杠命令并返回固定格式的回复，不触发编排也不修改任何状态。
type Router struct {
	state    State
	handlers map[string]func() string
}

// NewRouter 创建命令路由。
func NewRouter(state State) *Router {
	r := &Router{state: state}
	r.handlers = map[string]func() string{
		"/help":       r.help,
		"/plan":       static("Plan\n1) Scope\n2) Build\n3) Validate\n4) Deploy"),
		"/agents":     r.agents,
		"/risk":       static("Risk\n- scope drift\n- coverage gaps\n- rollout regression"),
		"/ship":       static("Ship\n- freeze\n- test\n- monitor\n- rollout"),
		"/summary":    r.summary,
		"/selfupdate": r.selfUpdate,
		"/playbooks":  r.playbooks,
		"/metrics":    r.metrics,
		"/botpacks":   r.botPacks,
	}
	return r
}

// Route 对输入去空白并转小写后做精确匹配。未命中时返回 false。
func (r *Router) Route(raw string) (string, bool) {
	handler, ok := r.handlers[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return "", false
	}
	return handler(), true
}

// IsCommand 判断输入是否为可识别的命令。
func (r *Router) IsCommand(raw string) bool {
	_, ok := r.handlers[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

func static(text string) func() string {
	return func() string { return text }
}

func (r *Router) help() string {
	return "Commands\n" + strings.Join(Names, " ")
}

func (r *Router) agents() string {
	names := r.state.AgentNames()
	lines := make([]string, len(names))
	for i, name := range names {
		lines[i] = "- " + name
	}
	return strings.Join(lines, "\n")
}

func (r *Router) summary() string {
	return fmt.Sprintf("Project: %s\nProfile: %s\nSelf-Learning: %s\n%s",
		r.state.ProjectName(), r.state.Profile(), r.state.LearningSummary(), r.state.LearningPolicy())
}

func (r *Router) selfUpdate() string {
	return fmt.Sprintf("Version v%d\nPolicy: %s", r.state.LearningVersion(), r.state.LearningPolicy())
}

func (r *Router) playbooks() string {
	books := r.state.Playbooks()
	lines := make([]string, len(books))
	for i, p := range books {
		lines[i] = fmt.Sprintf("%s: %s", p.Label, p.Summary)
	}
	return strings.Join(lines, "\n")
}

func (r *Router) botPacks() string {
	packs := r.state.BotPacks()
	lines := make([]string, len(packs))
	for i, p := range packs {
		lines[i] = fmt.Sprintf("%s: %s", p.Name, p.Role)
	}
	return strings.Join(lines, "\n")
}

func (r *Router) metrics() string {
	lines, err := r.state.MetricsLines()
	if err != nil || len(lines) == 0 {
		return metricsUnavailable
	}
	return strings.Join(lines, "\n")
}
