package orchestrator

import "time"

// Stage 是一次运行中的进度阶段。
type Stage string

const (
	StageRequestCaptured    Stage = "request_captured"
	StageSelfLearningUpdate Stage = "self_learning_update"
	StageAgentComposition   Stage = "agent_composition"
	StageExecution          Stage = "execution"
	StageDeploymentSummary  Stage = "deployment_summary"
)

// 执行阶段的输出来源。
const (
	SourceRemote   = "remote"
	SourceFallback = "fallback"
)

// Event 描述运行过程中的一个进度节点。Execution 事件携带该循环的完整输出。
type Event struct {
	RunID  string    `json:"run_id"`
	Stage  Stage     `json:"stage"`
	Cycle  int       `json:"cycle,omitempty"`
	Total  int       `json:"total,omitempty"`
	Source string    `json:"source,omitempty"`
	Agents []string  `json:"agents,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Output string    `json:"output,omitempty"`
	At     time.Time `json:"at"`
}

// Observer 接收进度事件。实现必须快速返回，运行在持有运行锁的协程中。
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc 允许普通函数作为 Observer。
type ObserverFunc func(Event)

// OnEvent 实现 Observer。
func (f ObserverFunc) OnEvent(e Event) { f(e) }
