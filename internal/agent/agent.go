package agent

import (
	"fmt"
	"strings"
	"sync"
	"time"

	xerrors "OpenBoBS/internal/errors"
)

// CodeDuplicateID 表示注册的智能体 ID 已存在。
const CodeDuplicateID xerrors.Code = "DUPLICATE_AGENT_ID"

// ErrDuplicateID 可用于 errors.Is 判断。
var ErrDuplicateID = xerrors.New(CodeDuplicateID, "agent id already registered")

func init() {
	xerrors.Register(CodeDuplicateID, xerrors.Attributes{
		Message:  "agent id already registered",
		Severity: xerrors.SeverityWarning,
	})
}

// Agent 是一个具名角色模板，为请求贡献一段指令。
type Agent struct {
	ID               string `json:"id" yaml:"id"`
	Name             string `json:"name" yaml:"name"`
	Prompt           string `json:"prompt" yaml:"prompt"`
	EnabledByDefault bool   `json:"enabled_by_default" yaml:"enabled_by_default"`
}

// Registry 按插入顺序保存智能体，只增不删。
type Registry struct {
	mu     sync.RWMutex
	agents []Agent
	index  map[string]int
	now    func() time.Time
}

// Option 定义 Registry 的可选配置。
type Option func(*Registry)

// WithClock 替换生成 ID 时使用的时钟。
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry 创建注册表并依次注册初始目录。
func NewRegistry(initial []Agent, opts ...Option) (*Registry, error) {
	r := &Registry{index: make(map[string]int), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	for _, a := range initial {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register 追加一个智能体。ID 为空时按当前时间生成。
func (r *Registry) Register(a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.registerLocked(a)
	return err
}

func (r *Registry) registerLocked(a Agent) (Agent, error) {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		a.ID = r.generateID()
	}
	if _, exists := r.index[a.ID]; exists {
		return Agent{}, xerrors.New(CodeDuplicateID, fmt.Sprintf("agent %q already registered", a.ID),
			xerrors.WithMetadata("agent_id", a.ID))
	}
	r.index[a.ID] = len(r.agents)
	r.agents = append(r.agents, a)
	return a, nil
}

// generateID 与时间挂钩，同一毫秒内的两次创建会冲突并以 DuplicateID 报告。
func (r *Registry) generateID() string {
	return fmt.Sprintf("custom-%d", r.now().UnixMilli())
}

// Create 由名称、角色与提示词构造一个新智能体并注册。
func (r *Registry) Create(name, role, prompt string) (Agent, error) {
	name = strings.TrimSpace(name)
	role = strings.TrimSpace(role)
	prompt = strings.TrimSpace(prompt)
	if name == "" || role == "" || prompt == "" {
		return Agent{}, xerrors.New(xerrors.CodeInvalidArgument, "name, role and prompt are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(Agent{
		Name:             name,
		Prompt:           fmt.Sprintf("%s. %s", strings.TrimSuffix(role, "."), prompt),
		EnabledByDefault: true,
	})
}

// All 返回按插入顺序排列的副本。
func (r *Registry) All() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Agent(nil), r.agents...)
}

// Get 查找指定 ID。
func (r *Registry) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.index[id]
	if !ok {
		return Agent{}, false
	}
	return r.agents[idx], true
}

// Len 返回已注册数量。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}
