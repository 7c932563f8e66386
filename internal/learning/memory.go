package learning

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/storage"
	"OpenBoBS/pkg/logger"
)

// StateKey 是自学习状态在持久化存储中的键。
const StateKey = "openbobs-self-update-state"

const (
	defaultTopicLimit = 12
	defaultSummaryTop = 3

	// BaselinePolicy 在没有话题时使用。
	BaselinePolicy = "Baseline deterministic policy."
	// BaselineSummary 在没有话题时代替话题列表。
	BaselineSummary = "baseline (no recurring topics yet)"
)

var nonTopicChars = regexp.MustCompile(`[^a-z0-9\s-]`)

// State 是持久化的自学习状态。
type State struct {
	Version       int    `json:"version"`
	Runs          int    `json:"runs"`
	LearnedTopics Topics `json:"learnedTopics"`
}

type persistedState struct {
	State
	AdaptivePolicy string `json:"adaptivePolicy"`
}

func defaultState() State {
	return State{Version: 1}
}

// Clone 返回深拷贝。
func (s State) Clone() State {
	s.LearnedTopics = s.LearnedTopics.Clone()
	return s
}

// Memory 管理自学习状态，每次变更后立即写入存储。
type Memory struct {
	mu         sync.RWMutex
	store      storage.Store
	state      State
	topicLimit int
	summaryTop int
	logger     *slog.Logger
}

// Option 定义 Memory 的可选配置。
type Option func(*Memory)

// WithTopicLimit 设置每次任务最多提取的话题数。
func WithTopicLimit(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.topicLimit = n
		}
	}
}

// WithSummaryTop 设置摘要与策略中展示的话题数。
func WithSummaryTop(n int) Option {
	return func(m *Memory) {
		if n > 0 {
			m.summaryTop = n
		}
	}
}

// WithLogger 替换默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		if l != nil {
			m.logger = l
		}
	}
}

// New 创建尚未加载的 Memory，状态为默认值。
func New(store storage.Store, opts ...Option) *Memory {
	m := &Memory{
		store:      store,
		state:      defaultState(),
		topicLimit: defaultTopicLimit,
		summaryTop: defaultSummaryTop,
		logger:     logger.Named("learning"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Load 从存储读取状态。键不存在或内容损坏时回退到默认状态。
func (m *Memory) Load(ctx context.Context) error {
	data, err := m.store.Get(ctx, StateKey)
	if err != nil {
		if stdErrors.Is(err, storage.ErrNotFound) {
			m.reset(defaultState())
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取自学习状态失败")
	}

	var persisted persistedState
	if err := json.Unmarshal(data, &persisted); err != nil {
		m.logger.Warn("自学习状态损坏，使用默认值", slog.Any("error", err))
		m.reset(defaultState())
		return nil
	}
	state := persisted.State
	if state.Version < 1 {
		state.Version = 1
	}
	if state.Runs < 0 {
		state.Runs = 0
	}
	m.reset(state)
	return nil
}

func (m *Memory) reset(state State) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()
}

// RecordTask 记录一次任务：累计运行次数与话题词频，每 3 次升级版本，
// 然后写入存储。写入失败时内存状态保持不变。
func (m *Memory) RecordTask(ctx context.Context, text string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.state.Clone()
	next.Runs++
	for _, topic := range ExtractTopics(text, m.topicLimit) {
		next.LearnedTopics.Inc(topic)
	}
	if next.Runs%3 == 0 {
		next.Version++
	}

	payload, err := json.Marshal(persistedState{State: next, AdaptivePolicy: policyFor(next, m.summaryTop)})
	if err != nil {
		return m.state.Clone(), xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化自学习状态失败")
	}
	if err := m.store.Set(ctx, StateKey, payload); err != nil {
		return m.state.Clone(), xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存自学习状态失败")
	}
	m.state = next
	return next.Clone(), nil
}

// ExtractTopics 将文本小写化，去除字母数字、空白与连字符以外的字符，
// 保留长度大于 4 的前 limit 个词。重复的词会重复出现。
func ExtractTopics(text string, limit int) []string {
	cleaned := nonTopicChars.ReplaceAllString(strings.ToLower(text), " ")
	topics := make([]string, 0, limit)
	for _, word := range strings.Fields(cleaned) {
		if len(topics) >= limit {
			break
		}
		if len(word) > 4 {
			topics = append(topics, word)
		}
	}
	return topics
}

// Summary 返回只读摘要，例如 "v2 · 3 runs · deploy(3), staging(3), rollback(3)"。
func (m *Memory) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	top := m.state.LearnedTopics.Top(m.summaryTop)
	topics := BaselineSummary
	if len(top) > 0 {
		parts := make([]string, len(top))
		for i, tc := range top {
			parts[i] = fmt.Sprintf("%s(%d)", tc.Topic, tc.Count)
		}
		topics = strings.Join(parts, ", ")
	}
	return fmt.Sprintf("v%d · %d runs · %s", m.state.Version, m.state.Runs, topics)
}

// Policy 返回由高频话题推导出的策略文本。
func (m *Memory) Policy() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return policyFor(m.state, m.summaryTop)
}

func policyFor(state State, n int) string {
	top := state.LearnedTopics.Top(n)
	if len(top) == 0 {
		return BaselinePolicy
	}
	names := make([]string, len(top))
	for i, tc := range top {
		names[i] = tc.Topic
	}
	return fmt.Sprintf("Bias planning toward recurring concerns: %s.", strings.Join(names, ", "))
}

// Version 返回当前版本号。
func (m *Memory) Version() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Version
}

// Snapshot 返回状态的深拷贝。
func (m *Memory) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.Clone()
}
