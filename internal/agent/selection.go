package agent

import "sync"

// Selection 记录每个智能体是否启用。它只保存 ID，选中集合在查询时从
// Registry 推导，因此不会出现注册表之外的 ID。
type Selection struct {
	mu       sync.RWMutex
	registry *Registry
	flags    map[string]bool
}

// NewSelection 创建与注册表绑定的选择集。没有显式标记的智能体沿用
// EnabledByDefault。
func NewSelection(registry *Registry) *Selection {
	return &Selection{registry: registry, flags: make(map[string]bool)}
}

// Selected 按注册顺序返回当前启用的智能体。
func (s *Selection) Selected() []Agent {
	all := s.registry.All()

	s.mu.RLock()
	defer s.mu.RUnlock()
	selected := make([]Agent, 0, len(all))
	for _, a := range all {
		if s.enabledLocked(a) {
			selected = append(selected, a)
		}
	}
	return selected
}

// IsSelected 判断指定 ID 是否启用，未注册的 ID 返回 false。
func (s *Selection) IsSelected(id string) bool {
	a, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabledLocked(a)
}

func (s *Selection) enabledLocked(a Agent) bool {
	if enabled, ok := s.flags[a.ID]; ok {
		return enabled
	}
	return a.EnabledByDefault
}

// Toggle 设置单个智能体的启用状态。未注册的 ID 直接忽略。
func (s *Selection) Toggle(id string, enabled bool) {
	if _, ok := s.registry.Get(id); !ok {
		return
	}
	s.mu.Lock()
	s.flags[id] = enabled
	s.mu.Unlock()
}

// SetAll 统一设置所有已注册智能体的状态。
func (s *Selection) SetAll(enabled bool) {
	all := s.registry.All()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range all {
		s.flags[a.ID] = enabled
	}
}

// IDs 返回启用的 ID 列表。
func (s *Selection) IDs() []string {
	selected := s.Selected()
	ids := make([]string, len(selected))
	for i, a := range selected {
		ids[i] = a.ID
	}
	return ids
}

// Count 返回启用数量。
func (s *Selection) Count() int {
	return len(s.Selected())
}
