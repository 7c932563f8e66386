package orchestrator

import (
	"fmt"
	"strings"

	"OpenBoBS/internal/agent"
	"OpenBoBS/internal/llm"
)

// SystemMessage 是每次委托请求的系统提示词。
const SystemMessage = "You are an enterprise AI deployment orchestrator."

// cycleContext 是单个循环组装提示词与回退文本所需的全部输入。
type cycleContext struct {
	project        string
	profile        Profile
	learning       string
	adaptivePolicy string
	cycle          int
	total          int
	agents         []agent.Agent
	task           string
}

func (c cycleContext) prompt() string {
	names := make([]string, len(c.agents))
	for i, a := range c.agents {
		names[i] = a.Name
	}
	return strings.Join([]string{
		"Project: " + c.project,
		"Profile: " + string(c.profile),
		"Policy: " + c.profile.Policy(),
		"Self-Learning: " + c.learning,
		"Adaptive Policy: " + c.adaptivePolicy,
		fmt.Sprintf("Cycle: %d/%d", c.cycle, c.total),
		"Agents: " + strings.Join(names, ", "),
		"Task: " + c.task,
	}, "\n")
}

func (c cycleContext) messages() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: SystemMessage},
		{Role: llm.RoleUser, Content: c.prompt()},
	}
}

// fallback 在本地确定性地合成输出，至少包含循环标记与收尾行，不会为空。
func (c cycleContext) fallback() string {
	blocks := make([]string, 0, len(c.agents)+4)
	blocks = append(blocks,
		fmt.Sprintf("Cycle %d/%d", c.cycle, c.total),
		fmt.Sprintf("Profile: %s (%s)", c.profile, c.profile.Policy()),
		"Adaptive policy: "+c.adaptivePolicy,
	)
	for _, a := range c.agents {
		blocks = append(blocks, fmt.Sprintf("%s\n- %s\n- Task: %s", a.Name, a.Prompt, c.task))
	}
	blocks = append(blocks, "Deployment summary\nOffline deterministic fallback completed.")
	return strings.Join(blocks, "\n\n")
}
