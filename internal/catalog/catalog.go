package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"OpenBoBS/internal/agent"
	xerrors "OpenBoBS/internal/errors"
)

//go:embed defaults.yaml
var defaultCatalog []byte

// Playbook 是预置的任务模板。
type Playbook struct {
	ID      string `json:"id" yaml:"id"`
	Label   string `json:"label" yaml:"label"`
	Summary string `json:"summary" yaml:"summary"`
	Prompt  string `json:"prompt" yaml:"prompt"`
}

// BotPack 是可一键注册的智能体模板。
type BotPack struct {
	Name   string `json:"name" yaml:"name"`
	Role   string `json:"role" yaml:"role"`
	Prompt string `json:"prompt" yaml:"prompt"`
}

// Catalog 汇总启动时加载的智能体、剧本与模板。
type Catalog struct {
	Agents    []agent.Agent `json:"agents" yaml:"agents"`
	Playbooks []Playbook    `json:"playbooks" yaml:"playbooks"`
	BotPacks  []BotPack     `json:"bot_packs" yaml:"bot_packs"`
}

// Default 返回内置目录。
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Parse 解析 YAML 格式的目录并校验。
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析目录失败")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load 读取内置目录，path 非空时用文件中出现的分区覆盖内置内容。
func Load(path string) (*Catalog, error) {
	base, err := Default()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取目录文件失败",
			xerrors.WithMetadata("path", path))
	}
	var override Catalog
	if err := yaml.Unmarshal(data, &override); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析目录文件失败",
			xerrors.WithMetadata("path", path))
	}

	if override.Agents != nil {
		base.Agents = override.Agents
	}
	if override.Playbooks != nil {
		base.Playbooks = override.Playbooks
	}
	if override.BotPacks != nil {
		base.BotPacks = override.BotPacks
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate 校验 ID 唯一且必填字段不为空。
func (c *Catalog) Validate() error {
	seen := make(map[string]struct{}, len(c.Agents))
	for i, a := range c.Agents {
		if strings.TrimSpace(a.ID) == "" || strings.TrimSpace(a.Name) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个智能体缺少 id 或 name", i+1))
		}
		if _, dup := seen[a.ID]; dup {
			return xerrors.New(agent.CodeDuplicateID, fmt.Sprintf("智能体 %q 重复", a.ID))
		}
		seen[a.ID] = struct{}{}
	}

	seen = make(map[string]struct{}, len(c.Playbooks))
	for i, p := range c.Playbooks {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Prompt) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个剧本缺少 id 或 prompt", i+1))
		}
		if _, dup := seen[p.ID]; dup {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("剧本 %q 重复", p.ID))
		}
		seen[p.ID] = struct{}{}
	}

	for i, b := range c.BotPacks {
		if strings.TrimSpace(b.Name) == "" || strings.TrimSpace(b.Role) == "" || strings.TrimSpace(b.Prompt) == "" {
			return xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("第 %d 个模板字段不完整", i+1))
		}
	}
	return nil
}

// Playbook 按 ID 查找剧本。
func (c *Catalog) Playbook(id string) (Playbook, bool) {
	for _, p := range c.Playbooks {
		if p.ID == id {
			return p, true
		}
	}
	return Playbook{}, false
}
