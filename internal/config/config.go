package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"

	"OpenBoBS/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "OPENBOBS_CONFIG"

// DefaultPath 是未设置环境变量时查找的配置文件。
const DefaultPath = "configs/openbobs.jsonc"

// Config 描述了 OpenBoBS 在启动阶段需要加载的全部配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Auth         AuthConfig         `json:"auth"`
	Project      ProjectConfig      `json:"project"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
	LLM          LLMConfig          `json:"llm"`
	Storage      StorageConfig      `json:"storage"`
	Catalog      CatalogConfig      `json:"catalog"`
	TaskQueue    TaskQueueConfig    `json:"task_queue"`
	AutoRun      AutoRunConfig      `json:"autorun"`
	Alerting     AlertingConfig     `json:"alerting"`
	Logging      logger.Config      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address"`
}

// AuthConfig 控制 API 的 Bearer Token 校验。
type AuthConfig struct {
	Enabled  bool     `json:"enabled"`
	Tokens   []string `json:"tokens"`
	TokenEnv string   `json:"token_env"`
}

// ProjectConfig 是会话的初始设置。
type ProjectConfig struct {
	Name     string `json:"name"`
	Profile  string `json:"profile"`
	Autonomy bool   `json:"autonomy"`
	Cycles   int    `json:"cycles"`
	Delegate *bool  `json:"delegate"`
}

// OrchestratorConfig 控制循环执行与自学习参数。
type OrchestratorConfig struct {
	CycleCap   int `json:"cycle_cap"`
	TopicLimit int `json:"topic_limit"`
	SummaryTop int `json:"summary_top"`
	HistoryCap int `json:"history_capacity"`
}

// LLMConfig 用于配置生成服务的调用方式。
type LLMConfig struct {
	Provider       string             `json:"provider"`
	Model          string             `json:"model"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	Gateway        GatewayConfig      `json:"gateway"`
	Ollama         OllamaConfig       `json:"ollama"`
	OpenAI         OpenAIConfig       `json:"openai"`
	Gemini         GeminiConfig       `json:"gemini"`
	Python         PythonBridgeConfig `json:"python_bridge"`
}

// GatewayConfig 描述 `{model,messages}` → `{ok,reply}` 形式的网关。
type GatewayConfig struct {
	URL string `json:"url"`
}

// OllamaConfig 描述本地 Ollama 服务。
type OllamaConfig struct {
	BaseURL string `json:"base_url"`
	URLEnv  string `json:"url_env"`
}

// OpenAIConfig 描述 OpenAI 兼容接口。
type OpenAIConfig struct {
	BaseURL   string `json:"base_url"`
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// GeminiConfig 描述 Gemini API。
type GeminiConfig struct {
	APIKey    string `json:"api_key"`
	APIKeyEnv string `json:"api_key_env"`
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `json:"python_executable"`
	ScriptPath       string `json:"script_path"`
	WorkingDir       string `json:"working_dir"`
}

// StorageConfig 选择自学习状态与历史记录的持久化后端。
type StorageConfig struct {
	Driver string      `json:"driver"`
	Dir    string      `json:"dir"`
	DSN    string      `json:"dsn"`
	Path   string      `json:"path"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 连接。
type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Prefix   string `json:"prefix"`
}

// CatalogConfig 允许以 YAML 文件覆盖内置目录。
type CatalogConfig struct {
	Path string `json:"path"`
}

// TaskQueueConfig 描述异步任务队列。
type TaskQueueConfig struct {
	Driver     string      `json:"driver"`
	Buffer     int         `json:"buffer"`
	MaxRetries int         `json:"max_retries"`
	Redis      RedisQueue  `json:"redis"`
	RabbitMQ   RabbitQueue `json:"rabbitmq"`
}

// RedisQueue 描述基于 Redis 列表的队列。
type RedisQueue struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Key      string `json:"key"`
}

// RabbitQueue 描述 RabbitMQ 队列。
type RabbitQueue struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
}

// AutoRunConfig 控制周期性自动执行。
type AutoRunConfig struct {
	Enabled         bool   `json:"enabled"`
	IntervalSeconds int    `json:"interval_seconds"`
	Task            string `json:"task"`
	Playbook        string `json:"playbook"`
}

// AlertingConfig 控制异步任务最终失败时的告警渠道。日志渠道始终开启。
type AlertingConfig struct {
	WebhookURL     string `json:"webhook_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// MetricsConfig 控制独立的指标端口。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Path 返回应加载的配置文件路径，显式参数优先于环境变量。
func Path(explicit string) string {
	if strings.TrimSpace(explicit) != "" {
		return explicit
	}
	if env := strings.TrimSpace(os.Getenv(EnvConfigPath)); env != "" {
		return env
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSONC 配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	file, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// 使用默认值。
	case err != nil:
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	default:
		defer file.Close()
		content, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(content), &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回只包含默认值的配置。
func Default() *Config {
	var cfg Config
	cfg.applyDefaults(".")
	cfg.applyEnv()
	return &cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Auth.TokenEnv == "" {
		c.Auth.TokenEnv = "OPENBOBS_API_TOKEN"
	}

	if c.Project.Name == "" {
		c.Project.Name = "OpenBoBS"
	}
	if c.Project.Profile == "" {
		c.Project.Profile = "balanced"
	}
	if c.Project.Cycles == 0 {
		c.Project.Cycles = 2
	}
	if c.Project.Delegate == nil {
		delegate := true
		c.Project.Delegate = &delegate
	}

	if c.Orchestrator.CycleCap == 0 {
		c.Orchestrator.CycleCap = 5
	}
	if c.Orchestrator.TopicLimit == 0 {
		c.Orchestrator.TopicLimit = 12
	}
	if c.Orchestrator.SummaryTop == 0 {
		c.Orchestrator.SummaryTop = 3
	}
	if c.Orchestrator.HistoryCap == 0 {
		c.Orchestrator.HistoryCap = 20
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1:8b"
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 60
	}
	if c.LLM.Ollama.BaseURL == "" {
		c.LLM.Ollama.BaseURL = "http://127.0.0.1:11434"
	}
	if c.LLM.Ollama.URLEnv == "" {
		c.LLM.Ollama.URLEnv = "OLLAMA_URL"
	}
	if c.LLM.OpenAI.BaseURL == "" {
		c.LLM.OpenAI.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.Gemini.APIKeyEnv == "" {
		c.LLM.Gemini.APIKeyEnv = "GEMINI_API_KEY"
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, baseDir)
	if c.LLM.Python.ScriptPath != "" {
		c.LLM.Python.ScriptPath = resolve(baseDir, c.LLM.Python.ScriptPath, "")
	}

	c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir, filepath.Join(baseDir, "data"))

	if c.Storage.Driver == "" {
		c.Storage.Driver = "file"
	}
	c.Storage.Dir = resolve(c.Runtime.DataDir, c.Storage.Dir, c.Runtime.DataDir)
	c.Storage.Path = resolve(c.Runtime.DataDir, c.Storage.Path, filepath.Join(c.Runtime.DataDir, "openbobs.db"))
	if c.Storage.Redis.Prefix == "" {
		c.Storage.Redis.Prefix = "openbobs:"
	}

	if c.Catalog.Path != "" {
		c.Catalog.Path = resolve(baseDir, c.Catalog.Path, "")
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Buffer == 0 {
		c.TaskQueue.Buffer = 64
	}
	if c.TaskQueue.MaxRetries == 0 {
		c.TaskQueue.MaxRetries = 2
	}
	if c.TaskQueue.Redis.Key == "" {
		c.TaskQueue.Redis.Key = "openbobs:tasks"
	}
	if c.TaskQueue.RabbitMQ.Queue == "" {
		c.TaskQueue.RabbitMQ.Queue = "openbobs.tasks"
	}
	if c.TaskQueue.RabbitMQ.Prefetch == 0 {
		c.TaskQueue.RabbitMQ.Prefetch = 1
	}

	if c.AutoRun.IntervalSeconds == 0 {
		c.AutoRun.IntervalSeconds = 60
	}
	if c.AutoRun.Task == "" && c.AutoRun.Playbook == "" {
		c.AutoRun.Playbook = "mvp"
	}

	if c.Alerting.TimeoutSeconds == 0 {
		c.Alerting.TimeoutSeconds = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Path != "" {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path, "")
	}

	if c.Metrics.Address == "" {
		c.Metrics.Address = ":9090"
	}
}

// applyEnv 使用环境变量覆盖敏感或与部署相关的字段。
func (c *Config) applyEnv() {
	if url := strings.TrimSpace(os.Getenv(c.LLM.Ollama.URLEnv)); url != "" {
		c.LLM.Ollama.BaseURL = url
	}
	if key := strings.TrimSpace(os.Getenv(c.LLM.OpenAI.APIKeyEnv)); key != "" && c.LLM.OpenAI.APIKey == "" {
		c.LLM.OpenAI.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv(c.LLM.Gemini.APIKeyEnv)); key != "" && c.LLM.Gemini.APIKey == "" {
		c.LLM.Gemini.APIKey = key
	}
	if token := strings.TrimSpace(os.Getenv(c.Auth.TokenEnv)); token != "" {
		c.Auth.Tokens = append(c.Auth.Tokens, token)
	}
}

// Validate 检查配置中的枚举值与取值范围。
func (c *Config) Validate() error {
	var problems []string

	switch c.Project.Profile {
	case "balanced", "creative", "strict":
	default:
		problems = append(problems, fmt.Sprintf("project.profile %q 无效", c.Project.Profile))
	}
	if c.Project.Cycles < 1 {
		problems = append(problems, "project.cycles 必须大于 0")
	}
	if c.Orchestrator.CycleCap < 1 {
		problems = append(problems, "orchestrator.cycle_cap 必须大于 0")
	}
	if c.Orchestrator.TopicLimit < 1 || c.Orchestrator.SummaryTop < 1 || c.Orchestrator.HistoryCap < 1 {
		problems = append(problems, "orchestrator 的 topic_limit、summary_top 与 history_capacity 必须大于 0")
	}

	switch c.LLM.Provider {
	case "none", "ollama", "openai", "python_bridge":
	case "gateway":
		if c.LLM.Gateway.URL == "" {
			problems = append(problems, "llm.gateway.url 不能为空")
		}
	case "gemini":
		if c.LLM.Gemini.APIKey == "" {
			problems = append(problems, "llm.gemini 需要 API Key")
		}
	default:
		problems = append(problems, fmt.Sprintf("llm.provider %q 无效", c.LLM.Provider))
	}
	if c.LLM.Provider == "python_bridge" && c.LLM.Python.ScriptPath == "" {
		problems = append(problems, "llm.python_bridge.script_path 不能为空")
	}

	switch c.Storage.Driver {
	case "memory", "file", "sqlite":
	case "mysql":
		if c.Storage.DSN == "" {
			problems = append(problems, "storage.dsn 不能为空")
		}
	case "redis":
		if c.Storage.Redis.Address == "" {
			problems = append(problems, "storage.redis.address 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("storage.driver %q 无效", c.Storage.Driver))
	}

	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if c.TaskQueue.Redis.Address == "" {
			problems = append(problems, "task_queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if c.TaskQueue.RabbitMQ.URL == "" {
			problems = append(problems, "task_queue.rabbitmq.url 不能为空")
		}
	default:
		problems = append(problems, fmt.Sprintf("task_queue.driver %q 无效", c.TaskQueue.Driver))
	}
	if c.TaskQueue.MaxRetries < 0 {
		problems = append(problems, "task_queue.max_retries 不能为负数")
	}

	if c.AutoRun.IntervalSeconds < 10 {
		problems = append(problems, "autorun.interval_seconds 不能小于 10")
	}

	if c.Auth.Enabled && len(c.Auth.Tokens) == 0 {
		problems = append(problems, "auth 已启用但未配置任何 token")
	}

	if len(problems) > 0 {
		return fmt.Errorf("配置校验失败: %s", strings.Join(problems, "; "))
	}
	return nil
}

// DelegateEnabled 返回是否调用远程生成服务。
func (p ProjectConfig) DelegateEnabled() bool {
	return p.Delegate == nil || *p.Delegate
}

func resolve(baseDir, value, fallback string) string {
	if value == "" {
		return fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
