package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"OpenBoBS/internal/agent"
	"OpenBoBS/internal/auth"
	"OpenBoBS/internal/catalog"
	"OpenBoBS/internal/config"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/learning"
	"OpenBoBS/internal/llm"
	"OpenBoBS/internal/llm/gateway"
	"OpenBoBS/internal/llm/gemini"
	"OpenBoBS/internal/llm/ollama"
	"OpenBoBS/internal/llm/openai"
	"OpenBoBS/internal/llm/pythonbridge"
	"OpenBoBS/internal/observability/alerting"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/internal/storage"
	"OpenBoBS/internal/storage/mysql"
	"OpenBoBS/internal/storage/redis"
	"OpenBoBS/internal/storage/sqlite"
	"OpenBoBS/internal/task"
	"OpenBoBS/pkg/logger"
)

// app 汇总一次进程内共享的组件。
type app struct {
	cfg      *config.Config
	store    storage.Store
	catalog  *catalog.Catalog
	orch     *orchestrator.Orchestrator
	runtime  *metrics.Runtime
	client   llm.Client
	provider string
}

func (a *app) Close() error {
	if a == nil || a.store == nil {
		return nil
	}
	return a.store.Close()
}

func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store, runtime: metrics.NewRuntime(), provider: cfg.LLM.Provider}
	if err := a.build(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(ctx context.Context) error {
	cfg := a.cfg
	cat, err := loadCatalog(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	a.catalog = cat

	client, err := newLLMClient(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	a.client = client

	registry, err := agent.NewRegistry(cat.Agents)
	if err != nil {
		return err
	}
	selection := agent.NewSelection(registry)

	memory := learning.New(a.store,
		learning.WithTopicLimit(cfg.Orchestrator.TopicLimit),
		learning.WithSummaryTop(cfg.Orchestrator.SummaryTop),
	)
	if err := memory.Load(ctx); err != nil {
		return err
	}
	log := history.New(a.store, history.WithCapacity(cfg.Orchestrator.HistoryCap))
	if err := log.Load(ctx); err != nil {
		return err
	}

	runner := orchestrator.NewRunner(selection, memory, log, client,
		orchestrator.WithCycleCap(cfg.Orchestrator.CycleCap),
		orchestrator.WithCallTimeout(time.Duration(cfg.LLM.TimeoutSeconds)*time.Second),
		orchestrator.WithRuntimeMetrics(a.runtime),
	)
	profile, err := orchestrator.ParseProfile(cfg.Project.Profile)
	if err != nil {
		return err
	}
	orch, err := orchestrator.New(orchestrator.Deps{
		Registry:  registry,
		Selection: selection,
		Memory:    memory,
		History:   log,
		Catalog:   cat,
		Runner:    runner,
		Runtime:   a.runtime,
	}, orchestrator.Settings{
		ProjectName: cfg.Project.Name,
		Profile:     profile,
		Autonomy:    orchestrator.Autonomy{Enabled: cfg.Project.Autonomy, Cycles: cfg.Project.Cycles},
		Delegate:    cfg.Project.DelegateEnabled(),
		Model:       cfg.LLM.Model,
	})
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

func loadCatalog(path string) (*catalog.Catalog, error) {
	if strings.TrimSpace(path) == "" {
		return catalog.Default()
	}
	return catalog.Load(path)
}

// openStore 根据驱动名打开自学习状态与历史记录的存储。
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case "memory":
		return storage.NewMemoryStore(), nil
	case "", "file":
		return storage.NewFileStore(cfg.Dir)
	case "sqlite":
		return sqlite.Open(ctx, cfg.Path)
	case "mysql":
		return mysql.Open(ctx, mysql.Config{DSN: cfg.DSN})
	case "redis":
		return redis.Open(ctx, redis.Config{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Driver)
	}
}

// newLLMClient 根据 provider 创建生成服务客户端。provider 为 none 时返回 nil，
// 所有循环都会使用本地合成。
func newLLMClient(ctx context.Context, cfg config.LLMConfig) (llm.Client, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "", "ollama":
		return ollama.NewClient(cfg.Ollama.BaseURL, ollama.WithModel(cfg.Model), ollama.WithTimeout(timeout)), nil
	case "gateway":
		return gateway.NewClient(cfg.Gateway.URL, timeout)
	case "openai":
		if strings.TrimSpace(cfg.OpenAI.APIKey) == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 api_key_env")
		}
		return openai.NewClient(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.Model,
			Timeout: timeout,
		})
	case "gemini":
		return gemini.NewClient(ctx, cfg.Gemini.APIKey, cfg.Model)
	case "python_bridge":
		script := pythonbridge.ResolveScriptPath(cfg.Python.WorkingDir, cfg.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.Python.PythonExecutable, script, cfg.Python.WorkingDir)
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.Provider)
	}
}

// openQueue 根据驱动名创建异步任务队列。
func openQueue(ctx context.Context, cfg config.TaskQueueConfig) (task.Queue, error) {
	switch cfg.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return task.NewRedisQueue(ctx, task.RedisQueueConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Driver)
	}
}

func newAlerts(cfg config.AlertingConfig) *alerting.FanoutDispatcher {
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alert")}}
	if url := strings.TrimSpace(cfg.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, time.Duration(cfg.TimeoutSeconds)*time.Second))
	}
	return alerting.NewFanout(notifiers...)
}

func newAuth(cfg config.AuthConfig) (*auth.Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	svc, err := auth.NewService(auth.Config{Enabled: true, Tokens: cfg.Tokens})
	if err != nil {
		return nil, err
	}
	logger.Named("auth").Info("API 认证已启用", slog.Int("tokens", len(cfg.Tokens)))
	return svc, nil
}
