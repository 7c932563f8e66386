package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"OpenBoBS/internal/api"
	"OpenBoBS/internal/autorun"
	"OpenBoBS/internal/config"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/task"
	"OpenBoBS/pkg/logger"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "启动 HTTP 接口、异步任务处理器与自动运行调度器",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.Server.Address = addr
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "覆盖 server.address")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	lg := logger.Named("openbobsd")
	a, err := wireApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	queue, err := openQueue(ctx, cfg.TaskQueue)
	if err != nil {
		return err
	}
	taskStore := task.NewMemoryStore()
	tasks := task.NewService(taskStore, queue, cfg.TaskQueue.MaxRetries)
	defer tasks.Close()
	processor := task.NewProcessor(a.orch, taskStore, queue, queue,
		task.WithAlertDispatcher(newAlerts(cfg.Alerting)),
	)

	authSvc, err := newAuth(cfg.Auth)
	if err != nil {
		return err
	}

	autoTask := cfg.AutoRun.Task
	if autoTask == "" {
		if p, ok := a.catalog.Playbook(cfg.AutoRun.Playbook); ok {
			autoTask = p.Prompt
		}
	}
	scheduler := autorun.New(a.orch, autoTask, autorun.Interval(cfg.AutoRun.IntervalSeconds))

	opts := []api.Option{
		api.WithTaskService(tasks),
		api.WithGeneration(a.provider, a.client),
		api.WithRuntimeMetrics(a.runtime),
		api.WithAutoRun(scheduler),
		api.WithRuntimeInfo(runtimeInfo(cfg.Server.Address, a.provider, cfg.LLM.Ollama.BaseURL)),
	}
	if authSvc != nil {
		opts = append(opts, api.WithAuth(authSvc))
	}
	server := api.NewServer(cfg.Server.Address, a.orch, opts...)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error {
		if err := processor.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address, a.runtime) })
	}
	if cfg.AutoRun.Enabled {
		scheduler.Start(gctx)
	}
	lg.Info("OpenBoBS 已启动",
		slog.String("addr", cfg.Server.Address),
		slog.String("provider", a.provider),
		slog.String("storage", cfg.Storage.Driver),
		slog.String("queue", cfg.TaskQueue.Driver),
		slog.Bool("autorun", cfg.AutoRun.Enabled),
	)

	err = g.Wait()
	scheduler.Stop()
	lg.Info("OpenBoBS 已停止")
	return err
}

func runtimeInfo(addr, provider, ollamaURL string) api.RuntimeInfo {
	info := api.RuntimeInfo{Provider: provider}
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		info.Host = host
		info.Port, _ = strconv.Atoi(port)
	}
	if info.Host == "" {
		info.Host = "0.0.0.0"
	}
	if provider == "ollama" {
		info.OllamaURL = ollamaURL
	}
	return info
}
