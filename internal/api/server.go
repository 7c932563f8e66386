package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"OpenBoBS/internal/auth"
	"OpenBoBS/internal/autorun"
	"OpenBoBS/internal/llm"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/internal/task"
	"OpenBoBS/pkg/logger"
)

// RuntimeInfo 是 /api/runtime 返回的运行信息。
type RuntimeInfo struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	OllamaURL string `json:"ollamaUrl,omitempty"`
	Provider  string `json:"provider"`
}

// Server 负责暴露 REST 接口，供外部驱动编排。
type Server struct {
	addr     string
	orch     *orchestrator.Orchestrator
	tasks    *task.Service
	client   llm.Client
	provider string
	runtime  *metrics.Runtime
	auth     *auth.Service
	autorun  *autorun.Scheduler
	info     RuntimeInfo
	logger   *slog.Logger
	base     context.Context
}

// Option 定义 Server 的可选配置。
type Option func(*Server)

// WithTaskService 启用异步任务接口。
func WithTaskService(svc *task.Service) Option {
	return func(s *Server) { s.tasks = svc }
}

// WithGeneration 配置健康检查与 /api/chat 使用的生成服务。
func WithGeneration(provider string, client llm.Client) Option {
	return func(s *Server) {
		s.provider = provider
		s.client = client
	}
}

// WithRuntimeMetrics 指定运行计数器。
func WithRuntimeMetrics(r *metrics.Runtime) Option {
	return func(s *Server) { s.runtime = r }
}

// WithAuth 为接口启用 Bearer Token 校验。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) { s.auth = svc }
}

// WithAutoRun 暴露自动运行的控制接口。
func WithAutoRun(sched *autorun.Scheduler) Option {
	return func(s *Server) { s.autorun = sched }
}

// WithRuntimeInfo 设置 /api/runtime 的返回内容。
func WithRuntimeInfo(info RuntimeInfo) Option {
	return func(s *Server) { s.info = info }
}

// WithLogger 替换默认日志器。
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{addr: addr, orch: orch, logger: logger.Named("api")}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler 返回带认证与指标中间件的路由。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.routes(mux)

	h := observe(mux)
	if s.auth != nil {
		h = s.auth.Middleware(auth.MiddlewareConfig{
			PublicPrefixes: []string{"/api/health", "/metrics"},
			Unauthorized: func(w http.ResponseWriter, _ *http.Request, err error) {
				writeJSON(w, http.StatusUnauthorized, errorBody{OK: false, Code: "UNAUTHORIZED", Error: err.Error()})
			},
		})(h)
	}
	return h
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/submit", s.handleSubmit)

	mux.HandleFunc("POST /api/v1/tasks", s.handleCreateTask)
	mux.HandleFunc("GET /api/v1/tasks", s.handleListTasks)
	mux.HandleFunc("GET /api/v1/tasks/stats", s.handleTaskStats)
	mux.HandleFunc("GET /api/v1/tasks/{id}", s.handleTaskDetail)

	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("POST /api/v1/history/{index}/replay", s.handleReplay)
	mux.HandleFunc("GET /api/v1/memory", s.handleMemory)

	mux.HandleFunc("GET /api/v1/agents", s.handleListAgents)
	mux.HandleFunc("POST /api/v1/agents", s.handleCreateAgent)
	mux.HandleFunc("PUT /api/v1/agents/{id}", s.handleToggleAgent)
	mux.HandleFunc("POST /api/v1/agents/select-all", s.handleSelectAll)
	mux.HandleFunc("POST /api/v1/agents/clear", s.handleClearAgents)

	mux.HandleFunc("GET /api/v1/playbooks", s.handlePlaybooks)
	mux.HandleFunc("POST /api/v1/playbooks/{id}/run", s.handleRunPlaybook)
	mux.HandleFunc("GET /api/v1/botpacks", s.handleBotPacks)
	mux.HandleFunc("POST /api/v1/botpacks/{index}/apply", s.handleApplyBotPack)

	mux.HandleFunc("GET /api/v1/settings", s.handleGetSettings)
	mux.HandleFunc("PUT /api/v1/settings", s.handleUpdateSettings)
	mux.HandleFunc("GET /api/v1/export", s.handleExport)

	mux.HandleFunc("GET /api/v1/autorun", s.handleAutoRunStatus)
	mux.HandleFunc("POST /api/v1/autorun/start", s.handleAutoRunStart)
	mux.HandleFunc("POST /api/v1/autorun/stop", s.handleAutoRunStop)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/runtime", s.handleRuntime)
	mux.HandleFunc("GET /api/runtime/metrics", s.handleRuntimeMetrics)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.Handle("GET /metrics", metrics.Handler(s.runtime))
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info("API 服务已启动", slog.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}

func (s *Server) baseContext() context.Context {
	if s.base != nil {
		return s.base
	}
	return context.Background()
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody{OK: false, Code: "UNAVAILABLE", Error: "服务已关闭"})
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
