package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/llm"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/internal/task"
)

type submitRequest struct {
	Text string `json:"text"`
}

type taskRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

type agentRequest struct {
	Name   string `json:"name"`
	Role   string `json:"role"`
	Prompt string `json:"prompt"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

var errTasksDisabled = xerrors.New(xerrors.CodeInitializationFailure, "异步任务未启用")

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if stream := r.URL.Query().Get("stream"); stream == "1" || stream == "true" {
		s.streamSubmit(w, r, req.Text)
		return
	}
	res, err := s.orch.SubmitTask(r.Context(), req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// streamSubmit 以 Server-Sent Events 输出进度事件，最后输出 result 或 error 事件。
func (s *Server) streamSubmit(w http.ResponseWriter, r *http.Request, text string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "当前连接不支持流式输出"))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	send := func(event string, payload any) {
		data, _ := json.Marshal(payload)
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
		flusher.Flush()
	}
	res, err := s.orch.SubmitTaskWithObserver(r.Context(), text, orchestrator.ObserverFunc(func(e orchestrator.Event) {
		send(string(e.Stage), e)
	}))
	if err != nil {
		code := xerrors.CodeOf(err)
		send("error", errorBody{OK: false, Code: string(code), Error: xerrors.UserMessage(err)})
		return
	}
	send("result", res)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, errTasksDisabled)
		return
	}
	var req taskRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := history.ModeManual
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := history.ParseMode(req.Mode)
		if err != nil {
			writeError(w, err)
			return
		}
		mode = parsed
	}
	t, err := s.tasks.Submit(r.Context(), req.Text, mode)
	if err != nil {
		writeError(w, err)
		return
	}
	s.runtime.Inc(metrics.TasksQueued)
	writeJSON(w, http.StatusAccepted, t)
}

func listOptions(r *http.Request) []task.ListOption {
	q := r.URL.Query()
	var opts []task.ListOption
	if raw := q.Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			opts = append(opts, task.WithLimit(limit))
		}
	}
	if raw := q.Get("status"); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			statuses = append(statuses, task.Status(strings.ToLower(strings.TrimSpace(part))))
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	if raw := q.Get("q"); raw != "" {
		opts = append(opts, task.WithQuery(raw))
	}
	if q.Get("order") == "asc" {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, errTasksDisabled)
		return
	}
	tasks, err := s.tasks.List(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, errTasksDisabled)
		return
	}
	stats, err := s.tasks.Stats(r.Context(), listOptions(r)...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleTaskDetail(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeError(w, errTasksDisabled)
		return
	}
	t, err := s.tasks.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.HistoryEntries())
}

func pathIndex(r *http.Request, name string) (int, error) {
	raw := r.PathValue(name)
	index, err := strconv.Atoi(raw)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("%s 必须是整数", name))
	}
	return index, nil
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.orch.Replay(r.Context(), index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMemory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"summary": s.orch.MemorySummary(),
		"policy":  s.orch.MemoryPolicy(),
		"state":   s.orch.MemoryState(),
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Agents())
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req agentRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	a, err := s.orch.RegisterAgent(req.Name, req.Role, req.Prompt)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orchestrator.AgentView{Agent: a, Selected: true})
}

func (s *Server) handleToggleAgent(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "enabled 不能为空"))
		return
	}
	s.orch.ToggleAgent(r.PathValue("id"), *req.Enabled)
	writeJSON(w, http.StatusOK, s.orch.Agents())
}

func (s *Server) handleSelectAll(w http.ResponseWriter, _ *http.Request) {
	s.orch.SelectAll()
	writeJSON(w, http.StatusOK, s.orch.Agents())
}

func (s *Server) handleClearAgents(w http.ResponseWriter, _ *http.Request) {
	s.orch.ClearAll()
	writeJSON(w, http.StatusOK, s.orch.Agents())
}

func (s *Server) handlePlaybooks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Catalog().Playbooks)
}

func (s *Server) handleRunPlaybook(w http.ResponseWriter, r *http.Request) {
	res, err := s.orch.RunPlaybook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBotPacks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Catalog().BotPacks)
}

func (s *Server) handleApplyBotPack(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		writeError(w, err)
		return
	}
	a, err := s.orch.ApplyBotPack(index)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orchestrator.AgentView{Agent: a, Selected: true})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.SettingsUpdate
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	settings, err := s.orch.UpdateSettings(req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleExport(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="openbobs-session.json"`)
	writeJSON(w, http.StatusOK, s.orch.Export())
}

func (s *Server) handleAutoRunStatus(w http.ResponseWriter, _ *http.Request) {
	if s.autorun == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "自动运行未配置"))
		return
	}
	writeJSON(w, http.StatusOK, s.autorun.Status())
}

func (s *Server) handleAutoRunStart(w http.ResponseWriter, _ *http.Request) {
	if s.autorun == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "自动运行未配置"))
		return
	}
	// 调度循环的生命周期独立于本次请求。
	s.autorun.Start(s.baseContext())
	writeJSON(w, http.StatusOK, s.autorun.Status())
}

func (s *Server) handleAutoRunStop(w http.ResponseWriter, _ *http.Request) {
	if s.autorun == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "自动运行未配置"))
		return
	}
	s.autorun.Stop()
	writeJSON(w, http.StatusOK, s.autorun.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.runtime.Inc(metrics.HealthChecks)
	health := llm.Health{OK: s.client != nil, Provider: s.provider, Models: []string{}}
	if s.client == nil {
		health.Error = "generation disabled"
	}
	if checker, ok := s.client.(llm.HealthChecker); ok {
		h, err := checker.Health(r.Context())
		switch {
		case err != nil:
			health.OK = false
			health.Error = err.Error()
		case h != nil:
			health = *h
			if health.Provider == "" {
				health.Provider = s.provider
			}
			if health.Models == nil {
				health.Models = []string{}
			}
		}
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleRuntime(w http.ResponseWriter, _ *http.Request) {
	s.runtime.Inc(metrics.RuntimeChecks)
	writeJSON(w, http.StatusOK, struct {
		OK bool `json:"ok"`
		RuntimeInfo
	}{OK: true, RuntimeInfo: s.info})
}

func (s *Server) handleRuntimeMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.runtime == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "metrics disabled"))
		return
	}
	writeJSON(w, http.StatusOK, s.runtime.Snapshot())
}

type chatReply struct {
	OK    bool   `json:"ok"`
	Reply string `json:"reply,omitempty"`
	Error string `json:"error,omitempty"`
}

// handleChat 把 {model, messages} 转发给生成服务，结果统一为 {ok, reply|error}。
// 生成服务不可用时仍返回 200，由调用方根据 ok 判断。
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	s.runtime.Inc(metrics.ChatRequests)
	var req llm.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "messages 不能为空"))
		return
	}
	if s.client == nil {
		writeJSON(w, http.StatusOK, chatReply{OK: false, Error: "generation disabled"})
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		req.Model = s.orch.Settings().Model
	}
	resp, err := s.client.Chat(r.Context(), req)
	if err != nil {
		writeJSON(w, http.StatusOK, chatReply{OK: false, Error: xerrors.UserMessage(err)})
		return
	}
	writeJSON(w, http.StatusOK, chatReply{OK: true, Reply: resp.Reply})
}
