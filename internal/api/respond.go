package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"OpenBoBS/internal/agent"
	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/internal/task"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	OK    bool   `json:"ok"`
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	code := xerrors.CodeOf(err)
	writeJSON(w, statusFor(code), errorBody{OK: false, Code: string(code), Error: xerrors.UserMessage(err)})
}

func statusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInvalidArgument, orchestrator.CodeNoAgentsSelected, history.CodeIndexOutOfRange:
		return http.StatusBadRequest
	case xerrors.CodeNotFound, task.CodeTaskNotFound, orchestrator.CodeUnknownPlaybook:
		return http.StatusNotFound
	case xerrors.CodeConflict, agent.CodeDuplicateID, task.CodeTaskConflict:
		return http.StatusConflict
	case xerrors.CodeInitializationFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && err != io.EOF {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败")
	}
	return nil
}

// statusRecorder 捕获响应状态码，供指标中间件使用。
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusRecorder) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// observe 记录每个路由的请求数与耗时。
func observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(route, r.Method, rec.status, time.Since(start))
	})
}
