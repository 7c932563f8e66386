package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type routeKey struct {
	handler string
	method  string
}

type requestKey struct {
	routeKey
	code string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type httpCollector struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	errors   map[routeKey]uint64
	latency  map[routeKey]*histogram
}

var defaultHTTP = newHTTPCollector()

func newHTTPCollector() *httpCollector {
	return &httpCollector{
		requests: make(map[requestKey]uint64),
		errors:   make(map[routeKey]uint64),
		latency:  make(map[routeKey]*histogram),
	}
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	defaultHTTP.observe(handler, method, status, duration)
}

func (c *httpCollector) observe(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	route := routeKey{handler: handler, method: method}
	c.requests[requestKey{routeKey: route, code: strconv.Itoa(status)}]++
	if status >= 500 {
		c.errors[route]++
	}

	hist := c.latency[route]
	if hist == nil {
		hist = newHistogram()
		c.latency[route] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 90}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe 使用累计桶，超出最后一个上界的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			h.counts[idx]++
		}
	}
}

func (c *httpCollector) render(b *strings.Builder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reqs := make([]requestKey, 0, len(c.requests))
	for key := range c.requests {
		reqs = append(reqs, key)
	}
	sort.Slice(reqs, func(i, j int) bool {
		if reqs[i].routeKey == reqs[j].routeKey {
			return reqs[i].code < reqs[j].code
		}
		return lessRoute(reqs[i].routeKey, reqs[j].routeKey)
	})
	errs := sortedRoutes(c.errors)
	lats := make([]routeKey, 0, len(c.latency))
	for key := range c.latency {
		lats = append(lats, key)
	}
	sort.Slice(lats, func(i, j int) bool { return lessRoute(lats[i], lats[j]) })

	b.WriteString("# HELP openbobs_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE openbobs_http_requests_total counter\n")
	for _, key := range reqs {
		fmt.Fprintf(b, "openbobs_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), escape(key.code), c.requests[key])
	}

	b.WriteString("# HELP openbobs_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	b.WriteString("# TYPE openbobs_http_request_errors_total counter\n")
	for _, key := range errs {
		fmt.Fprintf(b, "openbobs_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(key.handler), escape(key.method), c.errors[key])
	}

	b.WriteString("# HELP openbobs_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE openbobs_http_request_duration_seconds histogram\n")
	for _, key := range lats {
		hist := c.latency[key]
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(key.handler), escape(key.method))
		for idx, bound := range hist.buckets {
			fmt.Fprintf(b, "openbobs_http_request_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(b, "openbobs_http_request_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, hist.count)
		fmt.Fprintf(b, "openbobs_http_request_duration_seconds_sum{%s} %s\n", labels, formatFloat(hist.sum))
		fmt.Fprintf(b, "openbobs_http_request_duration_seconds_count{%s} %d\n", labels, hist.count)
	}
}

func sortedRoutes(m map[routeKey]uint64) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return lessRoute(keys[i], keys[j]) })
	return keys
}

func lessRoute(a, b routeKey) bool {
	if a.handler == b.handler {
		return a.method < b.method
	}
	return a.handler < b.handler
}

// Handler exposes the HTTP and runtime metrics in Prometheus text format.
func Handler(runtime *Runtime) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, Render(runtime))
	})
}

// Render returns the exposition text for the default HTTP collector and the
// given runtime counters (which may be nil).
func Render(runtime *Runtime) string {
	var b strings.Builder
	b.Grow(2048)
	defaultHTTP.render(&b)
	if runtime != nil {
		runtime.render(&b)
	}
	return b.String()
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing /metrics and blocks
// until ctx is cancelled.
func StartServer(ctx context.Context, addr string, runtime *Runtime) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(runtime))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
