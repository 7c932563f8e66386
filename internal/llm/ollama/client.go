package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OpenBoBS/internal/llm"
)

const (
	providerName   = "ollama"
	defaultBaseURL = "http://127.0.0.1:11434"
	defaultModel   = "llama3.1:8b"
	chatTimeout    = 90 * time.Second
	healthTimeout  = 5 * time.Second
)

// Client 调用本地 Ollama 服务。
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	healthHTTP *http.Client
}

// Option 定义 Client 的可选配置。
type Option func(*Client)

// WithModel 设置请求未指定模型时使用的模型。
func WithModel(model string) Option {
	return func(c *Client) {
		if strings.TrimSpace(model) != "" {
			c.model = strings.TrimSpace(model)
		}
	}
}

// WithTimeout 设置聊天请求超时。
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient 创建 Ollama 客户端。
func NewClient(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		model:      defaultModel,
		httpClient: &http.Client{Timeout: chatTimeout},
		healthHTTP: &http.Client{Timeout: healthTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// BaseURL 返回服务地址。
func (c *Client) BaseURL() string { return c.baseURL }

// Chat 调用 /api/chat，关闭流式输出。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"stream":   false,
		"messages": req.Messages,
	})
	if err != nil {
		return nil, llm.Failure(providerName, err, "序列化 Ollama 请求失败")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Failure(providerName, err, "构建 Ollama 请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.Failure(providerName, err, "Ollama unavailable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, llm.Failure(providerName,
			fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), "Ollama 返回错误状态")
	}

	var decoded struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.Failure(providerName, err, "解析 Ollama 响应失败")
	}
	return llm.Reply(providerName, decoded.Message.Content)
}

// Health 调用 /api/tags 列出本地模型。
func (c *Client) Health(ctx context.Context) (*llm.Health, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, llm.Failure(providerName, err, "构建 Ollama 请求失败")
	}
	resp, err := c.healthHTTP.Do(httpReq)
	if err != nil {
		return nil, llm.Failure(providerName, err, "Ollama unavailable")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, llm.Failure(providerName, fmt.Errorf("status %d", resp.StatusCode), "Ollama 返回错误状态")
	}

	var decoded struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, llm.Failure(providerName, err, "解析 Ollama 响应失败")
	}
	models := make([]string, 0, len(decoded.Models))
	for _, m := range decoded.Models {
		models = append(models, m.Name)
	}
	return &llm.Health{OK: true, Provider: providerName, Models: models}, nil
}
