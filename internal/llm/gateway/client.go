package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"OpenBoBS/internal/llm"
)

const (
	providerName   = "gateway"
	defaultTimeout = 90 * time.Second
)

// Client 调用 `{model,messages}` → `{ok,reply|error}` 形式的聊天网关。
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient 创建网关客户端。
func NewClient(url string, timeout time.Duration) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("未指定网关地址")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{url: url, httpClient: &http.Client{Timeout: timeout}}, nil
}

type reply struct {
	OK    *bool  `json:"ok"`
	Reply string `json:"reply"`
	Error string `json:"error"`
}

// Chat 发送请求。`ok:false`、非 JSON 响应与空回复都视为失败。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, llm.Failure(providerName, err, "序列化网关请求失败")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, llm.Failure(providerName, err, "构建网关请求失败")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, llm.Failure(providerName, err, "请求网关失败")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, llm.Failure(providerName, err, "读取网关响应失败")
	}
	var decoded reply
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, llm.Failure(providerName,
			fmt.Errorf("status %d: %w", resp.StatusCode, err), "网关响应格式无效")
	}
	if decoded.OK == nil || !*decoded.OK {
		msg := strings.TrimSpace(decoded.Error)
		if msg == "" {
			msg = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return nil, llm.Failure(providerName, errors.New(msg), "网关返回失败")
	}
	return llm.Reply(providerName, decoded.Reply)
}
