package llm

import (
	"context"
	stdErrors "errors"
	"strings"

	xerrors "OpenBoBS/internal/errors"
)

// CodeDelegationFailure 表示远程生成调用失败，调用方会回退到本地合成。
const CodeDelegationFailure xerrors.Code = "DELEGATION_FAILURE"

func init() {
	xerrors.Register(CodeDelegationFailure, xerrors.Attributes{
		Message:   "generation backend unavailable",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
	})
}

// ErrEmptyReply 表示服务返回了空白内容。
var ErrEmptyReply = stdErrors.New("empty reply")

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message 是一条对话消息。
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 描述一次生成请求。
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Response 是生成结果。
type Response struct {
	Reply string `json:"reply"`
}

// Client 定义了调用生成服务的统一接口。
type Client interface {
	Chat(ctx context.Context, req Request) (*Response, error)
}

// Health 描述生成服务的可用状态。
type Health struct {
	OK       bool     `json:"ok"`
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
	Error    string   `json:"error,omitempty"`
}

// HealthChecker 由支持探活的客户端实现。
type HealthChecker interface {
	Health(ctx context.Context) (*Health, error)
}

// Failure 将底层错误包装为 DELEGATION_FAILURE。
func Failure(provider string, cause error, message string) error {
	return xerrors.Wrap(CodeDelegationFailure, cause, message, xerrors.WithMetadata("provider", provider))
}

// Reply 校验回复非空并构造 Response。
func Reply(provider, content string) (*Response, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, Failure(provider, ErrEmptyReply, provider+" 返回空回复")
	}
	return &Response{Reply: content}, nil
}

// SystemPrompt 返回请求中第一条 system 消息的内容。
func SystemPrompt(messages []Message) string {
	for _, m := range messages {
		if m.Role == RoleSystem {
			return m.Content
		}
	}
	return ""
}
