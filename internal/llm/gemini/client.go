package gemini

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/llm"
)

const (
	providerName = "gemini"
	defaultModel = "gemini-2.5-flash"
)

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client 通过 Gemini API 生成回复。
type Client struct {
	models generator
	model  string
}

// NewClient 创建 Gemini 客户端。
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未提供 Gemini API Key",
			xerrors.WithMetadata("provider", providerName))
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llm.Failure(providerName, err, "创建 Gemini 客户端失败")
	}
	return newWithGenerator(client.Models, model), nil
}

func newWithGenerator(models generator, model string) *Client {
	model = strings.TrimSpace(model)
	if model == "" {
		model = defaultModel
	}
	return &Client{models: models, model: model}
}

// Chat 将 system 消息作为系统指令，其余消息按角色转换为对话内容。
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := c.model
	// Ollama 风格的模型名对 Gemini 无效，只接受 gemini 前缀的覆盖。
	if m := strings.TrimSpace(req.Model); strings.HasPrefix(m, "gemini") {
		model = m
	}

	var config *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case llm.RoleSystem:
			config = &genai.GenerateContentConfig{
				SystemInstruction: genai.NewContentFromText(msg.Content, genai.RoleUser),
			}
		case llm.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, llm.Failure(providerName, errors.New("no user content"), "Gemini 请求缺少内容")
	}

	resp, err := c.models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return nil, llm.Failure(providerName, err, "请求 Gemini 失败")
	}
	if resp == nil {
		return nil, llm.Failure(providerName, llm.ErrEmptyReply, "Gemini 响应为空")
	}
	return llm.Reply(providerName, resp.Text())
}
