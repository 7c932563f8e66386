package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/llm"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	reply    string
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.contents = contents
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(f.reply, genai.RoleModel)}},
	}, nil
}

func TestChatMapsMessages(t *testing.T) {
	fake := &fakeModels{reply: "Cycle 1/2 output"}
	client := newWithGenerator(fake, "")

	resp, err := client.Chat(context.Background(), llm.Request{
		Model: "llama3.1:8b",
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are an enterprise AI deployment orchestrator."},
			{Role: llm.RoleUser, Content: "Task: ship"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Cycle 1/2 output", resp.Reply)
	assert.Equal(t, defaultModel, fake.model)
	require.Len(t, fake.contents, 1)
	assert.Equal(t, string(genai.RoleUser), fake.contents[0].Role)
	require.NotNil(t, fake.config)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, "You are an enterprise AI deployment orchestrator.", fake.config.SystemInstruction.Parts[0].Text)
}

func TestChatAcceptsGeminiModelOverride(t *testing.T) {
	fake := &fakeModels{reply: "ok"}
	client := newWithGenerator(fake, "gemini-2.0-flash")
	_, err := client.Chat(context.Background(), llm.Request{
		Model:    "gemini-2.5-pro",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.5-pro", fake.model)
}

func TestChatFailures(t *testing.T) {
	client := newWithGenerator(&fakeModels{err: errors.New("quota exceeded")}, "")
	_, err := client.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	require.Error(t, err)
	assert.Equal(t, llm.CodeDelegationFailure, xerrors.CodeOf(err))

	client = newWithGenerator(&fakeModels{reply: ""}, "")
	_, err = client.Chat(context.Background(), llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	assert.True(t, errors.Is(err, llm.ErrEmptyReply))

	_, err = client.Chat(context.Background(), llm.Request{})
	require.Error(t, err)
}

func TestNewClientRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), "  ", "")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	coded, ok := xerrors.From(err)
	require.True(t, ok)
	assert.Equal(t, "gemini", coded.Metadata()["provider"])
}
