package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/llm"
)

func TestChatPostsNonStreamingRequest(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"Plan ready"}}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", WithModel("qwen2.5:7b"))
	resp, err := client.Chat(context.Background(), llm.Request{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "Build a login flow"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Plan ready", resp.Reply)
	assert.Equal(t, false, body["stream"])
	assert.Equal(t, "qwen2.5:7b", body["model"])
}

func TestChatEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":{}}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), llm.Request{Model: "llama3.1:8b"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, llm.ErrEmptyReply))
	assert.Equal(t, llm.CodeDelegationFailure, xerrors.CodeOf(err))
}

func TestChatServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Chat(context.Background(), llm.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestHealthListsModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3.1:8b"},{"name":"mistral:7b"}]}`))
	}))
	defer srv.Close()

	health, err := NewClient(srv.URL).Health(context.Background())
	require.NoError(t, err)
	assert.True(t, health.OK)
	assert.Equal(t, "ollama", health.Provider)
	assert.Equal(t, []string{"llama3.1:8b", "mistral:7b"}, health.Models)
}

func TestDefaultBaseURL(t *testing.T) {
	assert.Equal(t, defaultBaseURL, NewClient("").BaseURL())
}
