package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenBoBS/internal/config"
	"OpenBoBS/internal/orchestrator"
	"OpenBoBS/internal/storage"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "openbobs.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

const offlineConfig = `{
	// 本地合成，不访问生成服务
	"llm": {"provider": "none"},
	"storage": {"driver": "file"},
	"logging": {"level": "error"}
}`

func TestSubmitPersistsAcrossInvocations(t *testing.T) {
	path := writeConfig(t, offlineConfig)

	out, err := execute(t, "--config", path, "submit", "--json", "--agents", "architect,qa", "Build", "a", "login", "flow")
	require.NoError(t, err)
	var res orchestrator.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, orchestrator.SourceOrchestrator, res.Source)
	assert.Contains(t, res.Body, "System Architect")

	out, err = execute(t, "--config", path, "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "v1 · 1 runs · build(1), login(1)")

	out, err = execute(t, "--config", path, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "manual")
	assert.Contains(t, out, "Build a login flow")

	_, err = execute(t, "--config", path, "replay", "4")
	require.Error(t, err)
}

func TestPlaybookListAndRun(t *testing.T) {
	path := writeConfig(t, offlineConfig)

	out, err := execute(t, "--config", path, "playbook")
	require.NoError(t, err)
	assert.Contains(t, out, "incident")

	out, err = execute(t, "--config", path, "playbook", "--cycles", "3", "mvp")
	require.NoError(t, err)
	assert.Contains(t, out, "[Playbook]")
	assert.Contains(t, out, "Cycle 3/3")

	_, err = execute(t, "--config", path, "playbook", "nope")
	require.Error(t, err)
}

func TestAgentsListsDefaults(t *testing.T) {
	out, err := execute(t, "--config", writeConfig(t, offlineConfig), "agents")
	require.NoError(t, err)
	for _, id := range []string{"architect", "frontend", "backend", "qa", "selfupdate"} {
		assert.Contains(t, out, id)
	}
}

func TestFactories(t *testing.T) {
	ctx := context.Background()

	store, err := openStore(ctx, config.StorageConfig{Driver: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &storage.MemoryStore{}, store)
	_, err = openStore(ctx, config.StorageConfig{Driver: "etcd"})
	assert.Error(t, err)

	client, err := newLLMClient(ctx, config.LLMConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, client)
	_, err = newLLMClient(ctx, config.LLMConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = openQueue(ctx, config.TaskQueueConfig{Driver: "kafka"})
	assert.Error(t, err)

	assert.Len(t, newAlerts(config.AlertingConfig{}).Channels(), 1)
	assert.Len(t, newAlerts(config.AlertingConfig{WebhookURL: "http://127.0.0.1:1/hook"}).Channels(), 2)

	info := runtimeInfo(":8080", "ollama", "http://127.0.0.1:11434")
	assert.Equal(t, "0.0.0.0", info.Host)
	assert.Equal(t, 8080, info.Port)
	assert.Equal(t, "http://127.0.0.1:11434", info.OllamaURL)
	assert.Empty(t, runtimeInfo("127.0.0.1:9000", "gateway", "x").OllamaURL)
}
