package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "openbobs.jsonc")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAcceptsCommentsAndAppliesDefaults(t *testing.T) {
	t.Setenv("OLLAMA_URL", "")
	path := writeConfig(t, `{
		// 项目设置
		"project": {"name": "Atlas", "profile": "strict", "cycles": 3},
		/* 生成服务 */
		"llm": {"provider": "none"},
		"runtime": {"data_dir": "state"},
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	base := filepath.Dir(path)
	assert.Equal(t, "Atlas", cfg.Project.Name)
	assert.Equal(t, "strict", cfg.Project.Profile)
	assert.Equal(t, 3, cfg.Project.Cycles)
	assert.True(t, cfg.Project.DelegateEnabled())
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Orchestrator.CycleCap)
	assert.Equal(t, 12, cfg.Orchestrator.TopicLimit)
	assert.Equal(t, 3, cfg.Orchestrator.SummaryTop)
	assert.Equal(t, 20, cfg.Orchestrator.HistoryCap)
	assert.Equal(t, "llama3.1:8b", cfg.LLM.Model)
	assert.Equal(t, filepath.Join(base, "state"), cfg.Runtime.DataDir)
	assert.Equal(t, "file", cfg.Storage.Driver)
	assert.Equal(t, filepath.Join(base, "state"), cfg.Storage.Dir)
	assert.Equal(t, filepath.Join(base, "state", "openbobs.db"), cfg.Storage.Path)
	assert.Equal(t, 60, cfg.AutoRun.IntervalSeconds)
	assert.Equal(t, "mvp", cfg.AutoRun.Playbook)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.jsonc"))
	require.NoError(t, err)
	assert.Equal(t, "balanced", cfg.Project.Profile)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"profile":  `{"project": {"profile": "chaotic"}}`,
		"interval": `{"autorun": {"interval_seconds": 5}}`,
		"storage":  `{"storage": {"driver": "mysql"}}`,
		"queue":    `{"task_queue": {"driver": "kafka"}}`,
		"gateway":  `{"llm": {"provider": "gateway"}}`,
		"auth":     `{"auth": {"enabled": true, "token_env": "OPENBOBS_TEST_UNSET_TOKEN"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			require.Error(t, err)
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OLLAMA_URL", "http://ollama.internal:11434")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("OPENBOBS_API_TOKEN", "secret")

	cfg, err := Load(writeConfig(t, `{"llm": {"provider": "gemini"}, "auth": {"enabled": true}}`))
	require.NoError(t, err)
	assert.Equal(t, "http://ollama.internal:11434", cfg.LLM.Ollama.BaseURL)
	assert.Equal(t, "gemini-key", cfg.LLM.Gemini.APIKey)
	assert.Equal(t, []string{"secret"}, cfg.Auth.Tokens)
}

func TestPathPrecedence(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, Path(""))

	t.Setenv(EnvConfigPath, "/etc/openbobs.jsonc")
	assert.Equal(t, "/etc/openbobs.jsonc", Path(""))
	assert.Equal(t, "local.jsonc", Path("local.jsonc"))
}
