package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRotatingWriterShiftsBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	w, err := newRotatingWriter(path, 1, 2)
	require.NoError(t, err)
	w.maxSize = 16
	defer w.Close()

	for _, line := range []string{"first-line-0001\n", "second-line-002\n", "third-line-0003\n"} {
		_, err := w.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "third-line-0003\n", string(current))

	backup1, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	require.Equal(t, "second-line-002\n", string(backup1))

	backup2, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	require.Equal(t, "first-line-0001\n", string(backup2))
}

func TestInitWritesToFileAndAudit(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "app.log")
	auditPath := filepath.Join(dir, "audit.log")

	require.NoError(t, Init(Config{
		Level:       "debug",
		Format:      "text",
		OutputPaths: []string{out},
		Audit:       AuditConfig{Enabled: true, Path: auditPath},
	}))
	t.Cleanup(func() {
		_ = Sync()
		_ = Init(Config{})
	})

	Named("runner").Debug("cycle finished", "cycle", 1)
	Audit().Info("run completed", "run_id", "r-1")
	require.NoError(t, Sync())

	app, err := os.ReadFile(out)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(app), "component=runner"))

	audit, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	require.Contains(t, string(audit), `"run_id":"r-1"`)
}

func TestInitRejectsAuditWithoutPath(t *testing.T) {
	err := Init(Config{Audit: AuditConfig{Enabled: true}})
	require.Error(t, err)
}
