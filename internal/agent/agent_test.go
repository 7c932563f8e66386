package agent

import (
	stdErrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenBoBS/internal/errors"
)

func sampleCatalog() []Agent {
	return []Agent{
		{ID: "architect", Name: "System Architect", Prompt: "Define deterministic architecture and contracts.", EnabledByDefault: true},
		{ID: "frontend", Name: "Frontend Specialist", Prompt: "Deliver polished, accessible, professional UI.", EnabledByDefault: false},
		{ID: "qa", Name: "QA Automation", Prompt: "Enforce repeatable test coverage and checks.", EnabledByDefault: true},
	}
}

func TestRegistryKeepsInsertionOrder(t *testing.T) {
	reg, err := NewRegistry(sampleCatalog())
	require.NoError(t, err)

	ids := make([]string, 0)
	for _, a := range reg.All() {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"architect", "frontend", "qa"}, ids)
	assert.Equal(t, 3, reg.Len())
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	reg, err := NewRegistry(sampleCatalog())
	require.NoError(t, err)

	err = reg.Register(Agent{ID: "qa", Name: "Other"})
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, ErrDuplicateID))
	assert.Equal(t, 3, reg.Len())

	got, ok := reg.Get("qa")
	require.True(t, ok)
	assert.Equal(t, "QA Automation", got.Name)
}

func TestNewRegistryFailsOnDuplicateCatalog(t *testing.T) {
	catalog := append(sampleCatalog(), Agent{ID: "architect", Name: "Again"})
	_, err := NewRegistry(catalog)
	require.Error(t, err)
}

func TestCreateBuildsPromptAndID(t *testing.T) {
	fixed := time.UnixMilli(1_700_000_000_123)
	reg, err := NewRegistry(nil, WithClock(func() time.Time { return fixed }))
	require.NoError(t, err)

	a, err := reg.Create(" Ops Autopilot ", "Deployment and SRE lead", "Create SLOs, runbooks, and failure recovery automation.")
	require.NoError(t, err)
	assert.Equal(t, "custom-1700000000123", a.ID)
	assert.Equal(t, "Ops Autopilot", a.Name)
	assert.Equal(t, "Deployment and SRE lead. Create SLOs, runbooks, and failure recovery automation.", a.Prompt)
	assert.True(t, a.EnabledByDefault)

	// 同一毫秒再次创建会生成相同 ID。
	_, err = reg.Create("Second", "Role", "Prompt")
	require.Error(t, err)
	assert.Equal(t, CodeDuplicateID, xerrors.CodeOf(err))
	assert.Equal(t, 1, reg.Len())
}

func TestCreateValidatesInput(t *testing.T) {
	reg, err := NewRegistry(nil)
	require.NoError(t, err)
	_, err = reg.Create("name", "", "prompt")
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestSelectionDefaultsAndToggles(t *testing.T) {
	reg, err := NewRegistry(sampleCatalog())
	require.NoError(t, err)
	sel := NewSelection(reg)

	assert.Equal(t, []string{"architect", "qa"}, sel.IDs())

	sel.Toggle("frontend", true)
	sel.Toggle("qa", false)
	assert.Equal(t, []string{"architect", "frontend"}, sel.IDs())

	// 未知 ID 不报错也不生效。
	sel.Toggle("ghost", true)
	assert.Equal(t, 2, sel.Count())
	assert.False(t, sel.IsSelected("ghost"))

	sel.SetAll(false)
	assert.Empty(t, sel.Selected())

	sel.SetAll(true)
	assert.Equal(t, []string{"architect", "frontend", "qa"}, sel.IDs())
}

func TestSelectionSeesNewAgents(t *testing.T) {
	reg, err := NewRegistry(sampleCatalog())
	require.NoError(t, err)
	sel := NewSelection(reg)
	sel.SetAll(false)

	require.NoError(t, reg.Register(Agent{ID: "security", Name: "Security Reviewer", EnabledByDefault: true}))
	assert.Equal(t, []string{"security"}, sel.IDs())
}
