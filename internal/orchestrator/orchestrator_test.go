package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"OpenBoBS/internal/agent"
	"OpenBoBS/internal/catalog"
	"OpenBoBS/internal/command"
	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/history"
	"OpenBoBS/internal/learning"
	"OpenBoBS/internal/llm"
	"OpenBoBS/internal/observability/metrics"
	"OpenBoBS/internal/storage"
	"OpenBoBS/pkg/logger"
)

type scriptedClient struct {
	mu       sync.Mutex
	requests []llm.Request
	replies  []string
	err      error
}

func (c *scriptedClient) Chat(_ context.Context, req llm.Request) (*llm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	idx := len(c.requests) - 1
	if idx >= len(c.replies) {
		idx = len(c.replies) - 1
	}
	return &llm.Response{Reply: c.replies[idx]}, nil
}

func (c *scriptedClient) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

type fixture struct {
	orch    *Orchestrator
	memory  *learning.Memory
	history *history.Log
	runtime *metrics.Runtime
	events  *[]Event
}

func newFixture(t *testing.T, client llm.Client, settings Settings) fixture {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()

	cat, err := catalog.Default()
	require.NoError(t, err)
	reg, err := agent.NewRegistry(cat.Agents)
	require.NoError(t, err)
	sel := agent.NewSelection(reg)

	mem := learning.New(store, learning.WithLogger(logger.Discard()))
	require.NoError(t, mem.Load(ctx))
	log := history.New(store, history.WithLogger(logger.Discard()))
	require.NoError(t, log.Load(ctx))

	var (
		eventsMu sync.Mutex
		events   []Event
	)
	runtime := metrics.NewRuntime()
	runner := NewRunner(sel, mem, log, client,
		WithRuntimeMetrics(runtime),
		WithRunnerLogger(logger.Discard()),
		WithAuditLogger(logger.Discard()),
		WithObserver(ObserverFunc(func(e Event) {
			eventsMu.Lock()
			events = append(events, e)
			eventsMu.Unlock()
		})),
	)
	orch, err := New(Deps{
		Registry: reg, Selection: sel, Memory: mem, History: log,
		Catalog: cat, Runner: runner, Runtime: runtime,
	}, settings)
	require.NoError(t, err)
	orch.logger = logger.Discard()
	return fixture{orch: orch, memory: mem, history: log, runtime: runtime, events: &events}
}

func defaultSettings() Settings {
	return Settings{ProjectName: "OpenBoBS", Profile: ProfileBalanced, Autonomy: Autonomy{Cycles: 2}, Delegate: true, Model: "llama3.1:8b"}
}

func selectOnly(o *Orchestrator, ids ...string) {
	o.ClearAll()
	for _, id := range ids {
		o.ToggleAgent(id, true)
	}
}

func TestFallbackOnForcedDelegationFailure(t *testing.T) {
	client := &scriptedClient{err: errors.New("connection refused")}
	f := newFixture(t, client, defaultSettings())
	selectOnly(f.orch, "architect", "qa")

	res, err := f.orch.SubmitTask(context.Background(), "Build a login flow")
	require.NoError(t, err)
	assert.Equal(t, SourceOrchestrator, res.Source)

	want := strings.Join([]string{
		"Cycle 1/1",
		"Profile: balanced (Practical quality gates.)",
		"Adaptive policy: Bias planning toward recurring concerns: build, login.",
		"System Architect\n- Define deterministic architecture and contracts.\n- Task: Build a login flow",
		"QA Automation\n- Enforce repeatable test coverage and checks.\n- Task: Build a login flow",
		"Deployment summary\nOffline deterministic fallback completed.",
	}, "\n\n")
	assert.Equal(t, want, res.Body)

	assert.Equal(t, 1, client.calls())
	assert.Equal(t, 1, f.history.Len())
	assert.Equal(t, 1, f.memory.Snapshot().Runs)
	assert.Equal(t, uint64(1), f.runtime.Get(metrics.DelegationFailures))
	assert.Equal(t, uint64(1), f.runtime.Get(metrics.Fallbacks))
}

func TestRemotePromptAndReply(t *testing.T) {
	client := &scriptedClient{replies: []string{"Remote plan"}}
	settings := defaultSettings()
	settings.Profile = ProfileStrict
	settings.ProjectName = "Atlas"
	f := newFixture(t, client, settings)
	selectOnly(f.orch, "backend")

	res, err := f.orch.SubmitTask(context.Background(), "deploy staging rollback canary")
	require.NoError(t, err)
	assert.Equal(t, "Remote plan", res.Body)

	require.Equal(t, 1, client.calls())
	req := client.requests[0]
	assert.Equal(t, "llama3.1:8b", req.Model)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: SystemMessage}, req.Messages[0])
	prompt := req.Messages[1].Content
	for _, line := range []string{
		"Project: Atlas",
		"Profile: strict",
		"Policy: Deterministic controls and acceptance criteria.",
		"Self-Learning: v1 · 1 runs · deploy(1), staging(1), rollback(1)",
		"Adaptive Policy: Bias planning toward recurring concerns: deploy, staging, rollback.",
		"Cycle: 1/1",
		"Agents: Backend Engineer",
		"Task: deploy staging rollback canary",
	} {
		assert.Contains(t, prompt, line)
	}
}

func TestAutonomyRunsCyclesButMutatesOnce(t *testing.T) {
	client := &scriptedClient{replies: []string{"first", "second", "third"}}
	settings := defaultSettings()
	settings.Autonomy = Autonomy{Enabled: true, Cycles: 3}
	f := newFixture(t, client, settings)

	res, err := f.orch.SubmitTask(context.Background(), "Harden the payment service")
	require.NoError(t, err)
	assert.Equal(t, "third", res.Body)
	assert.Equal(t, 3, client.calls())
	assert.Equal(t, 1, f.history.Len())
	assert.Equal(t, 1, f.memory.Snapshot().Runs)

	var executions []Event
	for _, e := range *f.events {
		if e.Stage == StageExecution {
			executions = append(executions, e)
		}
	}
	require.Len(t, executions, 3)
	assert.Equal(t, "first", executions[0].Output)
	assert.Equal(t, SourceRemote, executions[2].Source)
	assert.Equal(t, 3, executions[2].Total)

	stages := make([]Stage, 0)
	for _, e := range *f.events {
		if e.Stage != StageExecution {
			stages = append(stages, e.Stage)
		}
	}
	assert.Equal(t, []Stage{StageRequestCaptured, StageSelfLearningUpdate, StageAgentComposition, StageDeploymentSummary}, stages)
}

func TestCycleCountIsClamped(t *testing.T) {
	r := NewRunner(nil, nil, nil, nil)
	assert.Equal(t, 1, r.CycleCount(Autonomy{Enabled: false, Cycles: 4}))
	assert.Equal(t, 1, r.CycleCount(Autonomy{Enabled: true, Cycles: 0}))
	assert.Equal(t, 3, r.CycleCount(Autonomy{Enabled: true, Cycles: 3}))
	assert.Equal(t, DefaultCycleCap, r.CycleCount(Autonomy{Enabled: true, Cycles: 40}))
	assert.Equal(t, 8, NewRunner(nil, nil, nil, nil, WithCycleCap(8)).CycleCount(Autonomy{Enabled: true, Cycles: 9}))
}

func TestOfflineModeSkipsClient(t *testing.T) {
	client := &scriptedClient{replies: []string{"never"}}
	settings := defaultSettings()
	settings.Delegate = false
	f := newFixture(t, client, settings)

	res, err := f.orch.SubmitTask(context.Background(), "Plan the migration")
	require.NoError(t, err)
	assert.Zero(t, client.calls())
	assert.True(t, strings.HasSuffix(res.Body, "Offline deterministic fallback completed."))
	assert.Zero(t, f.runtime.Get(metrics.DelegationFailures))
}

func TestEmptyReplyFallsBack(t *testing.T) {
	client := &scriptedClient{replies: []string{"   "}}
	f := newFixture(t, client, defaultSettings())
	res, err := f.orch.SubmitTask(context.Background(), "Review access controls")
	require.NoError(t, err)
	assert.NotEmpty(t, res.Body)
	assert.Contains(t, res.Body, "Cycle 1/1")
}

func TestCommandsNeverMutateState(t *testing.T) {
	client := &scriptedClient{replies: []string{"ok"}}
	f := newFixture(t, client, defaultSettings())
	_, err := f.orch.SubmitTask(context.Background(), "seed history entry")
	require.NoError(t, err)

	beforeMemory := f.memory.Snapshot()
	beforeHistory := f.history.Entries()
	for _, cmd := range command.Names {
		res, err := f.orch.SubmitTask(context.Background(), "  "+strings.ToUpper(cmd)+" ")
		require.NoError(t, err, cmd)
		assert.Equal(t, SourceCommandCenter, res.Source)
		assert.NotEmpty(t, res.Body, cmd)
	}
	assert.Equal(t, beforeMemory, f.memory.Snapshot())
	assert.Equal(t, beforeHistory, f.history.Entries())
	assert.Equal(t, 1, client.calls())
	assert.Equal(t, uint64(len(command.Names)), f.runtime.Get(metrics.Commands))
}

func TestPreconditionFailuresDoNotMutate(t *testing.T) {
	f := newFixture(t, &scriptedClient{replies: []string{"ok"}}, defaultSettings())
	f.orch.ClearAll()

	_, err := f.orch.SubmitTask(context.Background(), "Ship the release")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoAgentsSelected))
	assert.Equal(t, "No agents enabled.", xerrors.UserMessage(err))

	_, err = f.orch.SubmitTask(context.Background(), "   ")
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	assert.Zero(t, f.history.Len())
	assert.Zero(t, f.memory.Snapshot().Runs)
}

func TestPlaybookAndReplay(t *testing.T) {
	client := &scriptedClient{replies: []string{"ok"}}
	f := newFixture(t, client, defaultSettings())
	ctx := context.Background()

	_, err := f.orch.RunPlaybook(ctx, "unknown")
	assert.Equal(t, CodeUnknownPlaybook, xerrors.CodeOf(err))

	res, err := f.orch.RunPlaybook(ctx, "incident")
	require.NoError(t, err)
	assert.Equal(t, SourcePlaybook, res.Source)
	entries := f.history.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, history.ModePlaybook, entries[0].Mode)
	assert.Equal(t, "Run incident response with containment, impact analysis, and remediation.", entries[0].Task)

	_, err = f.orch.Replay(ctx, 5)
	assert.True(t, errors.Is(err, history.ErrIndexOutOfRange))
	assert.Equal(t, 1, f.history.Len())

	res, err = f.orch.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, SourceReplay, res.Source)
	entries = f.history.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, history.ModeReplay, entries[0].Mode)
	assert.Equal(t, entries[1].Task, entries[0].Task)
	assert.Equal(t, uint64(1), f.runtime.Get(metrics.Replays))
}

func TestExecuteDispatchesByMode(t *testing.T) {
	f := newFixture(t, &scriptedClient{replies: []string{"ok"}}, defaultSettings())
	ctx := context.Background()

	res, err := f.orch.Execute(ctx, "/plan", history.ModeManual)
	require.NoError(t, err)
	assert.Equal(t, SourceCommandCenter, res.Source)

	res, err = f.orch.Execute(ctx, "mvp", history.ModePlaybook)
	require.NoError(t, err)
	assert.Equal(t, SourcePlaybook, res.Source)

	res, err = f.orch.Execute(ctx, "0", history.ModeReplay)
	require.NoError(t, err)
	assert.Equal(t, SourceReplay, res.Source)

	_, err = f.orch.Execute(ctx, "latest", history.ModeReplay)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestAgentManagement(t *testing.T) {
	f := newFixture(t, nil, defaultSettings())

	f.orch.ClearAll()
	a, err := f.orch.RegisterAgent("Data Steward", "Data governance", "Track lineage and retention.")
	require.NoError(t, err)
	assert.Equal(t, "Data governance. Track lineage and retention.", a.Prompt)

	views := f.orch.Agents()
	require.Len(t, views, 6)
	assert.True(t, views[5].Selected)
	assert.False(t, views[0].Selected)

	before := f.orch.Agents()
	f.orch.ToggleAgent("ghost", true)
	f.orch.ToggleAgent("does-not-exist", false)
	assert.Equal(t, before, f.orch.Agents())

	_, err = f.orch.ApplyBotPack(99)
	assert.Equal(t, xerrors.CodeNotFound, xerrors.CodeOf(err))

	f.orch.SelectAll()
	for _, v := range f.orch.Agents() {
		assert.True(t, v.Selected, v.ID)
	}
}

func TestUpdateSettingsValidates(t *testing.T) {
	f := newFixture(t, nil, defaultSettings())

	bad := "chaotic"
	_, err := f.orch.UpdateSettings(SettingsUpdate{Profile: &bad})
	require.Error(t, err)
	assert.Equal(t, ProfileBalanced, f.orch.Settings().Profile)

	zero := 0
	_, err = f.orch.UpdateSettings(SettingsUpdate{Cycles: &zero})
	require.Error(t, err)

	creative, name, on := "Creative", "Nova", true
	s, err := f.orch.UpdateSettings(SettingsUpdate{Profile: &creative, ProjectName: &name, Autonomy: &on})
	require.NoError(t, err)
	assert.Equal(t, ProfileCreative, s.Profile)
	assert.Equal(t, "Nova", s.ProjectName)
	assert.True(t, s.Autonomy.Enabled)

	out, ok := f.orch.router.Route("/summary")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "Project: Nova\nProfile: creative\n"))
}

func TestExportSnapshot(t *testing.T) {
	f := newFixture(t, nil, defaultSettings())
	selectOnly(f.orch, "qa")
	_, err := f.orch.SubmitTask(context.Background(), "Measure regression coverage")
	require.NoError(t, err)

	snap := f.orch.Export()
	assert.Equal(t, "OpenBoBS", snap.ProjectName)
	assert.Equal(t, []string{"qa"}, snap.ActiveAgents)
	assert.Len(t, snap.History, 1)
	assert.Equal(t, 1, snap.SelfLearning.Runs)
}

func TestConcurrentSubmissionsAreSerialized(t *testing.T) {
	client := &scriptedClient{replies: []string{"ok"}}
	f := newFixture(t, client, defaultSettings())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.SubmitTask(context.Background(), "parallel rollout check")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 8, f.history.Len())
	s := f.memory.Snapshot()
	assert.Equal(t, 8, s.Runs)
	assert.Equal(t, 1+8/3, s.Version)
	assert.Equal(t, 8, s.LearnedTopics.Count("parallel"))
}

func TestNewValidatesDependencies(t *testing.T) {
	_, err := New(Deps{}, defaultSettings())
	assert.Equal(t, xerrors.CodeInitializationFailure, xerrors.CodeOf(err))
}

type failingKeyStore struct {
	*storage.MemoryStore
	key string
}

func (s *failingKeyStore) Set(ctx context.Context, key string, value []byte) error {
	if key == s.key {
		return errors.New("disk full")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestRunKeepsHistoryWhenLearningSaveFails(t *testing.T) {
	ctx := context.Background()
	store := &failingKeyStore{MemoryStore: storage.NewMemoryStore(), key: learning.StateKey}

	cat, err := catalog.Default()
	require.NoError(t, err)
	reg, err := agent.NewRegistry(cat.Agents)
	require.NoError(t, err)
	mem := learning.New(store, learning.WithLogger(logger.Discard()))
	require.NoError(t, mem.Load(ctx))
	log := history.New(store, history.WithLogger(logger.Discard()))
	require.NoError(t, log.Load(ctx))

	client := &scriptedClient{replies: []string{"remote"}}
	var stages []Stage
	runner := NewRunner(agent.NewSelection(reg), mem, log, client,
		WithRunnerLogger(logger.Discard()),
		WithAuditLogger(logger.Discard()),
		WithObserver(ObserverFunc(func(e Event) { stages = append(stages, e.Stage) })),
	)

	_, err = runner.Run(ctx, RunRequest{Task: "Harden deployment pipeline", Profile: ProfileBalanced, Delegate: true})
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeStorageFailure, xerrors.CodeOf(err))

	entries := log.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "Harden deployment pipeline", entries[0].Task)
	persisted, err := store.Get(ctx, history.Key)
	require.NoError(t, err)
	assert.Contains(t, string(persisted), "Harden deployment pipeline")

	assert.Equal(t, 0, mem.Snapshot().Runs)
	assert.Equal(t, 0, client.calls())
	assert.Equal(t, []Stage{StageRequestCaptured}, stages)
}
