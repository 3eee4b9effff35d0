package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

// newTestManager returns a manager scanning one writable temp location.
func newTestManager(t *testing.T, store ConfigStore, opts ...ManagerOption) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	if store == nil {
		store = NewMemoryStore(nil)
	}
	opts = append([]ManagerOption{
		WithLogger(zaptest.NewLogger(t)),
		WithLocations(Location{Path: dir, Writable: true}),
		WithConfigStore(store),
	}, opts...)
	m := NewManager(opts...)
	t.Cleanup(func() { m.Shutdown(context.Background()) })
	return m, dir
}

func discover(t *testing.T, m *Manager) []Descriptor {
	t.Helper()
	descs, err := m.Discover(context.Background())
	require.NoError(t, err)
	return descs
}

type recordingRecorder struct {
	executions []Execution
	err        error
}

func (r *recordingRecorder) Record(_ context.Context, e Execution) error {
	r.executions = append(r.executions, e)
	return r.err
}

func TestManagerDiscoverLoadExecute(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, NewMemoryStore(RegistryConfig{"A": {Enabled: false}}))
	writeFile(t, dir, "A.lua", utilityUnit("A"))
	bad := writeFile(t, dir, "B.lua", syntaxErrorUnit)
	writeFile(t, dir, "C.lua", commandUnit("C"))

	descs := discover(t, m)
	require.Len(t, descs, 2)
	assert.Equal(t, "A", descs[0].Name)
	assert.False(t, descs[0].Enabled)
	assert.Equal(t, "C", descs[1].Name)
	assert.True(t, descs[1].Enabled)

	problems := m.ProbeErrors()
	require.Len(t, problems, 1)
	assert.Equal(t, bad, problems[0].Path)

	_, err := m.Load(ctx, "C")
	require.NoError(t, err)
	assert.Equal(t, StateLive, m.State("C"))

	out, err := m.Execute(ctx, "C", "hello", []string{"World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)

	_, err = m.Load(ctx, "A")
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, LoadDisabled, loadErr.Kind)
	assert.Equal(t, StateUnloaded, m.State("A"))

	assert.Equal(t, map[string][]string{"C": {"fail", "hello"}}, m.ListCommands())
}

func TestManagerLoadExecuteDisableScenario(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plugins_config.json")
	m, dir := newTestManager(t, NewFileStore(path))
	writeFile(t, dir, "A.lua", commandUnit("A"))
	bad := writeFile(t, dir, "B.lua", syntaxErrorUnit)
	writeFile(t, dir, "C.lua", utilityUnit("C"))

	descs := discover(t, m)
	require.Len(t, descs, 2)
	assert.Equal(t, "A", descs[0].Name)
	assert.Equal(t, "C", descs[1].Name)
	require.Len(t, m.ProbeErrors(), 1)
	assert.Equal(t, bad, m.ProbeErrors()[0].Path)

	_, err := m.Load(ctx, "A")
	require.NoError(t, err)
	out, err := m.Execute(ctx, "A", "hello", []string{"World"})
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", out)

	require.NoError(t, m.Disable(ctx, "A"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"A": {"enabled": false}}`, string(data))

	assert.Equal(t, StateUnloaded, m.State("A"))
	_, err = m.Execute(ctx, "A", "hello", nil)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecNotLoaded, execErr.Kind)
}

func TestManagerDisableEnableKeepsInfo(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plugins_config.json")
	m, dir := newTestManager(t, NewFileStore(path))
	writeFile(t, dir, "A.lua", commandUnit("A", "C"))
	writeFile(t, dir, "C.lua", utilityUnit("C"))
	discover(t, m)

	h, err := m.Load(ctx, "A")
	require.NoError(t, err)
	before, err := h.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A", before.Name)

	require.NoError(t, m.Disable(ctx, "A"))
	require.NoError(t, m.Enable(ctx, "A"))

	h, ok := m.Get("A")
	require.True(t, ok)
	after, err := h.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"A": {"enabled": true}}`, string(data))
}

func TestManagerDisableWithNullConfig(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "plugins_config.json")
	require.NoError(t, os.WriteFile(path, []byte("null"), 0o644))
	m, dir := newTestManager(t, NewFileStore(path))
	writeFile(t, dir, "C.lua", utilityUnit("C"))
	discover(t, m)

	var err error
	require.NotPanics(t, func() { err = m.Disable(ctx, "C") })
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"C": {"enabled": false}}`, string(data))
}

func TestManagerDiscoverIdempotent(t *testing.T) {
	base := t.TempDir()

	rapid.Check(t, func(rt *rapid.T) {
		dir, err := os.MkdirTemp(base, "case")
		if err != nil {
			rt.Fatal(err)
		}
		n := rapid.IntRange(0, 5).Draw(rt, "units")
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("unit%d", i)
			code := "local x = 1"
			if rapid.Bool().Draw(rt, "declared") {
				code = utilityUnit(name)
			}
			if err := os.WriteFile(filepath.Join(dir, name+".lua"), []byte(code), 0o644); err != nil {
				rt.Fatal(err)
			}
		}

		m := NewManager(
			WithLocations(Location{Path: dir, Writable: true}),
			WithConfigStore(NewMemoryStore(nil)),
		)
		first, _ := m.Discover(context.Background())
		before := m.List()
		second, _ := m.Discover(context.Background())
		after := m.List()

		if len(first) != n || len(second) != n {
			rt.Fatalf("Discover() registered %d then %d, want %d", len(first), len(second), n)
		}
		if len(before) != len(after) {
			rt.Fatalf("registry size changed: %d -> %d", len(before), len(after))
		}
		for i := range before {
			if before[i].Name != after[i].Name || before[i].Fingerprint() != after[i].Fingerprint() {
				rt.Fatalf("descriptor %d changed: %+v -> %+v", i, before[i], after[i])
			}
		}
	})
}

func TestManagerUnknownCommand(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)
	_, err := m.Load(ctx, "C")
	require.NoError(t, err)

	rapid.Check(t, func(rt *rapid.T) {
		command := rapid.StringMatching(`[a-z_]{1,12}`).
			Filter(func(s string) bool { return s != "hello" && s != "fail" }).
			Draw(rt, "command")

		before := m.Stats()
		_, err := m.Execute(ctx, "C", command, nil)

		var execErr *ExecError
		if !errors.As(err, &execErr) || execErr.Kind != ExecUnknownCommand {
			rt.Fatalf("Execute(%q) error = %v, want unknown_command", command, err)
		}
		if m.Stats() != before {
			rt.Fatalf("unknown commands must not count as invocations")
		}
	})
}

func TestManagerExecuteNotLoaded(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)

	_, err := m.Execute(context.Background(), "C", "hello", nil)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecNotLoaded, execErr.Kind)
}

func TestManagerLoadIdempotent(t *testing.T) {
	ctx := context.Background()
	events := 0
	m, dir := newTestManager(t, nil)
	m.Subscribe(func(e ManagerEvent) {
		if e.Type == EventPluginLoaded {
			events++
		}
	})
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)

	h1, err := m.Load(ctx, "C")
	require.NoError(t, err)
	h2, err := m.Load(ctx, "C")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, 1, events)
	assert.Len(t, m.Live(), 1)
}

func TestManagerLoadUnknown(t *testing.T) {
	m, _ := newTestManager(t, nil)
	_, err := m.Load(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPluginNotFound)
}

func TestManagerFailedIsTerminalUntilChanged(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	path := writeFile(t, dir, "flaky.lua", failingUnit("flaky"))
	discover(t, m)

	_, first := m.Load(ctx, "flaky")
	require.Error(t, first)
	assert.Equal(t, StateFailed, m.State("flaky"))
	assert.ErrorIs(t, first, ErrInitReturnedFalse)

	_, second := m.Load(ctx, "flaky")
	assert.Same(t, first, second, "a failed plugin returns its recorded error")
	assert.NoError(t, m.LoadEnabled(ctx), "LoadEnabled skips failed plugins")
	assert.Equal(t, first, m.Failure("flaky"))
	assert.Contains(t, m.Failures(), "flaky")

	require.NoError(t, os.WriteFile(path, []byte(utilityUnit("flaky")), 0o644))
	discover(t, m)
	assert.Equal(t, StateUnloaded, m.State("flaky"))
	assert.NoError(t, m.Failure("flaky"))

	_, err := m.Load(ctx, "flaky")
	require.NoError(t, err)
	assert.Equal(t, StateLive, m.State("flaky"))
}

func TestManagerLoadCancelled(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Load(ctx, "C")
	require.Error(t, err)
	assert.Equal(t, StateUnloaded, m.State("C"), "cancellation is not the unit's fault")

	_, err = m.Load(context.Background(), "C")
	assert.NoError(t, err)
}

func TestManagerDependencies(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "base.lua", utilityUnit("base"))
	writeFile(t, dir, "app.lua", commandUnit("app", "base"))
	writeFile(t, dir, "orphan.lua", utilityUnit("orphan", "missing"))
	writeFile(t, dir, "ping.lua", utilityUnit("ping", "pong"))
	writeFile(t, dir, "pong.lua", utilityUnit("pong", "ping"))
	discover(t, m)

	t.Run("loads dependencies first", func(t *testing.T) {
		_, err := m.Load(ctx, "app")
		require.NoError(t, err)

		live := m.Live()
		require.Len(t, live, 2)
		assert.Equal(t, "base", live[0].Name())
		assert.Equal(t, "app", live[1].Name())
	})

	t.Run("missing dependency", func(t *testing.T) {
		_, err := m.Load(ctx, "orphan")
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, LoadDependencyMissing, loadErr.Kind)
		assert.Equal(t, StateUnloaded, m.State("orphan"))
	})

	t.Run("cycle", func(t *testing.T) {
		_, err := m.Load(ctx, "ping")
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, LoadDependencyCycle, loadErr.Kind)
		assert.Equal(t, StateUnloaded, m.State("ping"))
		assert.Equal(t, StateUnloaded, m.State("pong"))
	})

	t.Run("failed dependency", func(t *testing.T) {
		writeFile(t, dir, "broken.lua", failingUnit("broken"))
		writeFile(t, dir, "user.lua", utilityUnit("user", "broken"))
		discover(t, m)

		_, err := m.Load(ctx, "user")
		var loadErr *LoadError
		require.ErrorAs(t, err, &loadErr)
		assert.Equal(t, LoadDependencyFailed, loadErr.Kind)
		assert.Equal(t, StateUnloaded, m.State("user"))
		assert.Equal(t, StateFailed, m.State("broken"))
	})
}

func TestManagerExecuteStatsAndRecorder(t *testing.T) {
	ctx := context.Background()
	rec := &recordingRecorder{err: errors.New("journal offline")}
	m, dir := newTestManager(t, nil, WithRecorder(rec))
	tick := time.Unix(0, 0)
	m.now = func() time.Time {
		tick = tick.Add(10 * time.Millisecond)
		return tick
	}
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)
	_, err := m.Load(ctx, "C")
	require.NoError(t, err)

	_, err = m.Execute(ctx, "C", "hello", []string{"Ada"})
	require.NoError(t, err, "recorder failures do not fail the invocation")

	_, err = m.Execute(ctx, "C", "fail", nil)
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecHandlerFailed, execErr.Kind)
	assert.Contains(t, err.Error(), "handler exploded")

	stats := m.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Successful)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 10*time.Millisecond, stats.AverageDuration)
	assert.InDelta(t, 0.5, stats.SuccessRate(), 1e-9)

	require.Len(t, rec.executions, 2)
	assert.Equal(t, ExecutionSucceeded, rec.executions[0].Status)
	assert.Equal(t, []string{"Ada"}, rec.executions[0].Args)
	assert.Equal(t, ExecutionFailed, rec.executions[1].Status)
	assert.NotEmpty(t, rec.executions[1].Error)
	assert.NotEqual(t, rec.executions[0].ID, rec.executions[1].ID)
}

func TestManagerEvents(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	m, dir := newTestManager(t, nil, WithLogger(zap.New(core)))
	writeFile(t, dir, "C.lua", commandUnit("C"))

	m.Subscribe(func(ManagerEvent) { panic("bad handler") })
	var got []ManagerEvent
	unsubscribe := m.Subscribe(func(e ManagerEvent) { got = append(got, e) })

	discover(t, m)
	_, err := m.Load(ctx, "C")
	require.NoError(t, err)
	_, err = m.Execute(ctx, "C", "hello", nil)
	require.NoError(t, err)
	require.NoError(t, m.Unload(ctx, "C"))

	types := make([]ManagerEventType, len(got))
	for i, e := range got {
		types[i] = e.Type
	}
	assert.Equal(t, []ManagerEventType{
		EventPluginDiscovered,
		EventPluginLoaded,
		EventCommandExecuted,
		EventPluginUnloaded,
	}, types)
	assert.Equal(t, "hello", got[2].Command)
	assert.NotEmpty(t, got[2].InvocationID)
	assert.Equal(t, 4, logs.FilterMessage("plugin event handler panicked").Len())

	unsubscribe()
	_, err = m.Load(ctx, "C")
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestManagerUnload(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)

	assert.ErrorIs(t, m.Unload(ctx, "ghost"), ErrPluginNotFound)
	assert.NoError(t, m.Unload(ctx, "C"), "unloading an unloaded plugin is a no-op")

	_, err := m.Load(ctx, "C")
	require.NoError(t, err)
	require.NoError(t, m.Unload(ctx, "C"))
	assert.Equal(t, StateUnloaded, m.State("C"))
	_, live := m.Get("C")
	assert.False(t, live)
}

func TestManagerShutdownReverseOrder(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "base.lua", utilityUnit("base"))
	writeFile(t, dir, "app.lua", commandUnit("app", "base"))
	discover(t, m)

	var unloaded []string
	m.Subscribe(func(e ManagerEvent) {
		if e.Type == EventPluginUnloaded {
			unloaded = append(unloaded, e.Plugin)
		}
	})

	require.NoError(t, m.LoadEnabled(ctx))
	require.NoError(t, m.Shutdown(ctx))

	assert.Equal(t, []string{"app", "base"}, unloaded)
	assert.Empty(t, m.Live())
}

func TestManagerEnableDisablePersist(t *testing.T) {
	ctx := context.Background()
	store := NewFileStore(filepath.Join(t.TempDir(), "plugins_config.json"))
	m, dir := newTestManager(t, store)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)
	_, err := m.Load(ctx, "C")
	require.NoError(t, err)

	require.NoError(t, m.Disable(ctx, "C"))
	assert.Equal(t, StateUnloaded, m.State("C"))
	d, _ := m.Descriptor("C")
	assert.False(t, d.Enabled)

	other := NewManager(
		WithLocations(Location{Path: dir, Writable: true}),
		WithConfigStore(NewFileStore(store.Path())),
	)
	discover(t, other)
	d, _ = other.Descriptor("C")
	assert.False(t, d.Enabled, "override survives a new manager")
	require.NoError(t, other.LoadEnabled(ctx))
	assert.Empty(t, other.Live())

	require.NoError(t, other.Enable(ctx, "C"))
	assert.Equal(t, StateLive, other.State("C"))
	require.NoError(t, other.Shutdown(ctx))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, RegistryConfig{"C": {Enabled: true}}, cfg)

	assert.ErrorIs(t, m.Enable(ctx, "ghost"), ErrPluginNotFound)
	assert.ErrorIs(t, m.Disable(ctx, "ghost"), ErrPluginNotFound)
}

func TestManagerPersistenceFailureKeepsMemory(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(nil)
	m, dir := newTestManager(t, store)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)
	_, err := m.Load(ctx, "C")
	require.NoError(t, err)

	store.SaveErr = errors.New("read-only filesystem")

	err = m.Disable(ctx, "C")
	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	d, _ := m.Descriptor("C")
	assert.False(t, d.Enabled)
	assert.Equal(t, StateUnloaded, m.State("C"))

	err = m.Enable(ctx, "C")
	require.ErrorAs(t, err, &perr)
	d, _ = m.Descriptor("C")
	assert.True(t, d.Enabled)
	assert.Equal(t, StateLive, m.State("C"), "the plugin loads even when the override is not saved")
}

func TestManagerNameCollision(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	kept := writeFile(t, first, "dup.lua", utilityUnit("dup"))
	other := writeFile(t, second, "dup.lua", utilityUnit("dup"))

	m, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := m.Discover(ctx, Location{Path: first})
	require.NoError(t, err)
	descs, err := m.Discover(ctx, Location{Path: second})
	require.NoError(t, err)
	assert.Empty(t, descs)
	d, _ := m.Descriptor("dup")
	assert.Equal(t, kept, d.Source.Path)

	require.NoError(t, os.Remove(kept))
	descs, err = m.Discover(ctx, Location{Path: second})
	require.NoError(t, err)
	require.Len(t, descs, 1)
	d, _ = m.Descriptor("dup")
	assert.Equal(t, other, d.Source.Path)
}

func TestManagerRefresh(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	edited := writeFile(t, dir, "x.lua", utilityUnit("x"))
	gone := writeFile(t, dir, "gone.lua", utilityUnit("gone"))
	writeFile(t, dir, "same.lua", utilityUnit("same"))
	discover(t, m)
	require.NoError(t, m.LoadEnabled(ctx))
	before, _ := m.Get("x")
	unchanged, _ := m.Get("same")

	require.NoError(t, os.WriteFile(edited, []byte(utilityUnit("x")+"\n-- edited\n"), 0o644))
	require.NoError(t, os.Remove(gone))

	changed, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "gone"}, changed)

	after, ok := m.Get("x")
	require.True(t, ok)
	assert.NotSame(t, before, after)
	still, _ := m.Get("same")
	assert.Same(t, unchanged, still)

	_, known := m.Descriptor("gone")
	assert.False(t, known)
	assert.Equal(t, StateUnloaded, m.State("gone"))
}

func TestManagerKindQueries(t *testing.T) {
	ctx := context.Background()
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	writeFile(t, dir, "echo-ai.lua", aiProviderUnit)
	writeFile(t, dir, "runner.lua", executorUnit)
	discover(t, m)
	require.NoError(t, m.LoadEnabled(ctx))

	assert.Len(t, m.CommandPlugins(), 1)
	assert.Len(t, m.AIProviders(), 1)
	assert.Len(t, m.Executors(), 1)
	assert.Len(t, m.List(KindAIProvider, KindExecutor), 2)

	out, err := m.Generate(ctx, "echo-ai", "hi", map[string]any{"model": "small"})
	require.NoError(t, err)
	assert.Equal(t, "echo: hi (small)", out)

	result, err := m.ExecuteCode(ctx, "runner", "1+1", "lua")
	require.NoError(t, err)
	assert.Equal(t, "1+1", result["stdout"])

	_, err = m.Generate(ctx, "C", "hi", nil)
	assert.ErrorIs(t, err, ErrKindMismatch)

	_, err = m.ExecuteCode(ctx, "ghost", "x", "lua")
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, ExecNotLoaded, execErr.Kind)
}

func TestManagerMetrics(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m, dir := newTestManager(t, nil, WithMetrics(metrics))
	writeFile(t, dir, "C.lua", commandUnit("C"))
	writeFile(t, dir, "bad.lua", failingUnit("bad"))
	discover(t, m)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.registered))

	_ = m.LoadEnabled(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.live))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loads.WithLabelValues("C", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.loads.WithLabelValues("bad", "error")))

	_, _ = m.Execute(ctx, "C", "hello", nil)
	_, _ = m.Execute(ctx, "C", "fail", nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.executions.WithLabelValues("C", "hello", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.executions.WithLabelValues("C", "fail", "failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.duration))
}

func TestManagerConfigure(t *testing.T) {
	m, dir := newTestManager(t, nil)
	writeFile(t, dir, "C.lua", commandUnit("C"))
	discover(t, m)
	require.Equal(t, 1, m.Registry().Len())

	other := t.TempDir()
	m.Configure([]Location{{Path: other}}, NewMemoryStore(RegistryConfig{"C": {Enabled: false}}))

	assert.Equal(t, 0, m.Registry().Len())
	require.Len(t, m.Locations(), 1)
	assert.Equal(t, other, m.Locations()[0].Path)
	assert.Equal(t, RegistryConfig{"C": {Enabled: false}}, m.Registry().Config())
}
