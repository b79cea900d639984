package testrun

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/env"
)

type fakeRequest struct {
	id   string
	name string
}

func (r fakeRequest) RequestID() string   { return r.id }
func (r fakeRequest) DisplayName() string { return r.name }

type catalog map[string]fakeRequest

func (c catalog) Resolve(id string) (Request, bool) {
	r, ok := c[id]
	if !ok {
		return nil, false
	}
	return r, true
}

func newCatalog(ids ...string) catalog {
	c := catalog{}
	for _, id := range ids {
		c[id] = fakeRequest{id: id, name: "request " + id}
	}
	return c
}

// scriptedExecutor fails the ids listed in failures and blocks ids listed in
// gates until the gate is closed or the context ends.
type scriptedExecutor struct {
	mu        sync.Mutex
	failures  map[string]error
	gates     map[string]chan struct{}
	calls     []string
	overrides []*env.Environment
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		failures: map[string]error{},
		gates:    map[string]chan struct{}{},
	}
}

func (x *scriptedExecutor) gate(id string) chan struct{} {
	ch := make(chan struct{})
	x.gates[id] = ch
	return ch
}

func (x *scriptedExecutor) Execute(ctx context.Context, req Request, override *env.Environment) (Handle, error) {
	x.mu.Lock()
	x.calls = append(x.calls, req.RequestID())
	x.overrides = append(x.overrides, override)
	failure := x.failures[req.RequestID()]
	gate := x.gates[req.RequestID()]
	x.mu.Unlock()

	return Go(ctx, func(ctx context.Context) (map[string]string, error) {
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if failure != nil {
			return nil, failure
		}
		return map[string]string{"status": "200 OK", "id": req.RequestID()}, nil
	}), nil
}

func (x *scriptedExecutor) called() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.calls...)
}

type hookCounter struct {
	started  atomic.Int32
	finished atomic.Int32
}

func (h *hookCounter) hooks() Hooks {
	return Hooks{
		OnRunStarted:  func() { h.started.Add(1) },
		OnRunFinished: func() { h.finished.Add(1) },
	}
}

func collect(t *testing.T, res *Result) []Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []Event
	require.NoError(t, res.Each(ctx, func(ev Event) {
		events = append(events, ev)
	}))
	return events
}

func byIndex(events []Event) map[string][]State {
	out := map[string][]State{}
	for _, ev := range events {
		out[ev.Index] = append(out[ev.Index], ev.State)
	}
	return out
}

func waitForEvents(t *testing.T, res *Result, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return res.Len() >= n }, 2*time.Second, 5*time.Millisecond)
}

func TestEngine_SkipAndFailureScenario(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["C"] = errors.New("connection refused")
	var hc hookCounter

	engine := NewEngine(newCatalog("A", "B", "C"), exec)
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{
			{RequestID: "A", Name: "A"},
			{RequestID: "B", Name: "B", Skip: true},
			{RequestID: "C", Name: "C"},
		},
	}, hc.hooks())
	require.NoError(t, err)

	events := collect(t, res)
	require.Len(t, events, 4)

	states := byIndex(events)
	assert.Equal(t, []State{StateStarted, StateSucceeded}, states["0"])
	assert.Equal(t, []State{StateStarted, StateFailed}, states["2"])
	assert.NotContains(t, states, "1")

	var startedOrder []string
	for _, ev := range events {
		switch ev.State {
		case StateStarted:
			startedOrder = append(startedOrder, ev.Index)
			assert.Empty(t, ev.Details)
			assert.NotNil(t, ev.Details)
		case StateSucceeded:
			assert.Equal(t, "A", ev.Name)
			assert.Equal(t, "200 OK", ev.Details["status"])
		case StateFailed:
			assert.Equal(t, "C", ev.Name)
			assert.Equal(t, map[string]string{DetailException: "connection refused"}, ev.Details)
		}
	}
	assert.Equal(t, []string{"0", "2"}, startedOrder)
	assert.ElementsMatch(t, []string{"A", "C"}, exec.called())

	assert.Equal(t, int32(1), hc.started.Load())
	assert.Equal(t, int32(1), hc.finished.Load())
}

func TestEngine_StopOnFirstFailure(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["A"] = errors.New("boom")
	var hc hookCounter

	engine := NewEngine(newCatalog("A", "B", "C"), exec)
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{
			{RequestID: "A", Name: "A"},
			{RequestID: "B", Name: "B", Skip: true},
			{RequestID: "C", Name: "C"},
		},
		StopOnFirstFailure: true,
	}, hc.hooks())
	require.NoError(t, err)

	events := collect(t, res)
	require.Len(t, events, 2)
	assert.Equal(t, StateStarted, events[0].State)
	assert.Equal(t, "0", events[0].Index)
	assert.Equal(t, StateFailed, events[1].State)
	assert.Equal(t, "boom", events[1].Exception())

	assert.Equal(t, []string{"A"}, exec.called())
	assert.Equal(t, int32(1), hc.finished.Load())
}

func TestEngine_StopOnFirstFailureNoLaterStarts(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["r2"] = errors.New("bad gateway")

	engine := NewEngine(newCatalog("r0", "r1", "r2", "r3", "r4"), exec, WithConcurrency(4))
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{
			{RequestID: "r0"}, {RequestID: "r1"}, {RequestID: "r2"}, {RequestID: "r3"}, {RequestID: "r4"},
		},
		StopOnFirstFailure: true,
	}, Hooks{})
	require.NoError(t, err)

	events := collect(t, res)
	failedAt := -1
	for i, ev := range events {
		if ev.State == StateFailed {
			failedAt = i
			assert.Equal(t, "2", ev.Index)
		}
		if failedAt >= 0 && ev.State == StateStarted {
			assert.LessOrEqual(t, ev.Index, "2", "entry started after the first failure")
		}
	}
	require.GreaterOrEqual(t, failedAt, 0)
	assert.NotContains(t, byIndex(events), "3")
	assert.NotContains(t, byIndex(events), "4")
}

func TestEngine_StartedCountMatchesNonSkipped(t *testing.T) {
	tests := []struct {
		name string
		skip []bool
	}{
		{name: "none skipped", skip: []bool{false, false, false}},
		{name: "some skipped", skip: []bool{true, false, true, false, false}},
		{name: "all skipped", skip: []bool{true, true}},
		{name: "empty", skip: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := catalog{}
			spec := &Spec{}
			want := 0
			for i, skip := range tt.skip {
				id := string(rune('a' + i))
				cat[id] = fakeRequest{id: id, name: id}
				spec.Entries = append(spec.Entries, EntryRef{RequestID: id, Skip: skip})
				if !skip {
					want++
				}
			}

			var hc hookCounter
			res, err := NewEngine(cat, newScriptedExecutor()).Run(context.Background(), spec, hc.hooks())
			require.NoError(t, err)

			events := collect(t, res)
			summary := Summarize(events)
			assert.Equal(t, want, summary.Started)
			assert.Equal(t, want, summary.Succeeded)

			for idx, states := range byIndex(events) {
				assert.Equal(t, []State{StateStarted, StateSucceeded}, states, "entry %s", idx)
			}
			assert.Equal(t, int32(1), hc.started.Load())
			assert.Equal(t, int32(1), hc.finished.Load())
		})
	}
}

func TestEngine_UnresolvedEntriesAreDropped(t *testing.T) {
	exec := newScriptedExecutor()
	engine := NewEngine(newCatalog("known", "other"), exec)

	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{
			{RequestID: "gone"},
			{RequestID: "known"},
			{RequestID: "also-gone"},
			{RequestID: "other"},
		},
	}, Hooks{})
	require.NoError(t, err)

	states := byIndex(collect(t, res))
	assert.Len(t, states, 2)
	assert.Equal(t, []State{StateStarted, StateSucceeded}, states["1"])
	assert.Equal(t, []State{StateStarted, StateSucceeded}, states["3"])
}

func TestEngine_NameFallsBackToRequestName(t *testing.T) {
	res, err := NewEngine(newCatalog("x"), newScriptedExecutor()).Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "x"}},
	}, Hooks{})
	require.NoError(t, err)

	for _, ev := range collect(t, res) {
		assert.Equal(t, "request x", ev.Name)
	}
}

func TestEngine_InvalidSpec(t *testing.T) {
	tests := []struct {
		name string
		spec *Spec
	}{
		{name: "nil spec", spec: nil},
		{name: "entry without id", spec: &Spec{Entries: []EntryRef{{Name: "nameless"}}}},
		{name: "override without name", spec: &Spec{
			Entries:              []EntryRef{{RequestID: "a"}},
			EnvironmentOverrides: []env.Variable{{Value: "x"}},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hc hookCounter
			res, err := NewEngine(newCatalog("a"), newScriptedExecutor()).Run(context.Background(), tt.spec, hc.hooks())

			assert.ErrorIs(t, err, ErrInvalidSpec)
			assert.Nil(t, res)
			assert.Equal(t, int32(0), hc.started.Load())
			assert.Equal(t, int32(0), hc.finished.Load())
		})
	}
}

func TestEngine_ExecutorFailureModes(t *testing.T) {
	tests := []struct {
		name     string
		executor ExecutorFunc
		message  string
	}{
		{
			name: "synchronous error",
			executor: func(context.Context, Request, *env.Environment) (Handle, error) {
				return nil, errors.New("dial tcp: refused")
			},
			message: "dial tcp: refused",
		},
		{
			name: "nil handle",
			executor: func(context.Context, Request, *env.Environment) (Handle, error) {
				return nil, nil
			},
			message: "executor returned no handle for a",
		},
		{
			name: "panic in executor",
			executor: func(context.Context, Request, *env.Environment) (Handle, error) {
				panic("nil map")
			},
			message: "panic: nil map",
		},
		{
			name: "panic in handle",
			executor: func(ctx context.Context, _ Request, _ *env.Environment) (Handle, error) {
				return Go(ctx, func(context.Context) (map[string]string, error) { panic("late") }), nil
			},
			message: "panic: late",
		},
		{
			name: "completed with error",
			executor: func(context.Context, Request, *env.Environment) (Handle, error) {
				return Completed(nil, errors.New("timeout")), nil
			},
			message: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hc hookCounter
			res, err := NewEngine(newCatalog("a"), tt.executor).Run(context.Background(), &Spec{
				Entries: []EntryRef{{RequestID: "a"}},
			}, hc.hooks())
			require.NoError(t, err)

			events := collect(t, res)
			require.Len(t, events, 2)
			assert.Equal(t, StateFailed, events[1].State)
			assert.Equal(t, tt.message, events[1].Exception())
			assert.Equal(t, int32(1), hc.finished.Load())
		})
	}
}

func TestEngine_OverrideEnvironmentSharedAcrossEntries(t *testing.T) {
	exec := newScriptedExecutor()
	res, err := NewEngine(newCatalog("a", "b"), exec).Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
		EnvironmentOverrides: []env.Variable{
			{Name: "host", Value: "http://staging"},
			{Name: "token", Value: "t1"},
		},
	}, Hooks{})
	require.NoError(t, err)
	collect(t, res)

	require.Len(t, exec.overrides, 2)
	o := exec.overrides[0]
	assert.Same(t, o, exec.overrides[1])
	assert.Equal(t, env.OverrideName, o.Name)
	assert.True(t, o.Active)
	assert.Equal(t, map[string]any{"host": "http://staging", "token": "t1"}, o.Variables)
}

func TestEngine_OverrideEnvironmentIsPerRun(t *testing.T) {
	exec := newScriptedExecutor()
	engine := NewEngine(newCatalog("a"), exec)

	for _, v := range []string{"one", "two"} {
		res, err := engine.Run(context.Background(), &Spec{
			Entries:              []EntryRef{{RequestID: "a"}},
			EnvironmentOverrides: []env.Variable{{Name: "v", Value: v}},
		}, Hooks{})
		require.NoError(t, err)
		collect(t, res)
	}

	require.Len(t, exec.overrides, 2)
	assert.NotSame(t, exec.overrides[0], exec.overrides[1])
	assert.Equal(t, "one", exec.overrides[0].Variables["v"])
	assert.Equal(t, "two", exec.overrides[1].Variables["v"])
}

func TestEngine_HookOrdering(t *testing.T) {
	var (
		mu  sync.Mutex
		log []string
	)
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		log = append(log, s)
	}

	exec := ExecutorFunc(func(ctx context.Context, req Request, _ *env.Environment) (Handle, error) {
		record("execute " + req.RequestID())
		return Completed(map[string]string{}, nil), nil
	})

	var (
		res          *Result
		ready        = make(chan struct{})
		lenAtFinish  int
		closedAtDone bool
	)
	res, err := NewEngine(newCatalog("a", "b"), exec).Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
	}, Hooks{
		OnRunStarted: func() { record("started") },
		OnRunFinished: func() {
			<-ready
			lenAtFinish = res.Len()
			closedAtDone = res.Closed()
			record("finished")
		},
	})
	require.NoError(t, err)
	close(ready)

	events := collect(t, res)
	assert.Len(t, events, 4)
	assert.Equal(t, 4, lenAtFinish, "finish hook must fire after the last terminal event")
	assert.False(t, closedAtDone, "stream closes after the finish hook")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, log)
	assert.Equal(t, "started", log[0])
	assert.Equal(t, "finished", log[len(log)-1])
}

func TestEngine_DispatchDoesNotWaitForCompletion(t *testing.T) {
	exec := newScriptedExecutor()
	gateA := exec.gate("a")

	engine := NewEngine(newCatalog("a", "b"), exec, WithConcurrency(2))
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
	}, Hooks{})
	require.NoError(t, err)

	// b starts and finishes while a is still blocked.
	require.Eventually(t, func() bool {
		return len(byIndex(res.Events())["1"]) == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []State{StateStarted}, byIndex(res.Events())["0"])

	close(gateA)
	states := byIndex(collect(t, res))
	assert.Equal(t, []State{StateStarted, StateSucceeded}, states["0"])
}

func TestEngine_ConcurrencyLimit(t *testing.T) {
	exec := newScriptedExecutor()
	gateA := exec.gate("a")

	engine := NewEngine(newCatalog("a", "b"), exec, WithConcurrency(1))
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
	}, Hooks{})
	require.NoError(t, err)

	waitForEvents(t, res, 1)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, res.Len(), "second entry must wait for a free worker")

	close(gateA)
	assert.Len(t, collect(t, res), 4)
}

func TestEngine_Cancel(t *testing.T) {
	exec := newScriptedExecutor()
	exec.gate("a")
	var hc hookCounter

	engine := NewEngine(newCatalog("a", "b"), exec, WithConcurrency(1))
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
	}, hc.hooks())
	require.NoError(t, err)

	waitForEvents(t, res, 1)
	res.Cancel()

	events := collect(t, res)
	require.Len(t, events, 2)
	assert.Equal(t, StateFailed, events[1].State)
	assert.Equal(t, context.Canceled.Error(), events[1].Exception())
	assert.Equal(t, []string{"a"}, exec.called())
	assert.Equal(t, int32(1), hc.finished.Load())
}

func TestEngine_ParentContextCancellation(t *testing.T) {
	exec := newScriptedExecutor()
	exec.gate("a")

	ctx, cancel := context.WithCancel(context.Background())
	res, err := NewEngine(newCatalog("a"), exec).Run(ctx, &Spec{
		Entries: []EntryRef{{RequestID: "a"}},
	}, Hooks{})
	require.NoError(t, err)

	waitForEvents(t, res, 1)
	cancel()

	events := collect(t, res)
	require.Len(t, events, 2)
	assert.Equal(t, StateFailed, events[1].State)
}

func TestEngine_RateLimit(t *testing.T) {
	exec := newScriptedExecutor()
	engine := NewEngine(newCatalog("a", "b", "c"), exec, WithRate(20))

	start := time.Now()
	res, err := engine.Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}, {RequestID: "c"}},
	}, Hooks{})
	require.NoError(t, err)
	collect(t, res)

	// Burst of one, then 50ms per dispatch.
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

type recordingObserver struct {
	mu       sync.Mutex
	runs     int
	events   []Event
	summary  Summary
	finished int
}

func (o *recordingObserver) RunStarted(*Spec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs++
}

func (o *recordingObserver) EventPublished(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
}

func (o *recordingObserver) RunFinished(s Summary) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.summary = s
	o.finished++
}

func TestEngine_Observer(t *testing.T) {
	exec := newScriptedExecutor()
	exec.failures["b"] = errors.New("nope")
	obs := &recordingObserver{}

	res, err := NewEngine(newCatalog("a", "b"), exec, WithObserver(obs)).Run(context.Background(), &Spec{
		Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}},
	}, Hooks{})
	require.NoError(t, err)
	collect(t, res)

	require.Eventually(t, func() bool {
		obs.mu.Lock()
		defer obs.mu.Unlock()
		return obs.finished == 1
	}, 2*time.Second, 5*time.Millisecond)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, 1, obs.runs)
	assert.Len(t, obs.events, 4)
	assert.Equal(t, 1, obs.summary.Succeeded)
	assert.Equal(t, 1, obs.summary.Failed)
}

func TestEngine_SpecIsCopied(t *testing.T) {
	exec := newScriptedExecutor()
	gate := exec.gate("a")
	spec := &Spec{Entries: []EntryRef{{RequestID: "a"}, {RequestID: "b"}}}

	res, err := NewEngine(newCatalog("a", "b"), exec, WithConcurrency(1)).Run(context.Background(), spec, Hooks{})
	require.NoError(t, err)

	spec.Entries[1].Skip = true
	close(gate)

	assert.Len(t, collect(t, res), 4)
	assert.False(t, res.Spec().Entries[1].Skip)
}
