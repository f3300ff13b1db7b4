package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/quorum/internal/attempt"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/capability/capabilitytest"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
)

type rankerFunc func(ctx context.Context, task string, candidates []directory.WorkerProfile) ([]string, error)

func (f rankerFunc) Rank(ctx context.Context, task string, candidates []directory.WorkerProfile) ([]string, error) {
	return f(ctx, task, candidates)
}

// recordingSynthesizer keeps the entries it was given.
type recordingSynthesizer struct {
	mu      sync.Mutex
	entries []capability.SynthesisEntry
	calls   int
	err     error
}

func (s *recordingSynthesizer) Synthesize(ctx context.Context, task string, entries []capability.SynthesisEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.entries = entries
	if s.err != nil {
		return "", s.err
	}
	return "synthesized: " + strings.Join(capability.FormatEntries(entries), " | "), nil
}

func plan(steps ...capability.PlannedStep) capabilitytest.DecomposerFunc {
	return func(context.Context, string) ([]capability.PlannedStep, error) {
		return steps, nil
	}
}

// answerWorker answers "<worker>:<task>" and sees dependency context.
func answerWorker(contexts *sync.Map) capabilitytest.WorkerFunc {
	return func(ctx context.Context, p directory.WorkerProfile, task, taskContext string) (capability.Answer, error) {
		if contexts != nil {
			contexts.Store(task, taskContext)
		}
		return capability.Answer{Reasoning: "worked it out", FinalAnswer: p.ID + ":" + task}, nil
	}
}

func constantJudges(score float64) []capability.Judge {
	return capabilitytest.ScoreJudges(3, func(string, capability.Answer) float64 { return score })
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	dir, err := directory.New([]directory.WorkerProfile{
		{ID: "A", CapabilityText: "arithmetic specialist", Reputation: 90},
		{ID: "B", CapabilityText: "writing specialist", Reputation: 40},
	})
	require.NoError(t, err)

	return Deps{
		Directory:   dir,
		Engine:      config.DefaultConfig().Engine,
		Decomposer:  plan(capability.PlannedStep{ID: "T1", Task: "whole"}),
		Worker:      answerWorker(nil),
		Judges:      constantJudges(8),
		Synthesizer: &recordingSynthesizer{},
	}
}

func newOrchestrator(t *testing.T, deps Deps) *Orchestrator {
	t.Helper()
	o, err := New(deps)
	require.NoError(t, err)
	return o
}

// Scenario A: synthesis sees all three sub-tasks with the root first.
func TestRunFanOutPlan(t *testing.T) {
	deps := testDeps(t)
	var contexts sync.Map
	synth := &recordingSynthesizer{}
	deps.Decomposer = plan(
		capability.PlannedStep{ID: "T1", Task: "compute the base"},
		capability.PlannedStep{ID: "T2", Task: "use the base", Dependencies: []string{"T1"}},
		capability.PlannedStep{ID: "T3", Task: "check the base", Dependencies: []string{"T1"}},
	)
	deps.Worker = answerWorker(&contexts)
	deps.Synthesizer = synth

	res, err := newOrchestrator(t, deps).Run(context.Background(), "solve it")
	require.NoError(t, err)

	require.Len(t, synth.entries, 3)
	assert.Equal(t, "T1", synth.entries[0].ID)
	assert.Equal(t, "T1", res.Order[0])
	assert.ElementsMatch(t, []string{"T1", "T2", "T3"}, res.Order)
	assert.True(t, res.Synthesized)
	assert.True(t, res.Decomposed)
	assert.True(t, strings.HasPrefix(res.FinalAnswer, "synthesized: "))
	assert.Equal(t, "completed", res.Status())
	assert.NotEmpty(t, res.RunID)
	assert.False(t, res.Finished.Before(res.Started))

	ctxT2, _ := contexts.Load("use the base")
	assert.Equal(t, "T1: A:compute the base", ctxT2)

	t1 := res.SubTasks["T1"]
	assert.Equal(t, "accepted", t1.Status)
	assert.Equal(t, "A", t1.WinningWorker)
	assert.Equal(t, 8.0, t1.Score)
	assert.Equal(t, "A:compute the base", t1.FinalAnswer)
	assert.Equal(t, []string{"A"}, t1.AgentsTried)
}

func TestRunDecomposerFailureFallsBack(t *testing.T) {
	deps := testDeps(t)
	deps.Decomposer = capabilitytest.DecomposerFunc(func(context.Context, string) ([]capability.PlannedStep, error) {
		return nil, capabilitytest.ErrUnavailable
	})

	res, err := newOrchestrator(t, deps).Run(context.Background(), "add 2 and 3")
	require.NoError(t, err)

	assert.False(t, res.Decomposed)
	require.Contains(t, res.SubTasks, FallbackID)
	assert.Equal(t, "add 2 and 3", res.SubTasks[FallbackID].Description)
	assert.Len(t, res.SubTasks, 1)
}

func TestRunEmptyPlanFallsBack(t *testing.T) {
	deps := testDeps(t)
	deps.Decomposer = plan()

	res, err := newOrchestrator(t, deps).Run(context.Background(), "add 2 and 3")
	require.NoError(t, err)
	assert.False(t, res.Decomposed)
	assert.Equal(t, []string{FallbackID}, res.Order)
}

func TestRunDuplicatePlanIDsKeepFirst(t *testing.T) {
	deps := testDeps(t)
	deps.Decomposer = plan(
		capability.PlannedStep{ID: "T1", Task: "first"},
		capability.PlannedStep{ID: "T1", Task: "second"},
	)

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)
	assert.Len(t, res.SubTasks, 1)
	assert.Equal(t, "first", res.SubTasks["T1"].Description)
}

func TestRunSynthesisFailureConcatenates(t *testing.T) {
	deps := testDeps(t)
	deps.Decomposer = plan(
		capability.PlannedStep{ID: "T1", Task: "a"},
		capability.PlannedStep{ID: "T2", Task: "b", Dependencies: []string{"T1"}},
	)
	deps.Synthesizer = &recordingSynthesizer{err: capabilitytest.ErrUnavailable}

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	assert.False(t, res.Synthesized)
	assert.Equal(t, "Task T1 (a): A:a\nTask T2 (b): A:b", res.FinalAnswer)
}

// Scenario B through the whole stack.
func TestRunBelowThresholdIsExhausted(t *testing.T) {
	deps := testDeps(t)
	deps.Judges = constantJudges(5)

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	t1 := res.SubTasks["T1"]
	assert.Equal(t, "exhausted", t1.Status)
	assert.Equal(t, 5.0, t1.Score)
	assert.Equal(t, 3, t1.Attempts)
	assert.Equal(t, []string{"T1"}, res.Order)
}

func TestRunAllWorkersFailUsesSentinel(t *testing.T) {
	deps := testDeps(t)
	deps.Worker = capabilitytest.WorkerFunc(func(context.Context, directory.WorkerProfile, string, string) (capability.Answer, error) {
		return capability.Answer{}, capabilitytest.ErrUnavailable
	})
	deps.Synthesizer = &recordingSynthesizer{err: errors.New("down")}

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	t1 := res.SubTasks["T1"]
	assert.Equal(t, attempt.NoAgent, t1.WinningWorker)
	assert.Equal(t, attempt.NoResponse, t1.FinalAnswer)
	assert.Zero(t, t1.Score)
	assert.Equal(t, "Task T1 (whole): "+attempt.NoResponse, res.FinalAnswer)
}

// Scenario C through the whole stack.
func TestRunCyclicPlanDeadlocks(t *testing.T) {
	deps := testDeps(t)
	synth := &recordingSynthesizer{}
	deps.Decomposer = plan(
		capability.PlannedStep{ID: "T1", Task: "a", Dependencies: []string{"T2"}},
		capability.PlannedStep{ID: "T2", Task: "b", Dependencies: []string{"T1"}},
	)
	deps.Synthesizer = synth

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	require.NotNil(t, res.Deadlock)
	assert.Equal(t, []string{"T1", "T2"}, res.Deadlock.Unresolved)
	assert.Equal(t, "deadlocked", res.Status())
	assert.Empty(t, res.Order)
	assert.Empty(t, res.FinalAnswer)
	assert.Zero(t, synth.calls)
	assert.Equal(t, "pending", res.SubTasks["T1"].Status)
}

func TestRunPartialDeadlockStillSynthesizes(t *testing.T) {
	deps := testDeps(t)
	synth := &recordingSynthesizer{}
	deps.Decomposer = plan(
		capability.PlannedStep{ID: "T1", Task: "a"},
		capability.PlannedStep{ID: "T2", Task: "b", Dependencies: []string{"T3"}},
		capability.PlannedStep{ID: "T3", Task: "c", Dependencies: []string{"T2"}},
	)
	deps.Synthesizer = synth

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	require.NotNil(t, res.Deadlock)
	assert.Equal(t, []string{"T2", "T3"}, res.Deadlock.Unresolved)
	require.Len(t, synth.entries, 1)
	assert.Equal(t, "T1", synth.entries[0].ID)
	assert.True(t, res.Synthesized)
}

func TestRunUsesRanker(t *testing.T) {
	deps := testDeps(t)
	deps.Ranker = rankerFunc(func(context.Context, string, []directory.WorkerProfile) ([]string, error) {
		return []string{"ghost", "B"}, nil
	})

	res, err := newOrchestrator(t, deps).Run(context.Background(), "write a poem")
	require.NoError(t, err)
	assert.Equal(t, "B", res.SubTasks["T1"].WinningWorker)
}

func TestRunFollowUpsJoinSynthesis(t *testing.T) {
	deps := testDeps(t)
	synth := &recordingSynthesizer{}
	deps.Synthesizer = synth
	deps.Analyst = capabilitytest.AnalystFunc(func(ctx context.Context, id, task string, result capability.Answer) ([]capability.FollowUpStep, error) {
		if id != "T1" {
			return nil, nil
		}
		return []capability.FollowUpStep{{ID: "F1", Task: "verify", Blocking: true}}, nil
	})

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	assert.Equal(t, []string{"T1", "F1"}, res.Order)
	assert.Equal(t, "T1", res.SubTasks["F1"].Parent)
	assert.Equal(t, []string{"T1"}, res.SubTasks["F1"].Dependencies)
	assert.Len(t, synth.entries, 2)
}

func TestRunErrors(t *testing.T) {
	o := newOrchestrator(t, testDeps(t))

	_, err := o.Run(context.Background(), "   ")
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = o.Run(ctx, "task")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRequiresDeps(t *testing.T) {
	full := testDeps(t)

	tests := []struct {
		name   string
		mutate func(*Deps)
	}{
		{"directory", func(d *Deps) { d.Directory = nil }},
		{"decomposer", func(d *Deps) { d.Decomposer = nil }},
		{"worker", func(d *Deps) { d.Worker = nil }},
		{"synthesizer", func(d *Deps) { d.Synthesizer = nil }},
		{"judge", func(d *Deps) { d.Judges = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := full
			tt.mutate(&deps)
			_, err := New(deps)
			assert.ErrorContains(t, err, tt.name)
		})
	}
}

func TestRunPublishesRunEvents(t *testing.T) {
	deps := testDeps(t)
	bus := events.NewEventBus()
	defer bus.Close()
	ch := bus.Subscribe(events.TopicRun, 8)
	deps.Bus = bus
	deps.Metrics = observability.NewMetrics()

	res, err := newOrchestrator(t, deps).Run(context.Background(), "task")
	require.NoError(t, err)

	var types []string
	for done := false; !done; {
		select {
		case ev := <-ch:
			types = append(types, ev.EventType())
			if fin, ok := ev.(events.RunFinishedEvent); ok {
				assert.Equal(t, res.RunID, fin.RunID)
				assert.Equal(t, res.FinalAnswer, fin.FinalAnswer)
			}
		default:
			done = true
		}
	}
	assert.Equal(t, []string{events.EventTypeRunStarted, events.EventTypePlanReady, events.EventTypeRunFinished}, types)
}
