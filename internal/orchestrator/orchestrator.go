// Package orchestrator runs a top-level task end to end: decompose it into a
// sub-task graph, drive the scheduler, then synthesize one answer.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/attempt"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
	"github.com/aristath/quorum/internal/pipeline"
	"github.com/aristath/quorum/internal/scheduler"
	"github.com/aristath/quorum/internal/selection"
)

// FallbackID is the id of the single sub-task used when decomposition fails.
const FallbackID = "T1"

// Deps is the run-scoped wiring of an Orchestrator.
type Deps struct {
	Directory *directory.Directory
	Engine    config.EngineConfig

	Decomposer  capability.Decomposer
	Worker      capability.Worker
	Judges      []capability.Judge
	Synthesizer capability.Synthesizer
	Ranker      capability.Ranker  // optional
	Scorer      capability.Scorer  // optional
	Analyst     capability.Analyst // optional

	Bus     *events.EventBus
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// SubTaskReport is the observable result of one sub-task.
type SubTaskReport struct {
	Description   string   `json:"description"`
	FinalAnswer   string   `json:"final_answer"`
	WinningWorker string   `json:"winning_worker"`
	Score         float64  `json:"score"`
	Status        string   `json:"status"`
	AgentsTried   []string `json:"agents_tried,omitempty"`
	Attempts      int      `json:"attempts"`
	Dependencies  []string `json:"dependencies,omitempty"`
	Parent        string   `json:"parent,omitempty"`
}

// Result is the outcome of a run.
type Result struct {
	RunID       string                   `json:"run_id"`
	Task        string                   `json:"task"`
	FinalAnswer string                   `json:"final_answer"`
	SubTasks    map[string]SubTaskReport `json:"subtasks"`
	Order       []string                 `json:"order"` // terminal sub-tasks in synthesis order
	Deadlock    *scheduler.Deadlock      `json:"deadlock,omitempty"`
	Overflow    []string                 `json:"overflow,omitempty"`
	Cancelled   bool                     `json:"cancelled,omitempty"`
	Decomposed  bool                     `json:"decomposed"` // false when the fallback single sub-task was used
	Synthesized bool                     `json:"synthesized"`
	Started     time.Time                `json:"started"`
	Finished    time.Time                `json:"finished"`
}

// Status summarizes the run for metrics and the journal.
func (r *Result) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Deadlock != nil:
		return "deadlocked"
	}
	return "completed"
}

// Orchestrator runs tasks. It holds no per-run state and is safe for concurrent Run calls.
type Orchestrator struct {
	deps Deps
}

// New validates deps and creates an Orchestrator.
func New(deps Deps) (*Orchestrator, error) {
	switch {
	case deps.Directory == nil:
		return nil, errors.New("orchestrator: directory is required")
	case deps.Decomposer == nil:
		return nil, errors.New("orchestrator: decomposer is required")
	case deps.Worker == nil:
		return nil, errors.New("orchestrator: worker is required")
	case deps.Synthesizer == nil:
		return nil, errors.New("orchestrator: synthesizer is required")
	case len(deps.Judges) == 0:
		return nil, errors.New("orchestrator: at least one judge is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Orchestrator{deps: deps}, nil
}

// Run solves task. Capability failures degrade to defaults; the only errors
// are an empty task or a context that is done before decomposition.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	if strings.TrimSpace(task) == "" {
		return nil, errors.New("orchestrator: empty task")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		RunID:    uuid.NewString(),
		Task:     task,
		SubTasks: map[string]SubTaskReport{},
		Started:  time.Now(),
	}
	log := o.deps.Logger.With(zap.String("run_id", res.RunID))

	ctx, span := o.deps.Tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("run.id", res.RunID),
	))
	defer span.End()

	o.deps.Bus.Publish(events.RunStartedEvent{RunID: res.RunID, Task: task, Timestamp: res.Started})
	log.Info("run started", zap.Int("workers", o.deps.Directory.Len()))

	graph := scheduler.NewGraph()
	steps, decomposed := o.decompose(ctx, log, task)
	res.Decomposed = decomposed
	planned := make([]events.PlannedSubTask, 0, len(steps))
	for _, step := range steps {
		if !graph.Add(&scheduler.SubTask{ID: step.ID, Description: step.Task, Dependencies: step.Dependencies}) {
			log.Warn("duplicate sub-task id in plan, keeping first", zap.String("subtask_id", step.ID))
			continue
		}
		planned = append(planned, events.PlannedSubTask{ID: step.ID, Description: step.Task, Dependencies: step.Dependencies})
	}
	o.deps.Bus.Publish(events.PlanReadyEvent{
		RunID:     res.RunID,
		SubTasks:  planned,
		Fallback:  !decomposed,
		Timestamp: time.Now(),
	})

	report := o.newScheduler(graph, log).Run(ctx)
	res.Deadlock = report.Deadlock
	res.Overflow = report.Overflow
	res.Cancelled = report.Cancelled

	entries := o.collect(graph, res, log)
	res.FinalAnswer, res.Synthesized = o.synthesize(ctx, log, task, entries)
	res.Finished = time.Now()

	elapsed := res.Finished.Sub(res.Started)
	o.deps.Metrics.ObserveRun(res.Status(), elapsed)
	o.deps.Bus.Publish(events.RunFinishedEvent{
		RunID:       res.RunID,
		FinalAnswer: res.FinalAnswer,
		Synthesized: res.Synthesized,
		Deadlocked:  res.Deadlock != nil,
		Duration:    elapsed,
		Timestamp:   res.Finished,
	})
	span.SetAttributes(
		attribute.Int("run.subtasks", graph.Len()),
		attribute.String("run.status", res.Status()),
	)
	log.Info("run finished",
		zap.String("status", res.Status()),
		zap.Int("subtasks", graph.Len()),
		zap.Bool("synthesized", res.Synthesized),
		zap.Duration("elapsed", elapsed))

	return res, nil
}

// decompose returns the plan, or the whole task as T1 when the decomposer
// fails or returns nothing.
func (o *Orchestrator) decompose(ctx context.Context, log *zap.Logger, task string) ([]capability.PlannedStep, bool) {
	steps, err := o.deps.Decomposer.Decompose(ctx, task)
	if err == nil && len(steps) > 0 {
		return steps, true
	}
	if err != nil {
		log.Warn("decomposition failed, using single sub-task", zap.Error(err))
	} else {
		log.Warn("decomposition returned no sub-tasks, using single sub-task")
	}
	return []capability.PlannedStep{{ID: FallbackID, Task: task}}, false
}

func (o *Orchestrator) newScheduler(graph *scheduler.Graph, log *zap.Logger) *scheduler.Scheduler {
	d := o.deps
	policy := selection.NewPolicy(d.Directory, d.Ranker, d.Scorer, selection.ConfigFrom(d.Engine), log)
	p := pipeline.New(d.Worker, d.Judges, pipeline.Options{Bus: d.Bus, Metrics: d.Metrics, Logger: log})
	machine := attempt.New(policy, p, attempt.ConfigFrom(d.Engine), attempt.Options{
		Bus:     d.Bus,
		Metrics: d.Metrics,
		Tracer:  d.Tracer,
		Logger:  log,
	})
	return scheduler.New(graph, machine, scheduler.ConfigFrom(d.Engine), scheduler.Options{
		Analyst: d.Analyst,
		Bus:     d.Bus,
		Metrics: d.Metrics,
		Logger:  log,
	})
}

// collect fills the per-sub-task reports and returns synthesis entries for
// the terminal sub-tasks in dependency order.
func (o *Orchestrator) collect(graph *scheduler.Graph, res *Result, log *zap.Logger) []capability.SynthesisEntry {
	var terminal []string
	for _, t := range graph.Tasks() {
		r := SubTaskReport{
			Description:   t.Description,
			WinningWorker: t.WinningWorker,
			Status:        t.Status.String(),
			AgentsTried:   t.AgentsTried,
			Attempts:      t.Attempts,
			Dependencies:  t.Dependencies,
			Parent:        t.Parent,
		}
		if t.Result != nil {
			r.FinalAnswer = t.Result.FinalAnswer
		}
		if t.Score != nil {
			r.Score = *t.Score
		}
		res.SubTasks[t.ID] = r
		if t.Status.Terminal() {
			terminal = append(terminal, t.ID)
		}
	}

	order, err := graph.Order(terminal)
	if err != nil {
		log.Error("ordering terminal sub-tasks, using insertion order", zap.Error(err))
		order = terminal
	}
	res.Order = order

	entries := make([]capability.SynthesisEntry, len(order))
	for i, id := range order {
		r := res.SubTasks[id]
		entries[i] = capability.SynthesisEntry{ID: id, Task: r.Description, FinalAnswer: r.FinalAnswer}
	}
	return entries
}

// synthesize merges the entries, falling back to labelled concatenation.
func (o *Orchestrator) synthesize(ctx context.Context, log *zap.Logger, task string, entries []capability.SynthesisEntry) (string, bool) {
	if len(entries) == 0 {
		log.Warn("no terminal sub-tasks to synthesize")
		return "", false
	}

	answer, err := o.deps.Synthesizer.Synthesize(ctx, task, entries)
	if err == nil && strings.TrimSpace(answer) != "" {
		return answer, true
	}
	if err != nil {
		log.Warn("synthesis failed, concatenating sub-task answers", zap.Error(err))
	}
	return Concatenate(entries), false
}

// Concatenate renders entries one per line as "Task <id> (<task>): <answer>".
func Concatenate(entries []capability.SynthesisEntry) string {
	return strings.Join(capability.FormatEntries(entries), "\n")
}
