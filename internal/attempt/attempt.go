// Package attempt drives one sub-task through retries and self-critique
// until a candidate clears the accept threshold or attempts run out.
package attempt

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
	"github.com/aristath/quorum/internal/pipeline"
)

// Sentinel candidate values returned when no worker ever produced an answer.
const (
	NoAgent    = "NoAgent"
	NoResponse = "No valid response obtained"
)

// DefaultCritiqueInstruction is appended to the context of a self-critique call.
const DefaultCritiqueInstruction = "\nPlease review your previous reasoning and final answer, identify any weaknesses, and provide an improved version."

// Status is the terminal state of a sub-task.
type Status string

const (
	StatusAccepted  Status = "accepted"
	StatusExhausted Status = "exhausted"
)

// Config holds the acceptance policy.
type Config struct {
	MaxAttempts         int
	AcceptThreshold     float64
	CritiqueInstruction string
}

// DefaultConfig returns 3 attempts at threshold 7.0.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig().Engine)
}

// ConfigFrom extracts the acceptance policy from engine config.
func ConfigFrom(e config.EngineConfig) Config {
	return Config{
		MaxAttempts:         e.MaxAttempts,
		AcceptThreshold:     e.AcceptThreshold,
		CritiqueInstruction: DefaultCritiqueInstruction,
	}
}

// Outcome is the result of running a sub-task to a terminal state.
type Outcome struct {
	Status      Status
	Candidate   pipeline.Candidate
	Attempts    int
	AgentsTried []string // first-invocation order, no duplicates
}

// Accepted reports whether the candidate cleared the threshold.
func (o Outcome) Accepted() bool {
	return o.Status == StatusAccepted
}

// Err explains an exhausted outcome. It is informational: the candidate is
// still the best answer available.
func (o Outcome) Err() error {
	switch {
	case o.Status == StatusAccepted:
		return nil
	case o.Candidate.WorkerID == NoAgent:
		return capability.ErrNoCandidates
	default:
		return capability.ErrThresholdNotMet
	}
}

// Sentinel returns the placeholder candidate used when no answer was obtained.
func Sentinel() pipeline.Candidate {
	return pipeline.Candidate{
		WorkerID: NoAgent,
		Answer:   capability.Answer{FinalAnswer: NoResponse},
	}
}

// Selector picks the workers for an attempt.
type Selector interface {
	Select(ctx context.Context, task string) []directory.WorkerProfile
}

// Dispatcher runs workers and judges. *pipeline.Pipeline implements it.
type Dispatcher interface {
	Run(ctx context.Context, req pipeline.Request, workers []directory.WorkerProfile) []pipeline.Candidate
	Invoke(ctx context.Context, req pipeline.Request, worker directory.WorkerProfile) (pipeline.Candidate, error)
}

// Options carries the optional collaborators of a Machine.
type Options struct {
	Bus     *events.EventBus
	Metrics *observability.Metrics
	Tracer  trace.Tracer
	Logger  *zap.Logger
}

// Machine runs the attempt loop. Safe for concurrent use across sub-tasks.
type Machine struct {
	cfg        Config
	selector   Selector
	dispatcher Dispatcher
	bus        *events.EventBus
	metrics    *observability.Metrics
	tracer     trace.Tracer
	logger     *zap.Logger
}

// New creates a Machine. MaxAttempts below 1 is treated as 1.
func New(selector Selector, dispatcher Dispatcher, cfg Config, opts Options) *Machine {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.CritiqueInstruction == "" {
		cfg.CritiqueInstruction = DefaultCritiqueInstruction
	}
	m := &Machine{
		cfg:        cfg,
		selector:   selector,
		dispatcher: dispatcher,
		bus:        opts.Bus,
		metrics:    opts.Metrics,
		tracer:     opts.Tracer,
		logger:     opts.Logger,
	}
	if m.tracer == nil {
		m.tracer = noop.NewTracerProvider().Tracer("")
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m
}

// run is the per-sub-task state. bestSeen only ever moves up.
type run struct {
	bestSeen pipeline.Candidate
	haveBest bool
	tried    []string
	seen     map[string]bool
}

func (r *run) observe(c pipeline.Candidate) {
	if !r.haveBest || c.Score > r.bestSeen.Score {
		r.bestSeen = c
		r.haveBest = true
	}
}

func (r *run) try(workers []directory.WorkerProfile) {
	for _, w := range workers {
		if !r.seen[w.ID] {
			r.seen[w.ID] = true
			r.tried = append(r.tried, w.ID)
		}
	}
}

// Run drives one sub-task. taskContext holds the results of its dependencies.
// Cancellation ends the loop early with whatever was seen so far.
func (m *Machine) Run(ctx context.Context, subTaskID, task, taskContext string) Outcome {
	ctx, span := m.tracer.Start(ctx, "subtask.attempts", trace.WithAttributes(
		attribute.String("subtask.id", subTaskID),
	))
	defer span.End()

	log := m.logger.With(zap.String("subtask_id", subTaskID))
	st := &run{seen: map[string]bool{}}

	attempts := 0
	for attempts < m.cfg.MaxAttempts {
		if ctx.Err() != nil {
			log.Warn("context done, stopping attempts", zap.Error(ctx.Err()))
			break
		}
		attempts++

		if winner, ok := m.attempt(ctx, log, st, subTaskID, attempts, task, taskContext); ok {
			span.SetAttributes(
				attribute.Int("subtask.attempts", attempts),
				attribute.Float64("subtask.score", winner.Score),
				attribute.Bool("subtask.accepted", true),
			)
			return Outcome{
				Status:      StatusAccepted,
				Candidate:   winner,
				Attempts:    attempts,
				AgentsTried: st.tried,
			}
		}
	}

	best := st.bestSeen
	if !st.haveBest {
		best = Sentinel()
	}
	span.SetAttributes(
		attribute.Int("subtask.attempts", attempts),
		attribute.Float64("subtask.score", best.Score),
		attribute.Bool("subtask.accepted", false),
	)
	log.Info("attempts exhausted, keeping best candidate",
		zap.String("worker_id", best.WorkerID),
		zap.Float64("score", best.Score),
		zap.Int("attempts", attempts))

	return Outcome{
		Status:      StatusExhausted,
		Candidate:   best,
		Attempts:    attempts,
		AgentsTried: st.tried,
	}
}

// attempt runs one selection, dispatch and optional self-critique round.
// It returns the accepted candidate, if any.
func (m *Machine) attempt(ctx context.Context, log *zap.Logger, st *run, subTaskID string, n int, task, taskContext string) (pipeline.Candidate, bool) {
	ctx, span := m.tracer.Start(ctx, "subtask.attempt", trace.WithAttributes(
		attribute.String("subtask.id", subTaskID),
		attribute.Int("attempt", n),
	))
	defer span.End()

	log = log.With(zap.Int("attempt", n))

	workers := m.selector.Select(ctx, task)
	st.try(workers)
	m.bus.Publish(events.WorkersSelectedEvent{
		ID:        subTaskID,
		Attempt:   n,
		Workers:   workerIDs(workers),
		Timestamp: time.Now(),
	})

	req := pipeline.Request{SubTaskID: subTaskID, Attempt: n, Task: task, Context: taskContext}
	candidates := m.dispatcher.Run(ctx, req, workers)
	if len(candidates) == 0 {
		log.Warn("no candidates this attempt", zap.Int("workers", len(workers)))
		m.finish(subTaskID, n, pipeline.Candidate{}, false)
		return pipeline.Candidate{}, false
	}

	top := Best(candidates)
	st.observe(top)
	log.Debug("best candidate",
		zap.String("worker_id", top.WorkerID),
		zap.Float64("score", top.Score))

	if top.Score >= m.cfg.AcceptThreshold {
		m.finish(subTaskID, n, top, true)
		return top, true
	}

	profile, ok := findWorker(workers, top.WorkerID)
	if !ok {
		m.finish(subTaskID, n, top, false)
		return pipeline.Candidate{}, false
	}

	critique := req
	critique.SelfCritique = true
	critique.Context = CritiqueContext(taskContext, top.Answer, m.cfg.CritiqueInstruction)

	improved, err := m.dispatcher.Invoke(ctx, critique, profile)
	if err != nil {
		log.Warn("self-critique failed", zap.String("worker_id", top.WorkerID), zap.Error(err))
		m.finish(subTaskID, n, top, false)
		return pipeline.Candidate{}, false
	}
	st.observe(improved)

	if improved.Score >= m.cfg.AcceptThreshold {
		m.finish(subTaskID, n, improved, true)
		return improved, true
	}

	roundBest := top
	if improved.Score > top.Score {
		roundBest = improved
	}
	m.finish(subTaskID, n, roundBest, false)
	return pipeline.Candidate{}, false
}

func (m *Machine) finish(subTaskID string, n int, best pipeline.Candidate, accepted bool) {
	m.metrics.ObserveAttempt(accepted, best.Score)
	m.bus.Publish(events.AttemptFinishedEvent{
		ID:         subTaskID,
		Attempt:    n,
		BestWorker: best.WorkerID,
		BestScore:  best.Score,
		Accepted:   accepted,
		Timestamp:  time.Now(),
	})
}

// Best returns the highest-scoring candidate. Ties go to the earliest,
// which is completion order when candidates come from pipeline.Run.
func Best(candidates []pipeline.Candidate) pipeline.Candidate {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Score > best.Score {
			best = c
		}
	}
	return best
}

// CritiqueContext builds the context for a self-critique call: the original
// context, the prior answer, then the review instruction.
func CritiqueContext(taskContext string, prior capability.Answer, instruction string) string {
	var b strings.Builder
	if taskContext != "" {
		b.WriteString(taskContext)
		b.WriteString("\n")
	}
	b.WriteString("Your previous reasoning: ")
	b.WriteString(prior.Reasoning)
	b.WriteString("\nYour previous final answer: ")
	b.WriteString(prior.FinalAnswer)
	b.WriteString(instruction)
	return b.String()
}

func findWorker(workers []directory.WorkerProfile, id string) (directory.WorkerProfile, bool) {
	for _, w := range workers {
		if w.ID == id {
			return w, true
		}
	}
	return directory.WorkerProfile{}, false
}

func workerIDs(workers []directory.WorkerProfile) []string {
	ids := make([]string, len(workers))
	for i, w := range workers {
		ids[i] = w.ID
	}
	return ids
}
