// Package scheduler runs the sub-task graph in rounds: every ready sub-task
// is attempted concurrently, then outcomes and follow-ups are applied by the
// scheduler goroutine alone before the next round starts.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/quorum/internal/attempt"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
)

// Runner drives one sub-task to a terminal outcome. *attempt.Machine implements it.
type Runner interface {
	Run(ctx context.Context, subTaskID, task, taskContext string) attempt.Outcome
}

// Config bounds concurrency and graph growth.
type Config struct {
	ConcurrencyLimit  int // max sub-tasks attempted at once; 0 = unbounded
	MaxGraphSize      int
	MaxExpansionDepth int
}

// ConfigFrom extracts the scheduler settings from engine config.
func ConfigFrom(e config.EngineConfig) Config {
	return Config{
		ConcurrencyLimit:  e.ConcurrencyLimit,
		MaxGraphSize:      e.MaxGraphSize,
		MaxExpansionDepth: e.MaxExpansionDepth,
	}
}

// Options carries the optional collaborators of a Scheduler.
type Options struct {
	Analyst capability.Analyst // nil disables follow-up analysis
	Bus     *events.EventBus
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Deadlock describes sub-tasks that can never become ready.
type Deadlock struct {
	Unresolved []string `json:"unresolved"`
	Reason     string   `json:"reason"`
}

// Err wraps capability.ErrNoReadyTasks with the details.
func (d *Deadlock) Err() error {
	return fmt.Errorf("%w: %s (unresolved: %s)", capability.ErrNoReadyTasks, d.Reason, strings.Join(d.Unresolved, ", "))
}

// Report summarizes a scheduler run.
type Report struct {
	Rounds     int
	Deadlock   *Deadlock
	Overflow   []string // follow-up ids refused by the growth bounds
	Cancelled  bool
	Unresolved []string // non-terminal sub-tasks at exit
}

// Scheduler owns all graph mutation during a run.
type Scheduler struct {
	graph     *Graph
	runner    Runner
	followUps *FollowUpManager
	cfg       Config
	analyst   capability.Analyst
	bus       *events.EventBus
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// New creates a Scheduler over graph.
func New(graph *Graph, runner Runner, cfg Config, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		graph:     graph,
		runner:    runner,
		followUps: NewFollowUpManager(graph, cfg.MaxGraphSize, cfg.MaxExpansionDepth),
		cfg:       cfg,
		analyst:   opts.Analyst,
		bus:       opts.Bus,
		metrics:   opts.Metrics,
		logger:    logger,
	}
}

// roundResult is what one attempt goroutine hands back to the scheduler.
type roundResult struct {
	outcome   attempt.Outcome
	followUps []capability.FollowUpStep
	elapsed   time.Duration
}

// Run schedules rounds until every sub-task is terminal, no sub-task can
// become ready, or ctx is done. A cancelled run finishes its current round first.
func (s *Scheduler) Run(ctx context.Context) Report {
	var report Report

	for {
		if ctx.Err() != nil {
			report.Cancelled = true
			report.Unresolved = s.graph.Unresolved()
			s.logger.Warn("scheduler stopped by context",
				zap.Strings("unresolved", report.Unresolved),
				zap.Error(ctx.Err()))
			return report
		}

		ready := s.graph.Promote()
		if len(ready) == 0 {
			unresolved := s.graph.Unresolved()
			if len(unresolved) == 0 {
				return report
			}

			reason := "no sub-task can become ready"
			if err := s.graph.Validate(); err != nil {
				reason = err.Error()
			}
			report.Deadlock = &Deadlock{Unresolved: unresolved, Reason: reason}
			report.Unresolved = unresolved
			s.bus.Publish(events.DeadlockEvent{
				Unresolved: unresolved,
				Reason:     reason,
				Timestamp:  time.Now(),
			})
			s.logger.Warn("deadlock, stopping scheduler",
				zap.Strings("unresolved", unresolved),
				zap.String("reason", reason))
			return report
		}

		report.Rounds++
		report.Overflow = append(report.Overflow, s.round(ctx, report.Rounds, ready)...)
	}
}

// round attempts every ready sub-task concurrently, then applies the results
// in ready-set order. It returns follow-up ids dropped by the growth bounds.
func (s *Scheduler) round(ctx context.Context, n int, ready []*SubTask) []string {
	contexts := make([]string, len(ready))
	for i, t := range ready {
		if err := s.graph.MarkDispatched(t.ID); err != nil {
			// Promote just returned it; only a programming error lands here
			s.logger.Error("dispatching ready sub-task", zap.String("subtask_id", t.ID), zap.Error(err))
		}
		contexts[i] = s.dependencyContext(t)
		s.metrics.SubTaskStarted()
		s.bus.Publish(events.SubTaskDispatchedEvent{
			ID:          t.ID,
			Description: t.Description,
			Round:       n,
			Timestamp:   time.Now(),
		})
	}
	s.logger.Info("round started", zap.Int("round", n), zap.Int("subtasks", len(ready)))

	results := make([]roundResult, len(ready))
	var g errgroup.Group
	if s.cfg.ConcurrencyLimit > 0 {
		g.SetLimit(s.cfg.ConcurrencyLimit)
	}
	for i, t := range ready {
		g.Go(func() error {
			start := time.Now()
			out := s.runner.Run(ctx, t.ID, t.Description, contexts[i])
			results[i] = roundResult{
				outcome:   out,
				followUps: s.analyze(ctx, t, out),
				elapsed:   time.Since(start),
			}
			return nil
		})
	}
	_ = g.Wait()

	var dropped []string
	for i, t := range ready {
		res := results[i]
		if err := s.graph.Complete(t.ID, res.outcome); err != nil {
			s.logger.Error("recording outcome", zap.String("subtask_id", t.ID), zap.Error(err))
			continue
		}
		s.metrics.SubTaskFinished(string(res.outcome.Status))
		s.bus.Publish(events.SubTaskCompletedEvent{
			ID:            t.ID,
			Status:        string(res.outcome.Status),
			WinningWorker: res.outcome.Candidate.WorkerID,
			Score:         res.outcome.Candidate.Score,
			FinalAnswer:   res.outcome.Candidate.Answer.FinalAnswer,
			Attempts:      res.outcome.Attempts,
			Duration:      res.elapsed,
			Timestamp:     time.Now(),
		})
		s.logger.Info("sub-task completed",
			zap.String("subtask_id", t.ID),
			zap.String("status", string(res.outcome.Status)),
			zap.String("worker_id", res.outcome.Candidate.WorkerID),
			zap.Float64("score", res.outcome.Candidate.Score))

		if len(res.followUps) == 0 {
			continue
		}
		absorbed := s.followUps.Absorb(t.ID, res.followUps)
		if len(absorbed.Dropped) > 0 {
			s.metrics.ObserveOverflow(len(absorbed.Dropped))
			s.logger.Warn("follow-ups dropped by graph bounds",
				zap.String("subtask_id", t.ID),
				zap.Strings("dropped", absorbed.Dropped))
		}
		s.bus.Publish(events.FollowUpsAbsorbedEvent{
			ParentID:  t.ID,
			Added:     absorbed.Added,
			Dropped:   absorbed.Dropped,
			Timestamp: time.Now(),
		})
		dropped = append(dropped, absorbed.Dropped...)
	}

	p := s.graph.Progress()
	s.bus.Publish(events.GraphProgressEvent{
		Round:      n,
		Total:      p.Total,
		Accepted:   p.Accepted,
		Exhausted:  p.Exhausted,
		Dispatched: p.Dispatched,
		Pending:    p.Pending + p.Ready,
		Timestamp:  time.Now(),
	})

	return dropped
}

// analyze asks the analyst for follow-ups. Sentinel outcomes carry no answer
// worth analysing. Failures yield no follow-ups.
func (s *Scheduler) analyze(ctx context.Context, t *SubTask, out attempt.Outcome) []capability.FollowUpStep {
	if s.analyst == nil || out.Candidate.WorkerID == attempt.NoAgent || ctx.Err() != nil {
		return nil
	}

	steps, err := s.analyst.FollowUps(ctx, t.ID, t.Description, out.Candidate.Answer)
	if err != nil {
		level := s.logger.Warn
		if errors.Is(err, context.Canceled) {
			level = s.logger.Debug
		}
		level("follow-up analysis failed", zap.String("subtask_id", t.ID), zap.Error(err))
		return nil
	}
	return steps
}

// dependencyContext renders "<depID>: <finalAnswer>" lines for the terminal
// dependencies of t that produced an answer, in dependency order.
func (s *Scheduler) dependencyContext(t *SubTask) string {
	var lines []string
	for _, depID := range t.Dependencies {
		dep, ok := s.graph.Get(depID)
		if !ok || !dep.Status.Terminal() || dep.Result == nil || dep.WinningWorker == attempt.NoAgent {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", depID, dep.Result.FinalAnswer))
	}
	return strings.Join(lines, "\n")
}
