// Package pipeline fans a sub-task out to workers and every answer out to
// the judge quorum. All fan-outs join before a call returns.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/directory"
	"github.com/aristath/quorum/internal/events"
	"github.com/aristath/quorum/internal/observability"
)

// Request identifies one dispatch of a sub-task.
type Request struct {
	SubTaskID    string
	Attempt      int
	Task         string
	Context      string // accumulated dependency results, may be empty
	SelfCritique bool
}

// Verdict is one judge's contribution to a candidate score.
// A failed judge has Err set and Score 0.
type Verdict struct {
	Judge   string
	Verdict capability.JudgeVerdict
	Score   float64
	Err     error
}

// Candidate is a judged worker answer.
type Candidate struct {
	WorkerID string
	Answer   capability.Answer
	Score    float64
	Verdicts []Verdict // judge order
}

// Options carries the optional collaborators of a Pipeline.
type Options struct {
	Bus     *events.EventBus
	Metrics *observability.Metrics
	Logger  *zap.Logger
}

// Pipeline dispatches workers and validates their answers.
type Pipeline struct {
	worker  capability.Worker
	judges  []capability.Judge
	bus     *events.EventBus
	metrics *observability.Metrics
	logger  *zap.Logger
}

// New creates a Pipeline. The judge slice is copied.
func New(worker capability.Worker, judges []capability.Judge, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		worker:  worker,
		judges:  append([]capability.Judge(nil), judges...),
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Judges returns the size of the quorum.
func (p *Pipeline) Judges() int {
	return len(p.judges)
}

// Run invokes every worker concurrently and judges each answer.
// Failed worker calls are dropped. Candidates are returned in completion order.
func (p *Pipeline) Run(ctx context.Context, req Request, workers []directory.WorkerProfile) []Candidate {
	var (
		mu         sync.Mutex
		candidates []Candidate
		g          errgroup.Group
	)

	for _, w := range workers {
		g.Go(func() error {
			c, err := p.Invoke(ctx, req, w)
			if err != nil {
				return nil
			}
			mu.Lock()
			candidates = append(candidates, c)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return candidates
}

// Invoke calls one worker and validates its answer with the full quorum.
func (p *Pipeline) Invoke(ctx context.Context, req Request, worker directory.WorkerProfile) (Candidate, error) {
	log := p.logger.With(
		zap.String("subtask_id", req.SubTaskID),
		zap.Int("attempt", req.Attempt),
		zap.String("worker_id", worker.ID),
	)

	start := time.Now()
	answer, err := p.worker.Act(ctx, worker, req.Task, req.Context)
	p.bus.Publish(events.WorkerAnsweredEvent{
		ID:           req.SubTaskID,
		Attempt:      req.Attempt,
		WorkerID:     worker.ID,
		SelfCritique: req.SelfCritique,
		FinalAnswer:  answer.FinalAnswer,
		Err:          err,
		Duration:     time.Since(start),
		Timestamp:    time.Now(),
	})
	if err != nil {
		p.metrics.ObserveCandidate(true)
		log.Warn("worker call failed, dropping candidate", zap.Error(err))
		return Candidate{}, err
	}
	p.metrics.ObserveCandidate(false)

	score, verdicts := p.Validate(ctx, req, worker.ID, answer)
	p.bus.Publish(events.CandidateScoredEvent{
		ID:           req.SubTaskID,
		Attempt:      req.Attempt,
		WorkerID:     worker.ID,
		Score:        score,
		SelfCritique: req.SelfCritique,
		Timestamp:    time.Now(),
	})
	log.Debug("candidate scored", zap.Float64("score", score), zap.Bool("self_critique", req.SelfCritique))

	return Candidate{
		WorkerID: worker.ID,
		Answer:   answer,
		Score:    score,
		Verdicts: verdicts,
	}, nil
}

// Validate asks every judge concurrently and returns the mean composite.
// Failed judges count as 0 and stay in the denominator. With no judges the score is 0.
func (p *Pipeline) Validate(ctx context.Context, req Request, workerID string, answer capability.Answer) (float64, []Verdict) {
	if len(p.judges) == 0 {
		return 0, nil
	}

	verdicts := make([]Verdict, len(p.judges))
	var g errgroup.Group

	for i, judge := range p.judges {
		g.Go(func() error {
			v, err := judge.Judge(ctx, req.Task, answer)
			verdict := Verdict{Judge: judge.Name(), Err: err}
			if err == nil {
				verdict.Verdict = v
				verdict.Score = v.Composite()
			} else {
				p.metrics.ObserveJudgeFailure()
				p.logger.Warn("judge failed, scoring 0",
					zap.String("subtask_id", req.SubTaskID),
					zap.Int("attempt", req.Attempt),
					zap.String("worker_id", workerID),
					zap.String("judge", judge.Name()),
					zap.Error(err))
			}
			verdicts[i] = verdict

			p.bus.Publish(events.JudgeVerdictEvent{
				ID:        req.SubTaskID,
				Attempt:   req.Attempt,
				WorkerID:  workerID,
				Judge:     verdict.Judge,
				Score:     verdict.Score,
				Verdict:   string(verdict.Verdict.Verdict),
				Err:       err,
				Timestamp: time.Now(),
			})
			return nil
		})
	}
	_ = g.Wait()

	var sum float64
	for _, v := range verdicts {
		sum += v.Score
	}
	return sum / float64(len(verdicts)), verdicts
}
