package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/aristath/quorum/internal/backend"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/directory"
)

// Sampling temperatures: scoring roles are deterministic, generative ones are not.
const (
	temperatureGenerative = 0.3
	temperatureExact      = 0.0
)

func temperature(v float64) *float64 { return &v }

// Decomposer implements capability.Decomposer.
type Decomposer struct{ client *Client }

// NewDecomposer creates a Decomposer.
func NewDecomposer(c *Client) *Decomposer { return &Decomposer{client: c} }

// Decompose asks for a dependency-annotated plan.
func (d *Decomposer) Decompose(ctx context.Context, task string) ([]capability.PlannedStep, error) {
	reply, err := d.client.Complete(ctx, capDecomposer, backend.Message{
		Content:     decomposePrompt(task),
		Temperature: temperature(temperatureGenerative),
	})
	if err != nil {
		return nil, err
	}
	return parsePlan(reply)
}

// Worker implements capability.Worker. The profile's capability text becomes
// the system persona for the call.
type Worker struct{ client *Client }

// NewWorker creates a Worker.
func NewWorker(c *Client) *Worker { return &Worker{client: c} }

// Act solves task as profile.
func (w *Worker) Act(ctx context.Context, profile directory.WorkerProfile, task string, taskContext string) (capability.Answer, error) {
	reply, err := w.client.Complete(ctx, capWorker, backend.Message{
		System:      personaPrompt(profile),
		Content:     actPrompt(profile, task, taskContext),
		Temperature: temperature(temperatureGenerative),
	})
	if err != nil {
		return capability.Answer{}, err
	}
	return parseAnswer(reply)
}

// Judge implements capability.Judge. Judges sharing a backend are still
// independent: each one is a separate call.
type Judge struct {
	client *Client
	name   string
}

// NewJudge creates a named Judge.
func NewJudge(c *Client, name string) *Judge { return &Judge{client: c, name: name} }

// NewJudges creates n judges named Validator_1..Validator_n.
func NewJudges(c *Client, n int) []capability.Judge {
	judges := make([]capability.Judge, n)
	for i := range judges {
		judges[i] = NewJudge(c, fmt.Sprintf("Validator_%d", i+1))
	}
	return judges
}

// Name returns the judge's name.
func (j *Judge) Name() string { return j.name }

// Judge scores answer against task.
func (j *Judge) Judge(ctx context.Context, task string, answer capability.Answer) (capability.JudgeVerdict, error) {
	reply, err := j.client.Complete(ctx, capJudge, backend.Message{
		Content:     judgePrompt(task, answer),
		Temperature: temperature(temperatureExact),
	})
	if err != nil {
		return capability.JudgeVerdict{}, err
	}
	return parseVerdict(reply)
}

// Synthesizer implements capability.Synthesizer.
type Synthesizer struct{ client *Client }

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(c *Client) *Synthesizer { return &Synthesizer{client: c} }

// Synthesize merges entries into one answer.
func (s *Synthesizer) Synthesize(ctx context.Context, task string, entries []capability.SynthesisEntry) (string, error) {
	reply, err := s.client.Complete(ctx, capSynthesizer, backend.Message{
		Content:     synthesisPrompt(task, entries),
		Temperature: temperature(temperatureGenerative),
	})
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", capability.Malformed(capSynthesizer, "empty reply")
	}
	return reply, nil
}

// Ranker implements capability.Ranker.
type Ranker struct{ client *Client }

// NewRanker creates a Ranker.
func NewRanker(c *Client) *Ranker { return &Ranker{client: c} }

// Rank returns worker ids best first. Unknown ids are left for the caller to filter.
func (r *Ranker) Rank(ctx context.Context, task string, candidates []directory.WorkerProfile) ([]string, error) {
	reply, err := r.client.Complete(ctx, capRanker, backend.Message{
		Content:     rankPrompt(task, candidates),
		Temperature: temperature(temperatureGenerative),
	})
	if err != nil {
		return nil, err
	}
	return parseRanking(reply)
}

// Scorer implements capability.Scorer.
type Scorer struct{ client *Client }

// NewScorer creates a Scorer.
func NewScorer(c *Client) *Scorer { return &Scorer{client: c} }

// Score rates capabilityText against task on 1..10.
func (s *Scorer) Score(ctx context.Context, task string, capabilityText string) (float64, error) {
	reply, err := s.client.Complete(ctx, capScorer, backend.Message{
		Content:     scorePrompt(task, capabilityText),
		Temperature: temperature(temperatureExact),
	})
	if err != nil {
		return 0, err
	}
	return parseScore(reply)
}

// Analyst implements capability.Analyst.
type Analyst struct{ client *Client }

// NewAnalyst creates an Analyst.
func NewAnalyst(c *Client) *Analyst { return &Analyst{client: c} }

// FollowUps proposes additional steps after a sub-task completes.
func (a *Analyst) FollowUps(ctx context.Context, id string, task string, result capability.Answer) ([]capability.FollowUpStep, error) {
	reply, err := a.client.Complete(ctx, capAnalyst, backend.Message{
		Content:     followUpPrompt(id, task, result),
		Temperature: temperature(temperatureGenerative),
	})
	if err != nil {
		return nil, err
	}
	return parseFollowUps(reply)
}

// Set bundles one implementation per capability. Optional capabilities whose
// role has no backend are left nil so callers take their fallback paths.
type Set struct {
	Decomposer  capability.Decomposer
	Worker      capability.Worker
	Judges      []capability.Judge
	Synthesizer capability.Synthesizer
	Ranker      capability.Ranker
	Scorer      capability.Scorer
	Analyst     capability.Analyst
}

// NewSet builds the capability set for c with the given judge count.
func NewSet(c *Client, judges int) Set {
	set := Set{
		Decomposer:  NewDecomposer(c),
		Worker:      NewWorker(c),
		Judges:      NewJudges(c, judges),
		Synthesizer: NewSynthesizer(c),
	}
	if c.Has(capRanker) {
		set.Ranker = NewRanker(c)
	}
	if c.Has(capScorer) {
		set.Scorer = NewScorer(c)
	}
	if c.Has(capAnalyst) {
		set.Analyst = NewAnalyst(c)
	}
	return set
}
