// Package capabilitytest provides function-backed capability fakes for tests.
package capabilitytest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/directory"
)

// ErrUnavailable is returned by fakes that simulate a failing oracle.
var ErrUnavailable = capability.OracleFailure("fake", errors.New("unavailable"))

// WorkerFunc adapts a function to capability.Worker.
type WorkerFunc func(ctx context.Context, profile directory.WorkerProfile, task, taskContext string) (capability.Answer, error)

func (f WorkerFunc) Act(ctx context.Context, profile directory.WorkerProfile, task, taskContext string) (capability.Answer, error) {
	return f(ctx, profile, task, taskContext)
}

// Judge is a named judge backed by a function.
type Judge struct {
	ID string
	Fn func(ctx context.Context, task string, answer capability.Answer) (capability.JudgeVerdict, error)
}

func (j Judge) Name() string { return j.ID }

func (j Judge) Judge(ctx context.Context, task string, answer capability.Answer) (capability.JudgeVerdict, error) {
	return j.Fn(ctx, task, answer)
}

// Verdict returns a verdict whose five sub-scores all equal score.
func Verdict(score float64) capability.JudgeVerdict {
	verdict := capability.VerdictRejected
	if score >= 7 {
		verdict = capability.VerdictAccepted
	}
	return capability.JudgeVerdict{
		Coherence:            score,
		Completeness:         score,
		Correctness:          score,
		Clarity:              score,
		InstructionFollowing: score,
		Verdict:              verdict,
	}
}

// ScoreJudges returns n judges that all give an answer the score chosen by score.
func ScoreJudges(n int, score func(task string, answer capability.Answer) float64) []capability.Judge {
	judges := make([]capability.Judge, n)
	for i := range judges {
		judges[i] = Judge{
			ID: judgeName(i),
			Fn: func(ctx context.Context, task string, answer capability.Answer) (capability.JudgeVerdict, error) {
				if err := ctx.Err(); err != nil {
					return capability.JudgeVerdict{}, capability.OracleFailure("judge", err)
				}
				return Verdict(score(task, answer)), nil
			},
		}
	}
	return judges
}

// FailingJudge always fails.
func FailingJudge(name string) Judge {
	return Judge{
		ID: name,
		Fn: func(context.Context, string, capability.Answer) (capability.JudgeVerdict, error) {
			return capability.JudgeVerdict{}, ErrUnavailable
		},
	}
}

func judgeName(i int) string {
	return fmt.Sprintf("Validator_%d", i+1)
}

// DecomposerFunc adapts a function to capability.Decomposer.
type DecomposerFunc func(ctx context.Context, task string) ([]capability.PlannedStep, error)

func (f DecomposerFunc) Decompose(ctx context.Context, task string) ([]capability.PlannedStep, error) {
	return f(ctx, task)
}

// SynthesizerFunc adapts a function to capability.Synthesizer.
type SynthesizerFunc func(ctx context.Context, task string, entries []capability.SynthesisEntry) (string, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, task string, entries []capability.SynthesisEntry) (string, error) {
	return f(ctx, task, entries)
}

// AnalystFunc adapts a function to capability.Analyst.
type AnalystFunc func(ctx context.Context, id, task string, result capability.Answer) ([]capability.FollowUpStep, error)

func (f AnalystFunc) FollowUps(ctx context.Context, id, task string, result capability.Answer) ([]capability.FollowUpStep, error) {
	return f(ctx, id, task, result)
}

// Calls is a concurrency-safe call log.
type Calls struct {
	mu   sync.Mutex
	list []string
}

// Add appends one entry.
func (c *Calls) Add(entry string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, entry)
}

// List returns a copy of the entries in call order.
func (c *Calls) List() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.list...)
}

// Count returns how many entries equal entry.
func (c *Calls) Count(entry string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.list {
		if e == entry {
			n++
		}
	}
	return n
}
