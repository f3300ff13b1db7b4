// Package capability defines the request/response contracts the engine
// consumes. Any implementation of these interfaces is substitutable; the
// oracle package provides LLM-backed ones.
package capability

import (
	"context"
	"fmt"

	"github.com/aristath/quorum/internal/directory"
)

// Answer is a worker's response to a sub-task.
type Answer struct {
	Reasoning   string `json:"chain_of_thought"`
	FinalAnswer string `json:"final_answer"`
}

// Verdict is a judge's accept/reject tag.
type Verdict string

const (
	VerdictAccepted Verdict = "Accepted"
	VerdictRejected Verdict = "Rejected"
)

// JudgeVerdict is one judge's assessment of an Answer. All sub-scores are in [0, 10].
type JudgeVerdict struct {
	Coherence            float64
	Completeness         float64
	Correctness          float64
	Clarity              float64
	InstructionFollowing float64
	Verdict              Verdict
	Suggestions          string
}

// Composite returns the arithmetic mean of the five sub-scores.
func (v JudgeVerdict) Composite() float64 {
	return (v.Coherence + v.Completeness + v.Correctness + v.Clarity + v.InstructionFollowing) / 5
}

// PlannedStep is one sub-task produced by decomposition.
type PlannedStep struct {
	ID           string
	Task         string
	Dependencies []string
}

// FollowUpStep is an additional sub-task discovered after a sub-task completes.
// Blocking steps depend on the sub-task that produced them.
type FollowUpStep struct {
	ID           string
	Task         string
	Dependencies []string
	Blocking     bool
}

// SynthesisEntry is one terminal sub-task handed to the synthesizer.
type SynthesisEntry struct {
	ID          string
	Task        string
	FinalAnswer string
}

// String renders the entry as "Task <id> (<task>): <answer>".
func (e SynthesisEntry) String() string {
	return fmt.Sprintf("Task %s (%s): %s", e.ID, e.Task, e.FinalAnswer)
}

// FormatEntries renders each entry with String.
func FormatEntries(entries []SynthesisEntry) []string {
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = e.String()
	}
	return lines
}

// Decomposer splits a top-level task into dependency-ordered sub-tasks.
type Decomposer interface {
	Decompose(ctx context.Context, task string) ([]PlannedStep, error)
}

// Worker solves a sub-task in the persona of the given profile.
// taskContext carries accumulated results of completed dependencies and may be empty.
type Worker interface {
	Act(ctx context.Context, profile directory.WorkerProfile, task string, taskContext string) (Answer, error)
}

// Judge scores an answer.
type Judge interface {
	Name() string
	Judge(ctx context.Context, task string, answer Answer) (JudgeVerdict, error)
}

// Synthesizer merges terminal sub-task results into one answer.
type Synthesizer interface {
	Synthesize(ctx context.Context, task string, entries []SynthesisEntry) (string, error)
}

// Ranker picks the worker ids best suited to a task.
type Ranker interface {
	Rank(ctx context.Context, task string, candidates []directory.WorkerProfile) ([]string, error)
}

// Scorer rates how well a capability description matches a task, 1..10.
type Scorer interface {
	Score(ctx context.Context, task string, capabilityText string) (float64, error)
}

// Analyst inspects a completed sub-task and proposes follow-up steps.
type Analyst interface {
	FollowUps(ctx context.Context, id string, task string, result Answer) ([]FollowUpStep, error)
}
