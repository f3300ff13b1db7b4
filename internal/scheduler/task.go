package scheduler

import (
	"github.com/aristath/quorum/internal/capability"
)

// Status represents the lifecycle state of a sub-task.
type Status int

const (
	StatusPending    Status = iota // Waiting for dependencies
	StatusReady                    // All dependencies terminal
	StatusDispatched               // Claimed by an attempt loop
	StatusAccepted                 // Terminal: a candidate cleared the threshold
	StatusExhausted                // Terminal: best effort below threshold
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusReady:
		return "ready"
	case StatusDispatched:
		return "dispatched"
	case StatusAccepted:
		return "accepted"
	case StatusExhausted:
		return "exhausted"
	}
	return "unknown"
}

// Terminal reports whether the status satisfies dependents.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusExhausted
}

// SubTask is a node in the task graph.
type SubTask struct {
	ID           string
	Description  string
	Dependencies []string
	Blocking     bool
	Parent       string // sub-task whose follow-up analysis produced this one
	Depth        int    // 0 for decomposed sub-tasks

	Status        Status
	Result        *capability.Answer
	Score         *float64
	WinningWorker string
	AgentsTried   []string
	Attempts      int
}

func cloneSubTask(t *SubTask) *SubTask {
	if t == nil {
		return nil
	}

	cp := *t
	if t.Dependencies != nil {
		cp.Dependencies = append([]string(nil), t.Dependencies...)
	}
	if t.AgentsTried != nil {
		cp.AgentsTried = append([]string(nil), t.AgentsTried...)
	}
	if t.Result != nil {
		r := *t.Result
		cp.Result = &r
	}
	if t.Score != nil {
		s := *t.Score
		cp.Score = &s
	}
	return &cp
}
