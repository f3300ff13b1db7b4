package events

import (
	"time"
)

// Event is the base interface for all events.
// Engine events are keyed by sub-task id; run-level events return "".
type Event interface {
	EventType() string
	Topic() string
	SubTaskID() string
}

// Topic constants
const (
	TopicRun     = "run"
	TopicSubTask = "subtask"
	TopicAttempt = "attempt"
	TopicGraph   = "graph"
)

// Event type constants
const (
	EventTypeRunStarted        = "run.started"
	EventTypePlanReady         = "run.plan_ready"
	EventTypeRunFinished       = "run.finished"
	EventTypeSubTaskDispatched = "subtask.dispatched"
	EventTypeSubTaskCompleted  = "subtask.completed"
	EventTypeWorkersSelected   = "attempt.workers_selected"
	EventTypeWorkerAnswered    = "attempt.worker_answered"
	EventTypeJudgeVerdict      = "attempt.judge_verdict"
	EventTypeCandidateScored   = "attempt.candidate_scored"
	EventTypeAttemptFinished   = "attempt.finished"
	EventTypeFollowUpsAbsorbed = "graph.followups_absorbed"
	EventTypeGraphProgress     = "graph.progress"
	EventTypeDeadlock          = "graph.deadlock"
)

// PlannedSubTask is one entry of a PlanReadyEvent.
type PlannedSubTask struct {
	ID           string
	Description  string
	Dependencies []string
}

// RunStartedEvent is published when the orchestrator accepts a task.
type RunStartedEvent struct {
	RunID     string
	Task      string
	Timestamp time.Time
}

func (e RunStartedEvent) EventType() string { return EventTypeRunStarted }
func (e RunStartedEvent) Topic() string     { return TopicRun }
func (e RunStartedEvent) SubTaskID() string { return "" }

// PlanReadyEvent is published once decomposition has produced the initial graph.
// Fallback is set when decomposition failed and the whole task became T1.
type PlanReadyEvent struct {
	RunID     string
	SubTasks  []PlannedSubTask
	Fallback  bool
	Timestamp time.Time
}

func (e PlanReadyEvent) EventType() string { return EventTypePlanReady }
func (e PlanReadyEvent) Topic() string     { return TopicRun }
func (e PlanReadyEvent) SubTaskID() string { return "" }

// RunFinishedEvent is published after synthesis.
type RunFinishedEvent struct {
	RunID       string
	FinalAnswer string
	Synthesized bool
	Deadlocked  bool
	Duration    time.Duration
	Timestamp   time.Time
}

func (e RunFinishedEvent) EventType() string { return EventTypeRunFinished }
func (e RunFinishedEvent) Topic() string     { return TopicRun }
func (e RunFinishedEvent) SubTaskID() string { return "" }

// SubTaskDispatchedEvent is published when a sub-task enters a scheduling round.
type SubTaskDispatchedEvent struct {
	ID          string
	Description string
	Round       int
	Timestamp   time.Time
}

func (e SubTaskDispatchedEvent) EventType() string { return EventTypeSubTaskDispatched }
func (e SubTaskDispatchedEvent) Topic() string     { return TopicSubTask }
func (e SubTaskDispatchedEvent) SubTaskID() string { return e.ID }

// SubTaskCompletedEvent is published when a sub-task reaches a terminal status.
type SubTaskCompletedEvent struct {
	ID            string
	Status        string
	WinningWorker string
	Score         float64
	FinalAnswer   string
	Attempts      int
	Duration      time.Duration
	Timestamp     time.Time
}

func (e SubTaskCompletedEvent) EventType() string { return EventTypeSubTaskCompleted }
func (e SubTaskCompletedEvent) Topic() string     { return TopicSubTask }
func (e SubTaskCompletedEvent) SubTaskID() string { return e.ID }

// WorkersSelectedEvent is published after the selection policy runs for an attempt.
type WorkersSelectedEvent struct {
	ID        string
	Attempt   int
	Workers   []string
	Timestamp time.Time
}

func (e WorkersSelectedEvent) EventType() string { return EventTypeWorkersSelected }
func (e WorkersSelectedEvent) Topic() string     { return TopicAttempt }
func (e WorkersSelectedEvent) SubTaskID() string { return e.ID }

// WorkerAnsweredEvent is published for every worker call, successful or not.
type WorkerAnsweredEvent struct {
	ID           string
	Attempt      int
	WorkerID     string
	SelfCritique bool
	FinalAnswer  string
	Err          error
	Duration     time.Duration
	Timestamp    time.Time
}

func (e WorkerAnsweredEvent) EventType() string { return EventTypeWorkerAnswered }
func (e WorkerAnsweredEvent) Topic() string     { return TopicAttempt }
func (e WorkerAnsweredEvent) SubTaskID() string { return e.ID }

// JudgeVerdictEvent is published for every judge call. A failed judge has Err set and Score 0.
type JudgeVerdictEvent struct {
	ID        string
	Attempt   int
	WorkerID  string
	Judge     string
	Score     float64
	Verdict   string
	Err       error
	Timestamp time.Time
}

func (e JudgeVerdictEvent) EventType() string { return EventTypeJudgeVerdict }
func (e JudgeVerdictEvent) Topic() string     { return TopicAttempt }
func (e JudgeVerdictEvent) SubTaskID() string { return e.ID }

// CandidateScoredEvent is published once all judges have scored one answer.
type CandidateScoredEvent struct {
	ID           string
	Attempt      int
	WorkerID     string
	Score        float64
	SelfCritique bool
	Timestamp    time.Time
}

func (e CandidateScoredEvent) EventType() string { return EventTypeCandidateScored }
func (e CandidateScoredEvent) Topic() string     { return TopicAttempt }
func (e CandidateScoredEvent) SubTaskID() string { return e.ID }

// AttemptFinishedEvent is published at the end of each attempt.
type AttemptFinishedEvent struct {
	ID         string
	Attempt    int
	BestWorker string
	BestScore  float64
	Accepted   bool
	Timestamp  time.Time
}

func (e AttemptFinishedEvent) EventType() string { return EventTypeAttemptFinished }
func (e AttemptFinishedEvent) Topic() string     { return TopicAttempt }
func (e AttemptFinishedEvent) SubTaskID() string { return e.ID }

// FollowUpsAbsorbedEvent is published after follow-up analysis for a sub-task.
// Dropped lists ids refused by the graph growth bounds.
type FollowUpsAbsorbedEvent struct {
	ParentID  string
	Added     []string
	Dropped   []string
	Timestamp time.Time
}

func (e FollowUpsAbsorbedEvent) EventType() string { return EventTypeFollowUpsAbsorbed }
func (e FollowUpsAbsorbedEvent) Topic() string     { return TopicGraph }
func (e FollowUpsAbsorbedEvent) SubTaskID() string { return e.ParentID }

// GraphProgressEvent is published after every scheduling round.
type GraphProgressEvent struct {
	Round      int
	Total      int
	Accepted   int
	Exhausted  int
	Dispatched int
	Pending    int
	Timestamp  time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) Topic() string     { return TopicGraph }
func (e GraphProgressEvent) SubTaskID() string { return "" }

// DeadlockEvent is published when unresolved sub-tasks remain but none is ready.
type DeadlockEvent struct {
	Unresolved []string
	Reason     string
	Timestamp  time.Time
}

func (e DeadlockEvent) EventType() string { return EventTypeDeadlock }
func (e DeadlockEvent) Topic() string     { return TopicGraph }
func (e DeadlockEvent) SubTaskID() string { return "" }
