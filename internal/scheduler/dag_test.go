package scheduler

import (
	"reflect"
	"strings"
	"testing"

	"github.com/aristath/quorum/internal/attempt"
	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/pipeline"
)

func accepted(worker, answer string, score float64) attempt.Outcome {
	return attempt.Outcome{
		Status: attempt.StatusAccepted,
		Candidate: pipeline.Candidate{
			WorkerID: worker,
			Answer:   capability.Answer{FinalAnswer: answer},
			Score:    score,
		},
		Attempts:    1,
		AgentsTried: []string{worker},
	}
}

func buildGraph(tasks ...*SubTask) *Graph {
	g := NewGraph()
	for _, t := range tasks {
		g.Add(t)
	}
	return g
}

func readyIDs(tasks []*SubTask) []string {
	ids := []string{}
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

// indexOf fails the test when id is absent from order.
func indexOf(t *testing.T, order []string, id string) int {
	t.Helper()
	for i, v := range order {
		if v == id {
			return i
		}
	}
	t.Fatalf("%q missing from order %v", id, order)
	return -1
}

// TestGraphValidate tests graph validation with various structures.
func TestGraphValidate(t *testing.T) {
	tests := []struct {
		name        string
		setup       func() *Graph
		wantErr     bool
		errContains string
	}{
		{
			name: "valid linear chain",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A"},
					&SubTask{ID: "B", Dependencies: []string{"A"}},
					&SubTask{ID: "C", Dependencies: []string{"B"}},
				)
			},
		},
		{
			name: "valid diamond",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A"},
					&SubTask{ID: "B", Dependencies: []string{"A"}},
					&SubTask{ID: "C", Dependencies: []string{"A"}},
					&SubTask{ID: "D", Dependencies: []string{"B", "C"}},
				)
			},
		},
		{
			name:  "empty graph",
			setup: NewGraph,
		},
		{
			name: "direct cycle",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "T1", Dependencies: []string{"T2"}},
					&SubTask{ID: "T2", Dependencies: []string{"T1"}},
				)
			},
			wantErr:     true,
			errContains: "cycle among T1, T2",
		},
		{
			name: "cycle behind a valid root",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A"},
					&SubTask{ID: "B", Dependencies: []string{"A", "C"}},
					&SubTask{ID: "C", Dependencies: []string{"B"}},
				)
			},
			wantErr:     true,
			errContains: "cycle among B, C",
		},
		{
			name: "self-loop",
			setup: func() *Graph {
				return buildGraph(&SubTask{ID: "A", Dependencies: []string{"A"}})
			},
			wantErr:     true,
			errContains: "cycle",
		},
		{
			name: "missing dependency",
			setup: func() *Graph {
				return buildGraph(&SubTask{ID: "A", Dependencies: []string{"ghost"}})
			},
			wantErr:     true,
			errContains: "A -> ghost",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.setup().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("Validate() error = %q, want it to contain %q", err, tt.errContains)
			}
		})
	}
}

// TestGraphReady tests the ready set under different dependency states.
func TestGraphReady(t *testing.T) {
	tests := []struct {
		name     string
		setup    func() *Graph
		expected []string
	}{
		{
			name: "roots are ready in insertion order",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "B"},
					&SubTask{ID: "A"},
					&SubTask{ID: "C", Dependencies: []string{"A"}},
				)
			},
			expected: []string{"B", "A"},
		},
		{
			name: "accepted dependency unlocks",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A", Status: StatusAccepted},
					&SubTask{ID: "B", Dependencies: []string{"A"}},
				)
			},
			expected: []string{"B"},
		},
		{
			name: "exhausted dependency unlocks",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A", Status: StatusExhausted},
					&SubTask{ID: "B", Dependencies: []string{"A"}},
				)
			},
			expected: []string{"B"},
		},
		{
			name: "dispatched dependency blocks",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A", Status: StatusDispatched},
					&SubTask{ID: "B", Dependencies: []string{"A"}},
				)
			},
			expected: []string{},
		},
		{
			name: "partial completion",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "A", Status: StatusAccepted},
					&SubTask{ID: "B"},
					&SubTask{ID: "C", Dependencies: []string{"A", "B"}},
				)
			},
			expected: []string{"B"},
		},
		{
			name: "missing dependency never ready",
			setup: func() *Graph {
				return buildGraph(&SubTask{ID: "A", Dependencies: []string{"ghost"}})
			},
			expected: []string{},
		},
		{
			name: "cycle never ready",
			setup: func() *Graph {
				return buildGraph(
					&SubTask{ID: "T1", Dependencies: []string{"T2"}},
					&SubTask{ID: "T2", Dependencies: []string{"T1"}},
				)
			},
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := readyIDs(tt.setup().Ready())
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Ready() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGraphAddIsIdempotent(t *testing.T) {
	g := NewGraph()
	if !g.Add(&SubTask{ID: "A", Description: "first"}) {
		t.Fatal("first Add() returned false")
	}
	if g.Add(&SubTask{ID: "A", Description: "second"}) {
		t.Error("duplicate Add() returned true")
	}

	task, _ := g.Get("A")
	if task.Description != "first" {
		t.Errorf("Description = %q, want %q", task.Description, "first")
	}
	if g.Len() != 1 {
		t.Errorf("Len() = %d, want 1", g.Len())
	}
}

func TestGraphReturnsCopies(t *testing.T) {
	g := buildGraph(&SubTask{ID: "A", Dependencies: []string{"B"}})

	task, _ := g.Get("A")
	task.Dependencies[0] = "mutated"
	task.Status = StatusAccepted

	again, _ := g.Get("A")
	if again.Dependencies[0] != "B" || again.Status != StatusPending {
		t.Errorf("graph state changed through a returned copy: %+v", again)
	}
}

// TestGraphTransitions tests the status transition methods.
func TestGraphTransitions(t *testing.T) {
	t.Run("Promote marks ready", func(t *testing.T) {
		g := buildGraph(&SubTask{ID: "A"}, &SubTask{ID: "B", Dependencies: []string{"A"}})

		ready := g.Promote()
		if !reflect.DeepEqual(readyIDs(ready), []string{"A"}) {
			t.Fatalf("Promote() = %v, want [A]", readyIDs(ready))
		}
		task, _ := g.Get("A")
		if task.Status != StatusReady {
			t.Errorf("status = %s, want ready", task.Status)
		}
	})

	t.Run("MarkDispatched requires ready", func(t *testing.T) {
		g := buildGraph(&SubTask{ID: "A"}, &SubTask{ID: "B", Dependencies: []string{"A"}})

		if err := g.MarkDispatched("B"); err == nil {
			t.Error("MarkDispatched(B) succeeded with unfinished dependency")
		}
		if err := g.MarkDispatched("A"); err != nil {
			t.Fatalf("MarkDispatched(A) error = %v", err)
		}
		if err := g.MarkDispatched("A"); err == nil {
			t.Error("second MarkDispatched(A) succeeded")
		}
		if err := g.MarkDispatched("missing"); err == nil {
			t.Error("MarkDispatched(missing) succeeded")
		}
	})

	t.Run("Complete records outcome", func(t *testing.T) {
		g := buildGraph(&SubTask{ID: "A"})
		if err := g.Complete("A", accepted("W", "42", 8)); err == nil {
			t.Fatal("Complete() on a pending sub-task succeeded")
		}

		_ = g.MarkDispatched("A")
		if err := g.Complete("A", accepted("W", "42", 8)); err != nil {
			t.Fatalf("Complete() error = %v", err)
		}

		task, _ := g.Get("A")
		if task.Status != StatusAccepted {
			t.Errorf("status = %s, want accepted", task.Status)
		}
		if task.Result == nil || task.Result.FinalAnswer != "42" {
			t.Errorf("Result = %+v, want final answer 42", task.Result)
		}
		if task.Score == nil || *task.Score != 8 {
			t.Errorf("Score = %v, want 8", task.Score)
		}
		if task.WinningWorker != "W" || task.Attempts != 1 {
			t.Errorf("WinningWorker = %q Attempts = %d", task.WinningWorker, task.Attempts)
		}
	})

	t.Run("exhausted outcome", func(t *testing.T) {
		g := buildGraph(&SubTask{ID: "A"})
		_ = g.MarkDispatched("A")

		out := accepted("W", "meh", 5)
		out.Status = attempt.StatusExhausted
		_ = g.Complete("A", out)

		task, _ := g.Get("A")
		if task.Status != StatusExhausted || *task.Score != 5 {
			t.Errorf("got status %s score %v, want exhausted 5", task.Status, *task.Score)
		}
		if len(g.Unresolved()) != 0 {
			t.Errorf("Unresolved() = %v, want none", g.Unresolved())
		}
	})
}

func TestGraphOrder(t *testing.T) {
	g := buildGraph(
		&SubTask{ID: "T3", Dependencies: []string{"T1"}},
		&SubTask{ID: "T2", Dependencies: []string{"T1"}},
		&SubTask{ID: "T1"},
		&SubTask{ID: "T4", Dependencies: []string{"T2", "T3"}},
		&SubTask{ID: "X", Dependencies: []string{"unfinished"}},
	)

	order, err := g.Order([]string{"T4", "T3", "T2", "T1"})
	if err != nil {
		t.Fatalf("Order() error = %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("Order() = %v, want 4 ids", order)
	}
	if indexOf(t, order, "T1") > indexOf(t, order, "T2") || indexOf(t, order, "T1") > indexOf(t, order, "T3") {
		t.Errorf("T1 must precede T2 and T3: %v", order)
	}
	if indexOf(t, order, "T4") != 3 {
		t.Errorf("T4 must come last: %v", order)
	}

	// Dependencies outside the requested ids are ignored
	order, err = g.Order([]string{"X"})
	if err != nil || !reflect.DeepEqual(order, []string{"X"}) {
		t.Errorf("Order([X]) = %v, %v", order, err)
	}

	if _, err := g.Order([]string{"nope"}); err == nil {
		t.Error("Order() with unknown id succeeded")
	}
}

func TestGraphProgress(t *testing.T) {
	g := buildGraph(
		&SubTask{ID: "A", Status: StatusAccepted},
		&SubTask{ID: "B", Status: StatusExhausted},
		&SubTask{ID: "C", Status: StatusDispatched},
		&SubTask{ID: "D"},
	)

	want := Progress{Total: 4, Pending: 1, Dispatched: 1, Accepted: 1, Exhausted: 1}
	if got := g.Progress(); got != want {
		t.Errorf("Progress() = %+v, want %+v", got, want)
	}
	if got := g.Unresolved(); !reflect.DeepEqual(got, []string{"C", "D"}) {
		t.Errorf("Unresolved() = %v, want [C D]", got)
	}
}

func TestStatusString(t *testing.T) {
	for s, want := range map[Status]string{
		StatusPending:    "pending",
		StatusReady:      "ready",
		StatusDispatched: "dispatched",
		StatusAccepted:   "accepted",
		StatusExhausted:  "exhausted",
		Status(99):       "unknown",
	} {
		if s.String() != want {
			t.Errorf("Status(%d).String() = %q, want %q", s, s.String(), want)
		}
	}
}
