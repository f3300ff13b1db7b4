package scheduler

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gammazero/toposort"

	"github.com/aristath/quorum/internal/attempt"
)

// Graph holds the sub-tasks of one run. It is append-only: sub-tasks are
// never removed, only moved to a terminal status.
type Graph struct {
	mu    sync.RWMutex
	tasks map[string]*SubTask
	order []string // insertion order
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		tasks: make(map[string]*SubTask),
	}
}

// Add inserts a copy of t. Inserting an id that already exists is a no-op
// and returns false.
func (g *Graph) Add(t *SubTask) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.tasks[t.ID]; exists {
		return false
	}

	g.tasks[t.ID] = cloneSubTask(t)
	g.order = append(g.order, t.ID)
	return true
}

// Get returns a copy of the sub-task with the given id.
func (g *Graph) Get(id string) (*SubTask, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	t, exists := g.tasks[id]
	if !exists {
		return nil, false
	}
	return cloneSubTask(t), true
}

// Tasks returns copies of all sub-tasks in insertion order.
func (g *Graph) Tasks() []*SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	tasks := make([]*SubTask, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, cloneSubTask(g.tasks[id]))
	}
	return tasks
}

// Len returns the number of sub-tasks.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Ready returns copies of the Pending or Ready sub-tasks whose dependencies
// are all terminal, in insertion order. A missing dependency is never terminal.
func (g *Graph) Ready() []*SubTask {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []*SubTask
	for _, id := range g.order {
		if t := g.tasks[id]; g.dispatchable(t) {
			ready = append(ready, cloneSubTask(t))
		}
	}
	return ready
}

// Promote moves every dispatchable Pending sub-task to Ready and returns
// copies of the full ready set in insertion order.
func (g *Graph) Promote() []*SubTask {
	g.mu.Lock()
	defer g.mu.Unlock()

	var ready []*SubTask
	for _, id := range g.order {
		t := g.tasks[id]
		if !g.dispatchable(t) {
			continue
		}
		t.Status = StatusReady
		ready = append(ready, cloneSubTask(t))
	}
	return ready
}

func (g *Graph) dispatchable(t *SubTask) bool {
	if t.Status != StatusPending && t.Status != StatusReady {
		return false
	}
	for _, depID := range t.Dependencies {
		dep, exists := g.tasks[depID]
		if !exists || !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

// Unresolved returns the ids of non-terminal sub-tasks in insertion order.
func (g *Graph) Unresolved() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ids []string
	for _, id := range g.order {
		if !g.tasks[id].Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkDispatched claims a ready sub-task for an attempt loop.
func (g *Graph) MarkDispatched(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("sub-task %q not found", id)
	}
	if !g.dispatchable(t) {
		return fmt.Errorf("sub-task %q is not ready (status: %s)", id, t.Status)
	}

	t.Status = StatusDispatched
	return nil
}

// Complete records an attempt outcome and moves the sub-task to its terminal status.
func (g *Graph) Complete(id string, out attempt.Outcome) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t, exists := g.tasks[id]
	if !exists {
		return fmt.Errorf("sub-task %q not found", id)
	}
	if t.Status != StatusDispatched {
		return fmt.Errorf("sub-task %q was not dispatched (status: %s)", id, t.Status)
	}

	answer := out.Candidate.Answer
	score := out.Candidate.Score
	t.Result = &answer
	t.Score = &score
	t.WinningWorker = out.Candidate.WorkerID
	t.AgentsTried = append([]string(nil), out.AgentsTried...)
	t.Attempts = out.Attempts
	if out.Accepted() {
		t.Status = StatusAccepted
	} else {
		t.Status = StatusExhausted
	}
	return nil
}

// Progress counts sub-tasks by status.
type Progress struct {
	Total      int
	Pending    int
	Ready      int
	Dispatched int
	Accepted   int
	Exhausted  int
}

// Progress returns a status census of the graph.
func (g *Graph) Progress() Progress {
	g.mu.RLock()
	defer g.mu.RUnlock()

	p := Progress{Total: len(g.order)}
	for _, t := range g.tasks {
		switch t.Status {
		case StatusPending:
			p.Pending++
		case StatusReady:
			p.Ready++
		case StatusDispatched:
			p.Dispatched++
		case StatusAccepted:
			p.Accepted++
		case StatusExhausted:
			p.Exhausted++
		}
	}
	return p
}

// Validate checks that every dependency exists and that the graph is acyclic.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var missing []string
	for _, id := range g.order {
		for _, depID := range g.tasks[id].Dependencies {
			if _, exists := g.tasks[depID]; !exists {
				missing = append(missing, fmt.Sprintf("%s -> %s", id, depID))
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing dependencies: %s", strings.Join(missing, ", "))
	}

	if len(g.order) == 0 {
		return nil
	}
	if _, err := sortIDs(g.tasks, g.order); err != nil {
		return err
	}
	return nil
}

// Order returns ids sorted so that every sub-task follows its dependencies.
// Dependencies outside ids are ignored.
func (g *Graph) Order(ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range ids {
		if _, exists := g.tasks[id]; !exists {
			return nil, fmt.Errorf("sub-task %q not found", id)
		}
	}
	return sortIDs(g.tasks, ids)
}

// sortIDs runs a topological sort over the subgraph induced by ids.
func sortIDs(tasks map[string]*SubTask, ids []string) ([]string, error) {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		in[id] = true
	}

	var edges []toposort.Edge
	for _, id := range ids {
		rooted := true
		for _, depID := range tasks[id].Dependencies {
			if !in[depID] {
				continue
			}
			// Edge (depID, id) means depID must come before id
			edges = append(edges, toposort.Edge{depID, id})
			rooted = false
		}
		if rooted {
			edges = append(edges, toposort.Edge{nil, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency cycle among %s: %w", strings.Join(cycleMembers(tasks, ids), ", "), err)
	}

	order := make([]string, 0, len(ids))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Nodes only reachable from a cycle never reach the output
	if len(order) != len(ids) {
		return nil, fmt.Errorf("dependency cycle among %s", strings.Join(cycleMembers(tasks, ids), ", "))
	}
	return order, nil
}

// cycleMembers strips sub-tasks that can be ordered, leaving those on or
// behind a cycle, sorted for stable messages.
func cycleMembers(tasks map[string]*SubTask, ids []string) []string {
	remaining := make(map[string]bool, len(ids))
	for _, id := range ids {
		remaining[id] = true
	}

	for changed := true; changed; {
		changed = false
		for id := range remaining {
			free := true
			for _, depID := range tasks[id].Dependencies {
				if remaining[depID] {
					free = false
					break
				}
			}
			if free {
				delete(remaining, id)
				changed = true
			}
		}
	}

	members := make([]string, 0, len(remaining))
	for id := range remaining {
		members = append(members, id)
	}
	sort.Strings(members)
	return members
}
