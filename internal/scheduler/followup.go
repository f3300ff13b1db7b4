package scheduler

import (
	"slices"

	"github.com/aristath/quorum/internal/capability"
)

// FollowUpManager inserts follow-up sub-tasks proposed after a sub-task
// completes, enforcing the graph growth bounds.
type FollowUpManager struct {
	graph    *Graph
	maxSize  int // graph never grows past this many sub-tasks; <= 0 means unbounded
	maxDepth int // follow-ups deeper than this are refused
}

// AbsorbResult reports what happened to each proposed step.
type AbsorbResult struct {
	Added      []string
	Duplicates []string // id already in the graph; left untouched
	Dropped    []string // refused by MaxGraphSize or MaxExpansionDepth
}

// NewFollowUpManager creates a FollowUpManager.
func NewFollowUpManager(graph *Graph, maxSize, maxDepth int) *FollowUpManager {
	return &FollowUpManager{
		graph:    graph,
		maxSize:  maxSize,
		maxDepth: maxDepth,
	}
}

// Absorb inserts steps proposed for parentID. Blocking steps gain a
// dependency on the parent. Absorbing the same steps twice changes nothing.
func (fm *FollowUpManager) Absorb(parentID string, steps []capability.FollowUpStep) AbsorbResult {
	var res AbsorbResult

	depth := 1
	if parent, ok := fm.graph.Get(parentID); ok {
		depth = parent.Depth + 1
	}

	for _, step := range steps {
		if step.ID == "" {
			continue
		}
		if _, exists := fm.graph.Get(step.ID); exists {
			res.Duplicates = append(res.Duplicates, step.ID)
			continue
		}
		if depth > fm.maxDepth || (fm.maxSize > 0 && fm.graph.Len() >= fm.maxSize) {
			res.Dropped = append(res.Dropped, step.ID)
			continue
		}

		deps := append([]string(nil), step.Dependencies...)
		if step.Blocking && !slices.Contains(deps, parentID) {
			deps = append(deps, parentID)
		}

		if fm.graph.Add(&SubTask{
			ID:           step.ID,
			Description:  step.Task,
			Dependencies: deps,
			Blocking:     step.Blocking,
			Parent:       parentID,
			Depth:        depth,
			Status:       StatusPending,
		}) {
			res.Added = append(res.Added, step.ID)
		} else {
			res.Duplicates = append(res.Duplicates, step.ID)
		}
	}

	return res
}
