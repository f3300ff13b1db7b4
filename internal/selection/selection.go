// Package selection decides which workers attempt a sub-task.
package selection

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/quorum/internal/capability"
	"github.com/aristath/quorum/internal/config"
	"github.com/aristath/quorum/internal/directory"
)

// Config holds the heuristic fallback constants.
type Config struct {
	ShortTaskWords   int     // below this many words, pick 1 worker
	MediumTaskWords  int     // below this many words, pick 2; otherwise 3
	MatchWeight      float64 // weight of the 1..10 match score
	ReputationWeight float64 // weight of the normalized reputation
	ReputationScale  float64 // reputation is divided by this before weighting
}

// DefaultConfig returns the standard constants.
func DefaultConfig() Config {
	return ConfigFrom(config.DefaultConfig().Engine)
}

// ConfigFrom extracts the selection constants from engine config.
func ConfigFrom(e config.EngineConfig) Config {
	return Config{
		ShortTaskWords:   e.ShortTaskWords,
		MediumTaskWords:  e.MediumTaskWords,
		MatchWeight:      e.MatchWeight,
		ReputationWeight: e.ReputationWeight,
		ReputationScale:  e.ReputationScale,
	}
}

// WorkerCount returns how many workers the heuristic picks for a task.
func (c Config) WorkerCount(task string) int {
	words := len(strings.Fields(task))
	switch {
	case words < c.ShortTaskWords:
		return 1
	case words < c.MediumTaskWords:
		return 2
	default:
		return 3
	}
}

// Policy selects workers, asking the ranker first and falling back to
// a deterministic weighted heuristic.
type Policy struct {
	dir    *directory.Directory
	ranker capability.Ranker
	scorer capability.Scorer
	cfg    Config
	logger *zap.Logger
}

// NewPolicy creates a Policy. ranker and scorer may be nil.
func NewPolicy(dir *directory.Directory, ranker capability.Ranker, scorer capability.Scorer, cfg Config, logger *zap.Logger) *Policy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Policy{dir: dir, ranker: ranker, scorer: scorer, cfg: cfg, logger: logger}
}

// Select returns the workers to invoke for task, never more than the directory holds.
// The result is empty only when the directory is.
func (p *Policy) Select(ctx context.Context, task string) []directory.WorkerProfile {
	if p.dir.Len() == 0 {
		return nil
	}

	if ranked := p.rank(ctx, task); len(ranked) > 0 {
		return ranked
	}
	return p.heuristic(ctx, task)
}

// rank asks the ranker and keeps known ids, first occurrence only, in ranker order.
func (p *Policy) rank(ctx context.Context, task string) []directory.WorkerProfile {
	if p.ranker == nil {
		return nil
	}

	ids, err := p.ranker.Rank(ctx, task, p.dir.List())
	if err != nil {
		p.logger.Warn("ranker failed, using heuristic", zap.Error(err))
		return nil
	}

	seen := make(map[string]bool, len(ids))
	var out []directory.WorkerProfile
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if profile, ok := p.dir.Get(id); ok {
			out = append(out, profile)
		}
	}
	if len(out) == 0 {
		p.logger.Warn("ranker returned no known workers, using heuristic", zap.Strings("ids", ids))
	}
	return out
}

type scored struct {
	profile directory.WorkerProfile
	score   float64
}

func (p *Policy) heuristic(ctx context.Context, task string) []directory.WorkerProfile {
	profiles := p.dir.List()
	results := make([]scored, len(profiles))

	// Scorer failures fall back per worker, so the group never errors
	g, gctx := errgroup.WithContext(ctx)
	for i, profile := range profiles {
		g.Go(func() error {
			match := p.matchScore(gctx, task, profile.CapabilityText)
			results[i] = scored{
				profile: profile,
				score:   p.cfg.MatchWeight*match + p.cfg.ReputationWeight*(profile.Reputation/p.cfg.ReputationScale),
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].score > results[b].score
	})

	k := min(p.cfg.WorkerCount(task), len(results))
	out := make([]directory.WorkerProfile, k)
	for i := range out {
		out[i] = results[i].profile
	}
	return out
}

func (p *Policy) matchScore(ctx context.Context, task, capabilityText string) float64 {
	if p.scorer != nil {
		score, err := p.scorer.Score(ctx, task, capabilityText)
		if err == nil {
			return score
		}
		p.logger.Debug("scorer failed, using word overlap", zap.Error(err))
	}
	return float64(OverlapScore(task, capabilityText))
}

// OverlapScore counts distinct words shared by a and b, ignoring case and punctuation.
func OverlapScore(a, b string) int {
	left := wordSet(a)
	count := 0
	for w := range wordSet(b) {
		if left[w] {
			count++
		}
	}
	return count
}

func wordSet(s string) map[string]bool {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, s)

	set := make(map[string]bool)
	for _, w := range strings.Fields(stripped) {
		set[w] = true
	}
	return set
}
