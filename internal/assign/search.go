// Package assign searches for a library-gate assignment with reward-tracked
// stochastic sampling under the group mutual-exclusion rule.
package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"genecad/internal/circuit"
	"genecad/internal/library"
	"genecad/internal/model"
	"genecad/internal/steady"
)

const DefaultIterations = 6000

const (
	DegenerateSkip     = "skip"
	DegenerateFallback = "fallback"
	DegenerateError    = "error"
)

var (
	ErrNotEnoughGates     = errors.New("not enough library gates for circuit")
	ErrDegenerateSampling = errors.New("every library gate is excluded")
)

// Search holds the tunables of one assignment run. A Search is used by a
// single goroutine; concurrent compiles each build their own.
type Search struct {
	Rand       *rand.Rand
	Iterations int
	// DegeneratePolicy decides what happens when a position has no
	// admissible gate left: skip the iteration, fall back to the last
	// library index, or abort with ErrDegenerateSampling.
	DegeneratePolicy string
	// GoalScore stops the loop once the incumbent reaches it. Zero disables.
	GoalScore float64
	Logger    *slog.Logger

	// sampled sees every complete candidate before it is scored.
	sampled func(model.Assignment)
}

type Result struct {
	Assignment           model.Assignment
	Score                float64
	FoldChange           float64
	Level                steady.Level
	Iterations           int
	DegenerateIterations int
	FallbackChoices      int
	BestHistory          []float64
	Improved             bool
	Stopped              bool
	GoalReached          bool
}

// LearningRate anneals from 1 at the first iteration towards 1/e at the last.
func LearningRate(i, n int) float64 {
	return math.Exp(-float64(i) / float64(n))
}

// CheckCapacity fails when the library cannot cover every gate position.
func CheckCapacity(c *circuit.Circuit, lib *library.Library) error {
	if c.NumGates() > lib.Len() {
		return fmt.Errorf("%w: circuit has %d gates, library has %d", ErrNotEnoughGates, c.NumGates(), lib.Len())
	}
	return nil
}

func (s *Search) validate() error {
	if s == nil || s.Rand == nil {
		return errors.New("random source is required")
	}
	if s.Iterations < 0 {
		return errors.New("iterations must be >= 0")
	}
	if s.GoalScore < 0 {
		return errors.New("goal score must be >= 0")
	}
	switch s.DegeneratePolicy {
	case "", DegenerateSkip, DegenerateFallback, DegenerateError:
	default:
		return fmt.Errorf("unsupported degenerate policy: %s", s.DegeneratePolicy)
	}
	return nil
}

// Run samples Iterations candidate assignments and returns the best one. The
// capacity check happens before any layer exists. A cancelled context ends
// the loop early and still returns the incumbent.
func (s *Search) Run(ctx context.Context, c *circuit.Circuit, lib *library.Library) (Result, error) {
	if err := s.validate(); err != nil {
		return Result{}, err
	}
	if err := CheckCapacity(c, lib); err != nil {
		return Result{}, err
	}
	eval, err := steady.NewEvaluator(c, lib)
	if err != nil {
		return Result{}, err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	policy := s.DegeneratePolicy
	if policy == "" {
		policy = DegenerateSkip
	}

	order := c.SamplingOrder()
	layers := make([]*Layer, c.NumGates())
	for _, g := range order {
		layers[g] = NewLayer(s.Rand, lib.Len())
	}

	inputs := c.Inputs()
	excluded := make(map[string]struct{}, len(inputs)+len(order))
	isExcluded := func(i int) bool {
		_, ok := excluded[lib.Group(i)]
		return ok
	}

	result := Result{BestHistory: make([]float64, 0, s.Iterations)}
	candidate := make(model.Assignment, c.NumGates())

	for i := 0; i < s.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			result.Stopped = true
			logger.Warn("assignment search stopped early", "iteration", i, "error", err)
			break
		}
		lr := LearningRate(i, s.Iterations)

		clear(excluded)
		for _, name := range inputs {
			excluded[name] = struct{}{}
		}
		degenerate := false
		for _, g := range order {
			chosen, ok := layers[g].Choose(s.Rand.Float64(), isExcluded)
			if !ok {
				switch policy {
				case DegenerateError:
					result.Iterations = i
					return result, fmt.Errorf("%w: gate %s at iteration %d", ErrDegenerateSampling, c.Gate(g).Output, i)
				case DegenerateFallback:
					chosen = lib.Len() - 1
					result.FallbackChoices++
				default:
					degenerate = true
				}
			}
			if degenerate {
				break
			}
			candidate[g] = chosen
			excluded[lib.Group(chosen)] = struct{}{}
		}
		result.Iterations = i + 1
		if degenerate {
			result.DegenerateIterations++
			result.BestHistory = append(result.BestHistory, result.Score)
			continue
		}

		if s.sampled != nil {
			s.sampled(candidate)
		}
		scored := eval.Evaluate(candidate)
		if scored.Score > result.Score {
			result.Score = scored.Score
			result.FoldChange = scored.FoldChange
			result.Level = scored.Level
			result.Assignment = candidate.Clone()
			result.Improved = true
		}
		result.BestHistory = append(result.BestHistory, result.Score)

		reward := steady.Reward(scored.Score)
		for _, g := range order {
			layers[g].Update(lr, reward, candidate[g])
		}

		if s.GoalScore > 0 && result.Score >= s.GoalScore {
			result.GoalReached = true
			break
		}
		if (i+1)%1000 == 0 {
			logger.Debug("assignment search progress", "iteration", i+1, "best_score", result.Score)
		}
	}

	if policy == DegenerateSkip && result.DegenerateIterations > 0 {
		logger.Warn("skipped degenerate iterations", "count", result.DegenerateIterations)
	}
	logger.Info("assignment search finished",
		"iterations", result.Iterations,
		"best_score", result.Score,
		"fold_change", result.FoldChange,
		"improved", result.Improved,
	)
	return result, nil
}
