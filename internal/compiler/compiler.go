// Package compiler wires the assignment search, assembly, dynamics simulation
// and run persistence into a single compile call.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"genecad/internal/assemble"
	"genecad/internal/assign"
	"genecad/internal/circuit"
	"genecad/internal/dynamics"
	"genecad/internal/library"
	"genecad/internal/logs"
	"genecad/internal/model"
	"genecad/internal/storage"
)

var ErrUnknownActuator = errors.New("unknown output actuator")

const (
	WarnNoImprovement = "no sampled assignment improved on the empty incumbent"
	WarnDegenerate    = "some iterations had no admissible gate and were skipped"
	WarnFallback      = "some positions fell back to the last library gate"
	WarnStopped       = "search stopped before its iteration budget"
)

// Compiler is safe for concurrent use: the library is read-only and every
// Compile call builds its own search state.
type Compiler struct {
	Library          *library.Library
	Store            storage.Store
	Logger           *slog.Logger
	Iterations       int
	DegeneratePolicy string
	GoalScore        float64
	Timeout          time.Duration
	Simulation       dynamics.Options
	Now              func() time.Time
}

type Request struct {
	Circuit   model.LogicCircuit
	Testbench model.Testbench
	Seed      int64
}

type Result struct {
	RunID    string
	Circuit  model.GeneticCircuit
	Search   assign.Result
	Warnings []string
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger == nil {
		return logs.Discard()
	}
	return c.Logger
}

func (c *Compiler) now() time.Time {
	if c.Now == nil {
		return time.Now().UTC()
	}
	return c.Now().UTC()
}

// Compile validates the circuit, searches for an assignment, assembles and
// simulates the winner, then persists the run when a store is configured.
func (c *Compiler) Compile(ctx context.Context, req Request) (Result, error) {
	if c == nil || c.Library == nil {
		return Result{}, errors.New("library is required")
	}
	logger := c.logger().With("circuit", req.Circuit.Name)

	circ, err := circuit.New(req.Circuit)
	if err != nil {
		return Result{}, fmt.Errorf("validate circuit: %w", err)
	}
	for _, name := range circ.Inputs() {
		if _, err := c.Library.Signal(name); err != nil {
			return Result{}, err
		}
	}
	if actuator := req.Circuit.Actuator; actuator != "" && !c.Library.HasActuator(actuator) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownActuator, actuator)
	}

	searchCtx := ctx
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		searchCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	started := time.Now()
	search := &assign.Search{
		Rand:             rand.New(rand.NewSource(req.Seed)),
		Iterations:       c.Iterations,
		DegeneratePolicy: c.DegeneratePolicy,
		GoalScore:        c.GoalScore,
		Logger:           logger,
	}
	found, err := search.Run(searchCtx, circ, c.Library)
	if err != nil {
		return Result{}, err
	}
	logger.Debug("search complete", "elapsed", time.Since(started))

	result := Result{Search: found}
	if !found.Improved {
		result.Warnings = append(result.Warnings, WarnNoImprovement)
	}
	if found.DegenerateIterations > 0 {
		result.Warnings = append(result.Warnings, WarnDegenerate)
	}
	if found.Stopped {
		result.Warnings = append(result.Warnings, WarnStopped)
	}
	if found.FallbackChoices > 0 {
		result.Warnings = append(result.Warnings, WarnFallback)
	}
	for _, w := range result.Warnings {
		logger.Warn(w)
	}

	if found.Improved {
		gc, err := assemble.Build(circ, c.Library, found.Assignment)
		if err != nil {
			return Result{}, err
		}
		assemble.Rescore(&gc)
		sim, err := dynamics.Simulate(gc, req.Testbench, c.Simulation)
		if err != nil {
			return Result{}, fmt.Errorf("simulate: %w", err)
		}
		gc.Simulation = &sim
		result.Circuit = assemble.ApplyRules(gc, c.Library)
	}

	if c.Store != nil {
		runID, err := c.persist(context.WithoutCancel(ctx), req, result)
		if err != nil {
			return Result{}, fmt.Errorf("persist run: %w", err)
		}
		result.RunID = runID
	}
	return result, nil
}

func (c *Compiler) persist(ctx context.Context, req Request, result Result) (string, error) {
	run := model.CompileRun{
		ID:                   uuid.NewString(),
		CreatedAtUTC:         c.now().Format(model.TimestampLayout),
		Circuit:              req.Circuit.Name,
		Seed:                 req.Seed,
		Iterations:           result.Search.Iterations,
		DegenerateIterations: result.Search.DegenerateIterations,
		BestScore:            result.Search.Score,
		FoldChange:           result.Search.FoldChange,
		Assignment:           result.Search.Assignment,
		Warnings:             result.Warnings,
		Result:               result.Circuit,
	}
	storage.Stamp(&run)
	if err := c.Store.SaveRun(ctx, run); err != nil {
		return "", err
	}
	if err := c.Store.SaveScoreHistory(ctx, run.ID, result.Search.BestHistory); err != nil {
		return "", err
	}
	return run.ID, nil
}
