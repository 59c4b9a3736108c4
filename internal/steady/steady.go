// Package steady scores a candidate assignment by propagating steady-state
// off/on expression levels from the circuit inputs to its output.
package steady

import (
	"math"

	"genecad/internal/circuit"
	"genecad/internal/library"
	"genecad/internal/model"
)

// Level is the steady-state summary of one node: the expression levels that
// represent false and true, and the accumulated fan-in mismatch penalty.
type Level struct {
	Off  float64
	On   float64
	Diff float64
}

type Result struct {
	Level
	FoldChange float64
	Score      float64
}

// Score damps the fold change by the accumulated branch mismatch. A zero off
// level or a non-finite result scores 0.
func Score(diff, on, off float64) float64 {
	if off <= 0 {
		return 0
	}
	score := math.Exp(-diff/10) * (on / off)
	if math.IsInf(score, 0) || math.IsNaN(score) {
		return 0
	}
	return score
}

// Reward squashes a score into [0,1).
func Reward(score float64) float64 {
	return 1 - math.Exp(-score/200)
}

// Combine merges the levels driving a gate. A single input passes through; two
// inputs are combined as a NOR fan-in.
func Combine(in []Level) Level {
	if len(in) == 1 {
		return in[0]
	}
	c0, c1 := in[0], in[1]
	return Level{
		Off:  c0.Off + c1.Off,
		On:   math.Min(c0.On, c1.On),
		Diff: math.Abs(c0.On-c1.On) + math.Abs(c0.Off-c1.Off) + c0.Diff + c1.Diff,
	}
}

// Apply pushes combined input levels through a gate's transfer function.
func Apply(params model.HillParams, in Level) Level {
	off, on := params.SteadyState(in.Off, in.On)
	return Level{Off: off, On: on, Diff: in.Diff}
}

// Evaluator holds the per-circuit input levels and a reusable memo table.
// It is not safe for concurrent use; each search owns one.
type Evaluator struct {
	circuit *circuit.Circuit
	lib     *library.Library
	inputs  []Level
	memo    []Level
	fanin   []Level
}

// NewEvaluator resolves every circuit input against the library.
func NewEvaluator(c *circuit.Circuit, lib *library.Library) (*Evaluator, error) {
	inputs := make([]Level, c.NumInputs())
	for i := range inputs {
		signal, err := lib.Signal(c.Input(i))
		if err != nil {
			return nil, err
		}
		inputs[i] = Level{Off: signal.RPUOff, On: signal.RPUOn}
	}
	return &Evaluator{
		circuit: c,
		lib:     lib,
		inputs:  inputs,
		memo:    make([]Level, c.NumGates()),
		fanin:   make([]Level, 0, 2),
	}, nil
}

// Evaluate is a pure function of the assignment: the memo is rebuilt on every
// call in post-order, so shared fan-in is computed once per call.
func (e *Evaluator) Evaluate(assignment model.Assignment) Result {
	for _, g := range e.circuit.Order() {
		e.fanin = e.fanin[:0]
		for _, ref := range e.circuit.Fanin(g) {
			if ref.Input {
				e.fanin = append(e.fanin, e.inputs[ref.Index])
			} else {
				e.fanin = append(e.fanin, e.memo[ref.Index])
			}
		}
		e.memo[g] = Apply(e.lib.Params(assignment[g]), Combine(e.fanin))
	}
	out := e.memo[e.circuit.OutputGate()]
	return Result{
		Level:      out,
		FoldChange: out.On / out.Off,
		Score:      Score(out.Diff, out.On, out.Off),
	}
}

// Evaluate is a convenience for one-off scoring.
func Evaluate(c *circuit.Circuit, lib *library.Library, assignment model.Assignment) (Result, error) {
	e, err := NewEvaluator(c, lib)
	if err != nil {
		return Result{}, err
	}
	return e.Evaluate(assignment), nil
}
