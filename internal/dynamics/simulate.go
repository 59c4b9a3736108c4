// Package dynamics integrates promoter activity over time for an assembled
// genetic circuit driven by a testbench.
package dynamics

import (
	"errors"
	"fmt"
	"math"

	"genecad/internal/model"
)

const (
	DefaultSteps = 1000

	DriveSum = "sum"
	DriveMax = "max"
)

var ErrUnknownInput = errors.New("testbench drives an unknown input")

type Options struct {
	Steps int
	// Drive combines the promoters feeding a gene: their sum or their maximum.
	Drive string
	// Delay makes a gene read its upstream promoters Delay steps in the past
	// instead of their current value.
	Delay int
}

func (o Options) withDefaults() (Options, error) {
	if o.Steps == 0 {
		o.Steps = DefaultSteps
	}
	if o.Drive == "" {
		o.Drive = DriveSum
	}
	if o.Steps < 0 {
		return o, errors.New("steps must be > 0")
	}
	if o.Delay < 0 {
		return o, errors.New("delay must be >= 0")
	}
	if o.Drive != DriveSum && o.Drive != DriveMax {
		return o, fmt.Errorf("unsupported drive policy: %s", o.Drive)
	}
	return o, nil
}

func combine(policy string, values []float64) float64 {
	if policy == DriveMax {
		out := math.Inf(-1)
		for _, v := range values {
			out = math.Max(out, v)
		}
		return out
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}

// SteadyStates propagates (off, on) levels through the genes in order using
// the same drive policy as the integrator.
func SteadyStates(gc model.GeneticCircuit, drive string) map[string]model.SteadyState {
	states := make(map[string]model.SteadyState, len(gc.Inputs)+len(gc.Genes))
	for _, in := range gc.Inputs {
		states[in.Promoter] = model.SteadyState{Off: in.RPUOff, On: in.RPUOn}
	}
	offs := make([]float64, 0, 2)
	ons := make([]float64, 0, 2)
	for _, gene := range gc.Genes {
		offs, ons = offs[:0], ons[:0]
		for _, p := range gene.Inputs {
			st := states[p]
			offs = append(offs, st.Off)
			ons = append(ons, st.On)
		}
		off, on := gene.Params.SteadyState(combine(drive, offs), combine(drive, ons))
		states[gene.Promoter] = model.SteadyState{Off: off, On: on}
	}
	return states
}

// Simulate runs a fixed-step explicit Euler integration (dt = 1). Input
// promoters are clamped to their scheduled targets; each gene updates in
// assembly order as c += T(x) - decay*c.
func Simulate(gc model.GeneticCircuit, tb model.Testbench, opts Options) (model.SimulationData, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return model.SimulationData{}, err
	}
	signals := make(map[string]model.Signal, len(gc.Inputs))
	for _, in := range gc.Inputs {
		signals[in.Name] = in
	}
	for step, assigns := range tb.Breakpoints {
		for name := range assigns {
			if _, ok := signals[name]; !ok {
				return model.SimulationData{}, fmt.Errorf("%w: %s at step %d", ErrUnknownInput, name, step)
			}
		}
	}

	states := make(map[string]float64, len(gc.Inputs)+len(gc.Genes))
	initial := make(map[string]float64, len(gc.Inputs)+len(gc.Genes))
	history := make(map[string][]float64, len(gc.Inputs)+len(gc.Genes))
	for _, in := range gc.Inputs {
		states[in.Promoter] = in.RPUOff
		initial[in.Promoter] = in.RPUOff
		history[in.Promoter] = make([]float64, 0, opts.Steps)
	}
	for _, gene := range gc.Genes {
		states[gene.Promoter] = 0
		initial[gene.Promoter] = 0
		history[gene.Promoter] = make([]float64, 0, opts.Steps)
	}

	read := func(promoter string, step int) float64 {
		if opts.Delay == 0 {
			return states[promoter]
		}
		past := step - opts.Delay
		if past < 0 {
			return initial[promoter]
		}
		return history[promoter][past]
	}

	drive := make([]float64, 0, 2)
	for step := 0; step < opts.Steps; step++ {
		for name, value := range tb.Breakpoints[step] {
			signal := signals[name]
			states[signal.Promoter] = signal.Level(value)
		}
		for _, in := range gc.Inputs {
			history[in.Promoter] = append(history[in.Promoter], states[in.Promoter])
		}
		for _, gene := range gc.Genes {
			drive = drive[:0]
			for _, p := range gene.Inputs {
				drive = append(drive, read(p, step))
			}
			state := states[gene.Promoter]
			flux := gene.Params.Transfer(combine(opts.Drive, drive)) - gene.Params.Decay*state
			state += flux
			states[gene.Promoter] = state
			history[gene.Promoter] = append(history[gene.Promoter], state)
		}
	}

	return model.SimulationData{
		History:      history,
		SteadyStates: SteadyStates(gc, opts.Drive),
	}, nil
}
