// Package assemble turns a gate assignment into a concrete genetic circuit.
package assemble

import (
	"fmt"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"genecad/internal/circuit"
	"genecad/internal/library"
	"genecad/internal/model"
	"genecad/internal/steady"
)

const maxHue = 355

// Color spreads library indices over the hue wheel.
func Color(index, librarySize int) string {
	hue := 0.0
	if librarySize > 0 {
		hue = float64(index * maxHue / librarySize)
	}
	return colorful.Hsl(hue, 1.0, 0.5).Hex()
}

// Build materializes one gene per gate in evaluation order, resolving every
// gate input to the promoter that carries it.
func Build(c *circuit.Circuit, lib *library.Library, assignment model.Assignment) (model.GeneticCircuit, error) {
	if len(assignment) != c.NumGates() {
		return model.GeneticCircuit{}, fmt.Errorf("assignment covers %d gates, circuit has %d", len(assignment), c.NumGates())
	}
	inputs := make([]model.Signal, c.NumInputs())
	for i := range inputs {
		signal, err := lib.Signal(c.Input(i))
		if err != nil {
			return model.GeneticCircuit{}, err
		}
		inputs[i] = signal
	}

	promoters := make([]string, c.NumGates())
	genes := make([]model.Gene, 0, c.NumGates())
	for _, g := range c.Order() {
		index := assignment[g]
		if index < 0 || index >= lib.Len() {
			return model.GeneticCircuit{}, fmt.Errorf("gate %s: library index %d out of range", c.Gate(g).Output, index)
		}
		gate := lib.Gate(index)
		fanin := c.Fanin(g)
		resolved := make([]string, len(fanin))
		for k, ref := range fanin {
			if ref.Input {
				resolved[k] = inputs[ref.Index].Promoter
			} else {
				resolved[k] = promoters[ref.Index]
			}
		}
		promoters[g] = gate.Promoter
		genes = append(genes, model.Gene{
			Node:     c.Gate(g).Output,
			Name:     gate.Name,
			Group:    gate.Group,
			Promoter: gate.Promoter,
			Color:    Color(index, lib.Len()),
			Inputs:   resolved,
			Params:   gate.Params,
		})
	}

	return model.GeneticCircuit{
		Inputs: inputs,
		Output: model.Output{
			Actuator: c.Source().Actuator,
			Promoter: promoters[c.OutputGate()],
		},
		Genes: genes,
	}, nil
}

// Rescore re-evaluates the assembled circuit by promoter name and records the
// output score on gc.
func Rescore(gc *model.GeneticCircuit) float64 {
	levels := make(map[string]steady.Level, len(gc.Inputs)+len(gc.Genes))
	for _, in := range gc.Inputs {
		levels[in.Promoter] = steady.Level{Off: in.RPUOff, On: in.RPUOn}
	}
	fanin := make([]steady.Level, 0, 2)
	for _, gene := range gc.Genes {
		fanin = fanin[:0]
		for _, p := range gene.Inputs {
			fanin = append(fanin, levels[p])
		}
		levels[gene.Promoter] = steady.Apply(gene.Params, steady.Combine(fanin))
	}
	out := levels[gc.Output.Promoter]
	score := steady.Score(out.Diff, out.On, out.Off)
	gc.Score = &score
	return score
}

// ApplyRules returns a copy of gc with genes in canonical group order and each
// gene's input promoters in canonical order. Roadblocking promoters go first.
func ApplyRules(gc model.GeneticCircuit, lib *library.Library) model.GeneticCircuit {
	rules := lib.Rules()
	out := gc
	out.Genes = make([]model.Gene, len(gc.Genes))
	for i, gene := range gc.Genes {
		gene.Inputs = append([]string(nil), gene.Inputs...)
		sort.SliceStable(gene.Inputs, func(a, b int) bool {
			ra, rb := lib.IsRoadblock(gene.Inputs[a]), lib.IsRoadblock(gene.Inputs[b])
			if ra != rb {
				return ra
			}
			return rules.PromoterRank(gene.Inputs[a]) < rules.PromoterRank(gene.Inputs[b])
		})
		out.Genes[i] = gene
	}
	sort.SliceStable(out.Genes, func(a, b int) bool {
		return rules.GateRank(out.Genes[a].Group) < rules.GateRank(out.Genes[b].Group)
	})
	return out
}
