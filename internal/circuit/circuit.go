// Package circuit validates a logic circuit once and exposes the index-based
// views the evaluator, search loop and assembler walk.
package circuit

import (
	"errors"
	"fmt"

	"genecad/internal/model"
)

var (
	ErrInvalidArity  = errors.New("invalid number of gate inputs")
	ErrUnknownNode   = errors.New("unknown node")
	ErrDuplicateNode = errors.New("node already defined")
	ErrCycle         = errors.New("circuit contains a cycle")
	ErrMissingOutput = errors.New("circuit output is not driven by a gate")
	ErrUnusedNode    = errors.New("gate does not reach the circuit output")
	ErrNoInputs      = errors.New("circuit has no inputs")
)

// NodeRef points either at a circuit input or at a gate position.
type NodeRef struct {
	Input bool
	Index int
}

// Circuit is an immutable, validated view of a model.LogicCircuit. Gate
// positions follow the declaration order of the source circuit.
type Circuit struct {
	source     model.LogicCircuit
	inputIndex map[string]int
	gateIndex  map[string]int
	fanin      [][]NodeRef
	order      []int
	outputGate int
}

// New validates arity, references, acyclicity and reachability of lc.
func New(lc model.LogicCircuit) (*Circuit, error) {
	if len(lc.Inputs) == 0 {
		return nil, ErrNoInputs
	}
	c := &Circuit{
		source:     cloneLogicCircuit(lc),
		inputIndex: make(map[string]int, len(lc.Inputs)),
		gateIndex:  make(map[string]int, len(lc.Gates)),
		fanin:      make([][]NodeRef, len(lc.Gates)),
	}
	for i, name := range lc.Inputs {
		if _, dup := c.inputIndex[name]; dup {
			return nil, fmt.Errorf("%w: input %s", ErrDuplicateNode, name)
		}
		c.inputIndex[name] = i
	}
	for i, gate := range lc.Gates {
		if gate.Kind.Arity() == 0 {
			return nil, fmt.Errorf("gate %s: %w", gate.Output, &model.UnknownGateKindError{Kind: gate.Kind.String()})
		}
		if len(gate.Inputs) != gate.Kind.Arity() {
			return nil, fmt.Errorf("%w: %s gate %s has %d inputs, want %d", ErrInvalidArity, gate.Kind, gate.Output, len(gate.Inputs), gate.Kind.Arity())
		}
		_, isInput := c.inputIndex[gate.Output]
		_, isGate := c.gateIndex[gate.Output]
		if isInput || isGate {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNode, gate.Output)
		}
		c.gateIndex[gate.Output] = i
	}
	for i, gate := range lc.Gates {
		refs := make([]NodeRef, 0, len(gate.Inputs))
		for _, name := range gate.Inputs {
			ref, ok := c.lookup(name)
			if !ok {
				return nil, fmt.Errorf("%w: %s (input of %s)", ErrUnknownNode, name, gate.Output)
			}
			refs = append(refs, ref)
		}
		c.fanin[i] = refs
	}

	out, ok := c.gateIndex[lc.Output]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingOutput, lc.Output)
	}
	c.outputGate = out

	order, err := c.postOrder()
	if err != nil {
		return nil, err
	}
	if len(order) != len(lc.Gates) {
		reached := make([]bool, len(lc.Gates))
		for _, g := range order {
			reached[g] = true
		}
		for i, hit := range reached {
			if !hit {
				return nil, fmt.Errorf("%w: %s", ErrUnusedNode, lc.Gates[i].Output)
			}
		}
	}
	c.order = order
	return c, nil
}

func (c *Circuit) lookup(name string) (NodeRef, bool) {
	if i, ok := c.inputIndex[name]; ok {
		return NodeRef{Input: true, Index: i}, true
	}
	if i, ok := c.gateIndex[name]; ok {
		return NodeRef{Index: i}, true
	}
	return NodeRef{}, false
}

const (
	white = iota
	gray
	black
)

// postOrder walks the fan-in DAG from the output gate with an explicit stack,
// so circuit depth never grows the goroutine stack. Gates come out with all
// of their fan-in gates before them.
func (c *Circuit) postOrder() ([]int, error) {
	type frame struct {
		gate int
		next int
	}
	state := make([]int, len(c.fanin))
	order := make([]int, 0, len(c.fanin))
	stack := []frame{{gate: c.outputGate}}
	state[c.outputGate] = gray

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(c.fanin[top.gate]) {
			ref := c.fanin[top.gate][top.next]
			top.next++
			if ref.Input {
				continue
			}
			switch state[ref.Index] {
			case gray:
				return nil, fmt.Errorf("%w: through %s", ErrCycle, c.source.Gates[ref.Index].Output)
			case white:
				state[ref.Index] = gray
				stack = append(stack, frame{gate: ref.Index})
			}
			continue
		}
		state[top.gate] = black
		order = append(order, top.gate)
		stack = stack[:len(stack)-1]
	}
	return order, nil
}

func (c *Circuit) NumGates() int {
	return len(c.source.Gates)
}

func (c *Circuit) NumInputs() int {
	return len(c.source.Inputs)
}

func (c *Circuit) Inputs() []string {
	return append([]string(nil), c.source.Inputs...)
}

func (c *Circuit) Input(i int) string {
	return c.source.Inputs[i]
}

func (c *Circuit) Gate(i int) model.Gate {
	return c.source.Gates[i]
}

// Fanin returns the resolved inputs of gate i. The slice must not be modified.
func (c *Circuit) Fanin(i int) []NodeRef {
	return c.fanin[i]
}

// Order is the evaluation order: every gate after all gates that feed it,
// ending with the output gate. The slice must not be modified.
func (c *Circuit) Order() []int {
	return c.order
}

// SamplingOrder walks from the output gate back towards the inputs.
func (c *Circuit) SamplingOrder() []int {
	out := make([]int, len(c.order))
	for i, g := range c.order {
		out[len(c.order)-1-i] = g
	}
	return out
}

func (c *Circuit) OutputGate() int {
	return c.outputGate
}

func (c *Circuit) Name() string {
	return c.source.Name
}

func (c *Circuit) Source() model.LogicCircuit {
	return cloneLogicCircuit(c.source)
}

func cloneLogicCircuit(lc model.LogicCircuit) model.LogicCircuit {
	out := lc
	out.Inputs = append([]string(nil), lc.Inputs...)
	out.Gates = make([]model.Gate, len(lc.Gates))
	for i, gate := range lc.Gates {
		gate.Inputs = append([]string(nil), gate.Inputs...)
		out.Gates[i] = gate
	}
	return out
}
