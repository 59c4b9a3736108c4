// Package library holds the read-only catalog of characterized genetic gates,
// input signals, DNA parts and canonical ordering rules.
package library

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"genecad/internal/model"
)

var (
	ErrUnknownGate   = errors.New("unknown library gate")
	ErrUnknownSignal = errors.New("unknown input signal")
	ErrUnknownPart   = errors.New("unknown part")
	ErrInvalidGate   = errors.New("invalid library gate")
	ErrInvalidSignal = errors.New("invalid signal")
)

// Rules is the canonical serialization order for gate groups and promoters.
type Rules struct {
	Gates     map[string]int
	Promoters map[string]int
}

// GateRank returns the position of group in the canonical order. Unknown
// groups sort after every known one.
func (r Rules) GateRank(group string) int {
	if rank, ok := r.Gates[group]; ok {
		return rank
	}
	return math.MaxInt
}

func (r Rules) PromoterRank(promoter string) int {
	if rank, ok := r.Promoters[promoter]; ok {
		return rank
	}
	return math.MaxInt
}

// Library is immutable after construction and safe for concurrent reads.
type Library struct {
	gates     []model.LibraryGate
	gateIndex map[string]int
	signals   map[string]model.Signal
	parts     map[string]model.Part
	rules     Rules
	roadblock map[string]struct{}
}

type Option func(*Library)

func WithParts(parts map[string]model.Part) Option {
	return func(l *Library) {
		for name, part := range parts {
			l.parts[name] = part
		}
	}
}

func WithRules(gates, promoters []string) Option {
	return func(l *Library) {
		l.rules = Rules{Gates: rankMap(gates), Promoters: rankMap(promoters)}
	}
}

func WithRoadblock(promoters []string) Option {
	return func(l *Library) {
		for _, p := range promoters {
			l.roadblock[p] = struct{}{}
		}
	}
}

// New validates and indexes a catalog. Gate groups are derived from names
// when the caller left them empty.
func New(gates []model.LibraryGate, signals []model.Signal, opts ...Option) (*Library, error) {
	l := &Library{
		gates:     make([]model.LibraryGate, 0, len(gates)),
		gateIndex: make(map[string]int, len(gates)),
		signals:   make(map[string]model.Signal, len(signals)),
		parts:     make(map[string]model.Part),
		rules:     Rules{Gates: map[string]int{}, Promoters: map[string]int{}},
		roadblock: make(map[string]struct{}),
	}
	for _, gate := range gates {
		if gate.Name == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidGate)
		}
		if _, dup := l.gateIndex[gate.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidGate, gate.Name)
		}
		if err := validateParams(gate.Params); err != nil {
			return nil, fmt.Errorf("%w %s: %v", ErrInvalidGate, gate.Name, err)
		}
		if gate.Group == "" {
			gate.Group = model.GroupOf(gate.Name)
		}
		gate.Parts = append([]string(nil), gate.Parts...)
		l.gateIndex[gate.Name] = len(l.gates)
		l.gates = append(l.gates, gate)
	}
	for _, signal := range signals {
		if signal.Name == "" || signal.Promoter == "" {
			return nil, fmt.Errorf("%w: name and promoter are required", ErrInvalidSignal)
		}
		if signal.RPUOff <= 0 || signal.RPUOn <= 0 {
			return nil, fmt.Errorf("%w %s: rpu levels must be > 0", ErrInvalidSignal, signal.Name)
		}
		if _, dup := l.signals[signal.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate name %s", ErrInvalidSignal, signal.Name)
		}
		l.signals[signal.Name] = signal
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func validateParams(p model.HillParams) error {
	switch {
	case p.K <= 0:
		return errors.New("K must be > 0")
	case p.N <= 0:
		return errors.New("n must be > 0")
	case p.Decay <= 0:
		return errors.New("decay must be > 0")
	case p.Ymin <= 0 || p.Ymax < p.Ymin:
		return errors.New("expected 0 < ymin <= ymax")
	}
	return nil
}

func rankMap(names []string) map[string]int {
	out := make(map[string]int, len(names))
	for i, name := range names {
		out[name] = i
	}
	return out
}

// Len is the number of library gates L.
func (l *Library) Len() int {
	return len(l.gates)
}

// Gate returns the gate at index i. Indices come from validated assignments;
// an out-of-range index is a defect.
func (l *Library) Gate(i int) model.LibraryGate {
	gate := l.gates[i]
	gate.Parts = append([]string(nil), gate.Parts...)
	return gate
}

// Group is the hot path used while sampling, so it avoids copying the gate.
func (l *Library) Group(i int) string {
	return l.gates[i].Group
}

func (l *Library) Params(i int) model.HillParams {
	return l.gates[i].Params
}

func (l *Library) GateByName(name string) (model.LibraryGate, int, error) {
	i, ok := l.gateIndex[name]
	if !ok {
		return model.LibraryGate{}, -1, fmt.Errorf("%w: %s", ErrUnknownGate, name)
	}
	return l.Gate(i), i, nil
}

func (l *Library) Signal(name string) (model.Signal, error) {
	signal, ok := l.signals[name]
	if !ok {
		return model.Signal{}, fmt.Errorf("%w: %s", ErrUnknownSignal, name)
	}
	return signal, nil
}

func (l *Library) SignalNames() []string {
	names := make([]string, 0, len(l.signals))
	for name := range l.signals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (l *Library) Part(name string) (model.Part, error) {
	part, ok := l.parts[name]
	if !ok {
		return model.Part{}, fmt.Errorf("%w: %s", ErrUnknownPart, name)
	}
	return part, nil
}

// HasActuator reports whether name is a part usable as a circuit output.
func (l *Library) HasActuator(name string) bool {
	part, ok := l.parts[name]
	return ok && part.Kind == model.PartActuator
}

func (l *Library) Rules() Rules {
	return l.rules
}

func (l *Library) IsRoadblock(promoter string) bool {
	_, ok := l.roadblock[promoter]
	return ok
}

// Groups returns the distinct gate groups in first-seen index order.
func (l *Library) Groups() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, gate := range l.gates {
		if _, ok := seen[gate.Group]; ok {
			continue
		}
		seen[gate.Group] = struct{}{}
		out = append(out, gate.Group)
	}
	return out
}
