package model

import (
	"math"
	"strings"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// HillParams describes the repressive dose-response of a library gate.
type HillParams struct {
	Ymax  float64 `json:"ymax"`
	Ymin  float64 `json:"ymin"`
	K     float64 `json:"K"`
	N     float64 `json:"n"`
	Decay float64 `json:"decay"`
}

// Transfer evaluates ymin + (ymax-ymin)/(1+(x/K)^n).
func (p HillParams) Transfer(x float64) float64 {
	return p.Ymin + (p.Ymax-p.Ymin)/(1+math.Pow(x/p.K, p.N))
}

// SteadyState returns the (off, on) levels produced when the gate is driven by
// the given input levels. The arguments are swapped on purpose: a high input
// represses the output.
func (p HillParams) SteadyState(inOff, inOn float64) (off, on float64) {
	return p.Transfer(inOn) / p.Decay, p.Transfer(inOff) / p.Decay
}

const NoGroup = "none"

// GroupOf derives the repressor family from a gate name such as "P1_PhlF".
func GroupOf(name string) string {
	parts := strings.Split(name, "_")
	if len(parts) < 2 {
		return NoGroup
	}
	return parts[1]
}

type LibraryGate struct {
	Name     string     `json:"name"`
	Group    string     `json:"group"`
	Promoter string     `json:"promoter"`
	Parts    []string   `json:"parts"`
	Params   HillParams `json:"params"`
}

type Signal struct {
	Name     string  `json:"name"`
	Promoter string  `json:"promoter"`
	RPUOff   float64 `json:"rpu_off"`
	RPUOn    float64 `json:"rpu_on"`
}

// Level returns the expression level representing the given boolean value.
func (s Signal) Level(value bool) float64 {
	if value {
		return s.RPUOn
	}
	return s.RPUOff
}

type PartKind string

const (
	PartPromoter   PartKind = "promoter"
	PartCDS        PartKind = "cds"
	PartRibozyme   PartKind = "ribozyme"
	PartTerminator PartKind = "terminator"
	PartRBS        PartKind = "rbs"
	PartScar       PartKind = "scar"
	PartSgRNA      PartKind = "sgrna"
	PartBackbone   PartKind = "backbone"
	PartActuator   PartKind = "actuator"
)

type Part struct {
	Kind PartKind `json:"kind"`
	Name string   `json:"name"`
	Seq  string   `json:"seq"`
}

type GateKind int

const (
	GateNot GateKind = iota
	GateNor
)

func (k GateKind) String() string {
	switch k {
	case GateNot:
		return "not"
	case GateNor:
		return "nor"
	default:
		return "unknown"
	}
}

// Arity is the fan-in a gate of this kind must have.
func (k GateKind) Arity() int {
	switch k {
	case GateNot:
		return 1
	case GateNor:
		return 2
	default:
		return 0
	}
}

func (k GateKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *GateKind) UnmarshalText(text []byte) error {
	kind, ok := ParseGateKind(string(text))
	if !ok {
		return &UnknownGateKindError{Kind: string(text)}
	}
	*k = kind
	return nil
}

func ParseGateKind(raw string) (GateKind, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "not":
		return GateNot, true
	case "nor":
		return GateNor, true
	default:
		return 0, false
	}
}

type UnknownGateKindError struct {
	Kind string
}

func (e *UnknownGateKindError) Error() string {
	return "unknown gate kind: " + e.Kind
}

type Gate struct {
	Output string   `json:"output"`
	Kind   GateKind `json:"kind"`
	Inputs []string `json:"inputs"`
}

// LogicCircuit is the validated structure handed over by the front end.
type LogicCircuit struct {
	Name     string   `json:"name,omitempty"`
	Inputs   []string `json:"inputs"`
	Output   string   `json:"output"`
	Actuator string   `json:"actuator,omitempty"`
	Gates    []Gate   `json:"gates"`
}

// Testbench schedules boolean input values at discrete simulation steps.
type Testbench struct {
	Breakpoints map[int]map[string]bool `json:"breakpoints"`
}

// Assignment maps every gate position of a circuit to a library index.
type Assignment []int

func (a Assignment) Clone() Assignment {
	return append(Assignment(nil), a...)
}

type Gene struct {
	Node     string     `json:"node"`
	Name     string     `json:"name"`
	Group    string     `json:"group"`
	Promoter string     `json:"promoter"`
	Color    string     `json:"color"`
	Inputs   []string   `json:"inputs"`
	Params   HillParams `json:"params"`
}

type Output struct {
	Actuator string `json:"actuator"`
	Promoter string `json:"promoter"`
}

type SteadyState struct {
	Off float64 `json:"off"`
	On  float64 `json:"on"`
}

type SimulationData struct {
	History      map[string][]float64   `json:"history"`
	SteadyStates map[string]SteadyState `json:"steady_states"`
}

type GeneticCircuit struct {
	Inputs     []Signal        `json:"inputs"`
	Output     Output          `json:"output"`
	Genes      []Gene          `json:"genes"`
	Score      *float64        `json:"score,omitempty"`
	Simulation *SimulationData `json:"simulation,omitempty"`
}

// TimestampLayout is RFC 3339 with a fixed nine-digit fraction, so UTC
// timestamps order the same as strings and as times.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// CompileRun is the persisted summary of one compile invocation.
type CompileRun struct {
	VersionedRecord
	ID                   string         `json:"id"`
	CreatedAtUTC         string         `json:"created_at_utc"`
	Circuit              string         `json:"circuit"`
	Seed                 int64          `json:"seed"`
	Iterations           int            `json:"iterations"`
	DegenerateIterations int            `json:"degenerate_iterations"`
	BestScore            float64        `json:"best_score"`
	FoldChange           float64        `json:"fold_change"`
	Assignment           Assignment     `json:"assignment"`
	Warnings             []string       `json:"warnings,omitempty"`
	Result               GeneticCircuit `json:"result"`
}
