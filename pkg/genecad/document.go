package genecad

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"genecad/internal/model"
)

// CircuitDocument is the on-disk form of a compile request: the logic circuit
// with an optional testbench keyed by step.
type CircuitDocument struct {
	model.LogicCircuit
	Testbench map[int]map[string]bool `json:"testbench,omitempty"`
	Seed      *int64                  `json:"seed,omitempty"`
}

func DecodeCircuit(r io.Reader) (CircuitDocument, error) {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	var doc CircuitDocument
	if err := dec.Decode(&doc); err != nil {
		return CircuitDocument{}, fmt.Errorf("decode circuit: %w", err)
	}
	for step := range doc.Testbench {
		if step < 0 {
			return CircuitDocument{}, fmt.Errorf("decode circuit: negative testbench step %d", step)
		}
	}
	return doc, nil
}

func LoadCircuit(path string) (CircuitDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return CircuitDocument{}, err
	}
	defer file.Close()

	doc, err := DecodeCircuit(file)
	if err != nil {
		return CircuitDocument{}, fmt.Errorf("%s: %w", path, err)
	}
	if doc.Name == "" {
		doc.Name = path
	}
	return doc, nil
}

// Request turns the document into a compile request. A seed stored in the
// document wins over fallbackSeed.
func (d CircuitDocument) Request(fallbackSeed int64) CompileRequest {
	seed := fallbackSeed
	if d.Seed != nil {
		seed = *d.Seed
	}
	return CompileRequest{
		Circuit:   d.LogicCircuit,
		Testbench: model.Testbench{Breakpoints: d.Testbench},
		Seed:      seed,
	}
}
