package compiler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecad/internal/assign"
	"genecad/internal/circuit"
	"genecad/internal/dynamics"
	"genecad/internal/library"
	"genecad/internal/logs"
	"genecad/internal/model"
	"genecad/internal/storage"
)

func newCompiler(t *testing.T, iterations int) (*Compiler, storage.Store) {
	t.Helper()
	lib, err := library.Shared("../../catalog")
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	require.NoError(t, store.Init(context.Background()))
	return &Compiler{
		Library:    lib,
		Store:      store,
		Iterations: iterations,
		Simulation: dynamics.Options{Steps: 200},
		Now:        func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}, store
}

func nandCircuit() model.LogicCircuit {
	return model.LogicCircuit{
		Name:     "nand",
		Inputs:   []string{"LacI", "TetR"},
		Output:   "y",
		Actuator: "YFP",
		Gates: []model.Gate{
			{Output: "y", Kind: model.GateNot, Inputs: []string{"x"}},
			{Output: "x", Kind: model.GateNor, Inputs: []string{"a", "b"}},
			{Output: "a", Kind: model.GateNot, Inputs: []string{"LacI"}},
			{Output: "b", Kind: model.GateNot, Inputs: []string{"TetR"}},
		},
	}
}

func TestCompileProducesAndPersistsCircuit(t *testing.T) {
	c, store := newCompiler(t, 300)
	tb := model.Testbench{Breakpoints: map[int]map[string]bool{50: {"LacI": true}, 100: {"TetR": true}}}

	result, err := c.Compile(context.Background(), Request{Circuit: nandCircuit(), Testbench: tb, Seed: 11})
	require.NoError(t, err)

	assert.Empty(t, result.Warnings)
	require.Len(t, result.Circuit.Genes, 4)
	require.NotNil(t, result.Circuit.Score)
	assert.InDelta(t, result.Search.Score, *result.Circuit.Score, 1e-9)
	assert.Equal(t, "YFP", result.Circuit.Output.Actuator)
	require.NotNil(t, result.Circuit.Simulation)
	assert.Len(t, result.Circuit.Simulation.History[result.Circuit.Output.Promoter], 200)

	rank := -1
	for _, gene := range result.Circuit.Genes {
		next := c.Library.Rules().GateRank(gene.Group)
		assert.GreaterOrEqual(t, next, rank)
		rank = next
	}

	require.NotEmpty(t, result.RunID)
	run, ok, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "nand", run.Circuit)
	assert.Equal(t, int64(11), run.Seed)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", run.CreatedAtUTC)
	assert.Equal(t, storage.CurrentSchemaVersion, run.SchemaVersion)
	assert.Equal(t, result.Search.Assignment, run.Assignment)

	history, ok, err := store.GetScoreHistory(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, history, 300)
}

func TestCompileValidatesBeforeSearching(t *testing.T) {
	c, store := newCompiler(t, 10)
	ctx := context.Background()

	bad := nandCircuit()
	bad.Gates[0].Inputs = []string{"x", "a"}
	_, err := c.Compile(ctx, Request{Circuit: bad})
	assert.ErrorIs(t, err, circuit.ErrInvalidArity)

	unknownSignal := nandCircuit()
	unknownSignal.Inputs[0] = "GFPin"
	unknownSignal.Gates[2].Inputs[0] = "GFPin"
	_, err = c.Compile(ctx, Request{Circuit: unknownSignal})
	assert.ErrorIs(t, err, library.ErrUnknownSignal)

	unknownActuator := nandCircuit()
	unknownActuator.Actuator = "pTac"
	_, err = c.Compile(ctx, Request{Circuit: unknownActuator})
	assert.ErrorIs(t, err, ErrUnknownActuator)

	runs, err := store.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCompileWithoutIterationsWarns(t *testing.T) {
	c, _ := newCompiler(t, 0)
	result, err := c.Compile(context.Background(), Request{Circuit: nandCircuit()})
	require.NoError(t, err)

	assert.Contains(t, result.Warnings, WarnNoImprovement)
	assert.Empty(t, result.Circuit.Genes)
	assert.Nil(t, result.Circuit.Score)
	assert.NotEmpty(t, result.RunID)
}

func TestCompileCapacityError(t *testing.T) {
	c, _ := newCompiler(t, 0)
	lc := model.LogicCircuit{Inputs: []string{"LacI"}, Output: "g0"}
	prev := "LacI"
	for i := c.Library.Len(); i >= 0; i-- {
		out := fmt.Sprintf("g%d", i)
		lc.Gates = append(lc.Gates, model.Gate{Output: out, Kind: model.GateNot, Inputs: []string{prev}})
		prev = out
	}

	_, err := c.Compile(context.Background(), Request{Circuit: lc})
	assert.True(t, errors.Is(err, assign.ErrNotEnoughGates))
}

func TestCompileTimeoutStopsSearch(t *testing.T) {
	c, _ := newCompiler(t, 1_000_000)
	c.Timeout = time.Millisecond

	result, err := c.Compile(context.Background(), Request{Circuit: nandCircuit(), Seed: 3})
	require.NoError(t, err)
	assert.True(t, result.Search.Stopped)
	assert.Contains(t, result.Warnings, WarnStopped)
	assert.NotEmpty(t, result.RunID)
}

func TestCompileLogsSummary(t *testing.T) {
	c, _ := newCompiler(t, 20)
	var buf bytes.Buffer
	logger, err := logs.New(logs.Options{Writer: &buf, Level: "info"})
	require.NoError(t, err)
	c.Logger = logger

	_, err = c.Compile(context.Background(), Request{Circuit: nandCircuit()})
	require.NoError(t, err)

	var record map[string]any
	line, _, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	require.NoError(t, json.Unmarshal(line, &record))
	assert.Equal(t, "assignment search finished", record["msg"])
	assert.Equal(t, "nand", record["circuit"])
}

func TestCompileBatchKeepsRequestOrder(t *testing.T) {
	c, store := newCompiler(t, 50)
	broken := nandCircuit()
	broken.Output = "missing"

	reqs := []Request{
		{Circuit: nandCircuit(), Seed: 1},
		{Circuit: broken, Seed: 2},
		{Circuit: nandCircuit(), Seed: 3},
	}
	items := c.CompileBatch(context.Background(), reqs, 2)

	require.Len(t, items, 3)
	assert.NoError(t, items[0].Err)
	assert.ErrorIs(t, items[1].Err, circuit.ErrMissingOutput)
	assert.NoError(t, items[2].Err)
	assert.Equal(t, int64(3), items[2].Request.Seed)
	assert.NotEqual(t, items[0].Result.RunID, items[2].Result.RunID)

	runs, err := store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
