package steady

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecad/internal/circuit"
	"genecad/internal/library"
	"genecad/internal/model"
)

var (
	paramsA = model.HillParams{Ymax: 3.9, Ymin: 0.01, K: 0.03, N: 4, Decay: 0.34}
	paramsB = model.HillParams{Ymax: 2.1, Ymin: 0.003, K: 0.04, N: 2.6, Decay: 0.3}
	paramsC = model.HillParams{Ymax: 3.8, Ymin: 0.06, K: 0.07, N: 1.6, Decay: 0.32}
)

func testLibrary(t *testing.T) *library.Library {
	t.Helper()
	lib, err := library.New(
		[]model.LibraryGate{
			{Name: "P1_PhlF", Promoter: "pPhlF", Params: paramsA},
			{Name: "S2_SrpR", Promoter: "pSrpR", Params: paramsB},
			{Name: "A1_AmtR", Promoter: "pAmtR", Params: paramsC},
		},
		[]model.Signal{
			{Name: "LacI", Promoter: "pTac", RPUOff: 0.0034, RPUOn: 2.8},
			{Name: "TetR", Promoter: "pTet", RPUOff: 0.0013, RPUOn: 4.4},
		},
	)
	require.NoError(t, err)
	return lib
}

func mustCircuit(t *testing.T, lc model.LogicCircuit) *circuit.Circuit {
	t.Helper()
	c, err := circuit.New(lc)
	require.NoError(t, err)
	return c
}

func TestSingleNotGate(t *testing.T) {
	lib := testLibrary(t)
	c := mustCircuit(t, model.LogicCircuit{
		Inputs: []string{"LacI"},
		Output: "y",
		Gates:  []model.Gate{{Output: "y", Kind: model.GateNot, Inputs: []string{"LacI"}}},
	})

	got, err := Evaluate(c, lib, model.Assignment{0})
	require.NoError(t, err)

	wantOff := paramsA.Transfer(2.8) / paramsA.Decay
	wantOn := paramsA.Transfer(0.0034) / paramsA.Decay
	assert.InDelta(t, wantOff, got.Off, 1e-12)
	assert.InDelta(t, wantOn, got.On, 1e-12)
	assert.Zero(t, got.Diff)
	assert.InDelta(t, wantOn/wantOff, got.FoldChange, 1e-9)
	assert.InDelta(t, wantOn/wantOff, got.Score, 1e-9)
	assert.Greater(t, got.On, got.Off)
}

func norOfNots(second string) model.LogicCircuit {
	return model.LogicCircuit{
		Inputs: []string{"LacI", "TetR"},
		Output: "y",
		Gates: []model.Gate{
			{Output: "y", Kind: model.GateNor, Inputs: []string{"a", "b"}},
			{Output: "a", Kind: model.GateNot, Inputs: []string{"LacI"}},
			{Output: "b", Kind: model.GateNot, Inputs: []string{second}},
		},
	}
}

func TestBalancedNorHasNoPenalty(t *testing.T) {
	lib := testLibrary(t)
	c := mustCircuit(t, norOfNots("LacI"))

	got, err := Evaluate(c, lib, model.Assignment{2, 0, 0})
	require.NoError(t, err)
	assert.Zero(t, got.Diff)

	branch := Apply(paramsA, Level{Off: 0.0034, On: 2.8})
	want := Apply(paramsC, Level{Off: 2 * branch.Off, On: branch.On})
	assert.InDelta(t, want.Off, got.Off, 1e-12)
	assert.InDelta(t, want.On, got.On, 1e-12)
}

func TestUnbalancedNorIsPenalized(t *testing.T) {
	lib := testLibrary(t)
	c := mustCircuit(t, norOfNots("TetR"))

	mild, err := Evaluate(c, lib, model.Assignment{2, 0, 0})
	require.NoError(t, err)
	strong, err := Evaluate(c, lib, model.Assignment{2, 0, 1})
	require.NoError(t, err)

	a := Apply(paramsA, Level{Off: 0.0034, On: 2.8})
	b := Apply(paramsB, Level{Off: 0.0013, On: 4.4})
	wantDiff := math.Abs(a.On-b.On) + math.Abs(a.Off-b.Off)
	assert.InDelta(t, wantDiff, strong.Diff, 1e-12)
	assert.Greater(t, mild.Diff, 0.0)
	assert.Greater(t, strong.Diff, mild.Diff)
	assert.InDelta(t, Score(strong.Diff, strong.On, strong.Off), strong.Score, 1e-12)
	assert.Less(t, strong.Score, strong.FoldChange)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	lib := testLibrary(t)
	c := mustCircuit(t, norOfNots("TetR"))
	e, err := NewEvaluator(c, lib)
	require.NoError(t, err)

	first := e.Evaluate(model.Assignment{2, 0, 1})
	e.Evaluate(model.Assignment{0, 1, 2})
	again := e.Evaluate(model.Assignment{2, 0, 1})
	assert.Equal(t, first, again)
}

func TestCombineRules(t *testing.T) {
	single := Level{Off: 1, On: 5, Diff: 0.5}
	assert.Equal(t, single, Combine([]Level{single}))

	got := Combine([]Level{{Off: 1, On: 5, Diff: 0.5}, {Off: 2, On: 3, Diff: 0.25}})
	assert.Equal(t, 3.0, got.Off)
	assert.Equal(t, 3.0, got.On)
	assert.Equal(t, 2.0+1.0+0.5+0.25, got.Diff)
}

func TestScoreAndReward(t *testing.T) {
	assert.InDelta(t, 10.0, Score(0, 10, 1), 1e-12)
	assert.InDelta(t, 10*math.Exp(-1), Score(10, 10, 1), 1e-12)
	assert.Zero(t, Reward(0))
	assert.InDelta(t, 1-math.Exp(-1), Reward(200), 1e-12)
	assert.Less(t, Reward(1e6), 1.0+1e-12)
}

func TestScoreRejectsDegenerateLevels(t *testing.T) {
	assert.Zero(t, Score(0, 10, 0))
	assert.Zero(t, Score(0, math.Inf(1), 1))
	assert.Zero(t, Score(0, 1e308, 1e-308))
	assert.Zero(t, Score(math.NaN(), 1, 1))
}

func TestNewEvaluatorUnknownSignal(t *testing.T) {
	lib := testLibrary(t)
	c := mustCircuit(t, model.LogicCircuit{
		Inputs: []string{"AraC"},
		Output: "y",
		Gates:  []model.Gate{{Output: "y", Kind: model.GateNot, Inputs: []string{"AraC"}}},
	})
	_, err := NewEvaluator(c, lib)
	assert.ErrorIs(t, err, library.ErrUnknownSignal)
}
