package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genecad/internal/storage"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadWithoutFilesReturnsDefaults(t *testing.T) {
	settings, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Defaults(), settings)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeFile(t, "genecad.cue", `
iterations: 200
seed: 9
timeout: "2s"
simulation: drive: "max"
store: {
	kind: "sqlite"
	path: "runs.db"
}
`)
	settings, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 200, settings.Iterations)
	assert.Equal(t, int64(9), settings.Seed)
	assert.Equal(t, "max", settings.Simulation.Drive)
	assert.Equal(t, 1000, settings.Simulation.Steps)
	assert.Equal(t, "sqlite", settings.Store.Kind)
	assert.Equal(t, "catalog", settings.Library)

	timeout, err := settings.TimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, timeout)
}

func TestLoadLaterFilesWin(t *testing.T) {
	first := writeFile(t, "a.cue", "iterations: 10\nseed: 3\n")
	second := writeFile(t, "b.cue", "iterations: 20\n")

	settings, err := Load(first, second)
	require.NoError(t, err)
	assert.Equal(t, 20, settings.Iterations)
	assert.Equal(t, int64(3), settings.Seed)
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"negative iterations": "iterations: -1\n",
		"unknown policy":      `degenerate_policy: "retry"` + "\n",
		"unknown field":       "population: 10\n",
		"bad drive":           `simulation: drive: "mean"` + "\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeFile(t, "bad.cue", content))
			assert.Error(t, err)
		})
	}
}

func TestSchemaAcceptsEveryStoreKind(t *testing.T) {
	for _, kind := range storage.Kinds() {
		settings, err := Load(writeFile(t, "store.cue", "store: kind: \""+kind+"\"\n"))
		require.NoError(t, err)
		assert.Equal(t, kind, settings.Store.Kind)
	}
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	_, err := Load(writeFile(t, "bad.cue", `timeout: "soon"`+"\n"))
	assert.Error(t, err)
}

func TestFirstMissingPathReturnsZero(t *testing.T) {
	loader := NewLoader([]string{writeFile(t, "a.cue", "seed: 4\n")}, SettingsSchema)

	seed, err := First[int64](loader, "seed")
	require.NoError(t, err)
	assert.Equal(t, int64(4), seed)

	workers, err := First[int](loader, "workers")
	require.NoError(t, err)
	assert.Zero(t, workers)
}
