package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"genecad/internal/config"
	"genecad/internal/stats"
)

func captureStdout(fn func() error) (string, error) {
	orig := stdout
	var buf bytes.Buffer
	stdout = &buf
	err := fn()
	stdout = orig
	return buf.String(), err
}

func commonArgs(base string) []string {
	return []string{
		"--library", "../../catalog",
		"--store", "memory",
		"--artifacts", filepath.Join(base, "runs"),
		"--exports", filepath.Join(base, "exports"),
		"--log-level", "error",
	}
}

func compileArgs(base, circuit string) []string {
	args := append([]string{"compile"}, commonArgs(base)...)
	return append(args,
		"--iterations", "40",
		"--steps", "50",
		"--seed", "3",
		"--circuit", filepath.Join("../../circuits", circuit),
	)
}

func TestCompileThenRunsShowAndExport(t *testing.T) {
	base := t.TempDir()
	ctx := context.Background()

	output, err := captureStdout(func() error {
		return run(ctx, compileArgs(base, "and.json"))
	})
	if err != nil {
		t.Fatalf("compile command: %v", err)
	}
	if !strings.Contains(output, "run_id=") || !strings.Contains(output, "assignment=") {
		t.Fatalf("unexpected compile output: %s", output)
	}

	entries, err := stats.ListRunIndex(filepath.Join(base, "runs"))
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].Circuit != "and" || entries[0].Iterations != 40 {
		t.Fatalf("unexpected run index: %+v", entries)
	}
	runID := entries[0].RunID

	output, err = captureStdout(func() error {
		return run(ctx, append([]string{"runs"}, commonArgs(base)...))
	})
	if err != nil {
		t.Fatalf("runs command: %v", err)
	}
	if !strings.Contains(output, "run_id="+runID) || !strings.Contains(output, "circuit=and") {
		t.Fatalf("runs output missing run %s: %s", runID, output)
	}

	output, err = captureStdout(func() error {
		return run(ctx, append(append([]string{"show"}, commonArgs(base)...), "--latest"))
	})
	if err != nil {
		t.Fatalf("show command: %v", err)
	}
	if !strings.Contains(output, "run_id="+runID) || !strings.Contains(output, "circuit=and") {
		t.Fatalf("unexpected show output: %s", output)
	}

	output, err = captureStdout(func() error {
		return run(ctx, append(append([]string{"export"}, commonArgs(base)...), "--run-id", runID))
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if !strings.Contains(output, "exported run_id="+runID) {
		t.Fatalf("unexpected export output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(base, "exports", runID, stats.RunFile)); err != nil {
		t.Fatalf("expected exported run record: %v", err)
	}
}

func TestCompileWritesCircuitAndJSONSummary(t *testing.T) {
	base := t.TempDir()
	outPath := filepath.Join(base, "assembled.json")

	output, err := captureStdout(func() error {
		return run(context.Background(), append(compileArgs(base, "not.json"), "--json", "--out", outPath))
	})
	if err != nil {
		t.Fatalf("compile command: %v", err)
	}

	var view compileView
	if err := json.Unmarshal([]byte(output), &view); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, output)
	}
	if view.RunID == "" || view.Iterations != 40 || len(view.Assignment) != 1 {
		t.Fatalf("unexpected summary: %+v", view)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("read assembled circuit: %v", err)
	}
	var assembled struct {
		Genes []struct {
			Name string `json:"name"`
		} `json:"genes"`
	}
	if err := json.Unmarshal(data, &assembled); err != nil {
		t.Fatalf("decode assembled circuit: %v", err)
	}
	if len(assembled.Genes) != 1 || assembled.Genes[0].Name != view.Assignment[0] {
		t.Fatalf("assembled genes %+v do not match assignment %v", assembled.Genes, view.Assignment)
	}
}

func TestBatchReportsPerCircuitResults(t *testing.T) {
	base := t.TempDir()
	broken := filepath.Join(base, "broken.json")
	if err := os.WriteFile(broken, []byte(`{"name": "broken", "inputs": ["LacI"], "output": "z", "gates": [{"output": "y", "kind": "not", "inputs": ["LacI"]}]}`), 0o644); err != nil {
		t.Fatalf("write broken circuit: %v", err)
	}

	args := append([]string{"batch"}, commonArgs(base)...)
	args = append(args, "--iterations", "20", "--steps", "20", "--workers", "2",
		"../../circuits/not.json", broken, "../../circuits/and.json")

	output, err := captureStdout(func() error {
		return run(context.Background(), args)
	})
	if err == nil || !strings.Contains(err.Error(), "1 of 3 compiles failed") {
		t.Fatalf("expected one failed compile, got %v", err)
	}
	if !strings.Contains(output, "circuit=broken error=") {
		t.Fatalf("batch output missing failure line: %s", output)
	}
	if strings.Count(output, "run_id=") != 2 {
		t.Fatalf("expected two successful runs: %s", output)
	}
}

func TestLibraryCommandJSON(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"library", "--library", "../../catalog", "--json"})
	})
	if err != nil {
		t.Fatalf("library command: %v", err)
	}
	var lib struct {
		Gates   []json.RawMessage
		Signals []json.RawMessage
		Groups  int
	}
	if err := json.Unmarshal([]byte(output), &lib); err != nil {
		t.Fatalf("decode library: %v", err)
	}
	if len(lib.Gates) != 20 || len(lib.Signals) != 3 || lib.Groups != 12 {
		t.Fatalf("unexpected library: gates=%d signals=%d groups=%d", len(lib.Gates), len(lib.Signals), lib.Groups)
	}
}

func TestSettingsFileWithFlagOverride(t *testing.T) {
	base := t.TempDir()
	settingsPath := filepath.Join(base, "genecad.cue")
	content := "iterations: 15\nseed: 4\nsimulation: steps: 30\nartifacts: \"" + filepath.ToSlash(filepath.Join(base, "from-config")) + "\"\n"
	if err := os.WriteFile(settingsPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}

	_, err := captureStdout(func() error {
		return run(context.Background(), []string{
			"compile",
			"--config", settingsPath,
			"--library", "../../catalog",
			"--log-level", "error",
			"--iterations", "25",
			"--circuit", "../../circuits/not.json",
		})
	})
	if err != nil {
		t.Fatalf("compile command: %v", err)
	}

	entries, err := stats.ListRunIndex(filepath.Join(base, "from-config"))
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected the run under the configured artifacts dir, got %+v", entries)
	}
	if entries[0].Iterations != 25 || entries[0].Seed != 4 {
		t.Fatalf("expected flag iterations and config seed, got %+v", entries[0])
	}
}

func TestCompileWritesLogFile(t *testing.T) {
	base := t.TempDir()
	logPath := filepath.Join(base, "genecad.log")

	if _, err := captureStdout(func() error {
		return run(context.Background(), append(compileArgs(base, "not.json"), "--log-level", "info", "--log-file", logPath))
	}); err != nil {
		t.Fatalf("compile command: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"compile finished"`) {
		t.Fatalf("log file missing compile record: %s", data)
	}
}

func TestNewClientCloserReleasesLogFile(t *testing.T) {
	base := t.TempDir()
	settings := config.Defaults()
	settings.Library = "../../catalog"
	settings.Artifacts = filepath.Join(base, "runs")
	settings.Log.File = filepath.Join(base, "client.log")

	client, closeClient, err := newClient(settings, true)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.Library().Groups != 12 {
		t.Fatalf("unexpected library: %+v", client.Library())
	}
	closeClient()
	if err := os.Remove(settings.Log.File); err != nil {
		t.Fatalf("remove log file: %v", err)
	}

	settings.Log.File = filepath.Join(base, "missing", "client.log")
	if _, _, err := newClient(settings, false); err == nil {
		t.Fatal("expected error for unwritable log file")
	}
}

func TestLibraryCommandShowsGate(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"library", "--library", "../../catalog", "--gate", "P1_PhlF"})
	})
	if err != nil {
		t.Fatalf("library command: %v", err)
	}
	if !strings.Contains(output, "gate=P1_PhlF") || !strings.Contains(output, "part L3S2P55") {
		t.Fatalf("unexpected gate output: %s", output)
	}
	if !strings.Contains(output, "unresolved=P1_PhlF_rbs,PhlF") {
		t.Fatalf("expected unresolved parts: %s", output)
	}

	if _, err := captureStdout(func() error {
		return run(context.Background(), []string{"library", "--library", "../../catalog", "--gate", "Z9_Missing"})
	}); err == nil {
		t.Fatal("expected error for unknown gate")
	}
}

func TestRunRejectsBadInvocations(t *testing.T) {
	base := t.TempDir()
	cases := map[string][]string{
		"no command":      nil,
		"unknown command": {"assemble"},
		"missing circuit": append([]string{"compile"}, commonArgs(base)...),
		"show selector":   append([]string{"show"}, commonArgs(base)...),
		"export both":     append(append([]string{"export"}, commonArgs(base)...), "--run-id", "x", "--latest"),
		"runs limit":      append(append([]string{"runs"}, commonArgs(base)...), "--limit", "0"),
		"bad timeout":     append(compileArgs(base, "not.json"), "--timeout", "soon"),
		"bad policy":      append(compileArgs(base, "not.json"), "--degenerate-policy", "retry"),
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := captureStdout(func() error {
				return run(context.Background(), args)
			}); err == nil {
				t.Fatalf("expected error for %v", args)
			}
		})
	}
}

func TestUnknownCommandPrintsUsage(t *testing.T) {
	err := run(context.Background(), []string{"assemble"})
	if err == nil || !strings.Contains(err.Error(), "usage: genecadctl") {
		t.Fatalf("expected usage error, got %v", err)
	}
}
