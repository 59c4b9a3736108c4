// Package stats writes and reads the per-run artifact directory: the run
// record, the assembled circuit, the incumbent score series and the
// simulation trace.
package stats

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"time"

	"genecad/internal/model"
)

const (
	runIndexFile     = "run_index.json"
	RunFile          = "run.json"
	CircuitFile      = "circuit.json"
	ScoreHistoryFile = "score_history.csv"
	TraceFile        = "trace.csv"
)

// WriteRunArtifacts creates baseDir/<run id> and fills it. The trace file is
// only written when the circuit carries simulation data.
func WriteRunArtifacts(baseDir string, run model.CompileRun, history []float64) (string, error) {
	if run.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, RunFile), run); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, CircuitFile), run.Result); err != nil {
		return "", err
	}
	if err := WriteScoreHistory(filepath.Join(runDir, ScoreHistoryFile), history); err != nil {
		return "", err
	}
	if run.Result.Simulation != nil {
		if err := writeTraceFile(filepath.Join(runDir, TraceFile), run.Result.Simulation.History); err != nil {
			return "", err
		}
	}
	return runDir, nil
}

func writeTraceFile(path string, history map[string][]float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteTrace(file, history); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// RunIndexEntry is one line of the run index kept at the artifacts root, so
// runs stay listable across processes whatever store backs the client.
type RunIndexEntry struct {
	RunID        string  `json:"run_id"`
	CreatedAtUTC string  `json:"created_at_utc"`
	Circuit      string  `json:"circuit"`
	Seed         int64   `json:"seed"`
	Iterations   int     `json:"iterations"`
	BestScore    float64 `json:"best_score"`
	FoldChange   float64 `json:"fold_change"`
	Genes        int     `json:"genes"`
	Warnings     int     `json:"warnings"`
}

func IndexEntry(run model.CompileRun) RunIndexEntry {
	return RunIndexEntry{
		RunID:        run.ID,
		CreatedAtUTC: run.CreatedAtUTC,
		Circuit:      run.Circuit,
		Seed:         run.Seed,
		Iterations:   run.Iterations,
		BestScore:    run.BestScore,
		FoldChange:   run.FoldChange,
		Genes:        len(run.Result.Genes),
		Warnings:     len(run.Warnings),
	}
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// readRunIndex returns entries in file order, which is append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRunIndex returns entries newest first; equal timestamps keep the later
// append first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	SortNewestFirst(entries)
	return entries, nil
}

// SortNewestFirst orders entries by parsed creation time, newest first,
// keeping the existing order of equal timestamps. Unparseable timestamps sort
// last.
func SortNewestFirst(entries []RunIndexEntry) {
	created := make(map[string]time.Time, len(entries))
	for _, entry := range entries {
		t, _ := time.Parse(time.RFC3339Nano, entry.CreatedAtUTC)
		created[entry.RunID] = t
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return created[entries[i].RunID].After(created[entries[j].RunID])
	})
}

func ReadRun(baseDir, runID string) (model.CompileRun, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, RunFile))
	if err != nil {
		if os.IsNotExist(err) {
			return model.CompileRun{}, false, nil
		}
		return model.CompileRun{}, false, err
	}
	var run model.CompileRun
	if err := json.Unmarshal(data, &run); err != nil {
		return model.CompileRun{}, false, err
	}
	return run, true, nil
}

// ExportRunArtifacts copies every artifact present for runID into outDir.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{RunFile, CircuitFile, ScoreHistoryFile, TraceFile} {
		err := copyFile(filepath.Join(src, file), filepath.Join(dst, file))
		if err == nil {
			continue
		}
		if file == TraceFile && errors.Is(err, os.ErrNotExist) {
			continue
		}
		return "", err
	}
	return dst, nil
}

// WriteTrace emits one row per step with a column per promoter, columns in
// name order.
func WriteTrace(w io.Writer, history map[string][]float64) error {
	promoters := make([]string, 0, len(history))
	steps := 0
	for name, series := range history {
		promoters = append(promoters, name)
		steps = max(steps, len(series))
	}
	sort.Strings(promoters)

	writer := csv.NewWriter(w)
	if err := writer.Write(append([]string{"step"}, promoters...)); err != nil {
		return err
	}
	row := make([]string, len(promoters)+1)
	for step := 0; step < steps; step++ {
		row[0] = strconv.Itoa(step)
		for i, name := range promoters {
			row[i+1] = ""
			if series := history[name]; step < len(series) {
				row[i+1] = strconv.FormatFloat(series[step], 'g', -1, 64)
			}
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func WriteScoreHistory(path string, history []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"iteration", "best_score"}); err != nil {
		return err
	}
	for i, best := range history {
		if err := writer.Write([]string{
			strconv.Itoa(i + 1),
			strconv.FormatFloat(best, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadScoreHistory(baseDir, runID string) ([]float64, bool, error) {
	path := filepath.Join(baseDir, runID, ScoreHistoryFile)
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []float64{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 2 {
		return nil, false, fmt.Errorf("score history header must have at least 2 columns")
	}

	series := make([]float64, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 2 {
			return nil, false, fmt.Errorf("score history row must have at least 2 columns")
		}
		value, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, false, err
		}
		series = append(series, value)
	}
	return series, true, nil
}

// HistorySummary condenses an incumbent score series.
type HistorySummary struct {
	Iterations      int
	Best            float64
	Improvements    int
	LastImprovement int
}

// SummarizeHistory counts strict increases of the incumbent. LastImprovement
// is 1-based and 0 when the incumbent never moved.
func SummarizeHistory(history []float64) HistorySummary {
	summary := HistorySummary{Iterations: len(history)}
	prev := 0.0
	for i, v := range history {
		if v > prev {
			summary.Improvements++
			summary.LastImprovement = i + 1
			prev = v
		}
	}
	summary.Best = prev
	return summary
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
