package genecad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"genecad/internal/assign"
	"genecad/internal/compiler"
	"genecad/internal/dynamics"
	"genecad/internal/library"
	"genecad/internal/logs"
	"genecad/internal/model"
	"genecad/internal/stats"
	"genecad/internal/storage"
)

const (
	defaultLibraryDir   = "catalog"
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "genecad.db"
)

// Options configures a Client. Zero values select the defaults; Iterations 0
// means assign.DefaultIterations.
type Options struct {
	StoreKind    string
	DBPath       string
	LibraryDir   string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger

	Iterations       int
	DegeneratePolicy string
	GoalScore        float64
	Timeout          time.Duration
	Simulation       dynamics.Options
}

type Client struct {
	store    storage.Store
	library  *library.Library
	compiler *compiler.Compiler
	logger   *slog.Logger

	artifactsDir string
	exportsDir   string
}

type CompileRequest struct {
	Circuit   model.LogicCircuit
	Testbench model.Testbench
	Seed      int64
}

type CompileSummary struct {
	RunID        string
	ArtifactsDir string
	Circuit      model.GeneticCircuit
	Assignment   []string
	Score        float64
	FoldChange   float64
	Iterations   int
	Improved     bool
	Stopped      bool
	Warnings     []string
	Elapsed      time.Duration
}

type BatchSummary struct {
	Name    string
	Summary CompileSummary
	Err     error
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Circuit      string
	Seed         int64
	Iterations   int
	BestScore    float64
	FoldChange   float64
	Genes        int
	Warnings     int
}

type ShowRequest struct {
	RunID  string
	Latest bool
}

type RunDetail struct {
	Run     model.CompileRun
	History stats.HistorySummary
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

type LibraryGateItem struct {
	Name     string
	Group    string
	Promoter string
	Params   model.HillParams
}

// GateDetail is one library gate with its parts resolved against the parts
// catalog. Names missing from the catalog are listed in Unresolved.
type GateDetail struct {
	LibraryGateItem
	Index      int
	Parts      []model.Part
	Unresolved []string
}

type LibrarySummary struct {
	Gates   []LibraryGateItem
	Signals []model.Signal
	Groups  int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	libraryDir := opts.LibraryDir
	if libraryDir == "" {
		libraryDir = defaultLibraryDir
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	iterations := opts.Iterations
	if iterations == 0 {
		iterations = assign.DefaultIterations
	}
	logger := opts.Logger
	if logger == nil {
		logger = logs.Discard()
	}

	lib, err := library.Shared(libraryDir)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(context.Background(), storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:   store,
		library: lib,
		logger:  logger,
		compiler: &compiler.Compiler{
			Library:          lib,
			Store:            store,
			Logger:           logger,
			Iterations:       iterations,
			DegeneratePolicy: opts.DegeneratePolicy,
			GoalScore:        opts.GoalScore,
			Timeout:          opts.Timeout,
			Simulation:       opts.Simulation,
		},
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Compile(ctx context.Context, req CompileRequest) (CompileSummary, error) {
	started := time.Now()
	result, err := c.compiler.Compile(ctx, compiler.Request(req))
	if err != nil {
		return CompileSummary{}, err
	}
	return c.finish(ctx, result, time.Since(started))
}

// CompileBatch compiles every request on up to workers goroutines. Failures
// are reported per item.
func (c *Client) CompileBatch(ctx context.Context, reqs []CompileRequest, workers int) []BatchSummary {
	internal := make([]compiler.Request, len(reqs))
	for i, req := range reqs {
		internal[i] = compiler.Request(req)
	}
	started := time.Now()
	items := c.compiler.CompileBatch(ctx, internal, workers)
	elapsed := time.Since(started)

	out := make([]BatchSummary, len(items))
	for i, item := range items {
		out[i] = BatchSummary{Name: item.Request.Circuit.Name, Err: item.Err}
		if item.Err != nil {
			continue
		}
		out[i].Summary, out[i].Err = c.finish(ctx, item.Result, elapsed)
	}
	return out
}

func (c *Client) finish(ctx context.Context, result compiler.Result, elapsed time.Duration) (CompileSummary, error) {
	summary := CompileSummary{
		RunID:      result.RunID,
		Circuit:    result.Circuit,
		Score:      result.Search.Score,
		FoldChange: result.Search.FoldChange,
		Iterations: result.Search.Iterations,
		Improved:   result.Search.Improved,
		Stopped:    result.Search.Stopped,
		Warnings:   result.Warnings,
		Elapsed:    elapsed,
	}
	for _, index := range result.Search.Assignment {
		summary.Assignment = append(summary.Assignment, c.library.Gate(index).Name)
	}

	run, ok, err := c.store.GetRun(ctx, result.RunID)
	if err != nil {
		return CompileSummary{}, err
	}
	if !ok {
		return CompileSummary{}, fmt.Errorf("run not found after compile: %s", result.RunID)
	}
	dir, err := stats.WriteRunArtifacts(c.artifactsDir, run, result.Search.BestHistory)
	if err != nil {
		return CompileSummary{}, fmt.Errorf("write artifacts: %w", err)
	}
	summary.ArtifactsDir = filepath.Clean(dir)
	if err := stats.AppendRunIndex(c.artifactsDir, stats.IndexEntry(run)); err != nil {
		return CompileSummary{}, fmt.Errorf("update run index: %w", err)
	}
	c.logger.Info("compile finished", "run_id", run.ID, "circuit", run.Circuit, "score", run.BestScore, "artifacts", summary.ArtifactsDir)
	return summary, nil
}

// Runs lists runs newest first. Runs held by the store are merged with the
// artifact index, so runs from earlier processes show up with a memory store.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if req.Limit == 0 {
		req.Limit = 20
	}

	stored, err := c.store.ListRuns(ctx, 0)
	if err != nil {
		return nil, err
	}
	indexed, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}

	entries := make([]stats.RunIndexEntry, 0, len(stored)+len(indexed))
	seen := make(map[string]struct{}, len(stored))
	for _, run := range stored {
		seen[run.ID] = struct{}{}
		entries = append(entries, stats.IndexEntry(run))
	}
	for _, entry := range indexed {
		if _, ok := seen[entry.RunID]; ok {
			continue
		}
		entries = append(entries, entry)
	}
	stats.SortNewestFirst(entries)

	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem(e))
	}
	return out, nil
}

func (c *Client) Show(ctx context.Context, req ShowRequest) (RunDetail, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RunDetail{}, err
	}
	run, ok, err := c.store.GetRun(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		run, ok, err = stats.ReadRun(c.artifactsDir, runID)
		if err != nil {
			return RunDetail{}, err
		}
		if !ok {
			return RunDetail{}, fmt.Errorf("run not found: %s", runID)
		}
	}
	history, ok, err := c.store.GetScoreHistory(ctx, runID)
	if err != nil {
		return RunDetail{}, err
	}
	if !ok {
		history, _, err = stats.ReadScoreHistory(c.artifactsDir, runID)
		if err != nil {
			return RunDetail{}, err
		}
	}
	return RunDetail{Run: run, History: stats.SummarizeHistory(history)}, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}
	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) Library() LibrarySummary {
	summary := LibrarySummary{Groups: len(c.library.Groups())}
	for i := 0; i < c.library.Len(); i++ {
		gate := c.library.Gate(i)
		summary.Gates = append(summary.Gates, LibraryGateItem{
			Name:     gate.Name,
			Group:    gate.Group,
			Promoter: gate.Promoter,
			Params:   gate.Params,
		})
	}
	for _, name := range c.library.SignalNames() {
		signal, _ := c.library.Signal(name)
		summary.Signals = append(summary.Signals, signal)
	}
	return summary
}

func (c *Client) Gate(name string) (GateDetail, error) {
	gate, index, err := c.library.GateByName(name)
	if err != nil {
		return GateDetail{}, err
	}
	detail := GateDetail{
		LibraryGateItem: LibraryGateItem{
			Name:     gate.Name,
			Group:    gate.Group,
			Promoter: gate.Promoter,
			Params:   gate.Params,
		},
		Index: index,
	}
	for _, partName := range gate.Parts {
		part, err := c.library.Part(partName)
		if errors.Is(err, library.ErrUnknownPart) {
			detail.Unresolved = append(detail.Unresolved, partName)
			continue
		}
		if err != nil {
			return GateDetail{}, err
		}
		detail.Parts = append(detail.Parts, part)
	}
	return detail, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", errors.New("run id or latest is required")
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}
