package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	genecad "genecad/pkg/genecad"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "compile":
		return runCompile(ctx, args[1:])
	case "batch":
		return runBatch(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "show":
		return runShow(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	case "library":
		return runLibrary(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runCompile(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compile", flag.ContinueOnError)
	common := registerCommon(fs)
	search := registerSearch(fs)
	circuitPath := fs.String("circuit", "", "circuit document (JSON)")
	outPath := fs.String("out", "", "write the assembled circuit JSON to this file")
	jsonOut := fs.Bool("json", false, "emit the compile summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *circuitPath == "" && fs.NArg() == 1 {
		*circuitPath = fs.Arg(0)
	}
	if *circuitPath == "" {
		return errors.New("compile requires --circuit")
	}

	settings, err := loadSettings(fs, common, search)
	if err != nil {
		return err
	}
	doc, err := genecad.LoadCircuit(*circuitPath)
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	summary, err := client.Compile(ctx, doc.Request(settings.Seed))
	if err != nil {
		return err
	}
	if *outPath != "" {
		if err := writeJSONFile(*outPath, summary.Circuit); err != nil {
			return err
		}
	}
	if *jsonOut {
		return encodeJSON(compileJSON(summary))
	}
	printSummary(summary)
	return nil
}

func runBatch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("batch", flag.ContinueOnError)
	common := registerCommon(fs)
	search := registerSearch(fs)
	workers := fs.Int("workers", 0, "concurrent compiles (default from config)")
	jsonOut := fs.Bool("json", false, "emit summaries as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("batch requires at least one circuit document")
	}
	if *workers < 0 {
		return errors.New("workers must be >= 0")
	}

	settings, err := loadSettings(fs, common, search)
	if err != nil {
		return err
	}
	if *workers > 0 {
		settings.Workers = *workers
	}

	reqs := make([]genecad.CompileRequest, 0, fs.NArg())
	for _, path := range fs.Args() {
		doc, err := genecad.LoadCircuit(path)
		if err != nil {
			return err
		}
		reqs = append(reqs, doc.Request(settings.Seed))
	}

	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	items := client.CompileBatch(ctx, reqs, settings.Workers)
	failed := 0
	if *jsonOut {
		type batchItem struct {
			Circuit string       `json:"circuit"`
			Error   string       `json:"error,omitempty"`
			Result  *compileView `json:"result,omitempty"`
		}
		out := make([]batchItem, 0, len(items))
		for _, item := range items {
			entry := batchItem{Circuit: item.Name}
			if item.Err != nil {
				failed++
				entry.Error = item.Err.Error()
			} else {
				view := compileJSON(item.Summary)
				entry.Result = &view
			}
			out = append(out, entry)
		}
		if err := encodeJSON(out); err != nil {
			return err
		}
	} else {
		for _, item := range items {
			if item.Err != nil {
				failed++
				fmt.Fprintf(stdout, "circuit=%s error=%v\n", item.Name, item.Err)
				continue
			}
			printSummary(item.Summary)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d compiles failed", failed, len(items))
	}
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	common := registerCommon(fs)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	settings, err := loadSettings(fs, common, nil)
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	items, err := client.Runs(ctx, genecad.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, item := range items {
		fmt.Fprintf(stdout, "run_id=%s created=%s circuit=%s seed=%d iterations=%s genes=%d score=%s fold=%s warnings=%d\n",
			item.RunID,
			relativeTime(item.CreatedAtUTC),
			item.Circuit,
			item.Seed,
			humanize.Comma(int64(item.Iterations)),
			item.Genes,
			humanize.FormatFloat("#,###.####", item.BestScore),
			humanize.FormatFloat("#,###.##", item.FoldChange),
			item.Warnings,
		)
	}
	return nil
}

func runShow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show the most recent run")
	jsonOut := fs.Bool("json", false, "emit the run record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("show requires --run-id or --latest")
	}

	settings, err := loadSettings(fs, common, nil)
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	detail, err := client.Show(ctx, genecad.ShowRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}
	if *jsonOut {
		return encodeJSON(detail.Run)
	}

	run := detail.Run
	fmt.Fprintf(stdout, "run_id=%s circuit=%s seed=%d created=%s\n", run.ID, run.Circuit, run.Seed, relativeTime(run.CreatedAtUTC))
	fmt.Fprintf(stdout, "iterations=%s degenerate=%s improvements=%d last_improvement=%s\n",
		humanize.Comma(int64(detail.History.Iterations)),
		humanize.Comma(int64(run.DegenerateIterations)),
		detail.History.Improvements,
		humanize.Ordinal(detail.History.LastImprovement),
	)
	fmt.Fprintf(stdout, "score=%s fold_change=%s\n",
		humanize.FormatFloat("#,###.####", run.BestScore),
		humanize.FormatFloat("#,###.##", run.FoldChange),
	)
	for _, gene := range run.Result.Genes {
		fmt.Fprintf(stdout, "  %-6s %-10s %-8s <- %s\n", gene.Node, gene.Name, gene.Promoter, strings.Join(gene.Inputs, ","))
	}
	if run.Result.Output.Promoter != "" {
		fmt.Fprintf(stdout, "  output %s -> %s\n", run.Result.Output.Promoter, run.Result.Output.Actuator)
	}
	for _, w := range run.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	common := registerCommon(fs)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", "", "export output directory (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	settings, err := loadSettings(fs, common, nil)
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	exported, err := client.Export(ctx, genecad.ExportRequest{RunID: *runID, Latest: *latest, OutDir: *outDir})
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func runLibrary(_ context.Context, args []string) error {
	fs := flag.NewFlagSet("library", flag.ContinueOnError)
	common := registerCommon(fs)
	jsonOut := fs.Bool("json", false, "emit the library as JSON")
	gateName := fs.String("gate", "", "show one gate with its parts")
	if err := fs.Parse(args); err != nil {
		return err
	}

	settings, err := loadSettings(fs, common, nil)
	if err != nil {
		return err
	}
	client, closeClient, err := newClient(settings, *common.logJSON)
	if err != nil {
		return err
	}
	defer closeClient()

	if *gateName != "" {
		detail, err := client.Gate(*gateName)
		if err != nil {
			return err
		}
		if *jsonOut {
			return encodeJSON(detail)
		}
		p := detail.Params
		fmt.Fprintf(stdout, "gate=%s index=%d group=%s promoter=%s ymax=%g ymin=%g K=%g n=%g decay=%g\n",
			detail.Name, detail.Index, detail.Group, detail.Promoter, p.Ymax, p.Ymin, p.K, p.N, p.Decay)
		for _, part := range detail.Parts {
			fmt.Fprintf(stdout, "  part %-12s kind=%-10s bp=%d\n", part.Name, part.Kind, len(part.Seq))
		}
		if len(detail.Unresolved) > 0 {
			fmt.Fprintf(stdout, "  unresolved=%s\n", strings.Join(detail.Unresolved, ","))
		}
		return nil
	}

	lib := client.Library()
	if *jsonOut {
		return encodeJSON(lib)
	}
	fmt.Fprintf(stdout, "library=%s gates=%d groups=%d signals=%d\n", settings.Library, len(lib.Gates), lib.Groups, len(lib.Signals))
	for _, gate := range lib.Gates {
		p := gate.Params
		fmt.Fprintf(stdout, "  %-10s group=%-7s promoter=%-8s ymax=%g ymin=%g K=%g n=%g decay=%g\n",
			gate.Name, gate.Group, gate.Promoter, p.Ymax, p.Ymin, p.K, p.N, p.Decay)
	}
	for _, signal := range lib.Signals {
		fmt.Fprintf(stdout, "  signal %-6s promoter=%-6s off=%g on=%g\n", signal.Name, signal.Promoter, signal.RPUOff, signal.RPUOn)
	}
	return nil
}

type compileView struct {
	RunID        string   `json:"run_id"`
	Artifacts    string   `json:"artifacts"`
	Assignment   []string `json:"assignment"`
	Score        float64  `json:"score"`
	FoldChange   float64  `json:"fold_change"`
	Iterations   int      `json:"iterations"`
	Improved     bool     `json:"improved"`
	Stopped      bool     `json:"stopped"`
	Warnings     []string `json:"warnings,omitempty"`
	ElapsedMilli int64    `json:"elapsed_ms"`
}

func compileJSON(s genecad.CompileSummary) compileView {
	return compileView{
		RunID:        s.RunID,
		Artifacts:    s.ArtifactsDir,
		Assignment:   s.Assignment,
		Score:        s.Score,
		FoldChange:   s.FoldChange,
		Iterations:   s.Iterations,
		Improved:     s.Improved,
		Stopped:      s.Stopped,
		Warnings:     s.Warnings,
		ElapsedMilli: s.Elapsed.Milliseconds(),
	}
}

func printSummary(s genecad.CompileSummary) {
	fmt.Fprintf(stdout, "run_id=%s iterations=%s score=%s fold_change=%s elapsed=%s artifacts=%s\n",
		s.RunID,
		humanize.Comma(int64(s.Iterations)),
		humanize.FormatFloat("#,###.####", s.Score),
		humanize.FormatFloat("#,###.##", s.FoldChange),
		s.Elapsed.Round(time.Millisecond),
		s.ArtifactsDir,
	)
	if len(s.Assignment) > 0 {
		fmt.Fprintf(stdout, "assignment=%s\n", strings.Join(s.Assignment, ","))
	}
	for _, w := range s.Warnings {
		fmt.Fprintf(stdout, "warning: %s\n", w)
	}
}

func relativeTime(createdAtUTC string) string {
	t, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return strings.ReplaceAll(humanize.Time(t), " ", "_")
}

func encodeJSON(value any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}

func writeJSONFile(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: genecadctl <compile|batch|runs|show|export|library> [flags]", msg)
}
