package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"genecad/internal/config"
	"genecad/internal/dynamics"
	"genecad/internal/logs"
	genecad "genecad/pkg/genecad"
)

type stringList []string

func (l *stringList) String() string {
	return strings.Join(*l, ",")
}

func (l *stringList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type commonFlags struct {
	configs   stringList
	library   *string
	store     *string
	dbPath    *string
	artifacts *string
	exports   *string
	logLevel  *string
	logJSON   *bool
	logFile   *string
}

func registerCommon(fs *flag.FlagSet) *commonFlags {
	c := &commonFlags{}
	fs.Var(&c.configs, "config", "settings file (CUE); repeat to layer files")
	c.library = fs.String("library", "", "library catalog directory")
	c.store = fs.String("store", "", "store backend: memory|sqlite")
	c.dbPath = fs.String("db-path", "", "sqlite database path")
	c.artifacts = fs.String("artifacts", "", "run artifacts directory")
	c.exports = fs.String("exports", "", "default export directory")
	c.logLevel = fs.String("log-level", "", "debug|info|warn|error")
	c.logJSON = fs.Bool("log-json", false, "force JSON logs on stderr")
	c.logFile = fs.String("log-file", "", "also append JSON logs to this file")
	return c
}

type searchFlags struct {
	iterations *int
	seed       *int64
	policy     *string
	goal       *float64
	timeout    *string
	steps      *int
	drive      *string
	delay      *int
}

func registerSearch(fs *flag.FlagSet) *searchFlags {
	return &searchFlags{
		iterations: fs.Int("iterations", 0, "search iterations"),
		seed:       fs.Int64("seed", 0, "random seed (documents may carry their own)"),
		policy:     fs.String("degenerate-policy", "", "skip|fallback|error"),
		goal:       fs.Float64("goal", 0, "stop once the best score reaches this value"),
		timeout:    fs.String("timeout", "", "search deadline, e.g. 30s"),
		steps:      fs.Int("steps", 0, "simulation steps"),
		drive:      fs.String("drive", "", "simulation drive policy: sum|max"),
		delay:      fs.Int("delay", 0, "simulation transport delay in steps"),
	}
}

// loadSettings layers config files over the defaults, then applies every flag
// the user set explicitly.
func loadSettings(fs *flag.FlagSet, common *commonFlags, search *searchFlags) (config.Settings, error) {
	settings, err := config.Load(common.configs...)
	if err != nil {
		return config.Settings{}, err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if set["library"] {
		settings.Library = *common.library
	}
	if set["store"] {
		settings.Store.Kind = *common.store
	}
	if set["db-path"] {
		settings.Store.Path = *common.dbPath
	}
	if set["artifacts"] {
		settings.Artifacts = *common.artifacts
	}
	if set["exports"] {
		settings.Exports = *common.exports
	}
	if set["log-level"] {
		settings.Log.Level = *common.logLevel
	}
	if set["log-file"] {
		settings.Log.File = *common.logFile
	}

	if search == nil {
		return settings, nil
	}
	if set["iterations"] {
		if *search.iterations < 0 {
			return config.Settings{}, fmt.Errorf("iterations must be >= 0")
		}
		settings.Iterations = *search.iterations
	}
	if set["seed"] {
		settings.Seed = *search.seed
	}
	if set["degenerate-policy"] {
		settings.DegeneratePolicy = *search.policy
	}
	if set["goal"] {
		settings.GoalScore = *search.goal
	}
	if set["timeout"] {
		settings.Timeout = *search.timeout
		if _, err := settings.TimeoutDuration(); err != nil {
			return config.Settings{}, err
		}
	}
	if set["steps"] {
		settings.Simulation.Steps = *search.steps
	}
	if set["drive"] {
		settings.Simulation.Drive = *search.drive
	}
	if set["delay"] {
		settings.Simulation.Delay = *search.delay
	}
	return settings, nil
}

// newClient builds the client and its logger. The returned func closes the
// client and the log file, if one was opened.
func newClient(settings config.Settings, logJSON bool) (*genecad.Client, func(), error) {
	timeout, err := settings.TimeoutDuration()
	if err != nil {
		return nil, nil, err
	}

	logOpts := logs.Options{Level: settings.Log.Level, JSON: logJSON}
	var logFile *os.File
	if settings.Log.File != "" {
		logFile, err = os.OpenFile(settings.Log.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		logOpts.File = logFile
	}
	closeLog := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}

	logger, err := logs.New(logOpts)
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	client, err := genecad.New(genecad.Options{
		StoreKind:        settings.Store.Kind,
		DBPath:           settings.Store.Path,
		LibraryDir:       settings.Library,
		ArtifactsDir:     settings.Artifacts,
		ExportsDir:       settings.Exports,
		Logger:           logger,
		Iterations:       settings.Iterations,
		DegeneratePolicy: settings.DegeneratePolicy,
		GoalScore:        settings.GoalScore,
		Timeout:          timeout,
		Simulation: dynamics.Options{
			Steps: settings.Simulation.Steps,
			Drive: settings.Simulation.Drive,
			Delay: settings.Simulation.Delay,
		},
	})
	if err != nil {
		closeLog()
		return nil, nil, err
	}
	return client, func() {
		_ = client.Close()
		closeLog()
	}, nil
}
