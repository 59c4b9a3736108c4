package config

import (
	"fmt"
	"time"

	"genecad/internal/assign"
	"genecad/internal/dynamics"
	"genecad/internal/storage"
)

// SettingsSchema constrains a settings file. All fields are optional.
const SettingsSchema = `
	library?: string
	artifacts?: string
	exports?: string
	iterations?: int & >=0
	seed?: int
	degenerate_policy?: "skip" | "fallback" | "error"
	goal_score?: number & >=0
	timeout?: string
	workers?: int & >0
	simulation?: close({
		steps?: int & >0
		drive?: "sum" | "max"
		delay?: int & >=0
	})
	store?: close({
		kind?: "memory" | "sqlite"
		path?: string
	})
	log?: close({
		level?: "debug" | "info" | "warn" | "error"
		file?: string
	})
`

type Simulation struct {
	Steps int    `json:"steps"`
	Drive string `json:"drive"`
	Delay int    `json:"delay"`
}

type Store struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

type Log struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

type Settings struct {
	Library          string     `json:"library"`
	Artifacts        string     `json:"artifacts"`
	Exports          string     `json:"exports"`
	Iterations       int        `json:"iterations"`
	Seed             int64      `json:"seed"`
	DegeneratePolicy string     `json:"degenerate_policy"`
	GoalScore        float64    `json:"goal_score"`
	Timeout          string     `json:"timeout"`
	Workers          int        `json:"workers"`
	Simulation       Simulation `json:"simulation"`
	Store            Store      `json:"store"`
	Log              Log        `json:"log"`
}

func Defaults() Settings {
	return Settings{
		Library:          "catalog",
		Artifacts:        "runs",
		Exports:          "exports",
		Iterations:       assign.DefaultIterations,
		Seed:             1,
		DegeneratePolicy: assign.DegenerateSkip,
		Workers:          4,
		Simulation: Simulation{
			Steps: dynamics.DefaultSteps,
			Drive: dynamics.DriveSum,
		},
		Store: Store{Kind: storage.KindMemory, Path: "genecad.db"},
		Log:   Log{Level: "info"},
	}
}

// Load applies every file on top of Defaults, in order.
func Load(paths ...string) (Settings, error) {
	settings := Defaults()
	if len(paths) == 0 {
		return settings, nil
	}
	loader := NewLoader(paths, SettingsSchema)
	if err := loader.AssignAll("", &settings); err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if _, err := settings.TimeoutDuration(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

// TimeoutDuration parses Timeout; an empty value means no deadline.
func (s Settings) TimeoutDuration() (time.Duration, error) {
	if s.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: %w", s.Timeout, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid timeout %q: must be >= 0", s.Timeout)
	}
	return d, nil
}
