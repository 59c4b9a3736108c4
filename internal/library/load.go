package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"genecad/internal/model"
)

const (
	GatesFile     = "gates.json"
	SignalsFile   = "signals.json"
	PartsFile     = "parts.json"
	RulesFile     = "rules.json"
	RoadblockFile = "roadblock.json"
)

// Load reads a catalog directory. gates.json and signals.json are required;
// parts, rules and roadblock files are optional.
func Load(dir string) (*Library, error) {
	var gates []model.LibraryGate
	if err := readJSON(filepath.Join(dir, GatesFile), &gates, true); err != nil {
		return nil, err
	}

	var signalMap map[string]model.Signal
	if err := readJSON(filepath.Join(dir, SignalsFile), &signalMap, true); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(signalMap))
	for name := range signalMap {
		names = append(names, name)
	}
	sort.Strings(names)
	signals := make([]model.Signal, 0, len(names))
	for _, name := range names {
		signal := signalMap[name]
		if signal.Name == "" {
			signal.Name = name
		}
		signals = append(signals, signal)
	}

	var opts []Option

	var parts map[string]model.Part
	if err := readJSON(filepath.Join(dir, PartsFile), &parts, false); err != nil {
		return nil, err
	}
	if len(parts) > 0 {
		opts = append(opts, WithParts(parts))
	}

	var rules map[string][]string
	if err := readJSON(filepath.Join(dir, RulesFile), &rules, false); err != nil {
		return nil, err
	}
	if rules != nil {
		opts = append(opts, WithRules(rules["gates"], rules["promoters"]))
	}

	var roadblock []string
	if err := readJSON(filepath.Join(dir, RoadblockFile), &roadblock, false); err != nil {
		return nil, err
	}
	if len(roadblock) > 0 {
		opts = append(opts, WithRoadblock(roadblock))
	}

	lib, err := New(gates, signals, opts...)
	if err != nil {
		return nil, fmt.Errorf("load library %s: %w", dir, err)
	}
	return lib, nil
}

func readJSON(path string, target any, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !required && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

var (
	sharedMu sync.Mutex
	shared   = map[string]func() (*Library, error){}
)

// Shared loads each directory at most once per process. Concurrent first
// calls for the same directory block on a single load.
func Shared(dir string) (*Library, error) {
	key, err := filepath.Abs(dir)
	if err != nil {
		key = filepath.Clean(dir)
	}

	sharedMu.Lock()
	load, ok := shared[key]
	if !ok {
		load = sync.OnceValues(func() (*Library, error) {
			return Load(key)
		})
		shared[key] = load
	}
	sharedMu.Unlock()

	return load()
}
