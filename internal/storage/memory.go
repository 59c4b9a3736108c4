package storage

import (
	"context"
	"errors"
	"sync"

	"genecad/internal/model"
)

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.CompileRun
	runOrder    []string
	history     map[string][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.CompileRun)
	s.runOrder = nil
	s.history = make(map[string][]float64)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.CompileRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	if _, exists := s.runs[run.ID]; !exists {
		s.runOrder = append(s.runOrder, run.ID)
	}
	s.runs[run.ID] = cloneRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.CompileRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.CompileRun{}, false, nil
	}
	return cloneRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, limit int) ([]model.CompileRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.CompileRun, 0, len(s.runOrder))
	for i := len(s.runOrder) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, cloneRun(s.runs[s.runOrder[i]]))
	}
	return out, nil
}

func (s *MemoryStore) SaveScoreHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errors.New("store is not initialized")
	}
	s.history[runID] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetScoreHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

// cloneRun copies the slices a caller could mutate after saving. The
// simulation traces are never modified after compile, so they are shared.
func cloneRun(run model.CompileRun) model.CompileRun {
	out := run
	out.Assignment = run.Assignment.Clone()
	out.Warnings = append([]string(nil), run.Warnings...)
	out.Result.Inputs = append([]model.Signal(nil), run.Result.Inputs...)
	out.Result.Genes = make([]model.Gene, len(run.Result.Genes))
	for i, gene := range run.Result.Genes {
		gene.Inputs = append([]string(nil), gene.Inputs...)
		out.Result.Genes[i] = gene
	}
	return out
}
