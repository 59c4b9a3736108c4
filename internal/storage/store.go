package storage

import (
	"context"

	"genecad/internal/model"
)

// Store persists compile runs and their per-iteration incumbent scores.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.CompileRun) error
	GetRun(ctx context.Context, id string) (model.CompileRun, bool, error)
	// ListRuns returns runs newest first. limit <= 0 returns every run.
	ListRuns(ctx context.Context, limit int) ([]model.CompileRun, error)
	SaveScoreHistory(ctx context.Context, runID string, history []float64) error
	GetScoreHistory(ctx context.Context, runID string) ([]float64, bool, error)
}
