package store

import (
	"context"

	"github.com/dunamismax/facefilter/internal/domain"
)

// RunStore records the outcome of each pipeline run. It stores metadata
// only; transformed images are never persisted.
type RunStore interface {
	Record(ctx context.Context, run domain.RunLog) error
	Recent(ctx context.Context, limit int) ([]domain.RunLog, error)
}
