package scoredb

import (
	"context"

	"github.com/uptrace/bun"
)

// Repository defines the contract for score persistence.
//
// Error semantics:
//   - ErrNotFound: no score row for the generation
//   - ErrNoRowsAffected: a guarded write found its field already set
type Repository interface {
	// InsertOnce creates the score for score.GenerationID unless one exists,
	// and always returns the stored row.
	InsertOnce(ctx context.Context, db bun.IDB, score *Score) (*Score, bool, error)
	GetByGeneration(ctx context.Context, db bun.IDB, generationID int64) (*Score, error)
	SetImageSimilarity(ctx context.Context, db bun.IDB, generationID int64, similarity float64) error
}
