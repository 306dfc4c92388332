package scoreservice

import (
	"context"

	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
)

// Service defines the interface for the ScoreService.
type Service interface {
	// Calculate runs the named strategy. An empty name selects the default.
	Calculate(ctx context.Context, strategy string, generationID int64, in Input) (Breakdown, error)

	// GetForGeneration returns the stored score or ErrScoreNotFound.
	GetForGeneration(ctx context.Context, generationID int64) (*scoredb.Score, error)
}
