package pipelinedb

import (
	"time"

	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/uptrace/bun"
)

// Task points from a queued job to the generation or leaderboard it serves.
// Rows are deleted once the job is observed successful.
type Task struct {
	bun.BaseModel `bun:"table:tasks,alias:t"`

	ID            string    `bun:"id,pk"`
	GenerationID  *int64    `bun:"generation_id"`
	LeaderboardID *int64    `bun:"leaderboard_id"`
	Subtask       string    `bun:"subtask,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// GenerationState is everything a subtask needs to run for one generation.
// Score is nil until the score stage has written it.
type GenerationState struct {
	Generation  *rounddb.Generation
	Round       *rounddb.Round
	Program     *rounddb.Program
	Leaderboard *rounddb.Leaderboard
	Score       *scoredb.Score
}
