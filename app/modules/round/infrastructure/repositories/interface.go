package rounddb

import (
	"context"

	"github.com/uptrace/bun"
)

// Repository defines the contract for round persistence.
// Every method accepts an optional bun.IDB so callers can run it inside a
// transaction; nil falls back to the repository connection.
//
// Error semantics:
//   - ErrNotFound: record does not exist
//   - ErrNoRowsAffected: a guarded UPDATE found its guard already satisfied
//   - Other errors: infrastructure failures
type Repository interface {
	UpsertPlayer(ctx context.Context, db bun.IDB, player *Player) error
	GetPlayer(ctx context.Context, db bun.IDB, id string) (*Player, error)
	GetProgramByName(ctx context.Context, db bun.IDB, name string) (*Program, error)
	GetProgram(ctx context.Context, db bun.IDB, id int64) (*Program, error)
	GetLeaderboard(ctx context.Context, db bun.IDB, id int64) (*Leaderboard, error)

	CreateChat(ctx context.Context, db bun.IDB) (*Chat, error)
	AppendMessage(ctx context.Context, db bun.IDB, msg *Message) error
	ListMessages(ctx context.Context, db bun.IDB, chatID int64) ([]Message, error)

	CreateRound(ctx context.Context, db bun.IDB, round *Round) error
	GetRound(ctx context.Context, db bun.IDB, id int64) (*Round, error)
	FindLatestRound(ctx context.Context, db bun.IDB, playerID string, leaderboardID, programID int64, completed bool) (*Round, error)
	ListOpenRounds(ctx context.Context, db bun.IDB, playerID string, leaderboardID, programID int64) ([]Round, error)
	CompleteRound(ctx context.Context, db bun.IDB, id int64, duration int, lastGenerationID *int64) error
	SetLastGeneration(ctx context.Context, db bun.IDB, roundID, generationID int64) error

	CreateGeneration(ctx context.Context, db bun.IDB, gen *Generation) error
	GetGeneration(ctx context.Context, db bun.IDB, id int64) (*Generation, error)
	GetLatestGeneration(ctx context.Context, db bun.IDB, roundID int64) (*Generation, error)
	ListGenerations(ctx context.Context, db bun.IDB, roundID int64) ([]Generation, error)
	UpdateSentence(ctx context.Context, db bun.IDB, id int64, sentence string) error
	SetCorrection(ctx context.Context, db bun.IDB, id int64, corrected string) error
	CompleteGeneration(ctx context.Context, db bun.IDB, id int64, duration int, evaluationID *int64) error
}
