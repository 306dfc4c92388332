package pipelinedb

import (
	"context"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	"github.com/uptrace/bun"
)

// Repository owns the factor columns of generations and the task pointer rows.
//
// Every Write* method updates its columns and flips the guarding flag in one
// statement, conditional on the flag still being unset. A write that finds the
// flag already set changes nothing and returns ErrNoRowsAffected.
type Repository interface {
	LoadState(ctx context.Context, db bun.IDB, generationID int64) (*GenerationState, error)

	WriteWords(ctx context.Context, db bun.IDB, generationID int64, stats analysis.WordStats) error
	WriteGrammar(ctx context.Context, db bun.IDB, generationID int64, report analysis.GrammarReport) error
	WriteFluency(ctx context.Context, db bun.IDB, generationID int64, perplexity float64) error
	WriteContent(ctx context.Context, db bun.IDB, generationID int64, content float64) error
	WriteImage(ctx context.Context, db bun.IDB, generationID int64, key string) error
	LinkScore(ctx context.Context, db bun.IDB, generationID, scoreID int64, total int, rank string) error

	CreateTask(ctx context.Context, db bun.IDB, task *Task) error
	ListTasks(ctx context.Context, db bun.IDB, generationID int64) ([]Task, error)
	ListTasksCreatedBefore(ctx context.Context, db bun.IDB, cutoff time.Time, limit int) ([]Task, error)
	DeleteTask(ctx context.Context, db bun.IDB, id string) error
}
