package activitydb

import (
	"context"

	"github.com/uptrace/bun"
)

// Repository persists user actions.
type Repository interface {
	// Insert stores a; a row with the same MessageID is left untouched and
	// reported as ErrDuplicate.
	Insert(ctx context.Context, db bun.IDB, a *UserAction) error
	ListForPlayer(ctx context.Context, db bun.IDB, playerID string, limit int) ([]UserAction, error)
}
