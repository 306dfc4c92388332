package activitydb

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

var _ Repository = (*Impl)(nil)

func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *Impl) Insert(ctx context.Context, db bun.IDB, a *UserAction) error {
	res, err := r.resolveDB(db).NewInsert().
		Model(a).
		On("CONFLICT (message_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to insert user action: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *Impl) ListForPlayer(ctx context.Context, db bun.IDB, playerID string, limit int) ([]UserAction, error) {
	var actions []UserAction
	q := r.resolveDB(db).NewSelect().
		Model(&actions).
		Where("player_id = ?", playerID).
		OrderExpr("received_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list user actions: %w", err)
	}
	return actions, nil
}
