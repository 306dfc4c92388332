package scoredb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/uptrace/bun"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

var _ Repository = (*Impl)(nil)

// NewRepository creates a new score repository.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func (r *Impl) InsertOnce(ctx context.Context, db bun.IDB, score *Score) (*Score, bool, error) {
	db = r.resolveDB(db)
	res, err := db.NewInsert().
		Model(score).
		On("CONFLICT (generation_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to insert score: %w", err)
	}
	created := false
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		created = true
	}

	stored, err := r.GetByGeneration(ctx, db, score.GenerationID)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

func (r *Impl) GetByGeneration(ctx context.Context, db bun.IDB, generationID int64) (*Score, error) {
	db = r.resolveDB(db)
	score := new(Score)
	err := db.NewSelect().
		Model(score).
		Where("generation_id = ?", generationID).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get score: %w", err)
	}
	return score, nil
}

// SetImageSimilarity fills image_similarity once.
func (r *Impl) SetImageSimilarity(ctx context.Context, db bun.IDB, generationID int64, similarity float64) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*Score)(nil)).
		Set("image_similarity = ?", similarity).
		Where("generation_id = ?", generationID).
		Where("image_similarity IS NULL").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to set image similarity: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNoRowsAffected
	}
	return nil
}
