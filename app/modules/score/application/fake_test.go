package scoreservice

import (
	"context"

	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/uptrace/bun"
)

// FakeRepo is a programmable fake for scoredb.Repository.
type FakeRepo struct {
	InsertOnceFunc         func(ctx context.Context, db bun.IDB, score *scoredb.Score) (*scoredb.Score, bool, error)
	GetByGenerationFunc    func(ctx context.Context, db bun.IDB, generationID int64) (*scoredb.Score, error)
	SetImageSimilarityFunc func(ctx context.Context, db bun.IDB, generationID int64, similarity float64) error

	calls []string
}

var _ scoredb.Repository = (*FakeRepo)(nil)

func (f *FakeRepo) InsertOnce(ctx context.Context, db bun.IDB, score *scoredb.Score) (*scoredb.Score, bool, error) {
	f.calls = append(f.calls, "InsertOnce")
	if f.InsertOnceFunc != nil {
		return f.InsertOnceFunc(ctx, db, score)
	}
	return score, true, nil
}

func (f *FakeRepo) GetByGeneration(ctx context.Context, db bun.IDB, generationID int64) (*scoredb.Score, error) {
	f.calls = append(f.calls, "GetByGeneration")
	if f.GetByGenerationFunc != nil {
		return f.GetByGenerationFunc(ctx, db, generationID)
	}
	return nil, scoredb.ErrNotFound
}

func (f *FakeRepo) SetImageSimilarity(ctx context.Context, db bun.IDB, generationID int64, similarity float64) error {
	f.calls = append(f.calls, "SetImageSimilarity")
	if f.SetImageSimilarityFunc != nil {
		return f.SetImageSimilarityFunc(ctx, db, generationID, similarity)
	}
	return nil
}
