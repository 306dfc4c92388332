package repairdb

import (
	"context"
	"fmt"
	"time"

	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
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

func (r *Impl) ListStuck(ctx context.Context, db bun.IDB, category repairdomain.Category, cutoff time.Time, limit int) ([]int64, error) {
	q := r.resolveDB(db).NewSelect().
		TableExpr("generations AS g").
		ColumnExpr("g.id").
		Join("JOIN rounds AS r ON r.id = g.round_id").
		Join("JOIN players AS p ON p.id = r.player_id").
		Join("JOIN programs AS pg ON pg.id = r.program_id").
		Where("p.is_guest = ?", false).
		Where("g.corrected_sentence IS NOT NULL").
		Where("g.created_at < ?", cutoff).
		OrderExpr("g.id ASC")

	// Word, grammar, fluency and content factors only exist in formula plans.
	formula := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("pg.scoring <> ?", string(pipelinedomain.StrategyEvaluation))
	}
	withImage := func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("pg.feedback LIKE ?", "%"+rounddb.FeedbackImage+"%")
	}

	switch category {
	case repairdomain.MissingImage:
		q = withImage(q).Where("g.interpreted_image_key IS NULL")
	case repairdomain.MissingContent:
		q = formula(q).Where("g.updated_content_score = ?", false)
	case repairdomain.MissingWords:
		q = formula(q).Where("g.updated_n_words = ?", false)
	case repairdomain.MissingGrammar:
		q = formula(q).Where("g.updated_grammar_errors = ?", false)
	case repairdomain.MissingFluency:
		q = formula(q).Where("g.updated_perplexity = ?", false)
	case repairdomain.MissingScore:
		q = q.Where("g.score_id IS NULL")
	case repairdomain.MissingSimilarity:
		q = withImage(q).
			Join("JOIN scores AS s ON s.generation_id = g.id").
			Where("s.image_similarity IS NULL")
	case repairdomain.NotCompleted:
		q = q.Where("g.is_completed = ?", false)
	default:
		return nil, fmt.Errorf("unknown repair category %q", category)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var ids []int64
	if err := q.Scan(ctx, &ids); err != nil {
		return nil, fmt.Errorf("failed to list %s generations: %w", category, err)
	}
	return ids, nil
}
