package pipelinedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/uptrace/bun"
)

// Impl implements the Repository interface using Bun ORM.
type Impl struct {
	db bun.IDB
}

var _ Repository = (*Impl)(nil)

// NewRepository creates a new pipeline repository.
func NewRepository(db bun.IDB) Repository {
	return &Impl{db: db}
}

func (r *Impl) resolveDB(db bun.IDB) bun.IDB {
	if db == nil {
		return r.db
	}
	return db
}

func selectOne(ctx context.Context, db bun.IDB, model any, what string, where string, arg any) error {
	err := db.NewSelect().Model(model).Where(where, arg).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%s: %w", what, ErrNotFound)
		}
		return fmt.Errorf("failed to load %s: %w", what, err)
	}
	return nil
}

func (r *Impl) LoadState(ctx context.Context, db bun.IDB, generationID int64) (*GenerationState, error) {
	db = r.resolveDB(db)
	st := &GenerationState{
		Generation:  new(rounddb.Generation),
		Round:       new(rounddb.Round),
		Program:     new(rounddb.Program),
		Leaderboard: new(rounddb.Leaderboard),
	}

	if err := selectOne(ctx, db, st.Generation, "generation", "id = ?", generationID); err != nil {
		return nil, err
	}
	if err := selectOne(ctx, db, st.Round, "round", "id = ?", st.Generation.RoundID); err != nil {
		return nil, err
	}
	if err := selectOne(ctx, db, st.Program, "program", "id = ?", st.Round.ProgramID); err != nil {
		return nil, err
	}
	if err := selectOne(ctx, db, st.Leaderboard, "leaderboard", "id = ?", st.Round.LeaderboardID); err != nil {
		return nil, err
	}

	score := new(scoredb.Score)
	err := selectOne(ctx, db, score, "score", "generation_id = ?", generationID)
	switch {
	case err == nil:
		st.Score = score
	case errors.Is(err, ErrNotFound):
	default:
		return nil, err
	}
	return st, nil
}

func guarded(res sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", what, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for %s: %w", what, err)
	}
	if rows == 0 {
		return ErrNoRowsAffected
	}
	return nil
}

func (r *Impl) WriteWords(ctx context.Context, db bun.IDB, generationID int64, stats analysis.WordStats) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("n_words = ?", stats.Words).
		Set("n_conjunctions = ?", stats.Conjunctions).
		Set("n_adjectives = ?", stats.Adjectives).
		Set("n_adverbs = ?", stats.Adverbs).
		Set("n_pronouns = ?", stats.Pronouns).
		Set("n_prepositions = ?", stats.Prepositions).
		Set("n_clauses = ?", stats.Clauses).
		Set("updated_n_words = ?", true).
		Where("id = ?", generationID).
		Where("updated_n_words = ?", false).
		Exec(ctx)
	return guarded(res, err, "word stats")
}

func (r *Impl) WriteGrammar(ctx context.Context, db bun.IDB, generationID int64, report analysis.GrammarReport) error {
	db = r.resolveDB(db)
	grammarJSON, err := marshalMistakes(report.Grammar)
	if err != nil {
		return err
	}
	spellingJSON, err := marshalMistakes(report.Spelling)
	if err != nil {
		return err
	}

	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("grammar_errors = ?", grammarJSON).
		Set("spelling_errors = ?", spellingJSON).
		Set("n_grammar_errors = ?", len(report.Grammar)).
		Set("n_spelling_errors = ?", len(report.Spelling)).
		Set("updated_grammar_errors = ?", true).
		Where("id = ?", generationID).
		Where("updated_grammar_errors = ?", false).
		Exec(ctx)
	return guarded(res, err, "grammar report")
}

func (r *Impl) WriteFluency(ctx context.Context, db bun.IDB, generationID int64, perplexity float64) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("perplexity = ?", perplexity).
		Set("updated_perplexity = ?", true).
		Where("id = ?", generationID).
		Where("updated_perplexity = ?", false).
		Exec(ctx)
	return guarded(res, err, "fluency")
}

func (r *Impl) WriteContent(ctx context.Context, db bun.IDB, generationID int64, content float64) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("content_score = ?", content).
		Set("updated_content_score = ?", true).
		Where("id = ?", generationID).
		Where("updated_content_score = ?", false).
		Exec(ctx)
	return guarded(res, err, "content score")
}

func (r *Impl) WriteImage(ctx context.Context, db bun.IDB, generationID int64, key string) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("interpreted_image_key = ?", key).
		Where("id = ?", generationID).
		Where("interpreted_image_key IS NULL").
		Exec(ctx)
	return guarded(res, err, "interpreted image")
}

func (r *Impl) LinkScore(ctx context.Context, db bun.IDB, generationID, scoreID int64, total int, rank string) error {
	db = r.resolveDB(db)
	res, err := db.NewUpdate().
		Model((*rounddb.Generation)(nil)).
		Set("score_id = ?", scoreID).
		Set("total_score = ?", total).
		Set("rank = ?", rank).
		Where("id = ?", generationID).
		Where("score_id IS NULL").
		Exec(ctx)
	return guarded(res, err, "score link")
}

func (r *Impl) CreateTask(ctx context.Context, db bun.IDB, task *Task) error {
	db = r.resolveDB(db)
	_, err := db.NewInsert().
		Model(task).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *Impl) ListTasks(ctx context.Context, db bun.IDB, generationID int64) ([]Task, error) {
	db = r.resolveDB(db)
	var tasks []Task
	err := db.NewSelect().
		Model(&tasks).
		Where("generation_id = ?", generationID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, nil
}

func (r *Impl) ListTasksCreatedBefore(ctx context.Context, db bun.IDB, cutoff time.Time, limit int) ([]Task, error) {
	db = r.resolveDB(db)
	var tasks []Task
	q := db.NewSelect().
		Model(&tasks).
		Where("created_at < ?", cutoff).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list stale tasks: %w", err)
	}
	return tasks, nil
}

func (r *Impl) DeleteTask(ctx context.Context, db bun.IDB, id string) error {
	db = r.resolveDB(db)
	_, err := db.NewDelete().
		Model((*Task)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

func marshalMistakes(m []analysis.Mistake) (string, error) {
	if m == nil {
		m = []analysis.Mistake{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode mistakes: %w", err)
	}
	return string(b), nil
}
