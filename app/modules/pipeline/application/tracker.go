package pipelineservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/uptrace/bun"
)

// Tracker is the per-generation idempotency ledger. Flags live on the
// generation row; every write is conditional on its flag being unset.
type Tracker struct {
	db     *bun.DB
	repo   pipelinedb.Repository
	scores scoredb.Repository
}

func NewTracker(db *bun.DB, repo pipelinedb.Repository, scores scoredb.Repository) *Tracker {
	return &Tracker{db: db, repo: repo, scores: scores}
}

// Snapshot is a generation with its plan and the factors already stored.
type Snapshot struct {
	State *pipelinedb.GenerationState
	Plan  pipelinedomain.Plan
	Done  pipelinedomain.FactorSet
}

// Finished reports whether every factor the plan requires is present.
func (s Snapshot) Finished() bool {
	return s.Done.Covers(s.Plan.Required())
}

// ModeOf derives the pipeline mode from a program's configuration.
func ModeOf(p *rounddb.Program) pipelinedomain.Mode {
	strategy := pipelinedomain.StrategyFormula
	if p.Scoring == string(pipelinedomain.StrategyEvaluation) {
		strategy = pipelinedomain.StrategyEvaluation
	}
	return pipelinedomain.Mode{Strategy: strategy, Image: p.Has(rounddb.FeedbackImage)}
}

// CompletedFactors reads the persisted flags into a FactorSet.
func CompletedFactors(st *pipelinedb.GenerationState) pipelinedomain.FactorSet {
	g := st.Generation
	var done pipelinedomain.FactorSet
	if g.UpdatedNWords {
		done.MarkComplete(pipelinedomain.FactorWords)
	}
	if g.UpdatedGrammarErrors {
		done.MarkComplete(pipelinedomain.FactorGrammar)
	}
	if g.UpdatedPerplexity {
		done.MarkComplete(pipelinedomain.FactorFluency)
	}
	if g.UpdatedContentScore {
		done.MarkComplete(pipelinedomain.FactorContent)
	}
	if g.InterpretedImageKey != nil {
		done.MarkComplete(pipelinedomain.FactorImage)
	}
	if g.ScoreID != nil {
		done.MarkComplete(pipelinedomain.FactorScore)
	}
	if st.Score != nil && st.Score.ImageSimilarity != nil {
		done.MarkComplete(pipelinedomain.FactorSimilarity)
	}
	return done
}

func (t *Tracker) Load(ctx context.Context, db bun.IDB, generationID int64) (Snapshot, error) {
	st, err := t.repo.LoadState(ctx, db, generationID)
	if err != nil {
		if errors.Is(err, pipelinedb.ErrNotFound) {
			return Snapshot{}, fmt.Errorf("%d: %w", generationID, ErrGenerationNotFound)
		}
		return Snapshot{}, err
	}
	return Snapshot{
		State: st,
		Plan:  pipelinedomain.PlanFor(ModeOf(st.Program)),
		Done:  CompletedFactors(st),
	}, nil
}

func (t *Tracker) IsDone(ctx context.Context, generationID int64) (bool, error) {
	snap, err := t.Load(ctx, nil, generationID)
	if err != nil {
		return false, err
	}
	return snap.Finished(), nil
}

// MarkDone writes the factor's output and flips its flag in one conditional
// statement. It reports false without error when the flag was already set.
func (t *Tracker) MarkDone(ctx context.Context, generationID int64, factor pipelinedomain.Factor, p Payload) (bool, error) {
	var err error
	switch factor {
	case pipelinedomain.FactorWords:
		err = t.repo.WriteWords(ctx, nil, generationID, p.Words)
	case pipelinedomain.FactorGrammar:
		err = t.repo.WriteGrammar(ctx, nil, generationID, p.Grammar)
	case pipelinedomain.FactorFluency:
		err = t.repo.WriteFluency(ctx, nil, generationID, p.Fluency)
	case pipelinedomain.FactorContent:
		err = t.repo.WriteContent(ctx, nil, generationID, p.Content)
	case pipelinedomain.FactorImage:
		if p.ImageKey == "" {
			return false, fmt.Errorf("%s: %w", factor, ErrMissingPayload)
		}
		err = t.repo.WriteImage(ctx, nil, generationID, p.ImageKey)
	case pipelinedomain.FactorScore:
		return t.writeScore(ctx, generationID, p)
	case pipelinedomain.FactorSimilarity:
		err = t.scores.SetImageSimilarity(ctx, nil, generationID, p.Similarity)
	default:
		return false, fmt.Errorf("%d: %w", factor, ErrUnknownFactor)
	}
	return applied(err)
}

// writeScore inserts the score row at most once and links it to the
// generation in the same transaction.
func (t *Tracker) writeScore(ctx context.Context, generationID int64, p Payload) (bool, error) {
	if p.Score == nil {
		return false, fmt.Errorf("%s: %w", pipelinedomain.FactorScore, ErrMissingPayload)
	}

	var linked bool
	err := t.runInTx(ctx, func(ctx context.Context, db bun.IDB) error {
		stored, _, err := t.scores.InsertOnce(ctx, db, p.Score.Model(generationID))
		if err != nil {
			return err
		}
		linked, err = applied(t.repo.LinkScore(ctx, db, generationID, stored.ID, p.Score.Total, string(p.Score.Rank)))
		return err
	})
	if err != nil {
		return false, err
	}
	return linked, nil
}

func (t *Tracker) runInTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if t.db == nil {
		return fn(ctx, nil)
	}
	return t.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func applied(err error) (bool, error) {
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pipelinedb.ErrNoRowsAffected), errors.Is(err, scoredb.ErrNoRowsAffected):
		return false, nil
	}
	return false, err
}
