package pipelinedb

import (
	"context"
	"testing"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/db/bundb/bundbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func setupDB(t *testing.T) (*bun.DB, int64) {
	t.Helper()
	db := bundbtest.NewSQLite(t,
		(*rounddb.Program)(nil),
		(*rounddb.Leaderboard)(nil),
		(*rounddb.Round)(nil),
		(*rounddb.Generation)(nil),
		(*scoredb.Score)(nil),
		(*Task)(nil),
	)
	ctx := context.Background()

	program := &rounddb.Program{Name: "inter", Feedback: rounddb.FeedbackImage + rounddb.FeedbackScore, Scoring: "formula"}
	_, err := db.NewInsert().Model(program).Exec(ctx)
	require.NoError(t, err)

	lb := &rounddb.Leaderboard{Title: "harbour", ImageKey: "leaderboards/harbour.png", Vocabulary: []string{"boat"}}
	_, err = db.NewInsert().Model(lb).Exec(ctx)
	require.NoError(t, err)

	round := &rounddb.Round{PlayerID: "p1", LeaderboardID: lb.ID, ProgramID: program.ID, ChatID: 1}
	_, err = db.NewInsert().Model(round).Exec(ctx)
	require.NoError(t, err)

	corrected := "A boat sails."
	gen := &rounddb.Generation{RoundID: round.ID, Sentence: "a boat sail", CorrectedSentence: &corrected}
	_, err = db.NewInsert().Model(gen).Exec(ctx)
	require.NoError(t, err)

	return db, gen.ID
}

func TestLoadState(t *testing.T) {
	db, genID := setupDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	st, err := repo.LoadState(ctx, nil, genID)
	require.NoError(t, err)
	assert.Equal(t, genID, st.Generation.ID)
	assert.Equal(t, "inter", st.Program.Name)
	assert.Equal(t, "harbour", st.Leaderboard.Title)
	assert.Equal(t, st.Round.ID, st.Generation.RoundID)
	assert.Nil(t, st.Score)

	_, _, err = scoredb.NewRepository(db).InsertOnce(ctx, nil, &scoredb.Score{GenerationID: genID, Strategy: "formula", Content: 60})
	require.NoError(t, err)

	st, err = repo.LoadState(ctx, nil, genID)
	require.NoError(t, err)
	require.NotNil(t, st.Score)
	assert.Equal(t, 60.0, st.Score.Content)

	_, err = repo.LoadState(ctx, nil, genID+100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGuardedWrites(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name  string
		write func(Repository, int64) error
		check func(t *testing.T, g *rounddb.Generation)
	}{
		{
			name: "words",
			write: func(r Repository, id int64) error {
				return r.WriteWords(ctx, nil, id, analysis.WordStats{Words: 3, Adjectives: 1, Clauses: 1})
			},
			check: func(t *testing.T, g *rounddb.Generation) {
				assert.True(t, g.UpdatedNWords)
				assert.Equal(t, 3, g.NWords)
				assert.Equal(t, 1, g.NAdjectives)
				assert.Equal(t, 1, g.NClauses)
			},
		},
		{
			name: "grammar",
			write: func(r Repository, id int64) error {
				return r.WriteGrammar(ctx, nil, id, analysis.GrammarReport{
					Grammar: []analysis.Mistake{{Original: "sail", Suggestion: "sails"}},
				})
			},
			check: func(t *testing.T, g *rounddb.Generation) {
				assert.True(t, g.UpdatedGrammarErrors)
				assert.Equal(t, 1, g.NGrammarErrors)
				assert.Equal(t, 0, g.NSpellingErrors)
				require.Len(t, g.GrammarErrors, 1)
				assert.Equal(t, "sails", g.GrammarErrors[0].Suggestion)
			},
		},
		{
			name:  "fluency",
			write: func(r Repository, id int64) error { return r.WriteFluency(ctx, nil, id, 0.25) },
			check: func(t *testing.T, g *rounddb.Generation) {
				assert.True(t, g.UpdatedPerplexity)
				require.NotNil(t, g.Perplexity)
				assert.Equal(t, 0.25, *g.Perplexity)
			},
		},
		{
			name:  "content",
			write: func(r Repository, id int64) error { return r.WriteContent(ctx, nil, id, 72) },
			check: func(t *testing.T, g *rounddb.Generation) {
				assert.True(t, g.UpdatedContentScore)
				require.NotNil(t, g.ContentScore)
				assert.Equal(t, 72.0, *g.ContentScore)
			},
		},
		{
			name:  "image",
			write: func(r Repository, id int64) error { return r.WriteImage(ctx, nil, id, "generations/1.png") },
			check: func(t *testing.T, g *rounddb.Generation) {
				require.NotNil(t, g.InterpretedImageKey)
				assert.Equal(t, "generations/1.png", *g.InterpretedImageKey)
			},
		},
		{
			name:  "score link",
			write: func(r Repository, id int64) error { return r.LinkScore(ctx, nil, id, 9, 55, "D") },
			check: func(t *testing.T, g *rounddb.Generation) {
				require.NotNil(t, g.ScoreID)
				assert.Equal(t, int64(9), *g.ScoreID)
				assert.Equal(t, 55, *g.TotalScore)
				assert.Equal(t, "D", *g.Rank)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, genID := setupDB(t)
			repo := NewRepository(db)

			require.NoError(t, tt.write(repo, genID))
			assert.ErrorIs(t, tt.write(repo, genID), ErrNoRowsAffected, "second write must not apply")

			gen := new(rounddb.Generation)
			require.NoError(t, db.NewSelect().Model(gen).Where("id = ?", genID).Scan(ctx))
			tt.check(t, gen)
		})
	}
}

func TestTasks(t *testing.T) {
	db, genID := setupDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, repo.CreateTask(ctx, nil, &Task{ID: "1", GenerationID: &genID, Subtask: "words", CreatedAt: old}))
	require.NoError(t, repo.CreateTask(ctx, nil, &Task{ID: "2", GenerationID: &genID, Subtask: "grammar"}))
	// Re-recording the same handle is ignored.
	require.NoError(t, repo.CreateTask(ctx, nil, &Task{ID: "2", GenerationID: &genID, Subtask: "grammar"}))

	tasks, err := repo.ListTasks(ctx, nil, genID)
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	stale, err := repo.ListTasksCreatedBefore(ctx, nil, time.Now().Add(-10*time.Minute).UTC(), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "1", stale[0].ID)

	require.NoError(t, repo.DeleteTask(ctx, nil, "1"))
	tasks, err = repo.ListTasks(ctx, nil, genID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "2", tasks[0].ID)
}
