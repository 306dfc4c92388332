package repairdb

import (
	"context"
	"testing"
	"time"

	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/db/bundb/bundbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

var (
	old    = time.Date(2026, 10, 18, 5, 0, 0, 0, time.UTC)
	cutoff = time.Date(2026, 10, 19, 4, 50, 0, 0, time.UTC)
)

type fixture struct {
	db       *bun.DB
	formula  *rounddb.Program
	imaging  *rounddb.Program
	evaluate *rounddb.Program
	player   *rounddb.Player
	guest    *rounddb.Player
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := bundbtest.NewSQLite(t,
		(*rounddb.Player)(nil),
		(*rounddb.Program)(nil),
		(*rounddb.Round)(nil),
		(*rounddb.Generation)(nil),
		(*scoredb.Score)(nil),
	)
	ctx := context.Background()
	f := &fixture{
		db:       db,
		formula:  &rounddb.Program{Name: "text", Feedback: rounddb.FeedbackScore, Scoring: "formula"},
		imaging:  &rounddb.Program{Name: "inter", Feedback: rounddb.FeedbackImage + rounddb.FeedbackScore, Scoring: "formula"},
		evaluate: &rounddb.Program{Name: "evaluation", Feedback: rounddb.FeedbackEvaluation, Scoring: "evaluation"},
		player:   &rounddb.Player{ID: "p-1", Username: "mika"},
		guest:    &rounddb.Player{ID: "g-1", Username: "guest", IsGuest: true},
	}
	for _, m := range []any{f.formula, f.imaging, f.evaluate, f.player, f.guest} {
		_, err := db.NewInsert().Model(m).Exec(ctx)
		require.NoError(t, err)
	}
	return f
}

// generation inserts a corrected generation for player under program and
// lets mutate adjust it first.
func (f *fixture) generation(t *testing.T, player *rounddb.Player, program *rounddb.Program, mutate func(g *rounddb.Generation)) int64 {
	t.Helper()
	ctx := context.Background()
	round := &rounddb.Round{PlayerID: player.ID, LeaderboardID: 1, ProgramID: program.ID, ChatID: 1, CreatedAt: old}
	_, err := f.db.NewInsert().Model(round).Exec(ctx)
	require.NoError(t, err)

	corrected := "A dog runs."
	g := &rounddb.Generation{RoundID: round.ID, Sentence: "a dog run", CorrectedSentence: &corrected, CreatedAt: old}
	if mutate != nil {
		mutate(g)
	}
	_, err = f.db.NewInsert().Model(g).Exec(ctx)
	require.NoError(t, err)
	return g.ID
}

func complete(g *rounddb.Generation) {
	key := "generations/1.png"
	scoreID, total, rank := int64(1), 80, "B"
	g.UpdatedNWords = true
	g.UpdatedGrammarErrors = true
	g.UpdatedPerplexity = true
	g.UpdatedContentScore = true
	g.InterpretedImageKey = &key
	g.ScoreID = &scoreID
	g.TotalScore = &total
	g.Rank = &rank
	g.IsCompleted = true
}

func TestListStuck(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.db)
	ctx := context.Background()

	done := f.generation(t, f.player, f.imaging, complete)
	noWords := f.generation(t, f.player, f.formula, func(g *rounddb.Generation) {
		complete(g)
		g.UpdatedNWords = false
	})
	noImage := f.generation(t, f.player, f.imaging, func(g *rounddb.Generation) {
		complete(g)
		g.InterpretedImageKey = nil
	})
	evalPending := f.generation(t, f.player, f.evaluate, nil)
	guestPending := f.generation(t, f.guest, f.formula, nil)
	uncorrected := f.generation(t, f.player, f.formula, func(g *rounddb.Generation) { g.CorrectedSentence = nil })
	fresh := f.generation(t, f.player, f.formula, func(g *rounddb.Generation) { g.CreatedAt = cutoff.Add(time.Minute) })

	_, err := f.db.NewInsert().Model(&scoredb.Score{GenerationID: done, Strategy: "formula"}).Exec(ctx)
	require.NoError(t, err)
	similarity := 0.4
	_, err = f.db.NewInsert().Model(&scoredb.Score{GenerationID: noImage, Strategy: "formula", ImageSimilarity: &similarity}).Exec(ctx)
	require.NoError(t, err)

	tests := []struct {
		category repairdomain.Category
		want     []int64
	}{
		{repairdomain.MissingWords, []int64{noWords}},
		{repairdomain.MissingGrammar, nil},
		{repairdomain.MissingImage, []int64{noImage}},
		{repairdomain.MissingScore, []int64{evalPending}},
		{repairdomain.MissingSimilarity, []int64{done}},
		{repairdomain.NotCompleted, []int64{evalPending}},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			got, err := repo.ListStuck(ctx, nil, tt.category, cutoff, 0)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
			} else {
				assert.Equal(t, tt.want, got)
			}
			assert.NotContains(t, got, guestPending)
			assert.NotContains(t, got, uncorrected)
			assert.NotContains(t, got, fresh)
		})
	}
}

func TestListStuck_Limit(t *testing.T) {
	f := newFixture(t)
	repo := NewRepository(f.db)

	first := f.generation(t, f.player, f.formula, nil)
	f.generation(t, f.player, f.formula, nil)
	f.generation(t, f.player, f.formula, nil)

	got, err := repo.ListStuck(context.Background(), nil, repairdomain.MissingFluency, cutoff, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])

	_, err = repo.ListStuck(context.Background(), nil, repairdomain.Category("bogus"), cutoff, 0)
	assert.Error(t, err)
}
