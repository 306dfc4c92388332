//go:build integration

package testutils

import (
	"context"
	"testing"

	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

// Program names seeded by SeedPrograms.
const (
	ProgramText       = "text"
	ProgramEvaluation = "evaluation"
)

// SeedPrograms inserts a formula program without image feedback and an
// evaluation-scored one.
func SeedPrograms(t *testing.T, ctx context.Context, db bun.IDB) {
	t.Helper()
	for _, pg := range []*rounddb.Program{
		{Name: ProgramText, Feedback: rounddb.FeedbackScore, Scoring: scoreservice.StrategyFormula},
		{Name: ProgramEvaluation, Feedback: rounddb.FeedbackScore + "," + rounddb.FeedbackEvaluation, Scoring: scoreservice.StrategyEvaluation},
	} {
		_, err := db.NewInsert().Model(pg).Exec(ctx)
		require.NoError(t, err)
	}
}

// SeedLeaderboard inserts one leaderboard image to describe.
func SeedLeaderboard(t *testing.T, ctx context.Context, db bun.IDB) *rounddb.Leaderboard {
	t.Helper()
	lb := &rounddb.Leaderboard{
		Title:       "kitchen",
		ImageKey:    "leaderboards/kitchen.png",
		Story:       "A cat waits on the kitchen table.",
		ScenePrompt: "soft watercolour illustration",
		Vocabulary:  []string{"cat", "table"},
	}
	_, err := db.NewInsert().Model(lb).Exec(ctx)
	require.NoError(t, err)
	return lb
}
