package rounddb

import (
	"context"
	"testing"

	"github.com/Black-And-White-Club/avery/db/bundb/bundbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

func newTestRepo(t *testing.T) (Repository, *bun.DB) {
	t.Helper()
	db := bundbtest.NewSQLite(t,
		(*Player)(nil),
		(*Program)(nil),
		(*Leaderboard)(nil),
		(*Chat)(nil),
		(*Message)(nil),
		(*Round)(nil),
		(*Generation)(nil),
	)
	return NewRepository(db), db
}

func TestUpsertPlayer(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertPlayer(ctx, nil, &Player{ID: "p1", Username: "ann"}))
	require.NoError(t, repo.UpsertPlayer(ctx, nil, &Player{ID: "p1", Username: "anna", IsGuest: true}))

	got, err := repo.GetPlayer(ctx, nil, "p1")
	require.NoError(t, err)
	assert.Equal(t, "anna", got.Username)
	assert.True(t, got.IsGuest)

	_, err = repo.GetPlayer(ctx, nil, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateChat(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.CreateChat(ctx, nil)
	require.NoError(t, err)
	second, err := repo.CreateChat(ctx, nil)
	require.NoError(t, err)

	assert.NotZero(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, first.CreatedAt.IsZero())
}

func TestRoundLifecycle(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	chat, err := repo.CreateChat(ctx, nil)
	require.NoError(t, err)
	require.NotZero(t, chat.ID)

	round := &Round{PlayerID: "p1", LeaderboardID: 2, ProgramID: 3, ChatID: chat.ID}
	require.NoError(t, repo.CreateRound(ctx, nil, round))
	require.NotZero(t, round.ID)

	open, err := repo.FindLatestRound(ctx, nil, "p1", 2, 3, false)
	require.NoError(t, err)
	assert.Equal(t, round.ID, open.ID)

	_, err = repo.FindLatestRound(ctx, nil, "p1", 2, 3, true)
	assert.ErrorIs(t, err, ErrNotFound)

	gen := &Generation{RoundID: round.ID, Sentence: "a cat"}
	require.NoError(t, repo.CreateGeneration(ctx, nil, gen))

	require.NoError(t, repo.UpdateSentence(ctx, nil, gen.ID, "a black cat"))
	require.NoError(t, repo.SetCorrection(ctx, nil, gen.ID, "A black cat."))
	assert.ErrorIs(t, repo.UpdateSentence(ctx, nil, gen.ID, "a dog"), ErrNoRowsAffected)
	assert.ErrorIs(t, repo.SetCorrection(ctx, nil, gen.ID, "A dog."), ErrNoRowsAffected)

	retry := &Generation{RoundID: round.ID, GeneratedTime: 1, Sentence: "two cats"}
	require.NoError(t, repo.CreateGeneration(ctx, nil, retry))

	latest, err := repo.GetLatestGeneration(ctx, nil, round.ID)
	require.NoError(t, err)
	assert.Equal(t, retry.ID, latest.ID)

	gens, err := repo.ListGenerations(ctx, nil, round.ID)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	require.NotNil(t, gens[0].CorrectedSentence)
	assert.Equal(t, "A black cat.", *gens[0].CorrectedSentence)

	require.NoError(t, repo.CompleteGeneration(ctx, nil, gen.ID, 42, nil))
	assert.ErrorIs(t, repo.CompleteGeneration(ctx, nil, gen.ID, 43, nil), ErrNoRowsAffected)

	require.NoError(t, repo.CompleteRound(ctx, nil, round.ID, 120, &retry.ID))
	assert.ErrorIs(t, repo.CompleteRound(ctx, nil, round.ID, 130, nil), ErrNoRowsAffected)

	done, err := repo.GetRound(ctx, nil, round.ID)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)
	assert.Equal(t, 120, done.Duration)
	require.NotNil(t, done.LastGenerationID)
	assert.Equal(t, retry.ID, *done.LastGenerationID)
}

func TestMessagesAreOrdered(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	chat, err := repo.CreateChat(ctx, nil)
	require.NoError(t, err)

	for _, m := range []*Message{
		{ChatID: chat.ID, Sender: SenderAssistant, Content: "Welcome"},
		{ChatID: chat.ID, Sender: SenderUser, Content: "hint please", IsHint: true},
		{ChatID: chat.ID, Sender: SenderAssistant, Content: "Look at the sky", IsHint: true, ResponseID: "r1"},
	} {
		require.NoError(t, repo.AppendMessage(ctx, nil, m))
	}

	msgs, err := repo.ListMessages(ctx, nil, chat.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "Welcome", msgs[0].Content)
	assert.Equal(t, "r1", msgs[2].ResponseID)
}
