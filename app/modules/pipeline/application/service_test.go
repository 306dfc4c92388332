package pipelineservice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	"github.com/Black-And-White-Club/avery/app/modules/analysis/analysistest"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/db/bundb/bundbtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace/noop"
)

type testEnv struct {
	db       *bun.DB
	svc      *PipelineService
	queue    *FakeQueue
	provider *analysistest.Provider
	images   *analysistest.ImageStore
	lb       *rounddb.Leaderboard
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := bundbtest.NewSQLite(t,
		(*rounddb.Program)(nil),
		(*rounddb.Leaderboard)(nil),
		(*rounddb.Round)(nil),
		(*rounddb.Generation)(nil),
		(*scoredb.Score)(nil),
		(*pipelinedb.Task)(nil),
	)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tracer := noop.NewTracerProvider().Tracer("test")

	pipeRepo := pipelinedb.NewRepository(db)
	scoreRepo := scoredb.NewRepository(db)
	scorer := scoreservice.NewScoreService(scoreRepo, 0.01, scoreservice.StrategyFormula, logger, metrics.NoOp{}, tracer)

	env := &testEnv{
		db:       db,
		queue:    &FakeQueue{},
		provider: &analysistest.Provider{},
		images:   &analysistest.ImageStore{},
	}
	env.svc = NewPipelineService(
		pipeRepo,
		NewTracker(db, pipeRepo, scoreRepo),
		env.queue,
		env.provider,
		env.images,
		scorer,
		logger,
		metrics.NoOp{},
		tracer,
	)

	env.lb = &rounddb.Leaderboard{
		Title:       "harbour",
		ImageKey:    "leaderboards/harbour.png",
		Story:       "Boats rest in a quiet harbour.",
		ScenePrompt: "pastel picture-book illustration",
	}
	_, err := db.NewInsert().Model(env.lb).Exec(context.Background())
	require.NoError(t, err)
	_, err = env.images.Put(context.Background(), env.lb.ImageKey, []byte("original"), "image/png")
	require.NoError(t, err)
	return env
}

// seed creates a round under a program with the given feedback and scoring,
// and one generation. corrected may be empty for an uncorrected submission.
func (e *testEnv) seed(t *testing.T, feedback, scoring, corrected string) int64 {
	t.Helper()
	ctx := context.Background()

	program := &rounddb.Program{Name: feedback + "/" + scoring + "/" + t.Name(), Feedback: feedback, Scoring: scoring}
	_, err := e.db.NewInsert().Model(program).Exec(ctx)
	require.NoError(t, err)

	round := &rounddb.Round{PlayerID: "p1", LeaderboardID: e.lb.ID, ProgramID: program.ID, ChatID: 1, Model: "gpt-4o-mini"}
	_, err = e.db.NewInsert().Model(round).Exec(ctx)
	require.NoError(t, err)

	gen := &rounddb.Generation{RoundID: round.ID, Sentence: "The boats sits in the harbour."}
	if corrected != "" {
		gen.CorrectedSentence = &corrected
	}
	_, err = e.db.NewInsert().Model(gen).Exec(ctx)
	require.NoError(t, err)
	return gen.ID
}

func (e *testEnv) generation(t *testing.T, id int64) *rounddb.Generation {
	t.Helper()
	gen := new(rounddb.Generation)
	require.NoError(t, e.db.NewSelect().Model(gen).Where("id = ?", id).Scan(context.Background()))
	return gen
}

func (e *testEnv) scoreRows(t *testing.T, genID int64) int {
	t.Helper()
	n, err := e.db.NewSelect().Model((*scoredb.Score)(nil)).Where("generation_id = ?", genID).Count(context.Background())
	require.NoError(t, err)
	return n
}

func run(t *testing.T, e *testEnv, genID int64, sub pipelinedomain.Subtask) Outcome {
	t.Helper()
	out, err := e.svc.RunSubtask(context.Background(), pipelinedomain.Job{GenerationID: genID, Subtask: sub})
	require.NoError(t, err)
	return out
}

var textFactors = []pipelinedomain.Subtask{
	pipelinedomain.SubtaskWords,
	pipelinedomain.SubtaskGrammar,
	pipelinedomain.SubtaskFluency,
	pipelinedomain.SubtaskContent,
}

func TestFormulaPipeline_RunsToFinished(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, rounddb.FeedbackScore, "formula", "The boats sit in the harbour.")

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, "formula", res.Plan)
	assert.Equal(t, "factors", res.Stage)
	assert.ElementsMatch(t, textFactors, res.Subtasks)

	for _, sub := range textFactors {
		assert.Equal(t, ResultStored, run(t, e, genID, sub).Result, sub)
	}

	submitted := e.queue.Submitted()
	assert.Equal(t, pipelinedomain.SubtaskScore, submitted[len(submitted)-1], "score stage follows the factors")

	poll, err := e.svc.PollStatus(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.StatusPending, poll.Status)

	out := run(t, e, genID, pipelinedomain.SubtaskScore)
	require.Equal(t, ResultStored, out.Result)
	require.NotNil(t, out.Payload.Score)
	// 6 words, no errors, 3 vivid words, fluent, 1 clause: 15 * 60 / 1520.
	assert.Equal(t, 59, out.Payload.Score.Total)
	assert.Equal(t, scoreservice.RankD, out.Payload.Score.Rank)

	done, err := e.svc.IsDone(ctx, genID)
	require.NoError(t, err)
	assert.True(t, done)

	poll, err = e.svc.PollStatus(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.StatusFinished, poll.Status)

	gen := e.generation(t, genID)
	require.NotNil(t, gen.TotalScore)
	assert.Equal(t, 59, *gen.TotalScore)
	assert.Equal(t, "D", *gen.Rank)
}

func TestRunSubtask_SecondRunReturnsStoredValue(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	first := run(t, e, genID, pipelinedomain.SubtaskWords)
	require.Equal(t, ResultStored, first.Result)

	e.provider.AnalyzeWordsFunc = func(context.Context, string) (analysis.WordStats, error) {
		return analysis.WordStats{Words: 99}, nil
	}
	second := run(t, e, genID, pipelinedomain.SubtaskWords)
	assert.Equal(t, ResultSkipped, second.Result)
	assert.Equal(t, first.Payload.Words, second.Payload.Words)
	assert.Equal(t, 1, e.provider.Calls("AnalyzeWords"), "stored factors are not recomputed")
	assert.Equal(t, first.Payload.Words.Words, e.generation(t, genID).NWords)
}

func TestScore_WrittenOnce(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	for _, sub := range textFactors {
		run(t, e, genID, sub)
	}
	first := run(t, e, genID, pipelinedomain.SubtaskScore)
	second := run(t, e, genID, pipelinedomain.SubtaskScore)

	assert.Equal(t, ResultStored, first.Result)
	assert.Equal(t, ResultSkipped, second.Result)
	require.NotNil(t, second.Payload.Score)
	assert.Equal(t, first.Payload.Score.Total, second.Payload.Score.Total)
	assert.Equal(t, 1, e.scoreRows(t, genID))
}

func TestScore_BlockedUntilFactorsComplete(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	run(t, e, genID, pipelinedomain.SubtaskWords)
	out := run(t, e, genID, pipelinedomain.SubtaskScore)

	assert.Equal(t, ResultBlocked, out.Result)
	assert.Equal(t, 0, e.scoreRows(t, genID))
	assert.Nil(t, e.generation(t, genID).TotalScore)
}

func TestSubtaskFailure_IsIsolated(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")
	e.provider.ContentMatchFunc = func(context.Context, string, string) (float64, error) {
		return 0, errors.New("vision model timeout")
	}

	_, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	for _, sub := range textFactors {
		if sub == pipelinedomain.SubtaskContent {
			out, err := e.svc.RunSubtask(ctx, pipelinedomain.Job{GenerationID: genID, Subtask: sub})
			assert.ErrorIs(t, err, ErrSubtaskFailed, "transient failures go back to the queue")
			assert.Equal(t, ResultFailed, out.Result)
			continue
		}
		assert.Equal(t, ResultStored, run(t, e, genID, sub).Result, sub)
	}

	gen := e.generation(t, genID)
	assert.False(t, gen.UpdatedContentScore)
	assert.True(t, gen.UpdatedNWords)
	assert.True(t, gen.UpdatedGrammarErrors)
	assert.True(t, gen.UpdatedPerplexity)
	assert.NotContains(t, e.queue.Submitted(), pipelinedomain.SubtaskScore)

	// Only the missing factor goes back on the queue.
	e.provider.ContentMatchFunc = nil
	before := len(e.queue.Submitted())
	res, err := e.svc.Resubmit(ctx, genID, pipelinedomain.SubtaskWords, pipelinedomain.SubtaskContent, pipelinedomain.SubtaskScore)
	require.NoError(t, err)
	assert.Equal(t, []pipelinedomain.Subtask{pipelinedomain.SubtaskContent}, res.Subtasks)
	assert.Len(t, e.queue.Submitted(), before+1)

	run(t, e, genID, pipelinedomain.SubtaskContent)
	assert.Contains(t, e.queue.Submitted(), pipelinedomain.SubtaskScore)
}

func TestRunSubtask_ProviderRejectionIsNotRetried(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")
	e.provider.FluencyFunc = func(context.Context, string, []string) (float64, error) {
		return 0, &analysis.StatusError{Path: "/fluency", StatusCode: 422, Body: "sentence too long"}
	}

	out := run(t, e, genID, pipelinedomain.SubtaskFluency)

	assert.Equal(t, ResultFailed, out.Result)
	assert.False(t, e.generation(t, genID).UpdatedPerplexity)
}

func TestImagePipeline(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, rounddb.FeedbackImage+rounddb.FeedbackScore, "formula", "The boats sit in the harbour.")

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, "formula+image", res.Plan)
	assert.Contains(t, res.Subtasks, pipelinedomain.SubtaskImage)

	for _, sub := range res.Subtasks {
		run(t, e, genID, sub)
	}
	gen := e.generation(t, genID)
	require.NotNil(t, gen.InterpretedImageKey)
	stored, err := e.images.Get(ctx, *gen.InterpretedImageKey)
	require.NoError(t, err)
	assert.Equal(t, "regenerated:The boats sit in the harbour.", string(stored))

	// Similarity cannot run before the score exists.
	assert.Equal(t, ResultBlocked, run(t, e, genID, pipelinedomain.SubtaskSimilarity).Result)

	run(t, e, genID, pipelinedomain.SubtaskScore)
	submitted := e.queue.Submitted()
	assert.Equal(t, pipelinedomain.SubtaskSimilarity, submitted[len(submitted)-1])

	out := run(t, e, genID, pipelinedomain.SubtaskSimilarity)
	assert.Equal(t, ResultStored, out.Result)
	assert.Equal(t, 0.75, out.Payload.Similarity)

	done, err := e.svc.IsDone(ctx, genID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestImageSubtask_UsesScenePrompt(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, rounddb.FeedbackImage, "formula", "The boats sit in the harbour.")

	var gotSentence, gotStyle string
	e.provider.RegenerateImageFunc = func(_ context.Context, sentence, style string) ([]byte, error) {
		gotSentence, gotStyle = sentence, style
		return []byte("png"), nil
	}

	out := run(t, e, genID, pipelinedomain.SubtaskImage)

	require.Equal(t, ResultStored, out.Result)
	assert.Equal(t, "The boats sit in the harbour.", gotSentence)
	assert.Equal(t, "pastel picture-book illustration", gotStyle)
}

func TestEvaluationPipeline(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, rounddb.FeedbackEvaluation, "evaluation", "The boats sit in the harbour.")

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, []pipelinedomain.Subtask{pipelinedomain.SubtaskEvaluation}, res.Subtasks)

	out := run(t, e, genID, pipelinedomain.SubtaskEvaluation)
	require.NotNil(t, out.Payload.Score)
	assert.Equal(t, scoreservice.StrategyEvaluation, out.Payload.Score.Strategy)
	assert.Equal(t, 100, out.Payload.Score.Total)

	done, err := e.svc.IsDone(ctx, genID)
	require.NoError(t, err)
	assert.True(t, done)
	assert.Zero(t, e.provider.Calls("RegenerateImage"))
}

func TestDispatch_Errors(t *testing.T) {
	t.Run("uncorrected generation", func(t *testing.T) {
		e := newTestEnv(t)
		genID := e.seed(t, "", "formula", "")
		_, err := e.svc.Dispatch(context.Background(), genID)
		assert.ErrorIs(t, err, ErrNotCorrected)
		assert.Empty(t, e.queue.Submitted())
	})

	t.Run("missing generation", func(t *testing.T) {
		e := newTestEnv(t)
		_, err := e.svc.Dispatch(context.Background(), 404)
		assert.ErrorIs(t, err, ErrGenerationNotFound)
	})

	t.Run("queue rejects one subtask", func(t *testing.T) {
		e := newTestEnv(t)
		genID := e.seed(t, "", "formula", "The boats sit in the harbour.")
		n := 0
		e.queue.SubmitFunc = func(_ context.Context, job pipelinedomain.Job) (pipelinedomain.Handle, error) {
			if job.Subtask == pipelinedomain.SubtaskFluency {
				return "", errors.New("broker unavailable")
			}
			n++
			return pipelinedomain.Handle(job.Subtask), nil
		}

		res, err := e.svc.Dispatch(context.Background(), genID)
		assert.ErrorIs(t, err, ErrDispatchFailed)
		assert.Len(t, res.Handles, 3)

		tasks, err := pipelinedb.NewRepository(e.db).ListTasks(context.Background(), nil, genID)
		require.NoError(t, err)
		assert.Len(t, tasks, n)
	})
}

func TestRunSubtask_Unrunnable(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.svc.RunSubtask(context.Background(), pipelinedomain.Job{GenerationID: 404, Subtask: pipelinedomain.SubtaskWords})
	assert.ErrorIs(t, err, pipelinedomain.ErrUnrunnable)

	genID := e.seed(t, "", "formula", "")
	_, err = e.svc.RunSubtask(context.Background(), pipelinedomain.Job{GenerationID: genID, Subtask: pipelinedomain.SubtaskWords})
	assert.ErrorIs(t, err, pipelinedomain.ErrUnrunnable)
}

func TestRunSubtask_NotInPlan(t *testing.T) {
	e := newTestEnv(t)
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	out := run(t, e, genID, pipelinedomain.SubtaskSimilarity)
	assert.Equal(t, ResultNotPlan, out.Result)
	assert.Zero(t, e.provider.Calls("ImageSimilarity"))
}

func TestPollStatus_CollectsSucceededTasks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	e.queue.SetStatus(res.Handles[0], pipelinedomain.JobSucceeded)
	e.queue.SetStatus(res.Handles[1], pipelinedomain.JobRunning)

	poll, err := e.svc.PollStatus(ctx, genID)
	require.NoError(t, err)
	assert.Equal(t, pipelinedomain.StatusPending, poll.Status)
	assert.Len(t, poll.Tasks, len(res.Handles))

	poll, err = e.svc.PollStatus(ctx, genID)
	require.NoError(t, err)
	assert.Len(t, poll.Tasks, len(res.Handles)-1)
	for _, task := range poll.Tasks {
		assert.NotEqual(t, string(res.Handles[0]), task.ID)
	}
}

func TestExpireTasks(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	e.queue.SetStatus(res.Handles[0], pipelinedomain.JobFailed)
	e.queue.SetStatus(res.Handles[1], pipelinedomain.JobRunning)

	removed, err := e.svc.ExpireTasks(ctx, 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Zero(t, removed, "fresh tasks are kept")

	later := time.Now().UTC().Add(time.Hour)
	e.svc.now = func() time.Time { return later }

	removed, err = e.svc.ExpireTasks(ctx, 10*time.Minute, 100)
	require.NoError(t, err)
	assert.Equal(t, len(res.Handles), removed)
	assert.NotContains(t, e.queue.cancelled, res.Handles[0], "finished jobs are not cancelled")
	assert.Contains(t, e.queue.cancelled, res.Handles[1])
}

func TestMarkDone_GrammarFromCorrection(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	genID := e.seed(t, "", "formula", "The boats sit in the harbour.")

	report := analysis.GrammarReport{Grammar: []analysis.Mistake{{Original: "sits", Suggestion: "sit"}}}
	ok, err := e.svc.MarkDone(ctx, genID, pipelinedomain.FactorGrammar, Payload{Grammar: report})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.svc.MarkDone(ctx, genID, pipelinedomain.FactorGrammar, Payload{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, e.generation(t, genID).NGrammarErrors)

	res, err := e.svc.Dispatch(ctx, genID)
	require.NoError(t, err)
	assert.NotContains(t, res.Subtasks, pipelinedomain.SubtaskGrammar)

	_, err = e.svc.MarkDone(ctx, genID, pipelinedomain.FactorImage, Payload{})
	assert.ErrorIs(t, err, ErrMissingPayload)
}
