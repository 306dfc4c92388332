package roundservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/uptrace/bun"
)

// Evaluate waits for the pipeline to finish, then completes the generation
// and returns its score. Before a correction it returns an empty response;
// once completed it returns the stored result again.
func (s *RoundService) Evaluate(ctx context.Context, sess *Session) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "Evaluate", sess, func(ctx context.Context) (Response, error) {
		round, gen, err := s.current(ctx, nil, sess)
		if err != nil {
			return Response{}, err
		}
		state := stateOf(round, gen)
		if !state.Allows(rounddomain.ActionEvaluate) {
			return Response{}, nil
		}
		if state == rounddomain.StateCompleted {
			return s.evaluated(ctx, round, gen)
		}

		finished, err := s.awaitPipeline(ctx, gen.ID)
		if err != nil {
			return Response{}, err
		}
		if !finished {
			s.logger.InfoContext(ctx, "Scoring still running",
				attr.GenerationID(gen.ID),
				attr.Duration("waited", s.opts.EvaluateTimeout),
				attr.ExtractCorrelationID(ctx),
			)
			return Response{Status: StatusWaiting, State: state}, nil
		}

		// Reload to pick up the factors written by the workers.
		gen, err = s.repo.GetGeneration(ctx, nil, gen.ID)
		if err != nil {
			return Response{}, fmt.Errorf("failed to reload generation: %w", err)
		}
		breakdown, _, err := s.breakdown(ctx, gen)
		if err != nil {
			return Response{}, err
		}

		var evaluation string
		if sess.program.Has(rounddb.FeedbackEvaluation) {
			evaluation = s.evaluationText(ctx, sess, gen)
		}

		err = s.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
			return s.complete(ctx, db, sess, round, gen, breakdown, evaluation)
		})
		if errors.Is(err, errAlreadyCompleted) {
			gen, err = s.repo.GetGeneration(ctx, nil, gen.ID)
			if err != nil {
				return Response{}, fmt.Errorf("failed to reload generation: %w", err)
			}
			return s.evaluated(ctx, round, gen)
		}
		if err != nil {
			return Response{}, err
		}

		s.metrics.RecordScore(ctx, breakdown.Strategy, breakdown.Total)
		s.logger.InfoContext(ctx, "Generation evaluated",
			attr.PlayerID(sess.PlayerID),
			attr.RoundID(round.ID),
			attr.GenerationID(gen.ID),
			attr.Int("total_score", breakdown.Total),
			attr.String("rank", string(breakdown.Rank)),
			attr.ExtractCorrelationID(ctx),
		)

		gen, err = s.repo.GetGeneration(ctx, nil, gen.ID)
		if err != nil {
			return Response{}, fmt.Errorf("failed to reload generation: %w", err)
		}
		return s.evaluated(ctx, round, gen)
	})
}

// awaitPipeline polls until the pipeline reports FINISHED or the evaluate
// budget runs out. Jobs keep running after a timeout. If nothing is queued or
// running while factors are still missing, the missing stage is dispatched
// again, once per call.
func (s *RoundService) awaitPipeline(ctx context.Context, generationID int64) (bool, error) {
	waitCtx, cancel := context.WithTimeout(ctx, s.opts.EvaluateTimeout)
	defer cancel()

	ticker := time.NewTicker(s.opts.EvaluatePollInterval)
	defer ticker.Stop()

	redispatched := false
	for {
		res, err := s.pipeline.PollStatus(ctx, generationID)
		if err != nil {
			return false, fmt.Errorf("failed to poll pipeline: %w", err)
		}
		if res.Status == pipelinedomain.StatusFinished {
			return true, nil
		}
		if !redispatched && !inFlight(res.Tasks) {
			redispatched = true
			s.redispatch(ctx, generationID)
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, nil
		case <-ticker.C:
		}
	}
}

func inFlight(tasks []pipelineservice.TaskStatus) bool {
	for _, t := range tasks {
		if !t.Status.Finished() {
			return true
		}
	}
	return false
}

// redispatch requeues the first stage with missing factors. Errors are logged;
// the caller keeps polling and the repair sweep covers what is left.
func (s *RoundService) redispatch(ctx context.Context, generationID int64) {
	res, err := s.pipeline.Dispatch(ctx, generationID)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to redispatch scoring",
			attr.GenerationID(generationID),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		return
	}
	if len(res.Subtasks) > 0 {
		s.logger.InfoContext(ctx, "Scoring redispatched",
			attr.GenerationID(generationID),
			attr.String("stage", res.Stage),
			attr.Int("subtasks", len(res.Subtasks)),
			attr.ExtractCorrelationID(ctx),
		)
	}
}

// breakdown loads the stored score of a finished generation.
func (s *RoundService) breakdown(ctx context.Context, gen *rounddb.Generation) (scoreservice.Breakdown, *scoredb.Score, error) {
	score, err := s.scorer.GetForGeneration(ctx, gen.ID)
	if err != nil {
		if errors.Is(err, scoreservice.ErrScoreNotFound) {
			return scoreservice.Breakdown{}, nil, fmt.Errorf("%w: no score for generation %d", ErrGenerationNotFound, gen.ID)
		}
		return scoreservice.Breakdown{}, nil, err
	}
	total := 0
	if gen.TotalScore != nil {
		total = *gen.TotalScore
	}
	return scoreservice.BreakdownOf(score, total), score, nil
}

// evaluationText asks for the free-form evaluation. Failures are logged and
// yield no text.
func (s *RoundService) evaluationText(ctx context.Context, sess *Session, gen *rounddb.Generation) string {
	req := analysis.EvaluationRequest{
		Sentence:    gen.Sentence,
		ImageURL:    s.images.URL(sess.leaderboard.ImageKey),
		Description: sess.leaderboard.Story,
		Vocabulary:  sess.leaderboard.Vocabulary,
	}
	if gen.CorrectedSentence != nil {
		req.CorrectedSentence = *gen.CorrectedSentence
	}
	if round, err := s.repo.GetRound(ctx, nil, gen.RoundID); err == nil {
		req.Model = round.Model
	}

	text, err := s.provider.Evaluate(ctx, req)
	if err != nil {
		s.logger.WarnContext(ctx, "Evaluation text unavailable",
			attr.GenerationID(gen.ID),
			attr.ExtractCorrelationID(ctx),
			attr.Error(err),
		)
		return ""
	}
	return text
}

// complete appends the feedback messages and marks the generation completed.
// It fails with errAlreadyCompleted, rolling the messages back, when another
// evaluate got there first.
func (s *RoundService) complete(
	ctx context.Context,
	db bun.IDB,
	sess *Session,
	round *rounddb.Round,
	gen *rounddb.Generation,
	b scoreservice.Breakdown,
	evaluation string,
) error {
	if sess.program.Has(rounddb.FeedbackScore) {
		if _, err := s.say(ctx, db, round.ChatID, scoreMessage(b)); err != nil {
			return err
		}
	}

	var evaluationID *int64
	if evaluation != "" {
		msg := &rounddb.Message{
			ChatID:       round.ChatID,
			Sender:       rounddb.SenderAssistant,
			Content:      evaluation,
			IsEvaluation: true,
			CreatedAt:    s.now(),
		}
		if err := s.repo.AppendMessage(ctx, db, msg); err != nil {
			return fmt.Errorf("failed to append evaluation: %w", err)
		}
		evaluationID = &msg.ID
	}

	duration := seconds(s.now().Sub(gen.CreatedAt))
	if err := s.repo.CompleteGeneration(ctx, db, gen.ID, duration, evaluationID); err != nil {
		if errors.Is(err, rounddb.ErrNoRowsAffected) {
			return errAlreadyCompleted
		}
		return fmt.Errorf("failed to complete generation: %w", err)
	}
	return nil
}

func scoreMessage(b scoreservice.Breakdown) string {
	return fmt.Sprintf("Your score is %d out of 100, rank %s.", b.Total, b.Rank)
}

// evaluated builds the response for a completed generation from stored rows.
func (s *RoundService) evaluated(ctx context.Context, round *rounddb.Round, gen *rounddb.Generation) (Response, error) {
	breakdown, score, err := s.breakdown(ctx, gen)
	if err != nil {
		return Response{}, err
	}

	msgs, err := s.repo.ListMessages(ctx, nil, round.ChatID)
	if err != nil {
		return Response{}, fmt.Errorf("failed to list messages: %w", err)
	}

	fb := &FeedbackView{Score: scoreView(breakdown), ImageSimilarity: score.ImageSimilarity}
	if gen.InterpretedImageKey != nil {
		fb.InterpretedImageURL = s.images.URL(*gen.InterpretedImageKey)
	}
	if gen.EvaluationID != nil {
		for _, m := range msgs {
			if m.ID == *gen.EvaluationID {
				fb.Evaluation = m.Content
				break
			}
		}
	}

	return Response{
		Status:     StatusCompleted,
		State:      stateOf(round, gen),
		Generation: generationView(gen),
		Chat:       chatView(round.ChatID, msgs),
		Feedback:   fb,
	}, nil
}
