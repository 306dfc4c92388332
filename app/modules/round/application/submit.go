package roundservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/Black-And-White-Club/avery/app/shared/results"
	"github.com/uptrace/bun"
)

var rejectionMessages = map[analysis.CorrectionStatus]string{
	analysis.StatusNonEnglish: "I can only read English. Please describe the picture in English.",
	analysis.StatusOffensive:  "Let's keep it friendly. Please try describing the picture with different words.",
	analysis.StatusDuplicate:  "You have already tried that sentence in this round. Try writing something new.",
}

// Submit records a sentence, asks for its correction and, when it is valid,
// starts the scoring pipeline. Rejections come back as statuses.
func (s *RoundService) Submit(ctx context.Context, sess *Session, params SubmitParams) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "Submit", sess, func(ctx context.Context) (Response, error) {
		round, gen, err := s.current(ctx, nil, sess)
		if err != nil {
			return Response{}, err
		}
		state := stateOf(round, gen)
		if !state.Allows(rounddomain.ActionSubmit) {
			return Response{}, nil
		}

		sentence := strings.TrimSpace(params.Sentence)
		if sentence == "" {
			s.metrics.RecordSubmission(ctx, StatusEmpty)
			return Response{Status: StatusEmpty, State: state, Generation: generationView(gen)}, nil
		}

		result, err := runInTx(s, ctx, func(ctx context.Context, db bun.IDB) (results.OperationResult[rounddb.Generation, analysis.CorrectionStatus], error) {
			return s.recordSentence(ctx, db, round, gen, sentence)
		})
		if err != nil {
			return Response{}, err
		}
		if result.IsFailure() {
			return s.reject(ctx, sess, round, gen, *result.Failure)
		}
		gen = result.Success

		correction, err := s.provider.CorrectSentence(ctx, sentence)
		if err != nil {
			s.logger.WarnContext(ctx, "Sentence correction failed",
				attr.PlayerID(sess.PlayerID),
				attr.GenerationID(gen.ID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			s.metrics.RecordSubmission(ctx, StatusUnavailable)
			return Response{
				Status:     StatusUnavailable,
				State:      stateOf(round, gen),
				Generation: generationView(gen),
			}, nil
		}
		if correction.Status != analysis.StatusValid {
			return s.reject(ctx, sess, round, gen, correction.Status)
		}

		return s.accept(ctx, sess, round, gen, correction)
	})
}

// recordSentence writes the sentence onto the open generation, or onto a new
// one when the open generation was already corrected. A sentence already
// corrected earlier in the round fails as a duplicate and writes nothing.
func (s *RoundService) recordSentence(
	ctx context.Context,
	db bun.IDB,
	round *rounddb.Round,
	gen *rounddb.Generation,
	sentence string,
) (results.OperationResult[rounddb.Generation, analysis.CorrectionStatus], error) {
	gens, err := s.repo.ListGenerations(ctx, db, round.ID)
	if err != nil {
		return results.OperationResult[rounddb.Generation, analysis.CorrectionStatus]{}, fmt.Errorf("failed to list generations: %w", err)
	}

	norm := rounddomain.NormalizeSentence(sentence)
	for _, g := range gens {
		if !g.Corrected() {
			continue
		}
		if rounddomain.NormalizeSentence(g.Sentence) == norm || rounddomain.NormalizeSentence(*g.CorrectedSentence) == norm {
			return results.FailureResult[rounddb.Generation](analysis.StatusDuplicate), nil
		}
	}

	if gen != nil && !gen.Corrected() {
		if err := s.repo.UpdateSentence(ctx, db, gen.ID, sentence); err != nil {
			return results.OperationResult[rounddb.Generation, analysis.CorrectionStatus]{}, fmt.Errorf("failed to update sentence: %w", err)
		}
		updated := *gen
		updated.Sentence = sentence
		return results.SuccessResult[rounddb.Generation, analysis.CorrectionStatus](updated), nil
	}

	next := rounddb.Generation{RoundID: round.ID, Sentence: sentence, CreatedAt: s.now()}
	if gen != nil {
		next.GeneratedTime = gen.GeneratedTime + 1
	}
	if err := s.repo.CreateGeneration(ctx, db, &next); err != nil {
		return results.OperationResult[rounddb.Generation, analysis.CorrectionStatus]{}, fmt.Errorf("failed to create generation: %w", err)
	}
	if err := s.repo.SetLastGeneration(ctx, db, round.ID, next.ID); err != nil {
		return results.OperationResult[rounddb.Generation, analysis.CorrectionStatus]{}, fmt.Errorf("failed to link generation: %w", err)
	}
	return results.SuccessResult[rounddb.Generation, analysis.CorrectionStatus](next), nil
}

// reject appends the warning for status and leaves the generation uncorrected.
func (s *RoundService) reject(ctx context.Context, sess *Session, round *rounddb.Round, gen *rounddb.Generation, status analysis.CorrectionStatus) (Response, error) {
	s.metrics.RecordSubmission(ctx, status.String())
	s.logger.InfoContext(ctx, "Submission rejected",
		attr.PlayerID(sess.PlayerID),
		attr.RoundID(round.ID),
		attr.String("status", status.String()),
		attr.ExtractCorrelationID(ctx),
	)

	if _, err := s.say(ctx, nil, round.ChatID, rejectionMessages[status]); err != nil {
		return Response{}, err
	}
	chat, err := s.chat(ctx, nil, round.ChatID)
	if err != nil {
		return Response{}, err
	}
	return Response{
		Status:     status.String(),
		State:      stateOf(round, gen),
		Generation: generationView(gen),
		Chat:       chat,
	}, nil
}

// accept stores the correction, records the grammar factor it already
// carries and dispatches the remaining analysis.
func (s *RoundService) accept(ctx context.Context, sess *Session, round *rounddb.Round, gen *rounddb.Generation, c analysis.Correction) (Response, error) {
	err := s.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		if err := s.repo.SetCorrection(ctx, db, gen.ID, c.Corrected); err != nil {
			return fmt.Errorf("failed to store correction: %w", err)
		}
		_, err := s.say(ctx, db, round.ChatID, c.Corrected)
		return err
	})
	if err != nil {
		return Response{}, err
	}
	gen.CorrectedSentence = &c.Corrected
	gen.GrammarErrors = c.Grammar
	gen.SpellingErrors = c.Spelling
	s.metrics.RecordSubmission(ctx, StatusValid)

	grammar := pipelineservice.Payload{Grammar: analysis.GrammarReport{Grammar: c.Grammar, Spelling: c.Spelling}}
	if _, err := s.pipeline.MarkDone(ctx, gen.ID, pipelinedomain.FactorGrammar, grammar); err != nil {
		s.logger.WarnContext(ctx, "Failed to record grammar from correction",
			attr.GenerationID(gen.ID),
			attr.Error(err),
		)
	}

	resp := Response{Status: StatusValid, State: stateOf(round, gen), Generation: generationView(gen)}

	if _, err := s.pipeline.Dispatch(ctx, gen.ID); err != nil {
		if !errors.Is(err, pipelineservice.ErrDispatchFailed) {
			s.logger.ErrorContext(ctx, "Failed to start scoring",
				attr.GenerationID(gen.ID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
		} else {
			s.logger.WarnContext(ctx, "Scoring partly dispatched",
				attr.GenerationID(gen.ID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
		}
		resp.Notice = NoticeScoringDelayed
	}

	s.logger.InfoContext(ctx, "Submission accepted",
		attr.PlayerID(sess.PlayerID),
		attr.RoundID(round.ID),
		attr.GenerationID(gen.ID),
		attr.Int("generated_time", gen.GeneratedTime),
		attr.ExtractCorrelationID(ctx),
	)

	resp.Chat, err = s.chat(ctx, nil, round.ChatID)
	if err != nil {
		return Response{}, err
	}
	return resp, nil
}
