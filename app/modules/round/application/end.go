package roundservice

import (
	"context"

	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
)

// End completes the round and releases its hint chatbot. In-flight subtasks
// are left to finish. Ending an ended round returns it unchanged.
func (s *RoundService) End(ctx context.Context, sess *Session) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "End", sess, func(ctx context.Context) (Response, error) {
		round, gen, err := s.current(ctx, nil, sess)
		if err != nil {
			return Response{}, err
		}
		if !stateOf(round, gen).Allows(rounddomain.ActionEnd) {
			return Response{}, nil
		}

		if !round.IsCompleted {
			if err := s.completeRound(ctx, nil, round); err != nil {
				return Response{}, err
			}
			s.logger.InfoContext(ctx, "Round ended",
				attr.PlayerID(sess.PlayerID),
				attr.RoundID(round.ID),
				attr.Int("duration", round.Duration),
				attr.ExtractCorrelationID(ctx),
			)
		}
		s.releaseHints(ctx, sess)

		round, gen, err = s.current(ctx, nil, sess)
		if err != nil {
			return Response{}, err
		}
		return Response{
			State:      stateOf(round, gen),
			Round:      roundView(round, sess.program),
			Generation: generationView(gen),
		}, nil
	})
}
