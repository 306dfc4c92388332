package roundservice

import (
	"context"
	"errors"
	"fmt"

	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/uptrace/bun"
)

const greeting = "Hi, I'm Avery! Look at the picture and describe it in one English sentence. Ask me for a hint whenever you need one."

// opened is what start and resume hand back to the session.
type opened struct {
	round *rounddb.Round
	gen   *rounddb.Generation
	chat  []rounddb.Message
}

// lookup resolves the program and leaderboard named by a start or resume.
func (s *RoundService) lookup(ctx context.Context, program string, params StartParams) (*rounddb.Program, *rounddb.Leaderboard, error) {
	if program == "" {
		return nil, nil, ErrMissingProgram
	}
	pg, err := s.repo.GetProgramByName(ctx, nil, program)
	if err != nil {
		if errors.Is(err, rounddb.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrProgramNotFound, program)
		}
		return nil, nil, err
	}
	lb, err := s.repo.GetLeaderboard(ctx, nil, params.LeaderboardID)
	if err != nil {
		if errors.Is(err, rounddb.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %d", ErrLeaderboardNotFound, params.LeaderboardID)
		}
		return nil, nil, err
	}
	return pg, lb, nil
}

// Start opens a new round with an empty generation and a greeting. Open
// rounds for the same player, leaderboard and program are completed first.
func (s *RoundService) Start(ctx context.Context, sess *Session, program string, params StartParams) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "Start", sess, func(ctx context.Context) (Response, error) {
		return s.start(ctx, sess, program, params)
	})
}

func (s *RoundService) start(ctx context.Context, sess *Session, program string, params StartParams) (Response, error) {
	pg, lb, err := s.lookup(ctx, program, params)
	if err != nil {
		return Response{}, err
	}

	model := params.Model
	if model == "" {
		model = s.opts.DefaultModel
	}

	var o opened
	err = s.inTx(ctx, func(ctx context.Context, db bun.IDB) error {
		if err := s.closeOpenRounds(ctx, db, sess.PlayerID, lb.ID, pg.ID); err != nil {
			return err
		}

		chat, err := s.repo.CreateChat(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to create chat: %w", err)
		}

		round := &rounddb.Round{
			PlayerID:      sess.PlayerID,
			LeaderboardID: lb.ID,
			ProgramID:     pg.ID,
			ChatID:        chat.ID,
			Model:         model,
			CreatedAt:     s.now(),
		}
		if err := s.repo.CreateRound(ctx, db, round); err != nil {
			return fmt.Errorf("failed to create round: %w", err)
		}

		gen := &rounddb.Generation{RoundID: round.ID, CreatedAt: s.now()}
		if err := s.repo.CreateGeneration(ctx, db, gen); err != nil {
			return fmt.Errorf("failed to create generation: %w", err)
		}
		if err := s.repo.SetLastGeneration(ctx, db, round.ID, gen.ID); err != nil {
			return fmt.Errorf("failed to link generation: %w", err)
		}
		round.LastGenerationID = &gen.ID

		msg, err := s.say(ctx, db, chat.ID, greeting)
		if err != nil {
			return err
		}

		o = opened{round: round, gen: gen, chat: []rounddb.Message{*msg}}
		return nil
	})
	if err != nil {
		return Response{}, err
	}

	sess.attach(pg, lb, o.round.ID)
	s.acquireHints(ctx, sess, o.round, o.chat)

	s.logger.InfoContext(ctx, "Round started",
		attr.PlayerID(sess.PlayerID),
		attr.RoundID(o.round.ID),
		attr.LeaderboardID(lb.ID),
		attr.String("program", pg.Name),
		attr.ExtractCorrelationID(ctx),
	)
	return s.openedResponse(pg, lb, &o), nil
}

// closeOpenRounds keeps at most one open round per player, leaderboard and program.
func (s *RoundService) closeOpenRounds(ctx context.Context, db bun.IDB, playerID string, leaderboardID, programID int64) error {
	open, err := s.repo.ListOpenRounds(ctx, db, playerID, leaderboardID, programID)
	if err != nil {
		return fmt.Errorf("failed to list open rounds: %w", err)
	}
	for _, r := range open {
		if err := s.completeRound(ctx, db, &r); err != nil {
			return err
		}
		s.logger.InfoContext(ctx, "Closed stale round",
			attr.PlayerID(playerID),
			attr.RoundID(r.ID),
		)
	}
	return nil
}

// completeRound marks a round completed with its total duration. A round
// that is already completed is left alone.
func (s *RoundService) completeRound(ctx context.Context, db bun.IDB, round *rounddb.Round) error {
	var lastGen *int64
	gen, err := s.repo.GetLatestGeneration(ctx, db, round.ID)
	switch {
	case err == nil:
		lastGen = &gen.ID
	case !errors.Is(err, rounddb.ErrNotFound):
		return fmt.Errorf("failed to load latest generation: %w", err)
	}

	duration := seconds(s.now().Sub(round.CreatedAt))
	err = s.repo.CompleteRound(ctx, db, round.ID, duration, lastGen)
	if err != nil && !errors.Is(err, rounddb.ErrNoRowsAffected) {
		return fmt.Errorf("failed to complete round %d: %w", round.ID, err)
	}
	if err == nil {
		round.IsCompleted = true
		round.Duration = duration
		round.LastGenerationID = lastGen
	}
	return nil
}

// Resume reattaches the session to the latest open round, or else the latest
// completed one, without writing anything. A player with no round at all
// gets a fresh start.
func (s *RoundService) Resume(ctx context.Context, sess *Session, program string, params StartParams) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "Resume", sess, func(ctx context.Context) (Response, error) {
		pg, lb, err := s.lookup(ctx, program, params)
		if err != nil {
			return Response{}, err
		}

		round, err := s.repo.FindLatestRound(ctx, nil, sess.PlayerID, lb.ID, pg.ID, false)
		if errors.Is(err, rounddb.ErrNotFound) {
			round, err = s.repo.FindLatestRound(ctx, nil, sess.PlayerID, lb.ID, pg.ID, true)
		}
		if errors.Is(err, rounddb.ErrNotFound) {
			s.logger.InfoContext(ctx, "Nothing to resume, starting a new round",
				attr.PlayerID(sess.PlayerID),
				attr.LeaderboardID(lb.ID),
			)
			return s.start(ctx, sess, program, params)
		}
		if err != nil {
			return Response{}, fmt.Errorf("failed to find round: %w", err)
		}

		o := opened{round: round}
		o.gen, err = s.repo.GetLatestGeneration(ctx, nil, round.ID)
		if err != nil && !errors.Is(err, rounddb.ErrNotFound) {
			return Response{}, fmt.Errorf("failed to load generation: %w", err)
		}
		o.chat, err = s.repo.ListMessages(ctx, nil, round.ChatID)
		if err != nil {
			return Response{}, fmt.Errorf("failed to list messages: %w", err)
		}

		sess.attach(pg, lb, round.ID)
		if round.IsCompleted {
			s.releaseHints(ctx, sess)
		} else {
			s.acquireHints(ctx, sess, round, o.chat)
		}

		s.logger.InfoContext(ctx, "Round resumed",
			attr.PlayerID(sess.PlayerID),
			attr.RoundID(round.ID),
			attr.String("state", string(stateOf(round, o.gen))),
			attr.ExtractCorrelationID(ctx),
		)
		return s.openedResponse(pg, lb, &o), nil
	})
}

func (s *RoundService) openedResponse(pg *rounddb.Program, lb *rounddb.Leaderboard, o *opened) Response {
	return Response{
		State:       stateOf(o.round, o.gen),
		Leaderboard: s.leaderboardView(lb),
		Round:       roundView(o.round, pg),
		Generation:  generationView(o.gen),
		Chat:        chatView(o.round.ChatID, o.chat),
	}
}
