package roundservice

import (
	"context"
	"sync"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
)

// Session is the per-connection protocol state. Round and generation rows are
// always reloaded from the store; the session only remembers which round it
// is playing and owns the hint chatbot for that round.
type Session struct {
	PlayerID string
	Username string
	IsGuest  bool

	mu          sync.Mutex
	program     *rounddb.Program
	leaderboard *rounddb.Leaderboard
	roundID     int64
	hints       analysis.HintSession
}

// RoundID returns the round the session is attached to, or 0.
func (sess *Session) RoundID() int64 {
	return sess.roundID
}

// stateOf derives the protocol state from the stored rows. gen is the round's
// latest generation and may be nil.
func stateOf(round *rounddb.Round, gen *rounddb.Generation) rounddomain.State {
	p := rounddomain.Progress{HasRound: round != nil, HasGeneration: gen != nil}
	if round != nil {
		p.RoundEnded = round.IsCompleted
	}
	if gen != nil {
		p.Sentence = gen.Sentence
		p.Corrected = gen.Corrected()
		p.Evaluated = gen.IsCompleted
	}
	return rounddomain.Derive(p)
}

func (sess *Session) attach(program *rounddb.Program, lb *rounddb.Leaderboard, roundID int64) {
	sess.program = program
	sess.leaderboard = lb
	sess.roundID = roundID
}

// releaseHints closes the hint chatbot if one is open.
func (s *RoundService) releaseHints(ctx context.Context, sess *Session) {
	if sess.hints == nil {
		return
	}
	if err := sess.hints.Close(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to close hint session",
			attr.PlayerID(sess.PlayerID),
			attr.RoundID(sess.roundID),
			attr.Error(err),
		)
	}
	sess.hints = nil
}

// acquireHints opens a hint chatbot primed with the round's chat history.
// Failures are logged; hint retries the acquisition later.
func (s *RoundService) acquireHints(ctx context.Context, sess *Session, round *rounddb.Round, history []rounddb.Message) {
	s.releaseHints(ctx, sess)

	hc := analysis.HintContext{
		Model:       round.Model,
		ImageURL:    s.images.URL(sess.leaderboard.ImageKey),
		Description: sess.leaderboard.Story,
		Vocabulary:  sess.leaderboard.Vocabulary,
	}
	for _, m := range history {
		hc.History = append(hc.History, analysis.ChatTurn{Sender: m.Sender, Content: m.Content})
	}

	hints, err := s.provider.OpenHintSession(ctx, hc)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to open hint session",
			attr.PlayerID(sess.PlayerID),
			attr.RoundID(round.ID),
			attr.Error(err),
		)
		return
	}
	sess.hints = hints
}
