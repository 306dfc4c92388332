package roundservice

import (
	"context"
	"fmt"
	"strings"

	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
)

// Hint forwards a question to the round's chatbot and records both turns.
// Round and generation rows are never touched.
func (s *RoundService) Hint(ctx context.Context, sess *Session, params HintParams) (Response, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return withTelemetry(s, ctx, "Hint", sess, func(ctx context.Context) (Response, error) {
		round, gen, err := s.current(ctx, nil, sess)
		if err != nil {
			return Response{}, err
		}
		state := stateOf(round, gen)
		if !state.Allows(rounddomain.ActionHint) {
			return Response{}, nil
		}

		content := strings.TrimSpace(params.Content)
		if content == "" {
			return Response{Status: StatusEmpty, State: state}, nil
		}

		question := &rounddb.Message{
			ChatID:    round.ChatID,
			Sender:    rounddb.SenderUser,
			Content:   content,
			IsHint:    true,
			CreatedAt: s.now(),
		}
		if err := s.repo.AppendMessage(ctx, nil, question); err != nil {
			return Response{}, fmt.Errorf("failed to append hint question: %w", err)
		}

		resp := Response{State: state}
		if sess.hints == nil {
			history, err := s.repo.ListMessages(ctx, nil, round.ChatID)
			if err != nil {
				return Response{}, fmt.Errorf("failed to list messages: %w", err)
			}
			s.acquireHints(ctx, sess, round, history[:len(history)-1])
		}

		if sess.hints == nil {
			resp.Notice = NoticeHintUnavailable
		} else if reply, err := sess.hints.Next(ctx, content); err != nil {
			s.logger.WarnContext(ctx, "Hint request failed",
				attr.PlayerID(sess.PlayerID),
				attr.RoundID(round.ID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			resp.Notice = NoticeHintUnavailable
			// A broken chatbot is reopened on the next hint.
			s.releaseHints(ctx, sess)
		} else {
			answer := &rounddb.Message{
				ChatID:     round.ChatID,
				Sender:     rounddb.SenderAssistant,
				Content:    reply.Content,
				ResponseID: reply.ResponseID,
				IsHint:     true,
				CreatedAt:  s.now(),
			}
			if err := s.repo.AppendMessage(ctx, nil, answer); err != nil {
				return Response{}, fmt.Errorf("failed to append hint reply: %w", err)
			}
		}

		resp.Chat, err = s.chat(ctx, nil, round.ChatID)
		if err != nil {
			return Response{}, err
		}
		return resp, nil
	})
}
