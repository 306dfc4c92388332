package roundservice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	authdomain "github.com/Black-And-White-Club/avery/app/modules/auth/domain"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/Black-And-White-Club/avery/app/shared/results"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const serviceName = "round"

// RoundService implements the Service interface.
type RoundService struct {
	db       *bun.DB
	repo     rounddb.Repository
	pipeline Pipeline
	scorer   scoreservice.Service
	provider analysis.Provider
	images   analysis.ImageStore
	opts     Options
	logger   *slog.Logger
	metrics  metrics.Session
	tracer   trace.Tracer
	now      func() time.Time
}

var _ Service = (*RoundService)(nil)

// NewRoundService creates a new RoundService.
func NewRoundService(
	db *bun.DB,
	repo rounddb.Repository,
	pipeline Pipeline,
	scorer scoreservice.Service,
	provider analysis.Provider,
	images analysis.ImageStore,
	opts Options,
	logger *slog.Logger,
	metrics metrics.Session,
	tracer trace.Tracer,
) *RoundService {
	if opts.EvaluatePollInterval <= 0 {
		opts.EvaluatePollInterval = time.Second
	}
	if opts.EvaluateTimeout <= 0 {
		opts.EvaluateTimeout = 30 * time.Second
	}
	return &RoundService{
		db:       db,
		repo:     repo,
		pipeline: pipeline,
		scorer:   scorer,
		provider: provider,
		images:   images,
		opts:     opts,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// operationFunc is the generic signature for service operation functions.
type operationFunc[T any] func(ctx context.Context) (T, error)

// withTelemetry wraps a service operation with tracing, metrics, and panic recovery.
func withTelemetry[T any](
	s *RoundService,
	ctx context.Context,
	operationName string,
	sess *Session,
	op operationFunc[T],
) (result T, err error) {
	ctx, span := s.tracer.Start(ctx, operationName, trace.WithAttributes(
		attribute.String("operation", operationName),
		attribute.String("player_id", sess.PlayerID),
		attribute.Int64("round_id", sess.roundID),
	))
	defer span.End()

	s.metrics.RecordOperationAttempt(ctx, operationName, serviceName)

	startTime := time.Now()
	defer func() {
		s.metrics.RecordOperationDuration(ctx, operationName, serviceName, time.Since(startTime))
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", operationName, r)
			s.logger.ErrorContext(ctx, "Critical panic recovered",
				attr.PlayerID(sess.PlayerID),
				attr.RoundID(sess.roundID),
				attr.ExtractCorrelationID(ctx),
				attr.Error(err),
			)
			s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
			span.RecordError(err)
		}
	}()

	result, err = op(ctx)
	if err != nil {
		s.metrics.RecordOperationFailure(ctx, operationName, serviceName)
		span.RecordError(err)
		return result, fmt.Errorf("%s: %w", operationName, err)
	}

	s.metrics.RecordOperationSuccess(ctx, operationName, serviceName)
	return result, nil
}

// runInTx runs fn inside a transaction. Business failures travel in the
// result and still commit; a returned error rolls back.
func runInTx[S any, F any](s *RoundService, ctx context.Context, fn func(ctx context.Context, db bun.IDB) (results.OperationResult[S, F], error)) (results.OperationResult[S, F], error) {
	if s.db == nil {
		return fn(ctx, nil)
	}

	var result results.OperationResult[S, F]
	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		var txErr error
		result, txErr = fn(ctx, tx)
		return txErr
	})
	return result, err
}

func (s *RoundService) inTx(ctx context.Context, fn func(ctx context.Context, db bun.IDB) error) error {
	if s.db == nil {
		return fn(ctx, nil)
	}
	return s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, tx)
	})
}

func (s *RoundService) Connect(ctx context.Context, claims authdomain.Claims) (*Session, error) {
	sess := &Session{PlayerID: claims.PlayerID, Username: claims.Username, IsGuest: claims.Guest}
	return withTelemetry(s, ctx, "Connect", sess, func(ctx context.Context) (*Session, error) {
		username := claims.Username
		if username == "" {
			username = claims.PlayerID
		}
		player := &rounddb.Player{ID: claims.PlayerID, Username: username, IsGuest: claims.Guest, CreatedAt: s.now()}
		if err := s.repo.UpsertPlayer(ctx, nil, player); err != nil {
			return nil, fmt.Errorf("failed to record player: %w", err)
		}
		return sess, nil
	})
}

func (s *RoundService) Close(ctx context.Context, sess *Session) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	s.releaseHints(ctx, sess)
}

// Handle decodes the action payload and runs the action under the session lock.
func (s *RoundService) Handle(ctx context.Context, sess *Session, req Request) (Response, error) {
	if !req.Action.Valid() {
		return Response{}, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
	s.metrics.RecordAction(ctx, string(req.Action))

	switch req.Action {
	case rounddomain.ActionStart, rounddomain.ActionResume:
		var p StartParams
		if err := decodeParams(req.Obj, &p); err != nil {
			return Response{}, err
		}
		if req.Action == rounddomain.ActionStart {
			return s.Start(ctx, sess, req.Program, p)
		}
		return s.Resume(ctx, sess, req.Program, p)
	case rounddomain.ActionHint:
		var p HintParams
		if err := decodeParams(req.Obj, &p); err != nil {
			return Response{}, err
		}
		return s.Hint(ctx, sess, p)
	case rounddomain.ActionSubmit:
		var p SubmitParams
		if err := decodeParams(req.Obj, &p); err != nil {
			return Response{}, err
		}
		return s.Submit(ctx, sess, p)
	case rounddomain.ActionEvaluate:
		return s.Evaluate(ctx, sess)
	default:
		return s.End(ctx, sess)
	}
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// current reloads the session's round and its latest generation. Both are
// nil when the session has no round yet.
func (s *RoundService) current(ctx context.Context, db bun.IDB, sess *Session) (*rounddb.Round, *rounddb.Generation, error) {
	if sess.roundID == 0 {
		return nil, nil, nil
	}
	round, err := s.repo.GetRound(ctx, db, sess.roundID)
	if err != nil {
		if errors.Is(err, rounddb.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %d", ErrRoundNotFound, sess.roundID)
		}
		return nil, nil, err
	}
	gen, err := s.repo.GetLatestGeneration(ctx, db, round.ID)
	if err != nil {
		if errors.Is(err, rounddb.ErrNotFound) {
			return round, nil, nil
		}
		return nil, nil, err
	}
	return round, gen, nil
}

func (s *RoundService) chat(ctx context.Context, db bun.IDB, chatID int64) (*ChatView, error) {
	msgs, err := s.repo.ListMessages(ctx, db, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return chatView(chatID, msgs), nil
}

// say appends an assistant message to the round's chat.
func (s *RoundService) say(ctx context.Context, db bun.IDB, chatID int64, content string) (*rounddb.Message, error) {
	msg := &rounddb.Message{ChatID: chatID, Sender: rounddb.SenderAssistant, Content: content, CreatedAt: s.now()}
	if err := s.repo.AppendMessage(ctx, db, msg); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	return msg, nil
}

func seconds(d time.Duration) int {
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
