package roundservice

import (
	"context"
	"encoding/json"
	"time"

	authdomain "github.com/Black-And-White-Club/avery/app/modules/auth/domain"
	pipelinedomain "github.com/Black-And-White-Club/avery/app/modules/pipeline/domain"
	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	rounddomain "github.com/Black-And-White-Club/avery/app/modules/round/domain"
)

// Service runs the round session protocol. Every action except Connect and
// Close takes the session lock, so one connection never runs two actions at
// once.
type Service interface {
	// Connect records the player behind claims and returns a fresh session.
	Connect(ctx context.Context, claims authdomain.Claims) (*Session, error)

	// Handle decodes a request and runs its action.
	Handle(ctx context.Context, sess *Session, req Request) (Response, error)

	Start(ctx context.Context, sess *Session, program string, params StartParams) (Response, error)
	Resume(ctx context.Context, sess *Session, program string, params StartParams) (Response, error)
	Hint(ctx context.Context, sess *Session, params HintParams) (Response, error)
	Submit(ctx context.Context, sess *Session, params SubmitParams) (Response, error)
	Evaluate(ctx context.Context, sess *Session) (Response, error)
	End(ctx context.Context, sess *Session) (Response, error)

	// Close releases resources held by the session. The round is left as is.
	Close(ctx context.Context, sess *Session)
}

// Pipeline is the part of the task orchestrator the protocol drives.
type Pipeline interface {
	Dispatch(ctx context.Context, generationID int64) (pipelineservice.DispatchResult, error)
	PollStatus(ctx context.Context, generationID int64) (pipelineservice.PollResult, error)
	MarkDone(ctx context.Context, generationID int64, factor pipelinedomain.Factor, payload pipelineservice.Payload) (bool, error)
}

// Options tunes the protocol.
type Options struct {
	EvaluatePollInterval time.Duration
	EvaluateTimeout      time.Duration
	DefaultModel         string
}

// Request is one client message.
type Request struct {
	Action  rounddomain.Action `json:"action"`
	Program string             `json:"program"`
	Obj     json.RawMessage    `json:"obj,omitempty"`
}

type StartParams struct {
	LeaderboardID int64  `json:"leaderboard_id"`
	Model         string `json:"model,omitempty"`
}

type HintParams struct {
	Content string `json:"content"`
}

type SubmitParams struct {
	Sentence string `json:"sentence"`
}

// Submission and evaluation statuses.
const (
	StatusValid       = "valid"
	StatusEmpty       = "empty"
	StatusUnavailable = "unavailable"
	StatusWaiting     = "waiting"
	StatusCompleted   = "completed"
)

// Notices flag degraded but accepted actions.
const (
	NoticeScoringDelayed  = "scoring_delayed"
	NoticeHintUnavailable = "hint_unavailable"
)

// Response is one server message. A zero Response encodes as {} and means
// there is nothing to show yet.
type Response struct {
	Status      string            `json:"status,omitempty"`
	Notice      string            `json:"notice,omitempty"`
	State       rounddomain.State `json:"state,omitempty"`
	Leaderboard *LeaderboardView  `json:"leaderboard,omitempty"`
	Round       *RoundView        `json:"round,omitempty"`
	Generation  *GenerationView   `json:"generation,omitempty"`
	Chat        *ChatView         `json:"chat,omitempty"`
	Feedback    *FeedbackView     `json:"feedback,omitempty"`
}

// Empty reports whether the response carries nothing.
func (r Response) Empty() bool {
	return r == Response{}
}
