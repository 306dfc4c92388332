package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
)

// TopicUserAction carries one UserAction per protocol request.
const TopicUserAction = "user.action"

// UserAction records a protocol request and when it was answered.
type UserAction struct {
	PlayerID   string    `json:"player_id"`
	Action     string    `json:"action"`
	Program    string    `json:"program,omitempty"`
	RoundID    int64     `json:"round_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Failed     bool      `json:"failed,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	SentAt     time.Time `json:"sent_at"`
}

// NewMessage encodes payload as JSON and carries the context's correlation id.
func NewMessage(ctx context.Context, payload any) (*message.Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), data)
	correlationID := attr.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = watermill.NewUUID()
	}
	middleware.SetCorrelationID(correlationID, msg)
	msg.SetContext(ctx)
	return msg, nil
}

// Decode unmarshals a message payload into v.
func Decode(msg *message.Message, v any) error {
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", msg.UUID, err)
	}
	return nil
}
