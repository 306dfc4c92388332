package activitydb

import (
	"time"

	"github.com/uptrace/bun"
)

// UserAction is one protocol request as seen by the session handler.
type UserAction struct {
	bun.BaseModel `bun:"table:user_actions,alias:ua"`

	ID         int64     `bun:"id,pk,autoincrement"`
	MessageID  string    `bun:"message_id,notnull,unique"`
	PlayerID   string    `bun:"player_id,notnull"`
	Action     string    `bun:"action,notnull"`
	Program    string    `bun:"program"`
	RoundID    *int64    `bun:"round_id"`
	Status     string    `bun:"status"`
	Failed     bool      `bun:"failed,notnull,default:false"`
	ReceivedAt time.Time `bun:"received_at,notnull"`
	SentAt     time.Time `bun:"sent_at,notnull"`
	CreatedAt  time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
