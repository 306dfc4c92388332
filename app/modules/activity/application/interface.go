package activityservice

import (
	"context"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	activitydb "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/repositories"
)

// Service keeps the user action audit log.
type Service interface {
	// Record stores one user.action event. Redelivered events are ignored.
	Record(ctx context.Context, messageID string, action eventbus.UserAction) error
	Recent(ctx context.Context, playerID string, limit int) ([]activitydb.UserAction, error)
}
