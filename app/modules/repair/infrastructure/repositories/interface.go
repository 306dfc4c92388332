package repairdb

import (
	"context"
	"time"

	repairdomain "github.com/Black-And-White-Club/avery/app/modules/repair/domain"
	"github.com/uptrace/bun"
)

// Repository finds stuck generations. Only corrected generations of
// non-guest players created before cutoff are ever returned.
type Repository interface {
	ListStuck(ctx context.Context, db bun.IDB, category repairdomain.Category, cutoff time.Time, limit int) ([]int64, error)
}
