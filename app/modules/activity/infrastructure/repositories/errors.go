package activitydb

import "errors"

// ErrDuplicate indicates the event was already recorded.
var ErrDuplicate = errors.New("user action already recorded")
