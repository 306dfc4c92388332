package app

import (
	"context"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
)

// waitForShutdown blocks until ctx is cancelled or a component reports a
// fatal error on errCh. A nil errCh waits on ctx alone.
func (app *App) waitForShutdown(ctx context.Context, errCh <-chan error) error {
	select {
	case <-ctx.Done():
		app.logger.Info("Shutdown signal received")
		return nil
	case err := <-errCh:
		app.logger.Error("Component failed, shutting down", attr.Error(err))
		return err
	}
}
