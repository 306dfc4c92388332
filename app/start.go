package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/google/uuid"
)

// Serve runs the HTTP listener and the activity consumer until ctx ends.
func (app *App) Serve(ctx context.Context) error {
	activity, err := app.newActivityRouter()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              app.Config.HTTP.Address,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		app.logger.Info("Starting HTTP server", attr.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		if err := activity.Run(ctx); err != nil {
			errCh <- fmt.Errorf("activity router: %w", err)
		}
	}()

	runErr := app.waitForShutdown(ctx, errCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.logger.Error("HTTP server shutdown failed", attr.Error(err))
	}
	if err := activity.Close(); err != nil {
		app.logger.Error("Activity router close failed", attr.Error(err))
	}
	return runErr
}

// Work runs the pipeline workers and the daily repair sweep until ctx ends.
func (app *App) Work(ctx context.Context) error {
	if err := app.Queue.Start(ctx); err != nil {
		return err
	}

	scheduler, err := app.newRepairScheduler()
	if err != nil {
		return err
	}
	scheduler.Start()
	if next, err := scheduler.NextRun(); err == nil {
		app.logger.Info("Repair sweep scheduled", attr.Time("next_run", next))
	}

	runErr := app.waitForShutdown(ctx, nil)

	if err := scheduler.Stop(); err != nil {
		app.logger.Error("Repair scheduler stop failed", attr.Error(err))
	}
	return runErr
}

// Sweep runs one repair sweep and returns its report. The queue is not
// started; resubmitted jobs wait for a worker process.
func (app *App) Sweep(ctx context.Context) error {
	ctx = attr.WithCorrelationID(ctx, uuid.NewString())
	report, err := app.RepairService.Sweep(ctx)
	for category, c := range report.Categories {
		app.logger.InfoContext(ctx, "Repair category",
			attr.String("category", string(category)),
			attr.Int("found", c.Found),
			attr.Int("resubmitted", c.Resubmitted),
			attr.Int("failed", c.Failed),
		)
	}
	app.logger.InfoContext(ctx, "Repair sweep finished",
		attr.Int("resubmitted", report.Resubmitted()),
		attr.Int("expired_tasks", report.ExpiredTasks),
	)
	return err
}
