package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/avery/app/eventbus"
	activityservice "github.com/Black-And-White-Club/avery/app/modules/activity/application"
	activitydb "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/repositories"
	activityrouter "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/router"
	"github.com/Black-And-White-Club/avery/app/modules/analysis"
	authjwt "github.com/Black-And-White-Club/avery/app/modules/auth/infrastructure/jwt"
	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinequeue "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/queue"
	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	repairservice "github.com/Black-And-White-Club/avery/app/modules/repair/application"
	repairdb "github.com/Black-And-White-Club/avery/app/modules/repair/infrastructure/repositories"
	repairscheduler "github.com/Black-And-White-Club/avery/app/modules/repair/infrastructure/scheduler"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/Black-And-White-Club/avery/config"
	"github.com/Black-And-White-Club/avery/db/bundb"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const serviceName = "avery"

// App holds every long-lived component of the process.
type App struct {
	Config        *config.Config
	Observability *observability.Observability
	DB            *bundb.DBService
	EventBus      *eventbus.EventBus
	Queue         *pipelinequeue.Service
	Tokens        authjwt.Provider

	ScoreService    scoreservice.Service
	PipelineService *pipelineservice.PipelineService
	RoundService    roundservice.Service
	RepairService   repairservice.Service
	ActivityService activityservice.Service

	logger *slog.Logger
}

// NewApp connects to Postgres, the event bus, the analysis provider and the
// image bucket, then builds the services on top of them. Nothing is started.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	obs := observability.Init(observability.Config{
		ServiceName: serviceName,
		Environment: cfg.Observability.Environment,
		LogLevel:    cfg.Observability.LogLevel,
	})
	logger := obs.Logger
	rec := metrics.NewPrometheus(obs.Registry, serviceName)

	app := &App{Config: cfg, Observability: obs, logger: logger}

	dbService, err := bundb.NewBunDBService(ctx, cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database service: %w", err)
	}
	app.DB = dbService
	db := dbService.GetDB()

	bus, err := eventbus.New(eventbus.Config{NATSURL: cfg.NATS.URL, QueueGroup: serviceName}, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	app.EventBus = bus

	images, err := analysis.NewS3Store(ctx, analysis.S3Config{
		Bucket:          cfg.Storage.Bucket,
		Endpoint:        cfg.Storage.Endpoint,
		Region:          cfg.Storage.Region,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		PublicBaseURL:   cfg.Storage.PublicBaseURL,
	})
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create image store: %w", err)
	}

	provider := analysis.NewClient(ctx, analysis.ClientConfig{
		BaseURL:       cfg.Analysis.BaseURL,
		TokenURL:      cfg.Analysis.TokenURL,
		ClientID:      cfg.Analysis.ClientID,
		ClientSecret:  cfg.Analysis.ClientSecret,
		RatePerSecond: cfg.Analysis.RatePerSecond,
		Burst:         cfg.Analysis.Burst,
		Timeout:       cfg.Analysis.Timeout,
		MaxRetries:    cfg.Analysis.MaxRetries,
	}, logger)

	queue, err := pipelinequeue.NewService(ctx, db, logger, cfg.Postgres.DSN, pipelinequeue.Config{
		Workers:    cfg.Pipeline.QueueWorkers,
		JobTimeout: cfg.Analysis.Timeout * time.Duration(cfg.Analysis.MaxRetries+1),
	}, rec)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}
	app.Queue = queue

	scoreRepo := scoredb.NewRepository(db)
	pipelineRepo := pipelinedb.NewRepository(db)

	app.ScoreService = scoreservice.NewScoreService(
		scoreRepo,
		cfg.Scoring.FluencyThreshold,
		cfg.Scoring.DefaultStrategy,
		logger,
		rec,
		obs.Tracer("score"),
	)

	app.PipelineService = pipelineservice.NewPipelineService(
		pipelineRepo,
		pipelineservice.NewTracker(db, pipelineRepo, scoreRepo),
		queue,
		provider,
		images,
		app.ScoreService,
		logger,
		rec,
		obs.Tracer("pipeline"),
	)
	queue.Handle(app.PipelineService)

	app.RoundService = roundservice.NewRoundService(
		db,
		rounddb.NewRepository(db),
		app.PipelineService,
		app.ScoreService,
		provider,
		images,
		roundservice.Options{
			EvaluatePollInterval: cfg.Session.EvaluatePollInterval,
			EvaluateTimeout:      cfg.Session.EvaluateTimeout,
			DefaultModel:         cfg.Session.DefaultModel,
		},
		logger,
		rec,
		obs.Tracer("round"),
	)

	app.RepairService = repairservice.NewRepairService(
		repairdb.NewRepository(db),
		app.PipelineService,
		repairservice.Options{
			MinAge:     cfg.Repair.MinAge,
			BatchSize:  cfg.Repair.BatchSize,
			TaskMaxAge: cfg.Pipeline.TaskMaxAge,
		},
		logger,
		rec,
		obs.Tracer("repair"),
	)

	app.ActivityService = activityservice.NewActivityService(
		activitydb.NewRepository(db),
		logger,
		rec,
		obs.Tracer("activity"),
	)

	app.Tokens = authjwt.NewProvider(cfg.JWT.Secret)

	logger.InfoContext(ctx, "Application initialized",
		attr.String("event_bus", bus.Transport()),
	)
	return app, nil
}

// newActivityRouter builds the watermill router that stores user.action
// events.
func (app *App) newActivityRouter() (*activityrouter.ActivityRouter, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, watermill.NewSlogLogger(app.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create message router: %w", err)
	}

	ar := activityrouter.NewActivityRouter(
		app.logger,
		router,
		app.EventBus.Subscriber(),
		app.Observability.Tracer("activity"),
		app.Observability.Registry,
	)
	if err := ar.Configure(app.ActivityService); err != nil {
		return nil, fmt.Errorf("failed to configure activity router: %w", err)
	}
	return ar, nil
}

func (app *App) newRepairScheduler() (*repairscheduler.Scheduler, error) {
	return repairscheduler.NewScheduler(repairscheduler.Config{
		Schedule: app.Config.Repair.Schedule,
		Timezone: app.Config.Repair.Timezone,
	}, app.RepairService, app.logger)
}

// Close releases the queue, the event bus and the database, in that order.
func (app *App) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if app.Queue != nil {
		if err := app.Queue.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if app.EventBus != nil {
		if err := app.EventBus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if app.DB != nil {
		if err := app.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
