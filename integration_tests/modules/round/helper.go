//go:build integration

package roundintegrationtests

import (
	"context"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Black-And-White-Club/avery/app/modules/analysis/analysistest"
	pipelineservice "github.com/Black-And-White-Club/avery/app/modules/pipeline/application"
	pipelinequeue "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/queue"
	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	repairservice "github.com/Black-And-White-Club/avery/app/modules/repair/application"
	repairdb "github.com/Black-And-White-Club/avery/app/modules/repair/infrastructure/repositories"
	roundservice "github.com/Black-And-White-Club/avery/app/modules/round/application"
	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	scoreservice "github.com/Black-And-White-Club/avery/app/modules/score/application"
	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/Black-And-White-Club/avery/app/observability/metrics"
	"github.com/Black-And-White-Club/avery/integration_tests/testutils"
)

var (
	testEnv     *testutils.TestEnvironment
	testEnvErr  error
	testEnvOnce sync.Once
)

type RoundTestDeps struct {
	Ctx         context.Context
	BunDB       *bun.DB
	Queue       *pipelinequeue.Service
	Pipeline    *pipelineservice.PipelineService
	Service     roundservice.Service
	Repair      repairservice.Service
	Provider    *analysistest.Provider
	Leaderboard *rounddb.Leaderboard
}

func GetTestEnv(t *testing.T) *testutils.TestEnvironment {
	t.Helper()

	testEnvOnce.Do(func() {
		log.Println("Initializing round test environment...")
		testEnv, testEnvErr = testutils.NewTestEnvironment(t)
	})

	if testEnvErr != nil {
		t.Fatalf("Round test environment initialization failed: %v", testEnvErr)
	}
	return testEnv
}

// SetupTestRoundService wires the round, pipeline, score and repair services
// over the shared Postgres with a real River queue. The queue is not started;
// tests call StartWorkers when jobs should run.
func SetupTestRoundService(t *testing.T) RoundTestDeps {
	t.Helper()

	env := GetTestEnv(t)

	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resetCancel()
	require.NoError(t, env.Reset(resetCtx), "reset environment")

	ctx := env.Ctx
	db := env.DB
	tracer := noop.NewTracerProvider().Tracer("round_integration")

	testutils.SeedPrograms(t, ctx, db)
	lb := testutils.SeedLeaderboard(t, ctx, db)

	queue, err := pipelinequeue.NewService(ctx, db, env.Logger, env.Config.Postgres.DSN, pipelinequeue.Config{
		Workers:    4,
		JobTimeout: 30 * time.Second,
	}, metrics.NoOp{})
	require.NoError(t, err)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = queue.Stop(stopCtx)
	})

	provider := &analysistest.Provider{}
	images := &analysistest.ImageStore{}
	scoreRepo := scoredb.NewRepository(db)
	pipelineRepo := pipelinedb.NewRepository(db)

	scorer := scoreservice.NewScoreService(scoreRepo, 0.01, scoreservice.StrategyFormula, env.Logger, metrics.NoOp{}, tracer)
	pipeline := pipelineservice.NewPipelineService(
		pipelineRepo,
		pipelineservice.NewTracker(db, pipelineRepo, scoreRepo),
		queue,
		provider,
		images,
		scorer,
		env.Logger,
		metrics.NoOp{},
		tracer,
	)
	queue.Handle(pipeline)

	service := roundservice.NewRoundService(
		db,
		rounddb.NewRepository(db),
		pipeline,
		scorer,
		provider,
		images,
		roundservice.Options{
			EvaluatePollInterval: 100 * time.Millisecond,
			EvaluateTimeout:      20 * time.Second,
			DefaultModel:         "gpt-4o-mini",
		},
		env.Logger,
		metrics.NoOp{},
		tracer,
	)

	repair := repairservice.NewRepairService(
		repairdb.NewRepository(db),
		pipeline,
		repairservice.Options{MinAge: time.Minute, BatchSize: 50, TaskMaxAge: time.Minute},
		env.Logger,
		metrics.NoOp{},
		tracer,
	)

	return RoundTestDeps{
		Ctx:         ctx,
		BunDB:       db,
		Queue:       queue,
		Pipeline:    pipeline,
		Service:     service,
		Repair:      repair,
		Provider:    provider,
		Leaderboard: lb,
	}
}

// StartWorkers begins processing queued subtasks.
func (d RoundTestDeps) StartWorkers(t *testing.T) {
	t.Helper()
	require.NoError(t, d.Queue.Start(d.Ctx))
}
