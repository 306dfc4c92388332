package bundb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/Black-And-White-Club/avery/app/shared/attr"
	"github.com/Black-And-White-Club/avery/config"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// DBService owns the process-wide Postgres pool every repository shares.
type DBService struct {
	db     *bun.DB
	logger *slog.Logger
}

// NewBunDBService connects to Postgres and verifies the connection.
func NewBunDBService(ctx context.Context, cfg config.PostgresConfig, logger *slog.Logger) (*DBService, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is empty")
	}

	sqldb, err := pgConn(ctx, cfg.DSN)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", attr.Error(err))
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	logger.Info("Database connection established")

	return &DBService{db: db, logger: logger}, nil
}

// GetDB returns the underlying database connection pool.
func (s *DBService) GetDB() *bun.DB {
	return s.db
}

// Ping checks the pool can still reach the server.
func (s *DBService) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *DBService) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.logger.Info("Database connection closed")
	return nil
}

func pgConn(ctx context.Context, dsn string) (*sql.DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithDSN(dsn),
		pgdriver.WithTimeout(10*time.Second),
	))

	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return sqldb, nil
}
