package pipelinemigrations

import (
	"context"
	"fmt"

	pipelinedb "github.com/Black-And-White-Club/avery/app/modules/pipeline/infrastructure/repositories"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating tasks table...")
		if _, err := db.NewCreateTable().Model((*pipelinedb.Task)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create tasks table: %w", err)
		}
		_, err := db.NewCreateIndex().
			Model((*pipelinedb.Task)(nil)).
			Index("tasks_generation_id_idx").
			Column("generation_id").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create tasks index: %w", err)
		}
		fmt.Println("Tasks table created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping tasks table...")
		if _, err := db.NewDropTable().Model((*pipelinedb.Task)(nil)).IfExists().Cascade().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop tasks table: %w", err)
		}
		fmt.Println("Tasks table dropped successfully!")
		return nil
	})
}
