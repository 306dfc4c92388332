package scoremigrations

import (
	"context"
	"fmt"

	scoredb "github.com/Black-And-White-Club/avery/app/modules/score/infrastructure/repositories"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating scores table...")
		_, err := db.NewCreateTable().Model((*scoredb.Score)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create scores table: %w", err)
		}
		fmt.Println("Scores table created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping scores table...")
		_, err := db.NewDropTable().Model((*scoredb.Score)(nil)).IfExists().Cascade().Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to drop scores table: %w", err)
		}
		fmt.Println("Scores table dropped successfully!")
		return nil
	})
}
