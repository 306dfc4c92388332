package activitymigrations

import (
	"context"
	"fmt"

	activitydb "github.com/Black-And-White-Club/avery/app/modules/activity/infrastructure/repositories"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating user_actions table...")
		if _, err := db.NewCreateTable().Model((*activitydb.UserAction)(nil)).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create user_actions table: %w", err)
		}
		_, err := db.NewCreateIndex().
			Model((*activitydb.UserAction)(nil)).
			Index("user_actions_player_id_idx").
			Column("player_id", "received_at").
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create user_actions index: %w", err)
		}
		fmt.Println("User actions table created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Dropping user_actions table...")
		if _, err := db.NewDropTable().Model((*activitydb.UserAction)(nil)).IfExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to drop user_actions table: %w", err)
		}
		return nil
	})
}
