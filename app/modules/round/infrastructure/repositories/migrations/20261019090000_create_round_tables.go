package roundmigrations

import (
	"context"
	"fmt"

	rounddb "github.com/Black-And-White-Club/avery/app/modules/round/infrastructure/repositories"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Creating round tables...")

		models := []any{
			(*rounddb.Player)(nil),
			(*rounddb.Program)(nil),
			(*rounddb.Leaderboard)(nil),
			(*rounddb.Chat)(nil),
			(*rounddb.Message)(nil),
			(*rounddb.Round)(nil),
			(*rounddb.Generation)(nil),
		}
		for _, model := range models {
			if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create table for %T: %w", model, err)
			}
		}

		indexes := []*bun.CreateIndexQuery{
			db.NewCreateIndex().Model((*rounddb.Message)(nil)).
				Index("messages_chat_id_idx").Column("chat_id", "created_at"),
			db.NewCreateIndex().Model((*rounddb.Generation)(nil)).
				Index("generations_round_id_idx").Column("round_id", "generated_time"),
			db.NewCreateIndex().Model((*rounddb.Round)(nil)).
				Index("rounds_player_lookup_idx").Column("player_id", "leaderboard_id", "program_id", "created_at"),
			// At most one open round per player, leaderboard and program.
			db.NewCreateIndex().Model((*rounddb.Round)(nil)).
				Index("rounds_one_open_idx").Unique().
				Column("player_id", "leaderboard_id", "program_id").
				Where("is_completed = FALSE"),
		}
		for _, idx := range indexes {
			if _, err := idx.IfNotExists().Exec(ctx); err != nil {
				return fmt.Errorf("failed to create index: %w", err)
			}
		}

		fmt.Println("Round tables created successfully!")
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		fmt.Println("Rolling back round tables...")

		models := []any{
			(*rounddb.Generation)(nil),
			(*rounddb.Round)(nil),
			(*rounddb.Message)(nil),
			(*rounddb.Chat)(nil),
			(*rounddb.Leaderboard)(nil),
			(*rounddb.Program)(nil),
			(*rounddb.Player)(nil),
		}
		for _, model := range models {
			if _, err := db.NewDropTable().Model(model).IfExists().Cascade().Exec(ctx); err != nil {
				return fmt.Errorf("failed to drop table for %T: %w", model, err)
			}
		}

		fmt.Println("Round tables dropped successfully!")
		return nil
	})
}
