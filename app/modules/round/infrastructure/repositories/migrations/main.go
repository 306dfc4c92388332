package roundmigrations

import "github.com/uptrace/bun/migrate"

var Migrations = migrate.NewMigrations()

func init() {
	// Derive migration names from the registering file.
	if err := Migrations.DiscoverCaller(); err != nil {
		panic(err)
	}
}
