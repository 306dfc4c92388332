// Package bundbtest opens throwaway in-memory databases for repository tests.
package bundbtest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite"
)

// NewSQLite returns a bun.DB on a private in-memory SQLite database with a
// table created for every model. The database is closed when tb finishes.
func NewSQLite(tb testing.TB, models ...any) *bun.DB {
	tb.Helper()

	sqldb, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		tb.Fatalf("open sqlite: %v", err)
	}
	// A second connection would see a different in-memory database.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	tb.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	for _, m := range models {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			tb.Fatalf("create table for %T: %v", m, err)
		}
	}
	return db
}
