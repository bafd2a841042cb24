// Package migrate brings the relay schema up to date before the server
// starts accepting connections. Migrations are compiled in, so a deployed
// binary needs no external SQL files.
package migrate

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/Enflame-Media/Magic-Agent-sub018/migrations"
)

// Up applies every pending migration against dsn. It opens its own
// short-lived connection; the server's pool is created afterwards.
func Up(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}

	return goose.UpContext(ctx, db, ".")
}
