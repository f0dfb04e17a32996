package database

import (
	"context"
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"civicom/config"
	conversationModel "civicom/internal/conversation/model"
	userModel "civicom/internal/user/model"
)

func ConnectPostgres(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	connector := pgdriver.NewConnector(pgdriver.WithDSN(cfg.Bun.DSN))
	sqlDB := sql.OpenDB(connector)
	db := bun.NewDB(sqlDB, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// CreateTables brings the schema up on boot. IfNotExists keeps restarts
// cheap; anything more belongs in real migrations.
func CreateTables(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*userModel.Group)(nil),
		(*userModel.User)(nil),
		(*conversationModel.Conversation)(nil),
		(*conversationModel.Message)(nil),
	}
	for _, t := range tables {
		if _, err := db.NewCreateTable().Model(t).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}
