package main

import (
	"context"
	"database/sql"

	"github.com/iliyamo/refactor-gateway/internal/config"
	"github.com/iliyamo/refactor-gateway/internal/database"
)

// withDB loads the server configuration, opens the database, and closes it
// after fn returns.
func withDB(ctx context.Context, fn func(ctx context.Context, cfg config.Config, db *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(ctx, cfg, db)
}
