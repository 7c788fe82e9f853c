package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/opencoder-agent/memcore/pkg/store"
)

// openStore opens the store file named by session_db_path (the --db
// flag or config.yaml). A subcommand that touches persisted state has
// nothing to operate on without one.
func openStore(ctx context.Context) (*store.Store, error) {
	path := viper.GetString("session_db_path")
	if path == "" {
		return nil, errors.New("no store path configured: pass --db or set session_db_path")
	}
	return store.Open(ctx, path)
}
