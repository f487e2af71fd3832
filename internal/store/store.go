// Package store selects a conversation.Store driver from configuration.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/conversation"
	"github.com/comigor/triage-go/internal/store/bolt"
	"github.com/comigor/triage-go/internal/store/memory"
	"github.com/comigor/triage-go/internal/store/postgres"
	"github.com/comigor/triage-go/internal/store/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
	DriverMemory   = "memory"
)

// Open returns the store named by cfg.Driver. An empty driver means sqlite.
func Open(ctx context.Context, cfg config.StoreConfig) (conversation.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverSQLite:
		return sqlite.Open(ctx, cfg.Path)
	case DriverPostgres:
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres driver needs store.dsn")
		}
		return postgres.Open(ctx, cfg.DSN)
	case DriverBolt:
		return bolt.Open(cfg.Path)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
