package app

import (
	"context"
	"fmt"
	"log"

	"vesta-pipeline/api"
	"vesta-pipeline/config"
	"vesta-pipeline/database"
	"vesta-pipeline/database/events"
	"vesta-pipeline/database/market"
	"vesta-pipeline/database/memory"
	synclogrepo "vesta-pipeline/database/synclog"
	"vesta-pipeline/dispatcher"
	"vesta-pipeline/intake"
	"vesta-pipeline/rollup"
	"vesta-pipeline/synclog"
)

// EventStore is the webhook event table as seen by intake and the dispatcher
type EventStore interface {
	intake.Store
	dispatcher.EventStore
}

// MarketStore backs the snapshot writer and the rollup engine
type MarketStore interface {
	rollup.SnapshotStore
	rollup.Store
}

// SyncLogStore is written by the recorder and read by the API
type SyncLogStore interface {
	synclog.Store
	api.SyncLogReader
}

// Backend bundles the stores of one storage choice
type Backend struct {
	Name     string
	Events   EventStore
	Market   MarketStore
	SyncLogs SyncLogStore

	db       *database.Database
	dsn      string
	listener *database.Listener
}

// OpenBackend connects the backend selected by STORAGE_BACKEND
func OpenBackend(cfg *config.Config) (*Backend, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		log.Println("⚠️  Using in-memory storage; nothing survives a restart")
		store := memory.New()
		return &Backend{
			Name:     config.BackendMemory,
			Events:   store,
			Market:   store,
			SyncLogs: store,
		}, nil

	case config.BackendPostgres, "":
		log.Println("🗄️  Connecting to database...")
		db, err := database.Connect(cfg.DSN())
		if err != nil {
			return nil, fmt.Errorf("database connection failed: %w", err)
		}
		log.Println("✅ Database connected")
		return &Backend{
			Name:     config.BackendPostgres,
			Events:   events.NewRepository(db.DB()),
			Market:   market.NewRepository(db.DB()),
			SyncLogs: synclogrepo.NewRepository(db.DB()),
			db:       db,
			dsn:      cfg.DSN(),
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// Migrate creates or updates the schema. The memory backend has none.
func (b *Backend) Migrate() error {
	if b.db == nil {
		return nil
	}
	return b.db.InitSchema()
}

// Ping reports whether storage answers
func (b *Backend) Ping(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	return b.db.Ping()
}

// Wake returns a channel fed by Postgres NOTIFY on new events, or nil when
// the backend cannot notify and the dispatcher has to poll.
func (b *Backend) Wake() <-chan struct{} {
	if b.db == nil {
		return nil
	}
	if b.listener == nil {
		l, err := database.NewListener(b.dsn)
		if err != nil {
			log.Printf("⚠️  Notification listener unavailable, falling back to polling: %v", err)
			return nil
		}
		b.listener = l
	}
	return b.listener.C()
}

// Close releases connections
func (b *Backend) Close() error {
	if b.listener != nil {
		b.listener.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}
