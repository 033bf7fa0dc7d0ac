package database

import "time"

// NotifyChannel is the Postgres NOTIFY channel raised for every persisted webhook event
const NotifyChannel = "webhook_events"

// Listener reconnect backoff
const (
	ListenerMinReconnect = 2 * time.Second
	ListenerMaxReconnect = time.Minute
)

// Connection pool sizing
const (
	MaxOpenConns    = 25
	MaxIdleConns    = 10
	ConnMaxLifetime = 5 * time.Minute
	ConnMaxIdleTime = 2 * time.Minute
)

// Query limits
const (
	DefaultLimit = 50
	MaxLimit     = 1000
)

// MaxSyncErrors caps how many error lines a sync log keeps
const MaxSyncErrors = 50
