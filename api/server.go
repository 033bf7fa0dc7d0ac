package api

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/metrics"
)

// Ingester persists inbound webhook notifications
type Ingester interface {
	Ingest(ctx context.Context, source, eventType, table string, record, oldRecord models.Payload) (int64, error)
}

// SyncLogReader lists recent sync logs for operators
type SyncLogReader interface {
	Recent(ctx context.Context, source string, limit int) ([]models.APISyncLog, error)
}

// HealthCheck reports whether storage answers
type HealthCheck func(ctx context.Context) error

// Server handles HTTP API requests
type Server struct {
	intake        Ingester
	syncLogs      SyncLogReader
	health        HealthCheck
	stream        http.Handler
	webhookSecret string

	httpServer *http.Server
}

// NewServer creates a new API server instance. syncLogs, health and stream may be nil.
func NewServer(intake Ingester, syncLogs SyncLogReader, health HealthCheck, stream http.Handler, webhookSecret string) *Server {
	return &Server{
		intake:        intake,
		syncLogs:      syncLogs,
		health:        health,
		stream:        stream,
		webhookSecret: webhookSecret,
	}
}

// Handler builds the route table
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Webhook receiver, one sub-path per upstream
	mux.HandleFunc("POST /api/webhooks/{source}/{$}", s.handleWebhook)
	mux.HandleFunc("POST /api/webhooks/{source}", s.handleWebhook)

	// Operator routes
	if s.syncLogs != nil {
		mux.HandleFunc("GET /api/sync-logs", s.handleGetSyncLogs)
	}
	if s.stream != nil {
		mux.Handle("GET /api/sync-logs/stream", s.stream)
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	return s.loggingMiddleware(mux)
}

// Start starts the HTTP server on the specified port. It returns nil once
// Shutdown has been called.
func (s *Server) Start(port int) error {
	serverAddr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:              serverAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("🚀 API Server starting on %s", serverAddr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

// Handlers are distributed across multiple files:
// - webhooks.go: webhook receiver
// - handlers_ops.go: health check and sync logs
