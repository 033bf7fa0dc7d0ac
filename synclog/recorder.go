package synclog

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
)

// Channel receives every finished sync log as JSON
const Channel = "pipeline:sync_log"

// SourcePipeline tags runs initiated by the pipeline itself rather than an upstream pull
const SourcePipeline = "pipeline"

// Store persists sync logs
type Store interface {
	CreateLog(ctx context.Context, l *models.APISyncLog) error
	SaveLog(ctx context.Context, l *models.APISyncLog) error
}

// Publisher fans finished logs out to operators
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

// Summary is the outcome of one dispatch pass, snapshot or rollup run
type Summary struct {
	Operation    string   `json:"operation"`
	Period       string   `json:"period"`
	Processed    int      `json:"processed"`
	Created      int      `json:"created"`
	Updated      int      `json:"updated"`
	Errors       []string `json:"errors,omitempty"`
	Insufficient bool     `json:"insufficient,omitempty"`
}

// AddError records a non-fatal error line
func (s *Summary) AddError(format string, args ...interface{}) {
	s.Errors = append(s.Errors, fmt.Sprintf(format, args...))
}

// Merge folds another summary's counters and errors into s
func (s *Summary) Merge(o Summary) {
	s.Processed += o.Processed
	s.Created += o.Created
	s.Updated += o.Updated
	s.Errors = append(s.Errors, o.Errors...)
}

// Status is completed when nothing failed and partial otherwise
func (s Summary) Status() string {
	if len(s.Errors) > 0 {
		return models.SyncPartial
	}
	return models.SyncCompleted
}

func (s Summary) String() string {
	return fmt.Sprintf("%s %s: processed=%d created=%d updated=%d errors=%d insufficient=%t",
		s.Operation, s.Period, s.Processed, s.Created, s.Updated, len(s.Errors), s.Insufficient)
}

// Recorder writes sync log rows around a run
type Recorder struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// NewRecorder creates a recorder. pub may be nil.
func NewRecorder(store Store, pub Publisher) *Recorder {
	return &Recorder{
		store: store,
		pub:   pub,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a sync log in status started
func (r *Recorder) Start(ctx context.Context, source, endpoint, syncType, period string) (*models.APISyncLog, error) {
	l := &models.APISyncLog{
		Source:    source,
		Endpoint:  endpoint,
		SyncType:  syncType,
		Period:    period,
		Status:    models.SyncStarted,
		StartedAt: r.now(),
	}
	if err := r.store.CreateLog(ctx, l); err != nil {
		return nil, fmt.Errorf("Start: %w", err)
	}
	return l, nil
}

// Finish closes the log with the summary counters. Only the first
// database.MaxSyncErrors error lines are kept.
func (r *Recorder) Finish(ctx context.Context, l *models.APISyncLog, s Summary) error {
	l.Status = s.Status()
	l.RecordsFetched = s.Processed
	l.RecordsCreated = s.Created
	l.RecordsUpdated = s.Updated
	l.ErrorMessage = joinErrors(s.Errors, s.Insufficient)
	return r.close(ctx, l)
}

// Abort closes the log as failed after a systemic error
func (r *Recorder) Abort(ctx context.Context, l *models.APISyncLog, cause error) error {
	l.Status = models.SyncFailed
	if cause != nil {
		l.ErrorMessage = cause.Error()
	}
	return r.close(ctx, l)
}

func (r *Recorder) close(ctx context.Context, l *models.APISyncLog) error {
	completed := r.now()
	l.CompletedAt = &completed

	// The run may have been aborted by its own context; the log still has to land.
	ctx = context.WithoutCancel(ctx)
	if err := r.store.SaveLog(ctx, l); err != nil {
		return fmt.Errorf("SaveLog: %w", err)
	}

	if r.pub != nil {
		if err := r.pub.Publish(ctx, Channel, l); err != nil {
			log.Printf("⚠️ Failed to publish sync log %d: %v", l.ID, err)
		}
	}
	return nil
}

func joinErrors(errs []string, insufficient bool) string {
	lines := errs
	if len(lines) > database.MaxSyncErrors {
		extra := len(lines) - database.MaxSyncErrors
		lines = append(lines[:database.MaxSyncErrors:database.MaxSyncErrors], fmt.Sprintf("... and %d more", extra))
	}
	if insufficient {
		lines = append([]string{"insufficient data"}, lines...)
	}
	return strings.Join(lines, "\n")
}
