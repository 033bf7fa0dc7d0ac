package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"vesta-pipeline/config"
	"vesta-pipeline/database"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/handlers"
	"vesta-pipeline/metrics"
	"vesta-pipeline/synclog"
)

// EventStore is the event queue the dispatcher drains
type EventStore interface {
	Pending(ctx context.Context, limit int, olderThan, staleBefore time.Time) ([]models.WebhookEvent, error)
	Failed(ctx context.Context, source, table string, limit int) ([]models.WebhookEvent, error)
	Get(ctx context.Context, id int64) (*models.WebhookEvent, error)
	Claim(ctx context.Context, id int64, token string, staleBefore time.Time, includeProcessed bool) (bool, error)
	Commit(ctx context.Context, id int64, token string, fn func(handlers.Store) error) error
	Skip(ctx context.Context, id int64, token, note string) error
	Fail(ctx context.Context, id int64, token, message string) error
}

// Result counts what one pass did with the events it fetched
type Result struct {
	Fetched   int
	Processed int
	Failed    int
	Skipped   int
	Contended int
	Errors    []string
}

func (r *Result) add(o Result) {
	r.Fetched += o.Fetched
	r.Processed += o.Processed
	r.Failed += o.Failed
	r.Skipped += o.Skipped
	r.Contended += o.Contended
	r.Errors = append(r.Errors, o.Errors...)
}

func (r Result) String() string {
	return fmt.Sprintf("fetched=%d processed=%d failed=%d skipped=%d contended=%d",
		r.Fetched, r.Processed, r.Failed, r.Skipped, r.Contended)
}

func (r Result) summary(operation string) synclog.Summary {
	return synclog.Summary{
		Operation: operation,
		Processed: r.Fetched,
		Updated:   r.Processed,
		Errors:    r.Errors,
	}
}

// handlerFailure marks an error raised by a handler, as opposed to the
// storage underneath it.
type handlerFailure struct {
	err error
}

func (h *handlerFailure) Error() string { return h.err.Error() }
func (h *handlerFailure) Unwrap() error { return h.err }

// Dispatcher routes persisted webhook events to their handlers
type Dispatcher struct {
	store    EventStore
	registry *handlers.Registry
	recorder *synclog.Recorder
	cfg      config.DispatchConfig

	now      func() time.Time
	newToken func() string
}

// New creates a dispatcher. recorder may be nil.
func New(store EventStore, registry *handlers.Registry, recorder *synclog.Recorder, cfg config.DispatchConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Dispatcher{
		store:    store,
		registry: registry,
		recorder: recorder,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		newToken: uuid.NewString,
	}
}

func (d *Dispatcher) staleBefore() time.Time {
	return d.now().Add(-d.cfg.ClaimTTL)
}

// RunBatch claims and applies up to BatchSize never-attempted events.
// Events of one (source, table) lane are applied in received order; lanes run
// concurrently. A systemic failure stops the batch and is returned.
func (d *Dispatcher) RunBatch(ctx context.Context) (Result, error) {
	var olderThan time.Time
	if d.cfg.SettleDelay > 0 {
		olderThan = d.now().Add(-d.cfg.SettleDelay)
	}
	staleBefore := d.staleBefore()

	events, err := d.store.Pending(ctx, d.cfg.BatchSize, olderThan, staleBefore)
	if err != nil {
		return Result{}, fmt.Errorf("RunBatch: %w", err)
	}
	if len(events) == 0 {
		return Result{}, nil
	}

	metrics.DispatchBatches.Inc()
	return d.record(ctx, "dispatch", "incremental", func(ctx context.Context) (Result, error) {
		return d.runLanes(ctx, events, staleBefore, false)
	})
}

// Replay reprocesses one persisted event whatever its current state
func (d *Dispatcher) Replay(ctx context.Context, id int64) (Result, error) {
	ev, err := d.store.Get(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("Replay: %w", err)
	}

	log.Printf("🔄 Replaying webhook event %d (%s/%s/%s)", ev.ID, ev.Source, ev.Table, ev.EventType)
	return d.record(ctx, "replay", "replay", func(ctx context.Context) (Result, error) {
		return d.runLanes(ctx, []models.WebhookEvent{*ev}, d.staleBefore(), true)
	})
}

// ReplayFailed reprocesses failed events, optionally narrowed to one source
// or table, at most BatchSize per call.
func (d *Dispatcher) ReplayFailed(ctx context.Context, source, table string) (Result, error) {
	events, err := d.store.Failed(ctx, source, table, d.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("ReplayFailed: %w", err)
	}
	if len(events) == 0 {
		log.Println("✅ No failed webhook events to replay")
		return Result{}, nil
	}

	log.Printf("🔄 Replaying %d failed webhook events", len(events))
	return d.record(ctx, "replay_failed", "replay", func(ctx context.Context) (Result, error) {
		return d.runLanes(ctx, events, d.staleBefore(), false)
	})
}

// record wraps a pass in a sync log
func (d *Dispatcher) record(ctx context.Context, operation, syncType string, run func(context.Context) (Result, error)) (Result, error) {
	var entry *models.APISyncLog
	if d.recorder != nil {
		l, err := d.recorder.Start(ctx, synclog.SourcePipeline, operation, syncType, "")
		if err != nil {
			return Result{}, err
		}
		entry = l
	}

	res, err := run(ctx)

	if entry != nil {
		if err != nil {
			if aerr := d.recorder.Abort(ctx, entry, err); aerr != nil {
				log.Printf("⚠️ Failed to close sync log: %v", aerr)
			}
		} else if ferr := d.recorder.Finish(ctx, entry, res.summary(operation)); ferr != nil {
			log.Printf("⚠️ Failed to close sync log: %v", ferr)
		}
	}
	return res, err
}

type laneKey struct {
	source, table string
}

// runLanes groups events by (source, table), keeping their order, and applies
// each lane sequentially under a bounded errgroup.
func (d *Dispatcher) runLanes(ctx context.Context, events []models.WebhookEvent, staleBefore time.Time, includeProcessed bool) (Result, error) {
	var order []laneKey
	lanes := make(map[laneKey][]models.WebhookEvent)
	for _, ev := range events {
		k := laneKey{ev.Source, ev.Table}
		if _, ok := lanes[k]; !ok {
			order = append(order, k)
		}
		lanes[k] = append(lanes[k], ev)
	}

	var (
		mu    sync.Mutex
		total = Result{Fetched: len(events)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)

	for _, k := range order {
		lane := lanes[k]
		g.Go(func() error {
			var res Result
			defer func() {
				mu.Lock()
				total.add(res)
				mu.Unlock()
			}()

			for i, ev := range lane {
				if err := gctx.Err(); err != nil {
					return err
				}
				err := d.process(gctx, ev, staleBefore, includeProcessed, &res)
				if errors.Is(err, errLaneBlocked) {
					if rest := len(lane) - i - 1; rest > 0 {
						log.Printf("⏸️ Lane %s/%s held by another dispatcher, %d events deferred", k.source, k.table, rest)
					}
					return nil
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()
	if err != nil {
		log.Printf("❌ Dispatch aborted: %v", err)
		return total, err
	}

	if total.Fetched > 0 {
		log.Printf("✅ Dispatched %d events: %d processed, %d failed, %d skipped, %d contended",
			total.Fetched, total.Processed, total.Failed, total.Skipped, total.Contended)
	}
	return total, nil
}

// errLaneBlocked stops a lane after an event of it was claimed by another
// dispatcher. Applying later events of the lane would overtake that one.
var errLaneBlocked = errors.New("lane held by another dispatcher")

// process claims, routes and applies one event. It returns errLaneBlocked on
// contention and otherwise only systemic errors; handler errors, including
// rows the database rejects, are recorded on the event.
func (d *Dispatcher) process(ctx context.Context, ev models.WebhookEvent, staleBefore time.Time, includeProcessed bool, res *Result) error {
	token := d.newToken()

	ok, err := d.store.Claim(ctx, ev.ID, token, staleBefore, includeProcessed)
	if err != nil {
		return fmt.Errorf("claim event %d: %w", ev.ID, err)
	}
	if !ok {
		res.Contended++
		d.count(ev, metrics.OutcomeContended)
		return errLaneBlocked
	}

	h, found := d.registry.Lookup(ev.Source, ev.Table, ev.EventType)
	if !found {
		note := fmt.Sprintf("no handler for %s", handlers.NewRouteKey(ev.Source, ev.Table, ev.EventType))
		if err := d.store.Skip(ctx, ev.ID, token, note); err != nil {
			return d.outcomeError(ev, err, res)
		}
		res.Skipped++
		d.count(ev, metrics.OutcomeSkipped)
		return nil
	}

	err = d.store.Commit(ctx, ev.ID, token, func(s handlers.Store) error {
		if err := h.Apply(ctx, s, ev.Record, ev.OldRecord); err != nil {
			return &handlerFailure{err: err}
		}
		return nil
	})
	if err == nil {
		res.Processed++
		d.count(ev, metrics.OutcomeProcessed)
		return nil
	}

	var hf *handlerFailure
	if !errors.As(err, &hf) || database.IsSystemic(err) {
		return d.outcomeError(ev, err, res)
	}

	msg := hf.Error()
	if ferr := d.store.Fail(ctx, ev.ID, token, msg); ferr != nil {
		return d.outcomeError(ev, ferr, res)
	}
	res.Failed++
	res.Errors = append(res.Errors, fmt.Sprintf("event %d: %s", ev.ID, msg))
	d.count(ev, metrics.OutcomeFailed)
	log.Printf("⚠️ Webhook event %d (%s/%s/%s) failed: %s", ev.ID, ev.Source, ev.Table, ev.EventType, msg)
	return nil
}

// outcomeError treats a lost claim as contention and anything else as systemic
func (d *Dispatcher) outcomeError(ev models.WebhookEvent, err error, res *Result) error {
	if errors.Is(err, database.ErrClaimLost) {
		res.Contended++
		d.count(ev, metrics.OutcomeContended)
		log.Printf("⚠️ Lost claim on webhook event %d", ev.ID)
		return errLaneBlocked
	}
	return fmt.Errorf("event %d: %w", ev.ID, err)
}

func (d *Dispatcher) count(ev models.WebhookEvent, outcome string) {
	metrics.EventsDispatched.WithLabelValues(ev.Source, ev.Table, outcome).Inc()
}

// Follow runs batches whenever wake fires or PollInterval elapses, draining
// full batches back to back, until ctx is cancelled. Systemic errors are
// logged and retried on the next tick. wake may be nil.
func (d *Dispatcher) Follow(ctx context.Context, wake <-chan struct{}) error {
	interval := d.cfg.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("🔄 Dispatcher following webhook events (poll every %s)", interval)

	for {
		for {
			res, err := d.RunBatch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					break
				}
				log.Printf("⚠️ Dispatch batch failed: %v", err)
				break
			}
			if res.Fetched < d.cfg.BatchSize || res.Processed+res.Failed+res.Skipped == 0 {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Println("🔄 Dispatcher stopped")
			return nil
		case <-wake:
		case <-ticker.C:
		}
	}
}
