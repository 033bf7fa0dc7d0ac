package rollup

import (
	"context"
	"errors"
	"log"
	"time"

	"vesta-pipeline/config"
	models "vesta-pipeline/database/models_pkg"
	"vesta-pipeline/metrics"
	"vesta-pipeline/synclog"
)

// ErrLocked is returned when another instance holds the run lock for the same period
var ErrLocked = errors.New("run already in progress")

// Locker guards a run against overlapping scheduler instances
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// runner is the envelope shared by the snapshot writer and the rollup engine:
// operation timeout, run lock, sync log and metrics.
type runner struct {
	locker   Locker
	recorder *synclog.Recorder
	cfg      config.RollupConfig
}

func (r *runner) run(ctx context.Context, operation, period, lockKey string, fn func(context.Context) (synclog.Summary, error)) (synclog.Summary, error) {
	started := time.Now()

	if r.cfg.OperationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.OperationTimeout)
		defer cancel()
	}

	if r.locker != nil {
		ok, err := r.locker.AcquireLock(ctx, lockKey, r.cfg.LockTTL)
		switch {
		case err != nil:
			// Upserts keep concurrent runs convergent, so a lock outage is not fatal.
			log.Printf("⚠️ Run lock %s unavailable, continuing without it: %v", lockKey, err)
		case !ok:
			log.Printf("⚠️ %s %s skipped: %v", operation, period, ErrLocked)
			return synclog.Summary{Operation: operation, Period: period}, ErrLocked
		default:
			defer func() {
				if err := r.locker.ReleaseLock(context.WithoutCancel(ctx), lockKey); err != nil {
					log.Printf("⚠️ Failed to release run lock %s: %v", lockKey, err)
				}
			}()
		}
	}

	l, err := r.startLog(ctx, operation, period)
	if err != nil {
		return synclog.Summary{Operation: operation, Period: period}, err
	}

	sum, err := fn(ctx)
	sum.Operation = operation
	sum.Period = period

	metrics.RollupDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.RollupRuns.WithLabelValues(operation, "failed").Inc()
		log.Printf("❌ %s %s failed: %v", operation, period, err)
		if l != nil {
			if aerr := r.recorder.Abort(ctx, l, err); aerr != nil {
				log.Printf("⚠️ Failed to close sync log: %v", aerr)
			}
		}
		return sum, err
	}

	metrics.RollupRuns.WithLabelValues(operation, sum.Status()).Inc()
	if l != nil {
		if ferr := r.recorder.Finish(ctx, l, sum); ferr != nil {
			log.Printf("⚠️ Failed to close sync log: %v", ferr)
		}
	}

	if len(sum.Errors) > 0 {
		log.Printf("⚠️ %s", sum)
	} else {
		log.Printf("✅ %s", sum)
	}
	return sum, nil
}

func (r *runner) startLog(ctx context.Context, operation, period string) (*models.APISyncLog, error) {
	if r.recorder == nil {
		return nil, nil
	}
	return r.recorder.Start(ctx, synclog.SourcePipeline, operation, syncType(operation), period)
}

func syncType(operation string) string {
	if operation == OpSnapshot {
		return "snapshot"
	}
	return "rollup"
}
