package app

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"vesta-pipeline/config"
	"vesta-pipeline/helpers"
	"vesta-pipeline/synclog"
)

// jobTimeout bounds a scheduled dispatch pass; rollups carry their own timeout
const jobTimeout = 30 * time.Minute

// Scheduler fires the dispatcher, the daily snapshot and the rollups on cron specs
type Scheduler struct {
	app    *App
	specs  config.ScheduleConfig
	cron   *cron.Cron
	now    func() time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler in UTC. Overlapping runs of the same job are skipped.
func NewScheduler(a *App, specs config.ScheduleConfig) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		app:   a,
		specs: specs,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger)),
		),
		now:    func() time.Time { return time.Now().UTC() },
		ctx:    ctx,
		cancel: cancel,
	}
}

type scheduledJob struct {
	name string
	spec string
	run  func(ctx context.Context) (synclog.Summary, error)
}

func (s *Scheduler) jobs() []scheduledJob {
	a := s.app
	return []scheduledJob{
		{"dispatch", s.specs.Dispatch, func(ctx context.Context) (synclog.Summary, error) {
			res, err := a.Dispatcher.RunBatch(ctx)
			return synclog.Summary{Operation: "dispatch", Processed: res.Processed, Errors: res.Errors}, err
		}},
		{"daily_snapshot", s.specs.Snapshot, func(ctx context.Context) (synclog.Summary, error) {
			return a.Snapshots.RunDailySnapshot(ctx, s.now())
		}},
		{"daily_rollup", s.specs.Daily, func(ctx context.Context) (synclog.Summary, error) {
			return a.Rollups.RunDailyRollup(ctx, s.now())
		}},
		{"weekly_rollup", s.specs.Weekly, func(ctx context.Context) (synclog.Summary, error) {
			return a.Rollups.RunWeeklyRollup(ctx, PreviousSunday(s.now()))
		}},
		{"monthly_rollup", s.specs.Monthly, func(ctx context.Context) (synclog.Summary, error) {
			return a.Rollups.RunMonthlyRollup(ctx, PreviousMonth(s.now()))
		}},
	}
}

// Start registers every job with a non-empty spec and starts the cron loop
func (s *Scheduler) Start() error {
	for _, job := range s.jobs() {
		if job.spec == "" {
			log.Printf("⏰ %s not scheduled", job.name)
			continue
		}
		job := job
		if _, err := s.cron.AddFunc(job.spec, func() { s.execute(job) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
		log.Printf("⏰ Scheduled %s: %s", job.name, job.spec)
	}
	s.cron.Start()
	log.Println("⏰ Scheduler started")
	return nil
}

func (s *Scheduler) execute(job scheduledJob) {
	ctx, cancel := context.WithTimeout(s.ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	sum, err := job.run(ctx)
	if err != nil {
		log.Printf("❌ Scheduled %s failed after %s: %v", job.name, time.Since(start).Round(time.Millisecond), err)
		return
	}
	if job.name == "dispatch" && sum.Processed == 0 && len(sum.Errors) == 0 {
		return
	}
	log.Printf("✅ Scheduled %s finished in %s: %s", job.name, time.Since(start).Round(time.Millisecond), sum)
}

// Stop stops firing new jobs, cancels running ones and waits for them to return
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.cancel()
	<-stopped.Done()
	log.Println("⏰ Scheduler stopped")
}

// PreviousSunday is the last Sunday strictly before t's date
func PreviousSunday(t time.Time) time.Time {
	d := helpers.DateOf(t).AddDate(0, 0, -1)
	for d.Weekday() != time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// PreviousMonth is the first day of the month before t's month
func PreviousMonth(t time.Time) time.Time {
	return helpers.MonthStart(t).AddDate(0, -1, 0)
}
