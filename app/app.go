package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"vesta-pipeline/api"
	"vesta-pipeline/cache"
	"vesta-pipeline/config"
	"vesta-pipeline/dispatcher"
	"vesta-pipeline/handlers"
	"vesta-pipeline/intake"
	"vesta-pipeline/metrics"
	"vesta-pipeline/realtime"
	"vesta-pipeline/rollup"
	"vesta-pipeline/synclog"
)

// App wires storage, Redis and the pipeline components together
type App struct {
	config  *config.Config
	backend *Backend
	redis   *cache.RedisClient
	broker  *realtime.Broker

	Registry   *handlers.Registry
	Intake     *intake.Service
	Recorder   *synclog.Recorder
	Dispatcher *dispatcher.Dispatcher
	Snapshots  *rollup.SnapshotWriter
	Rollups    *rollup.Engine
}

// New creates an application instance. Nothing connects until Open.
func New(cfg *config.Config) *App {
	return &App{
		config:   cfg,
		broker:   realtime.NewBroker(),
		Registry: handlers.NewDefaultRegistry(),
	}
}

// Open connects storage and Redis and builds the pipeline components
func (a *App) Open() error {
	metrics.Register()

	backend, err := OpenBackend(a.config)
	if err != nil {
		return err
	}
	a.backend = backend

	log.Println("🔴 Connecting to Redis...")
	a.redis = cache.NewRedisClient(a.config.RedisHost, a.config.RedisPort, a.config.RedisPassword)

	// Interfaces only get the client when it is connected; a typed nil would
	// defeat the nil checks downstream.
	var locker rollup.Locker
	var publisher synclog.Publisher = a.broker
	if a.redis != nil {
		locker = a.redis
		publisher = a.redis
	} else {
		log.Println("⚠️  Redis unavailable: run locks disabled, sync logs stream in-process only")
	}

	a.Recorder = synclog.NewRecorder(backend.SyncLogs, publisher)
	a.Intake = intake.NewService(backend.Events)
	a.Dispatcher = dispatcher.New(backend.Events, a.Registry, a.Recorder, a.config.Dispatch)
	a.Snapshots = rollup.NewSnapshotWriter(backend.Market, locker, a.Recorder, a.config.Rollup)
	a.Rollups = rollup.NewEngine(backend.Market, locker, a.Recorder, a.config.Rollup)

	log.Printf("✅ Pipeline ready (%s storage, %d routes)", backend.Name, len(a.Registry.Routes()))
	return nil
}

// Migrate creates the schema
func (a *App) Migrate() error {
	if a.backend == nil {
		return errors.New("app not opened")
	}
	return a.backend.Migrate()
}

// Close releases Redis and storage connections
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Printf("Error closing redis: %v", err)
		} else {
			fmt.Println("✅ Redis connection closed")
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		} else {
			fmt.Println("✅ Database connection closed")
		}
	}
}

// Serve runs the webhook receiver, the follow-mode dispatcher and the sync
// log stream until SIGINT or SIGTERM.
func (a *App) Serve(withScheduler bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := api.NewServer(a.Intake, a.backend.SyncLogs, a.backend.Ping, a.broker, a.config.WebhookSecret)

	var sched *Scheduler
	if withScheduler {
		sched = NewScheduler(a, a.config.Schedule)
		if err := sched.Start(); err != nil {
			return err
		}
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.broker.Run(ctx)
	}()

	if sub := a.redis.Subscribe(ctx, synclog.Channel); sub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.broker.Relay(ctx, sub)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.Dispatcher.Follow(ctx, a.backend.Wake()); err != nil {
			log.Printf("❌ Dispatcher stopped: %v", err)
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		fmt.Printf("🌐 Webhook receiver listening on :%d\n", a.config.HTTPPort)
		serverErr <- server.Start(a.config.HTTPPort)
	}()

	err := a.gracefulShutdown(cancel, server, sched, serverErr)
	wg.Wait()
	return err
}

// gracefulShutdown waits for a signal (or a server failure) then stops
// everything within a bounded time.
func (a *App) gracefulShutdown(cancel context.CancelFunc, server *api.Server, sched *Scheduler, serverErr <-chan error) error {
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupt)

	var cause error
	select {
	case <-interrupt:
		fmt.Println("\n🛑 Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			cause = fmt.Errorf("http server: %w", err)
			log.Printf("❌ %v", cause)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	shutdownComplete := make(chan struct{})
	go func() {
		fmt.Println("🌐 Stopping HTTP server...")
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error stopping HTTP server: %v", err)
		}

		if sched != nil {
			fmt.Println("⏰ Stopping scheduler...")
			sched.Stop()
		}

		// Stops the dispatcher, broker and relay
		cancel()

		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		fmt.Println("✅ Graceful shutdown completed")
		return cause
	case <-shutdownCtx.Done():
		fmt.Println("⚠️  Shutdown timeout exceeded, forcing exit")
		cancel()
		return fmt.Errorf("shutdown timeout")
	}
}

// Follow runs the dispatcher in follow mode until SIGINT or SIGTERM
func (a *App) Follow() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Dispatcher.Follow(ctx, a.backend.Wake())
}

// Schedule runs only the cron scheduler until SIGINT or SIGTERM
func (a *App) Schedule() error {
	sched := NewScheduler(a, a.config.Schedule)
	if err := sched.Start(); err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	fmt.Println("\n🛑 Shutdown signal received, waiting for running jobs...")
	sched.Stop()
	return nil
}
