package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"swap-core/internal/api"
	"swap-core/internal/dex"
	"swap-core/internal/monitor"
	"swap-core/internal/order"
	"swap-core/internal/stream"
	"swap-core/pkg/config"
	"swap-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("main: config load failed: %v", err)
	}
	log.Printf("main: starting swap-core on port %s", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("main: db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("main: db migrations failed: %v", err)
	}
	log.Printf("main: using database %s", cfg.DBPath)

	venues := dex.DefaultVenues()
	if cfg.VenuesConfig != "" {
		venues, err = dex.LoadVenues(cfg.VenuesConfig)
		if err != nil {
			log.Fatalf("main: venues config failed: %v", err)
		}
	}
	provider := dex.NewSimProvider(venues, dex.DefaultSimConfig(cfg.BasePrice))
	router := dex.NewRouter(venues, provider, cfg.QuoteTimeout)
	log.Printf("main: routing across venues %v", router.Venues())

	broadcaster := stream.NewBroadcaster()
	metrics := monitor.NewSystemMetrics()

	queue, err := order.NewQueue(order.QueueConfig{
		Dir:         cfg.QueueDir,
		Prefix:      cfg.QueuePrefix,
		Size:        cfg.QueueSize,
		MaxAttempts: cfg.RetryAttempts,
		BackoffBase: cfg.RetryBackoffBase,
	})
	if err != nil {
		log.Fatalf("main: queue init failed: %v", err)
	}
	queue.SetDeadLetter(func(job order.Job, cause error) {
		// Terminal: the order row already carries the failed state, this
		// marks the exhaustion distinctly for operators.
		log.Printf("main: order %s exhausted %d attempts: %v", job.OrderID, job.Attempts, cause)
	})
	if err := queue.Recover(); err != nil {
		log.Printf("main: WAL recovery error: %v", err)
	}

	pipeline := &order.Pipeline{
		DB:          database,
		Broadcaster: broadcaster,
		Router:      router,
		Provider:    provider,
		Metrics:     metrics,
		SubmitDelay: cfg.SubmitDelay,
	}

	scheduler := order.NewScheduler(queue, pipeline, metrics, order.SchedulerConfig{
		Workers:         cfg.WorkerConcurrency,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	})
	scheduler.Start(ctx)

	buildVersion := os.Getenv("APP_VERSION")
	if buildVersion == "" {
		buildVersion = "v1.0-dev"
	}
	server := api.NewServer(database, queue, broadcaster, metrics, api.SystemMeta{
		Venues:  router.Venues(),
		Version: buildVersion,
	})
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("main: api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("main: shutting down")

	// Stop dequeuing, let in-flight jobs reach a terminal state, then
	// release the queue and subscriber map.
	cancel()
	scheduler.Stop()
	queue.Close()
	broadcaster.Close()
}
