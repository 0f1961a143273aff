package order

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"swap-core/internal/monitor"
)

// SchedulerConfig bounds concurrency and global throughput.
type SchedulerConfig struct {
	Workers         int           // concurrent execution slots
	RateLimitMax    int           // jobs per window across all slots
	RateLimitWindow time.Duration // rolling window for the cap
}

// Scheduler runs a bounded pool of workers over the queue. Each slot
// independently waits on the global rate limiter, dequeues a ready job
// and runs the pipeline to completion; success acks the job, failure
// hands it back to the queue for retry or dead-letter.
type Scheduler struct {
	queue    *Queue
	pipeline *Pipeline
	metrics  *monitor.SystemMetrics
	limiter  *rate.Limiter
	workers  int
	wg       sync.WaitGroup
}

func NewScheduler(queue *Queue, pipeline *Pipeline, metrics *monitor.SystemMetrics, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = 60 * time.Second
	}

	// Token bucket sized to the window cap: allows a full burst, then
	// refills at max/window.
	limit := rate.Limit(float64(cfg.RateLimitMax) / cfg.RateLimitWindow.Seconds())

	return &Scheduler{
		queue:    queue,
		pipeline: pipeline,
		metrics:  metrics,
		limiter:  rate.NewLimiter(limit, cfg.RateLimitMax),
		workers:  cfg.Workers,
	}
}

// Start launches the worker slots. They stop when ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Printf("scheduler: starting %d workers (cap %v/s burst %d)", s.workers, s.limiter.Limit(), s.limiter.Burst())
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
}

// Stop blocks until all in-flight jobs have finished.
func (s *Scheduler) Stop() {
	s.wg.Wait()
	log.Printf("scheduler: stopped")
}

func (s *Scheduler) worker(ctx context.Context, slot int) {
	defer s.wg.Done()

	for {
		// Throughput cap applies before dequeuing work.
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue.Chan():
			s.run(ctx, slot, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, slot int, job Job) {
	attempt := job.Attempts + 1
	job.Attempts = attempt

	log.Printf("scheduler: slot %d picked up job %s (attempt %d)", slot, job.OrderID, attempt)

	// Once picked up, a job runs to a terminal state even during
	// shutdown; there is no mid-pipeline abort.
	runCtx := context.WithoutCancel(ctx)

	timer := monitor.NewTimer(s.metrics.PipelineLatency)
	err := s.pipeline.Run(runCtx, job, attempt)
	elapsed := timer.Stop()

	if err == nil {
		s.queue.Ack(job)
		s.metrics.IncrementOrders()
		log.Printf("scheduler: job %s complete in %v", job.OrderID, elapsed)
		return
	}

	s.metrics.IncrementFailed()
	if s.queue.Retry(job, err) {
		s.metrics.IncrementRetried()
	} else {
		s.metrics.IncrementDeadLettered()
	}
}
