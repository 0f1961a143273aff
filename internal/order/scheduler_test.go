package order

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"swap-core/internal/dex"
	"swap-core/internal/monitor"
	"swap-core/pkg/db"
)

func newSchedulerHarness(t *testing.T, provider dex.Provider, cfg SchedulerConfig, qcfg QueueConfig) (*Scheduler, *Queue, *db.Database) {
	t.Helper()

	p, d, _ := newPipelineHarness(t, provider)
	q := newTestQueue(t, qcfg)
	s := NewScheduler(q, p, monitor.NewSystemMetrics(), cfg)
	return s, q, d
}

func waitFor(t *testing.T, within time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSchedulerProcessesJobToConfirmed(t *testing.T) {
	provider := &fakeProvider{
		quotes: map[string]dex.Quote{
			"raydium": {Venue: "raydium", Price: 100, Liquidity: 100},
		},
		exec: dex.Execution{TxHash: "5aa", ExecutedPrice: 100.1},
	}
	s, q, d := newSchedulerHarness(t, provider, SchedulerConfig{Workers: 2}, QueueConfig{})
	insertPending(t, d, "ord-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := q.Submit(marketJob("ord-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return !q.Active("ord-1") }, "job never completed")

	got, err := d.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != StatusConfirmed || got.Attempts != 1 {
		t.Fatalf("order state = %s/%d, expected confirmed/1", got.Status, got.Attempts)
	}
	if m := q.GetMetrics(); m.Completed != 1 {
		t.Fatalf("completed metric = %d, expected 1", m.Completed)
	}

	cancel()
	s.Stop()
}

func TestSchedulerRetriesUntilDeadLetter(t *testing.T) {
	provider := &fakeProvider{
		quotes: map[string]dex.Quote{
			"raydium": {Venue: "raydium", Price: 100, Liquidity: 100},
		},
		execErr: errors.New("venue rejects everything"),
	}

	dead := make(chan Job, 1)
	s, q, d := newSchedulerHarness(t, provider, SchedulerConfig{Workers: 1},
		QueueConfig{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond})
	q.SetDeadLetter(func(job Job, cause error) { dead <- job })
	insertPending(t, d, "ord-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := q.Submit(marketJob("ord-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	var deadJob Job
	select {
	case deadJob = <-dead:
	case <-time.After(5 * time.Second):
		t.Fatal("job never dead-lettered")
	}
	if deadJob.Attempts != 3 {
		t.Fatalf("dead-lettered after %d attempts, expected 3", deadJob.Attempts)
	}

	got, err := d.GetOrder(context.Background(), "ord-1")
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != StatusFailed || got.Attempts != 3 {
		t.Fatalf("order state = %s/%d, expected failed/3", got.Status, got.Attempts)
	}
	if m := q.GetMetrics(); m.Retried != 2 || m.DeadLettered != 1 {
		t.Fatalf("metrics retried=%d dead=%d, expected 2/1", m.Retried, m.DeadLettered)
	}

	cancel()
	s.Stop()
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	provider := &fakeProvider{
		quotes: map[string]dex.Quote{
			"raydium": {Venue: "raydium", Price: 100, Liquidity: 100},
		},
		exec:  dex.Execution{TxHash: "5aa", ExecutedPrice: 100},
		delay: 50 * time.Millisecond,
	}
	s, q, d := newSchedulerHarness(t, provider, SchedulerConfig{Workers: 2}, QueueConfig{Size: 16})

	ids := make([]string, 6)
	for i := range ids {
		ids[i] = fmt.Sprintf("ord-%d", i)
		insertPending(t, d, ids[i])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	for _, id := range ids {
		if err := q.Submit(marketJob(id)); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			if q.Active(id) {
				return false
			}
		}
		return true
	}, "jobs never drained")

	provider.mu.Lock()
	maxSeen := provider.maxConcurrent
	executions := provider.executions
	provider.mu.Unlock()
	if maxSeen > 2 {
		t.Fatalf("observed %d concurrent executions, worker cap is 2", maxSeen)
	}
	if executions != 6 {
		t.Fatalf("executed %d jobs, expected 6", executions)
	}

	cancel()
	s.Stop()
}

func TestSchedulerNoConcurrentRunsForSameOrder(t *testing.T) {
	provider := &fakeProvider{
		quotes: map[string]dex.Quote{
			"raydium": {Venue: "raydium", Price: 100, Liquidity: 100},
		},
		exec:  dex.Execution{TxHash: "5aa", ExecutedPrice: 100},
		delay: 200 * time.Millisecond,
	}
	s, q, d := newSchedulerHarness(t, provider, SchedulerConfig{Workers: 4}, QueueConfig{})
	insertPending(t, d, "ord-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	if err := q.Submit(marketJob("ord-1")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// While the first delivery is mid-execution, a duplicate submit
	// must be rejected instead of starting a second run.
	time.Sleep(50 * time.Millisecond)
	if err := q.Submit(marketJob("ord-1")); !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("duplicate submit while running: expected ErrDuplicateJob, got %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return !q.Active("ord-1") }, "job never completed")

	provider.mu.Lock()
	executions := provider.executions
	provider.mu.Unlock()
	if executions != 1 {
		t.Fatalf("order executed %d times, expected exactly 1", executions)
	}

	cancel()
	s.Stop()
}
