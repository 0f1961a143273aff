package order

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrDuplicateJob means a job for the same order id is already
	// pending or running; the dedup key prevents a second execution.
	ErrDuplicateJob = errors.New("job already queued for order")
	// ErrQueueClosed rejects submissions after shutdown began.
	ErrQueueClosed = errors.New("queue closed")
)

// DeadLetterFunc is invoked when a job exhausts its retry budget.
type DeadLetterFunc func(job Job, cause error)

// QueueConfig tunes durability and the retry policy.
type QueueConfig struct {
	Dir         string // WAL directory
	Prefix      string // namespace for queue artifacts
	Size        int    // ready-channel capacity
	MaxAttempts int    // total delivery attempts before dead-letter
	BackoffBase time.Duration
}

// QueueMetrics tracks queue statistics.
type QueueMetrics struct {
	Written      uint64 `json:"written"`
	Recovered    uint64 `json:"recovered"`
	Completed    uint64 `json:"completed"`
	Retried      uint64 `json:"retried"`
	DeadLettered uint64 `json:"dead_lettered"`
	Failed       uint64 `json:"wal_failures"`
}

const (
	actionEnqueue  = "ENQUEUE"
	actionComplete = "COMPLETE"
	actionDead     = "DEAD"
)

// walEntry represents a single WAL record.
type walEntry struct {
	Action    string    `json:"action"`
	Job       Job       `json:"job"`
	Timestamp time.Time `json:"timestamp"`
}

// Queue is the durable job queue: submissions are deduplicated by order
// id, written to a write-ahead log before becoming visible to workers,
// and redelivered with exponential backoff on failure. Jobs that exhaust
// the attempt budget are dead-lettered, never silently dropped.
type Queue struct {
	cfg  QueueConfig
	ch   chan Job
	quit chan struct{} // closed on shutdown, unblocks pending sends

	mu      sync.Mutex
	active  map[string]bool // order ids pending, running or awaiting retry
	timers  map[string]*time.Timer
	walFile *os.File
	walPath string
	closed  bool

	onDeadLetter DeadLetterFunc
	metrics      QueueMetrics
}

// NewQueue opens (creating if needed) the WAL under dir and returns an
// empty queue. Call Recover before starting workers to restore state
// from a previous run.
func NewQueue(cfg QueueConfig) (*Queue, error) {
	if cfg.Size <= 0 {
		cfg.Size = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "swap-engine"
	}

	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create queue directory: %w", err)
	}

	walPath := filepath.Join(cfg.Dir, cfg.Prefix+".wal")
	file, err := os.OpenFile(walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open WAL file: %w", err)
	}

	return &Queue{
		cfg:     cfg,
		ch:      make(chan Job, cfg.Size),
		quit:    make(chan struct{}),
		active:  make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		walFile: file,
		walPath: walPath,
	}, nil
}

// SetDeadLetter installs the dead-letter callback. Must be called before
// workers start consuming.
func (q *Queue) SetDeadLetter(fn DeadLetterFunc) {
	q.onDeadLetter = fn
}

// Submit enqueues a job for the order. Idempotent per order id: while a
// job for the same id is active a second submit returns ErrDuplicateJob
// without creating a second execution.
func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.active[job.OrderID] {
		q.mu.Unlock()
		return ErrDuplicateJob
	}

	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}

	if err := q.appendWAL(actionEnqueue, job, true); err != nil {
		q.mu.Unlock()
		return err
	}
	q.active[job.OrderID] = true
	atomic.AddUint64(&q.metrics.Written, 1)
	q.mu.Unlock()

	q.ch <- job
	return nil
}

// Ack removes a successfully completed job.
func (q *Queue) Ack(job Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.active[job.OrderID] {
		return
	}
	// No fsync on completion; a crash here redelivers, it never loses.
	if err := q.appendWAL(actionComplete, Job{OrderID: job.OrderID}, false); err != nil {
		log.Printf("queue: WAL complete for %s: %v", job.OrderID, err)
	}
	delete(q.active, job.OrderID)
	atomic.AddUint64(&q.metrics.Completed, 1)
}

// Retry handles a failed delivery. The job's Attempts must already count
// the attempt that failed. Returns true when the job was rescheduled,
// false when it was dead-lettered.
func (q *Queue) Retry(job Job, cause error) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}

	if job.Attempts >= q.cfg.MaxAttempts {
		if err := q.appendWAL(actionDead, job, false); err != nil {
			log.Printf("queue: WAL dead-letter for %s: %v", job.OrderID, err)
		}
		delete(q.active, job.OrderID)
		atomic.AddUint64(&q.metrics.DeadLettered, 1)
		fn := q.onDeadLetter
		q.mu.Unlock()

		log.Printf("queue: job %s dead-lettered after %d attempts: %v", job.OrderID, job.Attempts, cause)
		if fn != nil {
			fn(job, cause)
		}
		return false
	}

	// Record the incremented attempt count so a crash during the
	// backoff window recovers the job without resetting its budget.
	if err := q.appendWAL(actionEnqueue, job, false); err != nil {
		log.Printf("queue: WAL re-enqueue for %s: %v", job.OrderID, err)
	}

	delay := Backoff(job.Attempts, q.cfg.BackoffBase)
	atomic.AddUint64(&q.metrics.Retried, 1)
	q.timers[job.OrderID] = time.AfterFunc(delay, func() { q.redeliver(job) })
	q.mu.Unlock()

	log.Printf("queue: job %s attempt %d failed, retrying in %s: %v", job.OrderID, job.Attempts, delay, cause)
	return true
}

func (q *Queue) redeliver(job Job) {
	q.mu.Lock()
	delete(q.timers, job.OrderID)
	closed := q.closed
	q.mu.Unlock()

	if closed {
		// Leave the WAL entry pending; Recover picks it up next start.
		return
	}
	select {
	case q.ch <- job:
	case <-q.quit:
		// Shutdown won the race; the WAL entry stays pending.
	}
}

// Recover replays the WAL after restart and re-enqueues jobs that were
// neither completed nor dead-lettered. Call before workers start.
func (q *Queue) Recover() error {
	file, err := os.Open(q.walPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open WAL for recovery: %w", err)
	}
	defer file.Close()

	enqueued := make(map[string]Job)
	done := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		var entry walEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			log.Printf("queue: WAL parse error (skipping): %v", err)
			continue
		}
		switch entry.Action {
		case actionEnqueue:
			enqueued[entry.Job.OrderID] = entry.Job
		case actionComplete, actionDead:
			done[entry.Job.OrderID] = true
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("WAL scan: %w", err)
	}

	var pending []Job
	q.mu.Lock()
	for id, job := range enqueued {
		if done[id] || q.active[id] {
			continue
		}
		q.active[id] = true
		pending = append(pending, job)
	}
	atomic.AddUint64(&q.metrics.Recovered, uint64(len(pending)))

	if len(pending) > 0 || len(done) > 10 {
		if err := q.compactWAL(pending); err != nil {
			log.Printf("queue: WAL compaction failed: %v", err)
		}
	}
	q.mu.Unlock()

	if len(pending) > 0 {
		log.Printf("queue: recovered %d pending jobs from WAL", len(pending))
		// Replay off the caller's goroutine: the backlog can exceed the
		// ready channel's capacity and workers start only after Recover
		// returns, so an inline send could block startup forever.
		go func() {
			for _, job := range pending {
				select {
				case q.ch <- job:
				case <-q.quit:
					return
				}
			}
		}()
	}
	return nil
}

// compactWAL rewrites the log with only still-pending entries.
// Caller holds q.mu.
func (q *Queue) compactWAL(pending []Job) error {
	tempPath := q.walPath + ".tmp"
	tempFile, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(tempFile)
	for _, job := range pending {
		entry := walEntry{Action: actionEnqueue, Job: job, Timestamp: job.EnqueuedAt}
		if err := encoder.Encode(entry); err != nil {
			tempFile.Close()
			os.Remove(tempPath)
			return err
		}
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return err
	}
	tempFile.Close()

	q.walFile.Close()
	if err := os.Rename(tempPath, q.walPath); err != nil {
		return err
	}
	q.walFile, err = os.OpenFile(q.walPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	log.Printf("queue: WAL compacted, kept %d pending entries", len(pending))
	return nil
}

// appendWAL writes one record; caller holds q.mu.
func (q *Queue) appendWAL(action string, job Job, sync bool) error {
	if q.walFile == nil {
		return ErrQueueClosed
	}
	entry := walEntry{Action: action, Job: job, Timestamp: time.Now()}
	data, err := json.Marshal(entry)
	if err != nil {
		atomic.AddUint64(&q.metrics.Failed, 1)
		return fmt.Errorf("WAL marshal: %w", err)
	}
	if _, err := q.walFile.Write(append(data, '\n')); err != nil {
		atomic.AddUint64(&q.metrics.Failed, 1)
		return fmt.Errorf("WAL write: %w", err)
	}
	if sync {
		if err := q.walFile.Sync(); err != nil {
			atomic.AddUint64(&q.metrics.Failed, 1)
			return fmt.Errorf("WAL sync: %w", err)
		}
	}
	return nil
}

// Chan exposes the ready-job stream for workers.
func (q *Queue) Chan() <-chan Job {
	return q.ch
}

// Len returns the number of jobs ready for pickup.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Active reports whether a job for the order id is pending, running or
// awaiting a retry.
func (q *Queue) Active(orderID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[orderID]
}

// GetMetrics returns queue statistics.
func (q *Queue) GetMetrics() QueueMetrics {
	return QueueMetrics{
		Written:      atomic.LoadUint64(&q.metrics.Written),
		Recovered:    atomic.LoadUint64(&q.metrics.Recovered),
		Completed:    atomic.LoadUint64(&q.metrics.Completed),
		Retried:      atomic.LoadUint64(&q.metrics.Retried),
		DeadLettered: atomic.LoadUint64(&q.metrics.DeadLettered),
		Failed:       atomic.LoadUint64(&q.metrics.Failed),
	}
}

// Close rejects further submissions, cancels scheduled retries (their
// WAL entries stay pending for the next Recover) and syncs the log.
// Workers draining the channel are stopped by their own context.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.quit)
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
	if q.walFile != nil {
		q.walFile.Sync()
		q.walFile.Close()
		q.walFile = nil
	}
	log.Printf("queue: closed, written=%d completed=%d dead=%d",
		atomic.LoadUint64(&q.metrics.Written),
		atomic.LoadUint64(&q.metrics.Completed),
		atomic.LoadUint64(&q.metrics.DeadLettered))
}
