// Package jobs correlates asynchronous operations with their waiters.
// Each job is a one-shot handle: it settles exactly once, by
// resolution, rejection, or deadline expiry, and late settlements are
// dropped silently. Losing a job entry costs the waiter a timeout but
// never loses data, since the authoritative store is written before the
// job resolves.
package jobs

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/memory"
)

// DefaultTimeout bounds how long a waiter blocks on a job.
const DefaultTimeout = 30 * time.Second

// Outcome is what a waiter receives when a job settles.
type Outcome struct {
	// Value is the producer's result. Nil on rejection or timeout.
	Value any

	// Err is non-nil when the job was rejected or timed out. Timeouts
	// satisfy errors.Is(err, memory.ErrTimeout).
	Err error
}

type job struct {
	done    chan Outcome
	timer   *time.Timer
	created time.Time
}

// Queue is the in-process job table. Safe for concurrent use; the
// mutex guards only map insertion, lookup, and removal.
type Queue struct {
	timeout time.Duration
	logger  *zap.Logger

	mu      sync.Mutex
	pending map[string]*job
	closed  bool
}

// NewQueue creates a queue whose jobs expire after timeout.
func NewQueue(timeout time.Duration, logger *zap.Logger) *Queue {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*job),
	}
}

// NewID returns a fresh 128-bit random job id as 32 hex characters.
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Create registers a new job and returns its id plus the channel the
// settlement will arrive on. The channel receives exactly one Outcome.
func (q *Queue) Create() (string, <-chan Outcome) {
	id := NewID()
	j := &job{
		done:    make(chan Outcome, 1),
		created: time.Now(),
	}
	j.timer = time.AfterFunc(q.timeout, func() { q.expire(id) })

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		j.timer.Stop()
		j.done <- Outcome{Err: memory.ErrTimeout}
		return id, j.done
	}
	q.pending[id] = j
	q.mu.Unlock()
	return id, j.done
}

// Resolve settles id with value. Returns false when the job is unknown
// or already settled; the value is then dropped silently.
func (q *Queue) Resolve(id string, value any) bool {
	return q.settle(id, Outcome{Value: value})
}

// Reject settles id with err.
func (q *Queue) Reject(id string, err error) bool {
	return q.settle(id, Outcome{Err: err})
}

// Cancel removes id without delivering anything. The waiter must have
// stopped listening; used when a caller abandons a job early.
func (q *Queue) Cancel(id string) {
	q.mu.Lock()
	j, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if ok {
		j.timer.Stop()
	}
}

// StillWanted reports whether a waiter is still registered for id.
// Producers check this before doing deliverable work for a job.
func (q *Queue) StillWanted(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[id]
	return ok
}

// Pending returns the number of unsettled jobs.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Close rejects every pending job with a timeout and refuses new ones.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := q.pending
	q.pending = make(map[string]*job)
	q.mu.Unlock()

	for id, j := range remaining {
		j.timer.Stop()
		j.done <- Outcome{Err: memory.ErrTimeout}
		q.logger.Debug("job rejected at shutdown", zap.String("job_id", id))
	}
}

// settle removes id under the lock and delivers out. At most one caller
// can win the removal, so the buffered send never blocks.
func (q *Queue) settle(id string, out Outcome) bool {
	q.mu.Lock()
	j, ok := q.pending[id]
	if ok {
		delete(q.pending, id)
	}
	q.mu.Unlock()
	if !ok {
		return false
	}
	j.timer.Stop()
	j.done <- out
	return true
}

func (q *Queue) expire(id string) {
	if q.settle(id, Outcome{Err: memory.ErrTimeout}) {
		q.logger.Debug("job timed out", zap.String("job_id", id))
	}
}
