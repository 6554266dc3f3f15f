package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryQueue is a process-local, non-durable queue. Jobs that are leased
// when the process exits are lost; it suits tests and single-process
// development setups.
type MemoryQueue struct {
	ch chan Job

	closeMu sync.RWMutex // held shared while sending on ch
	closed  bool

	mu       sync.Mutex
	inflight map[string]Job
	failed   map[string]string
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns a queue holding up to capacity pending jobs.
// Enqueue blocks while the buffer is full.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryQueue{
		ch:       make(chan Job, capacity),
		inflight: make(map[string]Job),
		failed:   make(map[string]string),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, from, text string) (Handle, error) {
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return Handle{}, ErrClosed
	}

	j := Job{
		ID:             uuid.NewString(),
		FromIdentifier: from,
		QueryText:      text,
		EnqueuedAt:     time.Now().UTC(),
	}
	select {
	case q.ch <- j:
		return Handle{ID: j.ID, EnqueuedAt: j.EnqueuedAt}, nil
	case <-ctx.Done():
		return Handle{}, ctx.Err()
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context) (Job, error) {
	select {
	case j, ok := <-q.ch:
		if !ok {
			return Job{}, ErrClosed
		}
		j.Attempts++
		q.mu.Lock()
		q.inflight[j.ID] = j
		q.mu.Unlock()
		return j, nil
	case <-ctx.Done():
		return Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Ack(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.settleLocked(job)
}

func (q *MemoryQueue) Fail(_ context.Context, job Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.settleLocked(job); err != nil {
		return err
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	q.failed[job.ID] = msg
	return nil
}

// Release puts the job back at the tail of the buffer with its attempt
// count restored.
func (q *MemoryQueue) Release(ctx context.Context, job Job) error {
	q.mu.Lock()
	err := q.settleLocked(job)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	job.Attempts--
	select {
	case q.ch <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settleLocked drops job from the in-flight set if the caller holds its
// current attempt.
func (q *MemoryQueue) settleLocked(job Job) error {
	cur, ok := q.inflight[job.ID]
	if !ok || cur.Attempts != job.Attempts {
		return ErrLeaseLost
	}
	delete(q.inflight, job.ID)
	return nil
}

// Len reports the number of jobs waiting to be dequeued.
func (q *MemoryQueue) Len() int { return len(q.ch) }

// InFlight reports the number of leased, unacknowledged jobs.
func (q *MemoryQueue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// FailedCause returns the recorded cause for a failed job.
func (q *MemoryQueue) FailedCause(id string) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.failed[id]
	return c, ok
}

// Close stops accepting jobs. Pending jobs can still be drained.
func (q *MemoryQueue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
}
