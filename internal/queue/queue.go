// Package queue carries accepted inbound messages from webhook ingestion to
// the delivery workers.
//
// Delivery is at-least-once: a job handed out by Dequeue stays leased until
// Ack, Fail or Release is called. If the holder disappears, the durable
// implementation hands the job out again once the lease times out. A lease
// is identified by the job ID and its attempt number, so a holder whose
// lease lapsed cannot settle the next holder's attempt. Jobs are never
// deduplicated, so duplicate webhook deliveries produce duplicate jobs.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/tbourn/table-booking-gateway/internal/repo"
)

// ErrClosed is returned by Dequeue on a queue that has been shut down.
var ErrClosed = errors.New("queue closed")

// ErrLeaseLost is returned by Ack, Fail, Release and Extend when the caller
// no longer holds the job's lease.
var ErrLeaseLost = repo.ErrLeaseLost

// Job is one unit of work: reply to QueryText for the sender FromIdentifier.
type Job struct {
	ID             string
	FromIdentifier string
	QueryText      string
	EnqueuedAt     time.Time
	Attempts       int
}

// Handle identifies an enqueued job to the producer.
type Handle struct {
	ID         string
	EnqueuedAt time.Time
}

// Queue is the contract shared by the durable and in-memory backends.
// Implementations must be safe for concurrent use by many producers and
// consumers.
type Queue interface {
	// Enqueue stores a job for the sender and returns once it is accepted.
	Enqueue(ctx context.Context, from, text string) (Handle, error)
	// Dequeue blocks until a job is leased to the caller or ctx ends.
	Dequeue(ctx context.Context) (Job, error)
	// Ack marks a leased job as completed.
	Ack(ctx context.Context, job Job) error
	// Fail marks a leased job as failed with the given cause.
	Fail(ctx context.Context, job Job, cause error) error
	// Release hands a leased job back without consuming the attempt. It is
	// used for work interrupted by shutdown.
	Release(ctx context.Context, job Job) error
}

// Renewer is implemented by queues whose leases expire. Extend pushes the
// lease of job out by one full lease period.
type Renewer interface {
	Extend(ctx context.Context, job Job) error
	LeaseTimeout() time.Duration
}
