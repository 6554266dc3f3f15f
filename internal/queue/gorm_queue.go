package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/table-booking-gateway/internal/domain"
	"github.com/tbourn/table-booking-gateway/internal/repo"
)

// GormOptions tunes a GormQueue. Zero values fall back to defaults.
type GormOptions struct {
	LeaseTimeout time.Duration // how long a dequeued job stays invisible
	PollInterval time.Duration // idle wait between claim attempts
	MaxAttempts  int           // deliveries before an expired job is failed
}

// GormQueue is a durable queue stored in the jobs table of the application
// database. Producers and consumers may live in different processes; local
// consumers are woken immediately on Enqueue, remote ones on their next poll.
type GormQueue struct {
	db     *gorm.DB
	opts   GormOptions
	notify chan struct{}
	now    func() time.Time
}

var (
	_ Queue   = (*GormQueue)(nil)
	_ Renewer = (*GormQueue)(nil)
)

// NewGormQueue builds a GormQueue over db. The jobs table must already be
// migrated (see repo.AutoMigrate).
func NewGormQueue(db *gorm.DB, opts GormOptions) *GormQueue {
	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &GormQueue{
		db:     db,
		opts:   opts,
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Enqueue inserts a pending job row.
func (q *GormQueue) Enqueue(ctx context.Context, from, text string) (Handle, error) {
	j, err := repo.InsertJob(ctx, q.db, from, text)
	if err != nil {
		return Handle{}, err
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return Handle{ID: j.ID, EnqueuedAt: j.CreatedAt}, nil
}

// Dequeue leases the oldest available job, waiting while none is available.
func (q *GormQueue) Dequeue(ctx context.Context) (Job, error) {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		row, err := repo.ClaimNextJob(ctx, q.db, q.now(), q.opts.LeaseTimeout, q.opts.MaxAttempts)
		switch {
		case err == nil:
			return toJob(row), nil
		case !errors.Is(err, repo.ErrNotFound):
			if ctx.Err() != nil {
				return Job{}, ctx.Err()
			}
			log.Warn().Err(err).Msg("queue claim failed")
		}

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-q.notify:
		case <-ticker.C:
		}
	}
}

// Ack marks the job done.
func (q *GormQueue) Ack(ctx context.Context, job Job) error {
	return repo.CompleteJob(ctx, q.db, job.ID, job.Attempts)
}

// Fail marks the job failed and records the cause.
func (q *GormQueue) Fail(ctx context.Context, job Job, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return repo.FailJob(ctx, q.db, job.ID, job.Attempts, msg)
}

// Release returns the job to pending and wakes a local consumer.
func (q *GormQueue) Release(ctx context.Context, job Job) error {
	if err := repo.ReleaseJob(ctx, q.db, job.ID, job.Attempts); err != nil {
		return err
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Extend renews the job's lease from now.
func (q *GormQueue) Extend(ctx context.Context, job Job) error {
	return repo.ExtendJobLease(ctx, q.db, job.ID, job.Attempts, q.now().Add(q.opts.LeaseTimeout))
}

// LeaseTimeout reports the configured lease period.
func (q *GormQueue) LeaseTimeout() time.Duration { return q.opts.LeaseTimeout }

func toJob(row *domain.Job) Job {
	return Job{
		ID:             row.ID,
		FromIdentifier: row.FromIdentifier,
		QueryText:      row.QueryText,
		EnqueuedAt:     row.CreatedAt,
		Attempts:       row.Attempts,
	}
}
