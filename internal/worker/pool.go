package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/table-booking-gateway/internal/queue"
)

// JobProcessor handles one leased job.
type JobProcessor interface {
	Process(ctx context.Context, job queue.Job) error
}

// Pool runs Concurrency consumers over a queue. Each consumer holds at most
// one lease at a time and settles it with Ack or Fail; there is no retry
// inside the pool. A job cut short by ctx ending is released back to the
// queue instead, so a deploy does not burn the attempt. When the queue's
// leases expire, the lease is renewed for as long as the job runs.
type Pool struct {
	Queue       queue.Queue
	Processor   JobProcessor
	Concurrency int

	// RetryDelay is the pause after a failed Dequeue. Defaults to one second.
	RetryDelay time.Duration
}

// errLeaseLost cancels a job whose lease was taken over by another worker.
var errLeaseLost = errors.New("lease taken over by another worker")

// Run blocks until ctx is cancelled or the queue is closed. A job in flight
// when ctx ends is released.
func (p *Pool) Run(ctx context.Context) error {
	n := p.Concurrency
	if n < 1 {
		n = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		slot := i
		g.Go(func() error { return p.consume(gctx, slot) })
	}
	log.Info().Int("workers", n).Msg("delivery workers started")
	err := g.Wait()
	log.Info().Msg("delivery workers stopped")
	return err
}

func (p *Pool) consume(ctx context.Context, slot int) error {
	delay := p.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	for {
		job, err := p.Queue.Dequeue(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, queue.ErrClosed):
			return nil
		default:
			log.Warn().Err(err).Int("slot", slot).Msg("dequeue failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			continue
		}

		p.handle(ctx, job)
	}
}

// handle runs one job under a renewed lease and settles it.
func (p *Pool) handle(ctx context.Context, job queue.Job) {
	jctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stop := p.renew(jctx, job, cancel)
	err := p.Processor.Process(jctx, job)
	stop()
	p.settle(ctx, job, err)
}

// renew extends the job's lease every third of the lease period until the
// returned stop is called. Losing the lease cancels the job.
func (p *Pool) renew(ctx context.Context, job queue.Job, cancel context.CancelCauseFunc) (stop func()) {
	r, ok := p.Queue.(queue.Renewer)
	if !ok || r.LeaseTimeout() <= 0 {
		return func() {}
	}
	interval := max(r.LeaseTimeout()/3, time.Millisecond)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
			}
			err := r.Extend(ctx, job)
			switch {
			case err == nil:
			case errors.Is(err, queue.ErrLeaseLost):
				log.Warn().Str("job_id", job.ID).Int("attempt", job.Attempts).Msg("job lease lost, abandoning")
				cancel(errLeaseLost)
				return
			case ctx.Err() == nil:
				log.Warn().Err(err).Str("job_id", job.ID).Msg("lease renewal failed")
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

// settle acknowledges, fails or releases job. It detaches from ctx
// cancellation so a shutdown does not leave the lease dangling until it
// expires.
func (p *Pool) settle(ctx context.Context, job queue.Job, procErr error) {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	lg := log.With().Str("job_id", job.ID).Int("attempt", job.Attempts).Logger()

	var err error
	switch {
	case procErr == nil:
		err = p.Queue.Ack(sctx, job)
	case ctx.Err() != nil:
		if err = p.Queue.Release(sctx, job); err == nil {
			lg.Info().Msg("job released for redelivery")
		}
	default:
		err = p.Queue.Fail(sctx, job, procErr)
	}

	switch {
	case err == nil:
	case errors.Is(err, queue.ErrLeaseLost):
		lg.Warn().Msg("lease no longer held, leaving job to its current owner")
	default:
		lg.Error().Err(err).Msg("settle job")
	}
}
