// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file holds the statements behind the durable job
// queue: insert, lease claim, renewal, ack, fail and release.
//
// Leasing uses an optimistic conditional UPDATE keyed on the row's current
// status and attempt count, so two workers polling the same table can never
// both win the same row. Every later statement on a leased row is scoped the
// same way, so a worker whose lease expired cannot settle the new holder's
// attempt. It works unchanged on SQLite and PostgreSQL.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/table-booking-gateway/internal/domain"
)

// ErrAttemptsExhausted is recorded on jobs whose lease expired after their
// final allowed attempt.
var ErrAttemptsExhausted = errors.New("attempts exhausted")

// maxClaimRaces bounds how many lost races ClaimNextJob tolerates in a
// single call before reporting that nothing is available.
const maxClaimRaces = 8

// InsertJob stores a new pending job under a fresh UUID.
func InsertJob(ctx context.Context, db *gorm.DB, from, query string) (*domain.Job, error) {
	now := time.Now().UTC()
	j := &domain.Job{
		ID:             uuid.NewString(),
		FromIdentifier: from,
		QueryText:      query,
		Status:         domain.JobPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return j, db.WithContext(ctx).Create(j).Error
}

// ClaimNextJob leases the oldest deliverable job: pending rows, or leased
// rows whose lease ended before now. A claimed row moves to leased with
// lease_until = now+lease and its attempt count incremented.
//
// Expired rows that already used maxAttempts are moved to failed instead of
// being handed out again. ErrNotFound is returned when nothing is claimable.
func ClaimNextJob(ctx context.Context, db *gorm.DB, now time.Time, lease time.Duration, maxAttempts int) (*domain.Job, error) {
	now = now.UTC()
	for i := 0; i < maxClaimRaces; i++ {
		var cand domain.Job
		err := db.WithContext(ctx).
			Where("status = ? OR (status = ? AND lease_until < ?)", domain.JobPending, domain.JobLeased, now).
			Order("created_at ASC, id ASC").
			First(&cand).Error
		if err != nil {
			return nil, err
		}

		guard := db.WithContext(ctx).Model(&domain.Job{}).
			Where("id = ? AND status = ? AND attempts = ?", cand.ID, cand.Status, cand.Attempts)

		if cand.Status == domain.JobLeased && maxAttempts > 0 && cand.Attempts >= maxAttempts {
			if err := guard.Updates(map[string]any{
				"status":      domain.JobFailed,
				"last_error":  ErrAttemptsExhausted.Error(),
				"lease_until": nil,
				"updated_at":  now,
			}).Error; err != nil {
				return nil, err
			}
			continue
		}

		until := now.Add(lease)
		res := guard.Updates(map[string]any{
			"status":      domain.JobLeased,
			"attempts":    cand.Attempts + 1,
			"lease_until": until,
			"updated_at":  now,
		})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected != 1 {
			continue // another worker won this row
		}

		cand.Status = domain.JobLeased
		cand.Attempts++
		cand.LeaseUntil = &until
		cand.UpdatedAt = now
		return &cand, nil
	}
	return nil, ErrNotFound
}

// GetJob fetches a job by ID.
func GetJob(ctx context.Context, db *gorm.DB, id string) (*domain.Job, error) {
	var j domain.Job
	if err := db.WithContext(ctx).Where("id = ?", id).First(&j).Error; err != nil {
		return nil, err
	}
	return &j, nil
}

// ErrLeaseLost is returned when a settle or renew statement finds the row
// no longer leased under the caller's attempt: the lease expired and another
// worker claimed the job, or the job was already settled.
var ErrLeaseLost = errors.New("job lease lost")

// CompleteJob marks the lease identified by (id, attempt) done.
func CompleteJob(ctx context.Context, db *gorm.DB, id string, attempt int) error {
	return updateLease(ctx, db, id, attempt, map[string]any{
		"status":      domain.JobDone,
		"last_error":  "",
		"lease_until": nil,
	})
}

// FailJob marks the lease identified by (id, attempt) failed with cause.
func FailJob(ctx context.Context, db *gorm.DB, id string, attempt int, cause string) error {
	return updateLease(ctx, db, id, attempt, map[string]any{
		"status":      domain.JobFailed,
		"last_error":  cause,
		"lease_until": nil,
	})
}

// ReleaseJob puts a leased job back to pending and gives the attempt back,
// for work abandoned at shutdown rather than failed.
func ReleaseJob(ctx context.Context, db *gorm.DB, id string, attempt int) error {
	return updateLease(ctx, db, id, attempt, map[string]any{
		"status":      domain.JobPending,
		"attempts":    max(attempt-1, 0),
		"lease_until": nil,
	})
}

// ExtendJobLease moves the lease deadline of (id, attempt) to until.
func ExtendJobLease(ctx context.Context, db *gorm.DB, id string, attempt int, until time.Time) error {
	return updateLease(ctx, db, id, attempt, map[string]any{
		"lease_until": until.UTC(),
	})
}

func updateLease(ctx context.Context, db *gorm.DB, id string, attempt int, cols map[string]any) error {
	cols["updated_at"] = time.Now().UTC()
	res := db.WithContext(ctx).Model(&domain.Job{}).
		Where("id = ? AND status = ? AND attempts = ?", id, domain.JobLeased, attempt).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CountJobs returns the number of jobs in the given status.
func CountJobs(ctx context.Context, db *gorm.DB, status domain.JobStatus) (int64, error) {
	var n int64
	err := db.WithContext(ctx).Model(&domain.Job{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
