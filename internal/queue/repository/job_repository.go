package repository

import (
	"sync"
	"time"

	"github.com/elie222/inbox-zero-sub019/internal/queue/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// candidateBatch bounds how many queues one Lease call inspects.
const candidateBatch = 200

type gormJobRepository struct {
	db *gorm.DB
	// leaseMu serializes the count-then-claim step inside this process;
	// the conditional UPDATE keeps other processes from double claiming.
	leaseMu sync.Mutex
}

func NewJobRepository(db *gorm.DB) JobRepository {
	return &gormJobRepository{db: db}
}

func (r *gormJobRepository) Enqueue(job *domain.Job) (bool, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.RunAt.IsZero() {
		job.RunAt = now
	}
	if job.Status == "" {
		job.Status = domain.JobQueued
	}

	tx := r.db
	if job.DedupeKey != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedupe_key"}},
			DoNothing: true,
		})
	}
	result := tx.Create(job)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Lease claims up to limit runnable jobs. Queues already at their
// parallelism are excluded in the query, and candidates are taken per
// queue, so a long backlog on one queue cannot hide other queues' jobs.
func (r *gormJobRepository) Lease(owner string, now time.Time, leaseFor time.Duration, limit int) ([]*domain.Job, error) {
	r.leaseMu.Lock()
	defer r.leaseMu.Unlock()

	saturated := r.db.Model(&domain.Job{}).
		Select("queue").
		Where("status = ?", domain.JobRunning).
		Group("queue").
		Having("COUNT(*) >= MAX(parallelism)")

	var queues []string
	err := r.db.Model(&domain.Job{}).
		Where("status = ? AND run_at <= ?", domain.JobQueued, now).
		Where("queue NOT IN (?)", saturated).
		Group("queue").
		Order("MIN(run_at) ASC").
		Limit(candidateBatch).
		Pluck("queue", &queues).Error
	if err != nil || len(queues) == 0 {
		return nil, err
	}

	expires := now.Add(leaseFor)
	var leased []*domain.Job
	for _, queue := range queues {
		if len(leased) >= limit {
			break
		}
		var running int64
		if err := r.db.Model(&domain.Job{}).
			Where("queue = ? AND status = ?", queue, domain.JobRunning).
			Count(&running).Error; err != nil {
			return leased, err
		}

		var candidates []*domain.Job
		if err := r.db.Where("queue = ? AND status = ? AND run_at <= ?", queue, domain.JobQueued, now).
			Order("run_at ASC, created_at ASC").
			Limit(limit - len(leased)).
			Find(&candidates).Error; err != nil {
			return leased, err
		}

		for _, job := range candidates {
			parallelism := job.Parallelism
			if parallelism < 1 {
				parallelism = 1
			}
			if running >= int64(parallelism) {
				break
			}

			result := r.db.Model(&domain.Job{}).
				Where("id = ? AND status = ?", job.ID, domain.JobQueued).
				Updates(map[string]interface{}{
					"status":           domain.JobRunning,
					"lease_owner":      owner,
					"lease_expires_at": expires,
					"attempts":         gorm.Expr("attempts + 1"),
					"updated_at":       now,
				})
			if result.Error != nil {
				return leased, result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			running++

			job.Status = domain.JobRunning
			job.LeaseOwner = owner
			job.LeaseExpiresAt = &expires
			job.Attempts++
			leased = append(leased, job)
		}
	}
	return leased, nil
}

func (r *gormJobRepository) Complete(id string) error {
	return r.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           domain.JobSucceeded,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       "",
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (r *gormJobRepository) Fail(id, lastError string, retryAt time.Time, park bool) error {
	status := domain.JobQueued
	if park {
		status = domain.JobParked
	}
	return r.db.Model(&domain.Job{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":           status,
		"run_at":           retryAt,
		"lease_owner":      "",
		"lease_expires_at": nil,
		"last_error":       lastError,
		"updated_at":       time.Now().UTC(),
	}).Error
}

func (r *gormJobRepository) ReapExpired(now time.Time) (int64, error) {
	result := r.db.Model(&domain.Job{}).
		Where("status = ? AND lease_expires_at < ?", domain.JobRunning, now).
		Updates(map[string]interface{}{
			"status":           domain.JobQueued,
			"lease_owner":      "",
			"lease_expires_at": nil,
			"last_error":       "lease expired",
			"updated_at":       now,
		})
	return result.RowsAffected, result.Error
}

func (r *gormJobRepository) FindByID(id string) (*domain.Job, error) {
	var job domain.Job
	err := r.db.Where("id = ?", id).First(&job).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

func (r *gormJobRepository) ListParked(limit, offset int) ([]*domain.Job, int64, error) {
	var jobs []*domain.Job
	var total int64
	query := r.db.Model(&domain.Job{}).Where("status = ?", domain.JobParked)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := query.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error
	return jobs, total, err
}

// Requeue gives a parked job a fresh set of attempts.
func (r *gormJobRepository) Requeue(id string, now time.Time) error {
	result := r.db.Model(&domain.Job{}).
		Where("id = ? AND status = ?", id, domain.JobParked).
		Updates(map[string]interface{}{
			"status":     domain.JobQueued,
			"attempts":   0,
			"run_at":     now,
			"updated_at": now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// PurgeSucceeded deletes finished jobs. Dedupe keys of purged jobs become
// reusable, so the retention must outlive any dedupe window.
func (r *gormJobRepository) PurgeSucceeded(before time.Time) (int64, error) {
	result := r.db.Where("status = ? AND updated_at < ?", domain.JobSucceeded, before).Delete(&domain.Job{})
	return result.RowsAffected, result.Error
}
