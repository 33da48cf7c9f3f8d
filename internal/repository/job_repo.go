package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kwong/prefscope/internal/domain"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("record not found")

// JobRepository persists testing jobs and their lifecycle transitions.
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job row and fills in its ID.
func (r *JobRepository) Create(ctx context.Context, job *domain.TestingJob) error {
	return r.db.WithContext(ctx).Create(job).Error
}

// Get returns the job with the given ID.
func (r *JobRepository) Get(ctx context.Context, id uint) (*domain.TestingJob, error) {
	var job domain.TestingJob
	err := r.db.WithContext(ctx).First(&job, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetByModel returns the most recent job for a model name, if any.
func (r *JobRepository) GetByModel(ctx context.Context, modelName string) (*domain.TestingJob, error) {
	var job domain.TestingJob
	err := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Order("id DESC").
		First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListModels returns the distinct model names that have jobs, newest first.
func (r *JobRepository) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	err := r.db.WithContext(ctx).
		Model(&domain.TestingJob{}).
		Distinct("model_name").
		Order("model_name").
		Pluck("model_name", &names).Error
	return names, err
}

// MarkRunning transitions a pending job to running and stamps the start
// time. A job that already left pending cannot re-enter running.
func (r *JobRepository) MarkRunning(ctx context.Context, id uint) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).
		Model(&domain.TestingJob{}).
		Where("id = ? AND status = ?", id, domain.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     domain.JobStatusRunning,
			"started_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkTerminal transitions the job to a terminal status and freezes the
// final counts.
func (r *JobRepository) MarkTerminal(ctx context.Context, id uint, status domain.JobStatus, processed, dropped int64) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&domain.TestingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":          status,
			"processed_count": processed,
			"dropped_count":   dropped,
			"completed_at":    &now,
		}).Error
}

// UpdateProgress persists the running counters without touching status.
func (r *JobRepository) UpdateProgress(ctx context.Context, id uint, processed, dropped int64) error {
	return r.db.WithContext(ctx).
		Model(&domain.TestingJob{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_count": processed,
			"dropped_count":   dropped,
		}).Error
}

// DeleteByModel removes every job for a model. Response rows cascade through
// the foreign key; category counts are handled by the category repository.
func (r *JobRepository) DeleteByModel(ctx context.Context, modelName string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Delete(&domain.TestingJob{})
	return res.RowsAffected, res.Error
}
