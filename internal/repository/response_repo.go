package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/kwong/prefscope/internal/domain"
)

// ResponseRepository persists individual classified answers.
type ResponseRepository struct {
	db *gorm.DB
}

func NewResponseRepository(db *gorm.DB) *ResponseRepository {
	return &ResponseRepository{db: db}
}

// Create inserts a classified answer row.
func (r *ResponseRepository) Create(ctx context.Context, rec *domain.ResponseRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

// Get returns one response row by ID.
func (r *ResponseRepository) Get(ctx context.Context, id uint) (*domain.ResponseRecord, error) {
	var rec domain.ResponseRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByJobQuestion returns every stored answer for one question of one job.
func (r *ResponseRepository) ListByJobQuestion(ctx context.Context, jobID uint, questionID string) ([]domain.ResponseRecord, error) {
	var recs []domain.ResponseRecord
	err := r.db.WithContext(ctx).
		Where("job_id = ? AND question_id = ?", jobID, questionID).
		Order("id").
		Find(&recs).Error
	return recs, err
}

// ListByModelQuestion returns every stored answer a model gave to a question,
// across all of its jobs.
func (r *ResponseRepository) ListByModelQuestion(ctx context.Context, modelName, questionID string) ([]domain.ResponseRecord, error) {
	var recs []domain.ResponseRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN testing_jobs ON testing_jobs.id = response_records.job_id").
		Where("testing_jobs.model_name = ? AND response_records.question_id = ?", modelName, questionID).
		Order("response_records.id").
		Find(&recs).Error
	return recs, err
}

// ListFlagged returns every flagged answer for a model.
func (r *ResponseRepository) ListFlagged(ctx context.Context, modelName string) ([]domain.ResponseRecord, error) {
	var recs []domain.ResponseRecord
	err := r.db.WithContext(ctx).
		Joins("JOIN testing_jobs ON testing_jobs.id = response_records.job_id").
		Where("testing_jobs.model_name = ? AND response_records.is_flagged = ?", modelName, true).
		Order("response_records.id").
		Find(&recs).Error
	return recs, err
}

// Flag marks one answer as miscategorized and records the corrected label.
// Passing an empty correction clears the flag.
func (r *ResponseRepository) Flag(ctx context.Context, id uint, correctedCategory string) error {
	updates := map[string]interface{}{
		"is_flagged":         correctedCategory != "",
		"corrected_category": nil,
		"flagged_at":         nil,
	}
	if correctedCategory != "" {
		now := time.Now().UTC()
		updates["corrected_category"] = correctedCategory
		updates["flagged_at"] = &now
	}
	res := r.db.WithContext(ctx).
		Model(&domain.ResponseRecord{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByJobQuestion returns the number of stored answers for a job, by
// question.
func (r *ResponseRepository) CountByJobQuestion(ctx context.Context, jobID uint) (map[string]int64, error) {
	var rows []struct {
		QuestionID string
		Total      int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.ResponseRecord{}).
		Select("question_id, COUNT(*) AS total").
		Where("job_id = ?", jobID).
		Group("question_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.QuestionID] = row.Total
	}
	return counts, nil
}

// CountByJob returns the number of stored answers for a job, by tier.
func (r *ResponseRepository) CountByJob(ctx context.Context, jobID uint) (map[domain.Tier]int64, error) {
	var rows []struct {
		Tier  domain.Tier
		Total int64
	}
	err := r.db.WithContext(ctx).
		Model(&domain.ResponseRecord{}).
		Select("tier, COUNT(*) AS total").
		Where("job_id = ?", jobID).
		Group("tier").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[domain.Tier]int64, len(rows))
	for _, row := range rows {
		counts[row.Tier] = row.Total
	}
	return counts, nil
}

// DeleteByModel removes every answer belonging to a model's jobs.
func (r *ResponseRepository) DeleteByModel(ctx context.Context, modelName string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("job_id IN (?)", r.db.Model(&domain.TestingJob{}).Select("id").Where("model_name = ?", modelName)).
		Delete(&domain.ResponseRecord{})
	return res.RowsAffected, res.Error
}
