package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kwong/prefscope/internal/domain"
)

// CategoryRepository persists aggregated category counts per question and
// model.
type CategoryRepository struct {
	db *gorm.DB
}

func NewCategoryRepository(db *gorm.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// IncrementCount bumps the count for a (question, category, model) triple,
// inserting the row on first sight.
func (r *CategoryRepository) IncrementCount(ctx context.Context, questionID, category, modelName string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "question_id"},
				{Name: "category"},
				{Name: "model_name"},
			},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"count": gorm.Expr("category_counts.count + 1"),
			}),
		}).
		Create(&domain.CategoryCount{
			QuestionID: questionID,
			Category:   category,
			ModelName:  modelName,
			Count:      1,
		}).Error
}

// AdjustCount shifts the count for a (question, category, model) triple by
// delta, creating the row when it does not exist. Rows never go below zero.
func (r *CategoryRepository) AdjustCount(ctx context.Context, questionID, category, modelName string, delta int64) error {
	if delta == 0 {
		return nil
	}
	if delta > 0 {
		return r.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "question_id"},
					{Name: "category"},
					{Name: "model_name"},
				},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"count": gorm.Expr("category_counts.count + ?", delta),
				}),
			}).
			Create(&domain.CategoryCount{
				QuestionID: questionID,
				Category:   category,
				ModelName:  modelName,
				Count:      int(delta),
			}).Error
	}
	return r.db.WithContext(ctx).
		Model(&domain.CategoryCount{}).
		Where("question_id = ? AND category = ? AND model_name = ? AND count >= ?", questionID, category, modelName, -delta).
		Update("count", gorm.Expr("count + ?", delta)).Error
}

// ListByQuestion returns the counts for one question and model, largest first.
func (r *CategoryRepository) ListByQuestion(ctx context.Context, questionID, modelName string) ([]domain.CategoryCount, error) {
	var counts []domain.CategoryCount
	err := r.db.WithContext(ctx).
		Where("question_id = ? AND model_name = ?", questionID, modelName).
		Order("count DESC, category").
		Find(&counts).Error
	return counts, err
}

// ListByModel returns every count row for a model across all questions.
func (r *CategoryRepository) ListByModel(ctx context.Context, modelName string) ([]domain.CategoryCount, error) {
	var counts []domain.CategoryCount
	err := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Order("question_id, count DESC, category").
		Find(&counts).Error
	return counts, err
}

// DeleteByModel removes every count row for a model.
func (r *CategoryRepository) DeleteByModel(ctx context.Context, modelName string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("model_name = ?", modelName).
		Delete(&domain.CategoryCount{})
	return res.RowsAffected, res.Error
}
