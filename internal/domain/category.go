package domain

// CategoryCount is the aggregate row keyed by (question, category, model)
// holding a running count of responses resolved to that category. The sum of
// counts for a (job, question) pair equals the number of countable (non hard
// refusal, non unclassified) response records for that pair.
type CategoryCount struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	QuestionID string `gorm:"type:text;not null;uniqueIndex:idx_question_category_model" json:"question_id"`
	Category   string `gorm:"type:text;not null;uniqueIndex:idx_question_category_model" json:"category"`
	ModelName  string `gorm:"type:text;not null;uniqueIndex:idx_question_category_model" json:"model_name"`
	Count      int    `gorm:"default:0" json:"count"`
}

// TableName returns the database table name for CategoryCount.
func (CategoryCount) TableName() string {
	return "category_counts"
}
