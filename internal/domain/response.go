package domain

import "time"

// Tier is the classification outcome assigned to one raw response. The tiers
// form an ordered decision procedure: hard refusal is checked first, then soft
// refusal, then hedged, and anything left is a direct preference. Unclassified
// marks responses whose classification calls failed after retries; it is never
// aggregated into category counts.
type Tier string

const (
	TierHardRefusal  Tier = "hard_refusal"
	TierSoftRefusal  Tier = "soft_refusal"
	TierHedged       Tier = "hedged"
	TierDirect       Tier = "direct"
	TierUnclassified Tier = "unclassified"
)

// Countable reports whether responses of this tier contribute to category counts.
func (t Tier) Countable() bool {
	return t != TierHardRefusal && t != TierUnclassified
}

// ResponseRecord is one raw model answer to one question within one job.
// Created once by the classification stage; mutable only via the flagging path.
type ResponseRecord struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	JobID               uint       `gorm:"not null;index" json:"job_id"`
	QuestionID          string     `gorm:"type:text;not null;index" json:"question_id"`
	RawText             string     `gorm:"type:text;not null" json:"raw_text"`
	Tier                Tier       `gorm:"type:text;not null" json:"tier"`
	ExtractedPreference *string    `gorm:"type:text" json:"extracted_preference,omitempty"`
	Category            *string    `gorm:"type:text" json:"category,omitempty"`
	IsFlagged           bool       `gorm:"default:false" json:"is_flagged"`
	CorrectedCategory   *string    `gorm:"type:text" json:"corrected_category,omitempty"`
	FlaggedAt           *time.Time `json:"flagged_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

// TableName returns the database table name for ResponseRecord.
func (ResponseRecord) TableName() string {
	return "response_records"
}

// EffectiveCategory returns the corrected category when the record has been
// flagged, otherwise the originally resolved one.
func (r *ResponseRecord) EffectiveCategory() *string {
	if r.IsFlagged && r.CorrectedCategory != nil {
		return r.CorrectedCategory
	}
	return r.Category
}
