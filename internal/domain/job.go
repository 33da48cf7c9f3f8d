package domain

import "time"

// JobStatus represents the lifecycle state of a testing job.
// Transitions are monotonic: pending -> running -> {completed | failed | cancelled}.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further work will be scheduled for this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// TestingJob represents one full preference survey run against a target model.
// The job owns all response records created during its run; deleting the job
// cascades to them.
type TestingJob struct {
	ID                  uint       `gorm:"primaryKey" json:"id"`
	ModelName           string     `gorm:"type:text;not null;index" json:"model_name"`
	APIType             string     `gorm:"type:text;not null" json:"api_type"`
	ModelID             string     `gorm:"type:text;not null" json:"model_id"`
	Status              JobStatus  `gorm:"type:text;default:pending;index" json:"status"`
	RequiredPerQuestion int        `gorm:"default:64" json:"required_per_question"`
	ProcessedCount      int        `gorm:"default:0" json:"processed_count"`
	DroppedCount        int        `gorm:"default:0" json:"dropped_count"`
	StartedAt           *time.Time `json:"started_at,omitempty"`
	CompletedAt         *time.Time `json:"completed_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`

	Responses []ResponseRecord `gorm:"foreignKey:JobID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the database table name for TestingJob.
func (TestingJob) TableName() string {
	return "testing_jobs"
}

// TargetModel describes the API endpoint of the model under test. The API key
// is held in memory for the duration of the run and never persisted.
type TargetModel struct {
	ModelName string
	APIURL    string
	APIKey    string
	APIType   string
	ModelID   string
}
