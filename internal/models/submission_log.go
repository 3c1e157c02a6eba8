package models

import "time"

// Submission log statuses.
const (
	SubmissionStatusPending = "PENDING"
	SubmissionStatusSuccess = "SUCCESS"
	SubmissionStatusFailed  = "FAILED"
	SubmissionStatusSkipped = "SKIPPED"
)

// SubmissionLog is the audit/retry record for one DHIS2 submission attempt.
// One row is appended per attempt (initial plus each retry); rows are never
// deleted and a SUCCESS is never reverted.
type SubmissionLog struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SubmissionUID string `gorm:"not null;column:submission_uid;index" json:"submission_uid"`
	Status        string `gorm:"not null;default:PENDING" json:"status"`
	Payload       string `gorm:"type:text" json:"payload"`  // serialized payload bundle sent to DHIS2
	Response      string `gorm:"type:text" json:"response"` // raw remote response body
	Message       string `gorm:"type:text" json:"message"`
	TeiUID        string `gorm:"column:tei_uid" json:"tei_uid"` // remote TEI created or reused by this attempt
	Retries       int    `gorm:"not null;default:0" json:"retries"`

	SubmittedAt time.Time `gorm:"column:submitted_at" json:"submitted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM
func (SubmissionLog) TableName() string {
	return "dhis2_submission_logs"
}
