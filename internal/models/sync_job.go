package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Sync job statuses. Transitions are monotonic: COMPLETE and ERROR are
// terminal, ERROR is reachable from any non-terminal state.
const (
	SyncJobStatusReady      = "READY"
	SyncJobStatusProcessing = "PROCESSING"
	SyncJobStatusImporting  = "IMPORTING"
	SyncJobStatusComplete   = "COMPLETE"
	SyncJobStatusError      = "ERROR"
)

// SyncJob is one hierarchy synchronisation run. It is keyed by job id alone
// and survives server restarts, so any client can drive or poll it.
type SyncJob struct {
	ID            string `gorm:"primaryKey" json:"id"`
	InstanceKey   string `gorm:"not null;column:instance_key;index" json:"instance_key"`
	SelectionType string `gorm:"not null;column:selection_type" json:"selection_type"` // units, level, csv
	OrgLevel      int    `gorm:"column:org_level" json:"org_level"`
	Selection     string `gorm:"type:text" json:"-"` // JSON array of selected units

	Status    string `gorm:"not null;default:READY;index" json:"status"`
	Total     int    `gorm:"not null;default:0" json:"total"`
	Processed int    `gorm:"not null;default:0" json:"processed"`
	Inserted  int    `gorm:"not null;default:0" json:"inserted"`
	Updated   int    `gorm:"not null;default:0" json:"updated"`
	Errors    int    `gorm:"not null;default:0" json:"errors"`
	Message   string `gorm:"type:text" json:"message"`

	StartedAt *time.Time `gorm:"column:started_at" json:"started_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Terminal reports whether the job reached a final state.
func (j *SyncJob) Terminal() bool {
	return j.Status == SyncJobStatusComplete || j.Status == SyncJobStatusError
}

// BeforeCreate hook to generate UUID before creating record
func (j *SyncJob) BeforeCreate(tx *gorm.DB) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (SyncJob) TableName() string {
	return "sync_jobs"
}
