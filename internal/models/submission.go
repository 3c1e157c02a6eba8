package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Submission is one filled-out survey response.
type Submission struct {
	UID         string `gorm:"primaryKey;column:uid" json:"uid"`
	SurveyID    string `gorm:"not null;column:survey_id;index" json:"survey_id"`
	FacilityUID string `gorm:"column:facility_uid" json:"facility_uid"` // selected org unit, may be empty
	Period      string `gorm:"column:period" json:"period"`             // explicit reporting date (YYYY-MM-DD), may be empty

	Responses []SubmissionResponse `gorm:"foreignKey:SubmissionUID" json:"responses"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate hook to generate UUID before creating record
func (s *Submission) BeforeCreate(tx *gorm.DB) error {
	if s.UID == "" {
		s.UID = uuid.New().String()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Submission) TableName() string {
	return "submissions"
}

// SubmissionResponse is one answered question. Multi-select questions store
// one row per selected option.
type SubmissionResponse struct {
	ID            uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	SubmissionUID string `gorm:"not null;column:submission_uid;index" json:"submission_uid"`
	QuestionID    string `gorm:"not null;column:question_id" json:"question_id"`
	Value         string `gorm:"type:text" json:"value"`
}

// TableName specifies the table name for GORM
func (SubmissionResponse) TableName() string {
	return "submission_responses"
}
