package models

import "time"

// Dhis2Instance holds the connection settings for one DHIS2 server, looked
// up by instance key. The password is stored AES-GCM encrypted.
type Dhis2Instance struct {
	Key              string    `gorm:"primaryKey;column:key" json:"key"`
	BaseURL          string    `gorm:"not null;column:base_url" json:"base_url"`
	Username         string    `gorm:"not null" json:"username"`
	PasswordEnc      string    `gorm:"not null;column:password_enc" json:"-"` // Encrypted, never expose in JSON
	AllowInsecureTLS bool      `gorm:"column:allow_insecure_tls" json:"allow_insecure_tls"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Dhis2Instance) TableName() string {
	return "dhis2_instances"
}
