package models

import "time"

// Location is one node of a cached organisation-unit hierarchy. The true
// dedup key is (instance_key, uid, path): the same remote unit can appear at
// multiple hierarchy positions across incremental syncs, and each position is
// kept as its own row.
type Location struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	InstanceKey string    `gorm:"not null;column:instance_key;uniqueIndex:idx_locations_instance_uid_path" json:"instance_key"`
	UID         string    `gorm:"not null;column:uid;uniqueIndex:idx_locations_instance_uid_path" json:"uid"`
	Path        string    `gorm:"not null;uniqueIndex:idx_locations_instance_uid_path" json:"path"`
	Name        string    `gorm:"not null" json:"name"`
	Level       int       `gorm:"not null" json:"level"`
	ParentUID   string    `gorm:"column:parent_uid" json:"parent_uid"`
	ParentID    *uint     `gorm:"column:parent_id" json:"parent_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (Location) TableName() string {
	return "locations"
}
