package models

import (
	"time"
)

// MaintenanceRun records one completed maintenance sweep
type MaintenanceRun struct {
	RunID         string    `gorm:"primaryKey;type:uuid;column:run_id" json:"run_id"`
	ReferenceTime time.Time `gorm:"not null;index;column:reference_time" json:"reference_time"`
	Processed     int       `gorm:"not null;column:processed" json:"processed"`
	NewlyHidden   int       `gorm:"not null;column:newly_hidden" json:"newly_hidden"`
	Promoted      int       `gorm:"not null;column:promoted" json:"promoted"`
	Demoted       int       `gorm:"not null;column:demoted" json:"demoted"`
	Skipped       int       `gorm:"not null;column:skipped" json:"skipped"`
	WasOverdue    bool      `gorm:"not null;column:was_overdue" json:"was_overdue"`
	DurationMS    int64     `gorm:"not null;column:duration_ms" json:"duration_ms"`
	CreatedAt     time.Time `gorm:"not null;column:created_at" json:"recorded_at"`
}

// TableName specifies the table name for MaintenanceRun
func (MaintenanceRun) TableName() string {
	return "pin_maintenance_runs"
}
