package models

import (
	"time"
)

// Pin is a persisted map pin, derived lifecycle fields included
type Pin struct {
	ID                 string    `gorm:"primaryKey;type:varchar(64);column:id"`
	ExternalPlaceID    string    `gorm:"type:varchar(255);index;column:external_place_id"`
	Latitude           float64   `gorm:"type:double precision;not null;column:latitude"`
	Longitude          float64   `gorm:"type:double precision;not null;column:longitude"`
	Category           string    `gorm:"type:varchar(64);column:category"`
	CreatedAt          time.Time `gorm:"not null;autoCreateTime:false;column:created_at"`
	LastEndorsedAt     time.Time `gorm:"not null;column:last_endorsed_at"`
	TotalEndorsements  int       `gorm:"not null;default:1;column:total_endorsements"`
	RecentEndorsements int       `gorm:"not null;default:1;column:recent_endorsements"`
	Downvotes          int       `gorm:"not null;default:0;column:downvotes"`
	Score              float64   `gorm:"type:double precision;not null;default:0;column:score"`
	LifecycleTab       string    `gorm:"type:varchar(16);index;column:lifecycle_tab"`
	IsHidden           bool      `gorm:"not null;default:false;index;column:is_hidden"`
}

// TableName specifies the table name for Pin
func (Pin) TableName() string {
	return "map_pins"
}
