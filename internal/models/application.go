package models

import (
	"time"
)

// Application is a tool installed in the execution backend. Rows are
// maintained by the app-sync service against the backend's application list;
// the rest of the service only reads them. Identity in the backend is the
// (Name, Version) pair; Slug is the handle used on backend calls.
type Application struct {
	ApplicationID uint   `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"size:255;not null;index:idx_applications_name_version,unique"`
	Version       string `gorm:"size:255;not null;index:idx_applications_name_version,unique"`
	Slug          string `gorm:"size:255;not null"`
	URL           string `gorm:"size:255"`
	Description   string `gorm:"size:255"`
	Port          int    `gorm:"default:0"`
	Active        bool   `gorm:"not null;default:true"`
	Metadata      JSON   `gorm:"type:json"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName overrides the table name for Application
func (Application) TableName() string {
	return "applications"
}
