package models

import (
	"time"
)

// Dataset is the frontend metadata record for a file held by the execution
// backend. The bytes themselves never live here; BackendID points at the
// dataset in the backend store.
//
// Active is a soft-delete flag: deactivated datasets stay in the table so the
// lineage of their descendants keeps resolving, but they are hidden from
// listings and cannot seed a new session.
type Dataset struct {
	DatasetID       uint   `gorm:"primaryKey;autoIncrement"`
	Filename        string `gorm:"size:255;not null"`
	DisplayFilename string `gorm:"size:255;not null;index"`
	BackendID       string `gorm:"size:255;not null"`
	UserID          uint   `gorm:"not null;index:idx_datasets_owner"`
	GroupID         uint   `gorm:"not null;index:idx_datasets_group"`
	Filetype        string `gorm:"size:32"`
	Active          bool   `gorm:"not null;default:true"`
	CreatedAt       time.Time
	User            User  `gorm:"foreignKey:UserID;references:UserID"`
	Group           Group `gorm:"foreignKey:GroupID;references:GroupID"`
}

// TableName overrides the table name for Dataset
func (Dataset) TableName() string {
	return "datasets"
}
