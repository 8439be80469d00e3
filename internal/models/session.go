package models

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// Session lifecycle states. A reference is created active, becomes ended on
// an explicit close, or lapsed when reconciliation finds the backend no
// longer recognises it.
const (
	SessionActive = "active"
	SessionEnded  = "ended"
	SessionLapsed = "lapsed"
)

// SessionReference records one interactive session in the backend, live or
// historical. At most one active reference exists per user; ended and lapsed
// rows are kept for the session audit panel.
type SessionReference struct {
	SessionReferenceID uint   `gorm:"primaryKey;autoIncrement"`
	UserID             uint   `gorm:"not null;index:idx_session_references_user"`
	ApplicationID      uint   `gorm:"not null"`
	InfileID           uint   `gorm:"not null"`
	SessionID          string `gorm:"size:255;not null"`
	Status             string `gorm:"size:16;not null;default:active;index;check:status IN ('active','ended','lapsed')"`
	StartTime          time.Time
	EndTime            *time.Time
	User               User        `gorm:"foreignKey:UserID;references:UserID"`
	Application        Application `gorm:"foreignKey:ApplicationID;references:ApplicationID"`
	Infile             Dataset     `gorm:"foreignKey:InfileID;references:DatasetID"`
}

// BeforeSave rejects status values outside the lifecycle vocabulary.
func (s *SessionReference) BeforeSave(*gorm.DB) error {
	switch s.Status {
	case SessionActive, SessionEnded, SessionLapsed:
		return nil
	}
	return fmt.Errorf("invalid session status %q", s.Status)
}

// TableName overrides the table name for SessionReference
func (SessionReference) TableName() string {
	return "session_references"
}
