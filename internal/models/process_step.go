package models

import (
	"time"
)

// ProcessStep is one edge of the provenance graph: an application consumed
// InfileID and produced OutfileID. OutfileID is nil for a session that ended
// without producing output, so no-op sessions still appear in history.
//
// Rows are append-only. A dataset is the outfile of at most one step (its
// producing step); it may be the infile of many (branching workflows). Steps
// reference dataset identity, never current ownership, so later ownership
// edits cannot rewrite history.
type ProcessStep struct {
	ProcessStepID uint  `gorm:"primaryKey;autoIncrement"`
	ApplicationID *uint `gorm:"index"`
	InfileID      uint  `gorm:"not null;index:idx_process_steps_infile"`
	OutfileID     *uint `gorm:"uniqueIndex:idx_process_steps_outfile"`
	CreatedAt     time.Time
	Application   *Application `gorm:"foreignKey:ApplicationID;references:ApplicationID"`
	Infile        Dataset      `gorm:"foreignKey:InfileID;references:DatasetID"`
	Outfile       *Dataset     `gorm:"foreignKey:OutfileID;references:DatasetID"`
}

// TableName overrides the table name for ProcessStep
func (ProcessStep) TableName() string {
	return "process_steps"
}
