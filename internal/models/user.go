package models

import (
	"time"
)

// Role is a bit set of permission flags held by a user. Flags compose
// independently; a user with no flags is a basic user.
type Role uint8

const (
	// RoleDataManager can edit/delete dataset metadata within shared groups.
	RoleDataManager Role = 1 << iota
	// RoleGroupManager can add, edit and delete users within managed groups.
	RoleGroupManager
	// RoleAdmin covers administrative dataset edits, same scope rules as DataManager.
	RoleAdmin
	// RoleGlobalAccess can operate on records outside the user's own groups.
	RoleGlobalAccess
)

// Has reports whether all bits of flag are set on r.
func (r Role) Has(flag Role) bool {
	return r&flag == flag
}

// User represents a portal account. Users that own datasets are never
// hard-deleted; Active is flipped off instead so lineage stays resolvable.
type User struct {
	UserID       uint   `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:255;not null;uniqueIndex"`
	Email        string `gorm:"size:255"`
	FirstName    string `gorm:"size:255"`
	LastName     string `gorm:"size:255"`
	PasswordHash string `gorm:"size:255;not null"`
	Roles        Role   `gorm:"not null;default:0"`
	Active       bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Groups       []Group `gorm:"many2many:user_groups;joinForeignKey:user_id;joinReferences:group_id"`
}

// Group is a named collection of users. Datasets are owned by exactly one
// group; groups with active datasets cannot be deleted.
type Group struct {
	GroupID   uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:255;not null;uniqueIndex"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Members   []User `gorm:"many2many:user_groups;joinForeignKey:group_id;joinReferences:user_id"`
	Owners    []User `gorm:"many2many:group_owners;joinForeignKey:group_id;joinReferences:user_id"`
}

// TableName overrides the table name for User
func (User) TableName() string {
	return "users"
}

// TableName overrides the table name for Group
func (Group) TableName() string {
	return "groups"
}
