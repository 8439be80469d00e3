// permissions.go
//
// Facet - dataset lineage and session coordination service for a
// quantum-crystallography tool-execution backend.
//
// This file is part of facet.
// facet is free software: you can redistribute it and/or modify it
// under the terms of the GNU Affero General Public License as published by the Free Software
// Foundation, either version 3 of the License, or (at your option) any later version.
// facet is distributed in the hope that it will be useful, but WITHOUT ANY WARRANTY;
// without even the implied warranty of MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.
// See the GNU Affero General Public License for more details.

package services

import (
	"github.com/latticeworks/facet/internal/models"
	"gorm.io/gorm"
)

// Access decisions are pure functions over the actor's roles and group
// memberships and the resource's owner and group. They are evaluated per
// request and never cached: a membership or role edit takes effect on the
// next request.

// memberOfGroup reports whether groupID appears in groups.
func memberOfGroup(groups []models.Group, groupID uint) bool {
	for _, g := range groups {
		if g.GroupID == groupID {
			return true
		}
	}
	return false
}

// GroupIDs extracts the ids of groups.
func GroupIDs(groups []models.Group) []uint {
	ids := make([]uint, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.GroupID)
	}
	return ids
}

// CanViewDataset reports whether actor may see ds. Viewing requires global
// access, ownership, or membership of the dataset's group.
func CanViewDataset(actor *models.User, groups []models.Group, ds *models.Dataset) bool {
	if actor.Roles.Has(models.RoleGlobalAccess) {
		return true
	}
	if ds.UserID == actor.UserID {
		return true
	}
	return memberOfGroup(groups, ds.GroupID)
}

// CanEditDataset reports whether actor may deactivate or edit ds. Editing
// requires global access, or a data-manager or admin role combined with
// membership of the dataset's group.
func CanEditDataset(actor *models.User, groups []models.Group, ds *models.Dataset) bool {
	if actor.Roles.Has(models.RoleGlobalAccess) {
		return true
	}
	if !actor.Roles.Has(models.RoleDataManager) && !actor.Roles.Has(models.RoleAdmin) {
		return false
	}
	return memberOfGroup(groups, ds.GroupID)
}

// VisibleGroups returns the groups whose resources actor can see: all groups
// for global access, otherwise the actor's own memberships.
func VisibleGroups(db *gorm.DB, actor *models.User) ([]models.Group, error) {
	if actor.Roles.Has(models.RoleGlobalAccess) {
		var groups []models.Group
		if err := db.Order("name").Find(&groups).Error; err != nil {
			return nil, err
		}
		return groups, nil
	}
	return GroupsOf(db, actor)
}

// SelectableGroupsForUpload returns the groups a new dataset may be assigned
// to. The selectable set equals the visible set.
func SelectableGroupsForUpload(db *gorm.DB, actor *models.User) ([]models.Group, error) {
	return VisibleGroups(db, actor)
}

// EditableGroups returns the groups whose membership actor can manage. A
// group manager edits the groups it owns; a group manager with global access
// edits all groups. Without the group-manager role the set is empty.
func EditableGroups(db *gorm.DB, actor *models.User) ([]models.Group, error) {
	if !actor.Roles.Has(models.RoleGroupManager) {
		return nil, nil
	}
	var groups []models.Group
	if actor.Roles.Has(models.RoleGlobalAccess) {
		if err := db.Order("name").Find(&groups).Error; err != nil {
			return nil, err
		}
		return groups, nil
	}
	err := db.
		Joins("JOIN group_owners ON group_owners.group_id = groups.group_id").
		Where("group_owners.user_id = ?", actor.UserID).
		Order("groups.name").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// VisibleUsers returns the users actor can see: everyone for global access,
// otherwise users sharing at least one group with actor.
func VisibleUsers(db *gorm.DB, actor *models.User) ([]models.User, error) {
	var users []models.User
	if actor.Roles.Has(models.RoleGlobalAccess) {
		if err := db.Order("username").Find(&users).Error; err != nil {
			return nil, err
		}
		return users, nil
	}
	groups, err := GroupsOf(db, actor)
	if err != nil {
		return nil, err
	}
	ids := GroupIDs(groups)
	if len(ids) == 0 {
		// A user with no memberships still sees itself.
		if err := db.Where("user_id = ?", actor.UserID).Find(&users).Error; err != nil {
			return nil, err
		}
		return users, nil
	}
	err = db.
		Distinct("users.*").
		Joins("JOIN user_groups ON user_groups.user_id = users.user_id").
		Where("user_groups.group_id IN ?", ids).
		Order("users.username").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CanEditUser reports whether actor may modify target's account. Every
// account edits itself; group managers edit members of the groups they own;
// a group manager with global access edits anyone. Callers limit what a
// plain self-edit may change.
func CanEditUser(db *gorm.DB, actor, target *models.User) (bool, error) {
	if actor.UserID == target.UserID {
		return true, nil
	}
	if !actor.Roles.Has(models.RoleGroupManager) {
		return false, nil
	}
	if actor.Roles.Has(models.RoleGlobalAccess) {
		return true, nil
	}
	var n int64
	err := db.Table("group_owners").
		Joins("JOIN user_groups ON user_groups.group_id = group_owners.group_id").
		Where("group_owners.user_id = ? AND user_groups.user_id = ?", actor.UserID, target.UserID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ScopeVisibleDatasets returns a gorm scope limiting a dataset query to rows
// actor may see. groupIDs are the actor's memberships, resolved by the
// caller.
func ScopeVisibleDatasets(actor *models.User, groupIDs []uint) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if actor.Roles.Has(models.RoleGlobalAccess) {
			return tx
		}
		if len(groupIDs) == 0 {
			return tx.Where("datasets.user_id = ?", actor.UserID)
		}
		return tx.Where("datasets.user_id = ? OR datasets.group_id IN ?", actor.UserID, groupIDs)
	}
}
