// sessions.go
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
	"context"
	"errors"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
	"gorm.io/gorm"
)

// Coordinator serializes session lifecycle operations per user. Launch, end,
// kill and reconcile for the same user never interleave, which is what keeps
// the one-active-session-per-user rule honest under concurrent requests.
type Coordinator struct {
	db      *gorm.DB
	backend backend.Client

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewCoordinator returns a session coordinator over db and bk.
func NewCoordinator(db *gorm.DB, bk backend.Client) *Coordinator {
	return &Coordinator{
		db:      db,
		backend: bk,
		locks:   map[uint]*sync.Mutex{},
	}
}

// userLock returns the mutex serializing operations for userID.
func (c *Coordinator) userLock(userID uint) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	lock, ok := c.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[userID] = lock
	}
	return lock
}

// activeReference returns the user's active session reference, or nil.
func (c *Coordinator) activeReference(userID uint) (*models.SessionReference, error) {
	var ref models.SessionReference
	err := c.db.First(&ref, "user_id = ? AND status = ?", userID, models.SessionActive).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetReference fetches a session reference by id with relations preloaded.
func (c *Coordinator) GetReference(refID uint) (*models.SessionReference, error) {
	var ref models.SessionReference
	err := c.db.
		Preload("User").
		Preload("Application").
		Preload("Infile").
		First(&ref, "session_reference_id = ?", refID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "session", ID: strconv.FormatUint(uint64(refID), 10)}
	}
	if err != nil {
		return nil, err
	}
	return &ref, nil
}

// Launch starts an interactive session of appID against datasetID for actor.
// The user must be idle; a second launch while a session is active fails
// with SessionConflictError and creates nothing. A transient backend failure
// also creates nothing, so the user stays idle and may retry.
func (c *Coordinator) Launch(ctx context.Context, actor *models.User, appID, datasetID uint) (*models.SessionReference, error) {
	lock := c.userLock(actor.UserID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := c.activeReference(actor.UserID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &types.SessionConflictError{UserID: actor.UserID, SessionID: existing.SessionID}
	}

	ds, err := GetDataset(c.db, datasetID)
	if err != nil {
		return nil, err
	}
	if !ds.Active {
		return nil, &types.ValidationError{Message: "dataset is deactivated"}
	}
	groups, err := GroupsOf(c.db, actor)
	if err != nil {
		return nil, err
	}
	if !CanViewDataset(actor, groups, ds) {
		return nil, &types.PermissionError{Message: "not allowed to use this dataset"}
	}

	var app models.Application
	err = c.db.First(&app, "application_id = ?", appID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "application", ID: strconv.FormatUint(uint64(appID), 10)}
	}
	if err != nil {
		return nil, err
	}
	if !app.Active {
		return nil, &types.ValidationError{Message: "application is not available"}
	}

	sessionID, err := c.backend.StartSession(ctx, app.Slug, app.Version, ds.BackendID)
	if err != nil {
		return nil, err
	}

	ref := models.SessionReference{
		UserID:        actor.UserID,
		ApplicationID: app.ApplicationID,
		InfileID:      ds.DatasetID,
		SessionID:     sessionID,
		Status:        models.SessionActive,
		StartTime:     time.Now(),
	}
	if err := c.db.Create(&ref).Error; err != nil {
		return nil, err
	}
	return &ref, nil
}

// End closes actor's session refID. When the backend reports an output
// dataset it is registered under the input dataset's owner and group and a
// full provenance step is recorded; otherwise a null-output step is. Either
// way the reference becomes ended. Ending a session that is not active is an
// InvalidStateError, so output is never registered twice.
func (c *Coordinator) End(ctx context.Context, actor *models.User, refID uint) (*models.SessionReference, error) {
	ref, err := c.GetReference(refID)
	if err != nil {
		return nil, err
	}
	if ref.UserID != actor.UserID && !actor.Roles.Has(models.RoleGlobalAccess) {
		return nil, &types.PermissionError{Message: "not allowed to end this session"}
	}

	lock := c.userLock(ref.UserID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock; a concurrent end may have won.
	ref, err = c.GetReference(refID)
	if err != nil {
		return nil, err
	}
	if ref.Status != models.SessionActive {
		return nil, &types.InvalidStateError{Op: "end", State: ref.Status}
	}

	output, err := c.backend.EndSession(ctx, ref.SessionID)
	if err != nil {
		return nil, err
	}

	if err := c.closeReference(ref, output, models.SessionEnded); err != nil {
		return nil, err
	}
	return c.GetReference(refID)
}

// Kill force-ends any user's session, the administrative path. A backend
// that no longer knows the session is tolerated by marking the reference
// lapsed instead of failing.
func (c *Coordinator) Kill(ctx context.Context, actor *models.User, refID uint) (*models.SessionReference, error) {
	ref, err := c.GetReference(refID)
	if err != nil {
		return nil, err
	}
	if ref.UserID != actor.UserID && !actor.Roles.Has(models.RoleGlobalAccess) {
		return nil, &types.PermissionError{Message: "not allowed to kill this session"}
	}

	lock := c.userLock(ref.UserID)
	lock.Lock()
	defer lock.Unlock()

	ref, err = c.GetReference(refID)
	if err != nil {
		return nil, err
	}
	if ref.Status != models.SessionActive {
		return nil, &types.InvalidStateError{Op: "kill", State: ref.Status}
	}

	output, err := c.backend.EndSession(ctx, ref.SessionID)
	if err != nil {
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			if err := c.markLapsed(ref); err != nil {
				return nil, err
			}
			return c.GetReference(refID)
		}
		return nil, err
	}

	if err := c.closeReference(ref, output, models.SessionEnded); err != nil {
		return nil, err
	}
	return c.GetReference(refID)
}

// Reconcile sweeps all active references against the backend. References the
// backend no longer recognises are marked lapsed with no output
// registration; a transient backend error leaves the row active for the
// next pass.
func (c *Coordinator) Reconcile(ctx context.Context) (int, error) {
	var refs []models.SessionReference
	if err := c.db.Find(&refs, "status = ?", models.SessionActive).Error; err != nil {
		return 0, err
	}

	lapsed := 0
	for i := range refs {
		ref := &refs[i]
		lock := c.userLock(ref.UserID)
		lock.Lock()

		status, err := c.backend.SessionStatus(ctx, ref.SessionID)
		if err != nil {
			log.Printf("reconcile: session %s status check failed: %v", ref.SessionID, err)
			lock.Unlock()
			continue
		}
		if status == backend.StatusActive {
			lock.Unlock()
			continue
		}

		// Unknown to the backend, or closed outside the portal. Either way
		// there is no output to capture.
		if err := c.markLapsed(ref); err != nil {
			lock.Unlock()
			return lapsed, err
		}
		lapsed++
		lock.Unlock()
	}
	return lapsed, nil
}

// ListVisible returns the session references actor may see, newest first.
// Global access sees all sessions, group managers see sessions of users
// sharing a group, everyone sees their own.
func (c *Coordinator) ListVisible(actor *models.User) ([]models.SessionReference, error) {
	query := c.db.
		Preload("User").
		Preload("Application").
		Preload("Infile").
		Order("start_time DESC")

	switch {
	case actor.Roles.Has(models.RoleGlobalAccess):
		// unrestricted
	case actor.Roles.Has(models.RoleGroupManager):
		groups, err := GroupsOf(c.db, actor)
		if err != nil {
			return nil, err
		}
		ids := GroupIDs(groups)
		if len(ids) == 0 {
			query = query.Where("session_references.user_id = ?", actor.UserID)
		} else {
			query = query.Where(
				"session_references.user_id = ? OR session_references.user_id IN (?)",
				actor.UserID,
				c.db.Table("user_groups").Select("user_id").Where("group_id IN ?", ids),
			)
		}
	default:
		query = query.Where("session_references.user_id = ?", actor.UserID)
	}

	var refs []models.SessionReference
	if err := query.Find(&refs).Error; err != nil {
		return nil, err
	}
	return refs, nil
}

// closeReference records the provenance step for a finished session and
// moves the reference to status, all in one transaction.
func (c *Coordinator) closeReference(ref *models.SessionReference, output *backend.SessionOutput, status string) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		var outfileID *uint
		if output != nil {
			infile, err := GetDataset(tx, ref.InfileID)
			if err != nil {
				return err
			}
			outDS, err := RegisterOutput(tx, output, infile.UserID, infile.GroupID)
			if err != nil {
				return err
			}
			outfileID = &outDS.DatasetID
		}

		appID := ref.ApplicationID
		if _, err := RecordStep(tx, &appID, ref.InfileID, outfileID); err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(ref).Updates(map[string]interface{}{
			"status":   status,
			"end_time": now,
		}).Error
	})
}

// markLapsed moves a reference to lapsed without recording a step.
func (c *Coordinator) markLapsed(ref *models.SessionReference) error {
	now := time.Now()
	return c.db.Model(ref).Updates(map[string]interface{}{
		"status":   models.SessionLapsed,
		"end_time": now,
	}).Error
}
