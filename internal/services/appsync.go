package services

import (
	"context"
	"errors"
	"log"

	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SyncResult reports what a sync pass changed.
type SyncResult struct {
	Created     []uint `json:"created"`
	Updated     []uint `json:"updated"`
	Reactivated []uint `json:"reactivated"`
	Deactivated []uint `json:"deactivated"`
}

// SyncApplications reconciles the local application table against the
// backend's installed-application list. Applications the backend reports and
// we lack are created; ones it stopped reporting are deactivated, never
// deleted, so historical sessions and steps keep resolving. Identity is the
// (name, version) pair.
func SyncApplications(ctx context.Context, db *gorm.DB, bk backend.Client) (*SyncResult, error) {
	descriptors, err := bk.ListApplications(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{}
	err = db.Transaction(func(tx *gorm.DB) error {
		seen := map[uint]bool{}

		for _, desc := range descriptors {
			var app models.Application
			err := tx.First(&app, "name = ? AND version = ?", desc.Name, desc.Version).Error
			switch {
			case errors.Is(err, gorm.ErrRecordNotFound):
				app = models.Application{
					Name:        desc.Name,
					Version:     desc.Version,
					Slug:        desc.Slug,
					URL:         desc.URL,
					Description: desc.Description,
					Port:        desc.GUIPort,
					Active:      true,
					Metadata:    models.JSON{JSON: datatypes.JSON(desc.Metadata)},
				}
				if err := tx.Create(&app).Error; err != nil {
					return err
				}
				result.Created = append(result.Created, app.ApplicationID)
				seen[app.ApplicationID] = true
				continue
			case err != nil:
				return err
			}

			seen[app.ApplicationID] = true
			updates := map[string]interface{}{}
			if !app.Active {
				updates["active"] = true
				result.Reactivated = append(result.Reactivated, app.ApplicationID)
			}
			if app.Port != desc.GUIPort {
				updates["port"] = desc.GUIPort
			}
			if app.Slug != desc.Slug {
				updates["slug"] = desc.Slug
			}
			if app.URL != desc.URL {
				updates["url"] = desc.URL
			}
			if app.Description != desc.Description {
				updates["description"] = desc.Description
			}
			if len(desc.Metadata) > 0 {
				updates["metadata"] = models.JSON{JSON: datatypes.JSON(desc.Metadata)}
			}
			if len(updates) == 0 {
				continue
			}
			if err := tx.Model(&app).Updates(updates).Error; err != nil {
				return err
			}
			if !contains(result.Reactivated, app.ApplicationID) {
				result.Updated = append(result.Updated, app.ApplicationID)
			}
		}

		// Deactivate applications the backend stopped reporting.
		var stale []models.Application
		if err := tx.Find(&stale, "active = ?", true).Error; err != nil {
			return err
		}
		for _, app := range stale {
			if seen[app.ApplicationID] {
				continue
			}
			if err := tx.Model(&app).Update("active", false).Error; err != nil {
				return err
			}
			result.Deactivated = append(result.Deactivated, app.ApplicationID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("application sync: %d created, %d updated, %d reactivated, %d deactivated",
		len(result.Created), len(result.Updated), len(result.Reactivated), len(result.Deactivated))
	return result, nil
}

// ListApplications returns local application rows, active ones first.
func ListApplications(db *gorm.DB, includeInactive bool) ([]models.Application, error) {
	query := db.Order("name, version")
	if !includeInactive {
		query = query.Where("active = ?", true)
	}
	var apps []models.Application
	if err := query.Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}

func contains(ids []uint, id uint) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
