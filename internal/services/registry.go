// registry.go
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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
	"gorm.io/gorm"
	"gorm.io/hints"
)

// supportedFiletypes are the crystallographic formats accepted for upload.
var supportedFiletypes = map[string]bool{
	"cif": true,
	"fcf": true,
	"hkl": true,
}

// Filetype extracts the lowercase extension of filename without the dot.
func Filetype(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// validateUpload checks filename and content before anything touches the
// database or the backend. CIF files must carry at least one data block.
func validateUpload(filename string, data []byte) (string, error) {
	filetype := Filetype(filename)
	if !supportedFiletypes[filetype] {
		return "", &types.ValidationError{Message: fmt.Sprintf("unsupported filetype %q", filetype)}
	}
	if len(data) == 0 {
		return "", &types.ValidationError{Message: "file is empty"}
	}
	if !utf8.Valid(data) {
		return "", &types.ValidationError{Message: "file is not valid text"}
	}
	if filetype == "cif" && !strings.Contains(string(data), "data_") {
		return "", &types.ValidationError{Message: "cif file has no data block"}
	}
	return filetype, nil
}

// displayFilename disambiguates filename against the active datasets already
// in tx by appending a bracketed counter before the extension.
func displayFilename(tx *gorm.DB, filename string) (string, error) {
	candidate := filename
	ext := filepath.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)

	for i := 1; ; i++ {
		var n int64
		err := tx.Model(&models.Dataset{}).
			Where("display_filename = ? AND active = ?", candidate, true).
			Count(&n).Error
		if err != nil {
			return "", err
		}
		if n == 0 {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
	}
}

// Register validates an upload, stores the bytes in the backend and records
// the metadata row, all inside one transaction. A transient backend failure
// rolls the row back so no dataset without a backend reference is ever
// visible.
func Register(ctx context.Context, db *gorm.DB, bk backend.Client, data []byte, filename string, userID, groupID uint) (*models.Dataset, error) {
	filetype, err := validateUpload(filename, data)
	if err != nil {
		return nil, err
	}

	var ds models.Dataset
	err = db.Transaction(func(tx *gorm.DB) error {
		display, err := displayFilename(tx, filename)
		if err != nil {
			return err
		}

		ds = models.Dataset{
			Filename:        filename,
			DisplayFilename: display,
			UserID:          userID,
			GroupID:         groupID,
			Filetype:        filetype,
			Active:          true,
		}
		if err := tx.Create(&ds).Error; err != nil {
			return err
		}

		backendID, err := bk.Upload(ctx, filename, data)
		if err != nil {
			return err
		}
		return tx.Model(&ds).Update("backend_id", backendID).Error
	})
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// RegisterOutput records a dataset that already exists in the backend, e.g.
// the output of a closed session. No upload happens; ownership is copied
// from the session's input dataset.
func RegisterOutput(tx *gorm.DB, out *backend.SessionOutput, userID, groupID uint) (*models.Dataset, error) {
	display, err := displayFilename(tx, out.Filename)
	if err != nil {
		return nil, err
	}
	ds := models.Dataset{
		Filename:        out.Filename,
		DisplayFilename: display,
		BackendID:       out.DatasetID,
		UserID:          userID,
		GroupID:         groupID,
		Filetype:        out.Filetype,
		Active:          true,
	}
	if err := tx.Create(&ds).Error; err != nil {
		return nil, err
	}
	return &ds, nil
}

// GetDataset fetches a dataset by id with owner and group preloaded.
func GetDataset(db *gorm.DB, datasetID uint) (*models.Dataset, error) {
	var ds models.Dataset
	err := db.Preload("User").Preload("Group").First(&ds, "dataset_id = ?", datasetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "dataset", ID: strconv.FormatUint(uint64(datasetID), 10)}
	}
	if err != nil {
		return nil, err
	}
	return &ds, nil
}

// ListVisibleDatasets returns the active datasets actor may see, ordered by
// group then display filename.
func ListVisibleDatasets(db *gorm.DB, actor *models.User) ([]models.Dataset, error) {
	groups, err := GroupsOf(db, actor)
	if err != nil {
		return nil, err
	}

	var datasets []models.Dataset
	err = db.
		Clauses(hints.Comment("select", "facet:list_visible_datasets")).
		Preload("User").
		Preload("Group").
		Scopes(ScopeVisibleDatasets(actor, GroupIDs(groups))).
		Where("datasets.active = ?", true).
		Joins("JOIN groups ON groups.group_id = datasets.group_id").
		Order("groups.name, datasets.display_filename").
		Find(&datasets).Error
	if err != nil {
		return nil, err
	}
	return datasets, nil
}

// Deactivate soft-deletes a dataset: the backend copy is removed, the row
// stays with Active=false so descendant lineage keeps resolving. A backend
// that no longer knows the dataset is tolerated; a transient backend failure
// aborts and leaves the dataset active.
func Deactivate(ctx context.Context, db *gorm.DB, bk backend.Client, actor *models.User, datasetID uint) error {
	ds, err := GetDataset(db, datasetID)
	if err != nil {
		return err
	}
	groups, err := GroupsOf(db, actor)
	if err != nil {
		return err
	}
	if !CanEditDataset(actor, groups, ds) {
		return &types.PermissionError{Message: "not allowed to delete this dataset"}
	}
	if !ds.Active {
		return &types.ValidationError{Message: "dataset is already deactivated"}
	}

	if err := bk.Delete(ctx, ds.BackendID); err != nil {
		var nf *types.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}
	}
	return db.Model(ds).Update("active", false).Error
}

// Download fetches the dataset bytes from the backend.
func Download(ctx context.Context, bk backend.Client, ds *models.Dataset) ([]byte, error) {
	return bk.Download(ctx, ds.BackendID)
}
