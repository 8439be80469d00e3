// lineage.go
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
	"errors"
	"fmt"

	"github.com/latticeworks/facet/internal/models"
	"gorm.io/gorm"
)

// The provenance graph is append-only: edges are only ever created, so every
// history query here is a plain read and deactivated datasets still resolve.

// RecordStep appends a provenance edge: appID consumed infileID and produced
// outfileID. outfileID is nil for a session that produced nothing.
func RecordStep(db *gorm.DB, appID *uint, infileID uint, outfileID *uint) (*models.ProcessStep, error) {
	step := models.ProcessStep{
		ApplicationID: appID,
		InfileID:      infileID,
		OutfileID:     outfileID,
	}
	if err := db.Create(&step).Error; err != nil {
		return nil, err
	}
	return &step, nil
}

// producingStep returns the step that produced datasetID, or nil when the
// dataset is a root upload. The unique index on the outfile column
// guarantees at most one row.
func producingStep(db *gorm.DB, datasetID uint) (*models.ProcessStep, error) {
	var step models.ProcessStep
	err := db.
		Preload("Application").
		Preload("Infile").
		Preload("Outfile").
		First(&step, "outfile_id = ?", datasetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// Ancestors walks producing-step pointers from ds back to its root upload
// and returns the chain ordered root first, ds's own producing step last. A
// root upload has an empty chain.
//
// The walk terminates by construction (each dataset has at most one
// producing step and edges point strictly backwards in creation order); a
// visited set bounds it anyway so a corrupted graph returns an error instead
// of looping.
func Ancestors(db *gorm.DB, ds *models.Dataset) ([]models.ProcessStep, error) {
	var chain []models.ProcessStep
	visited := map[uint]bool{ds.DatasetID: true}

	current := ds.DatasetID
	for {
		step, err := producingStep(db, current)
		if err != nil {
			return nil, err
		}
		if step == nil {
			break
		}
		if visited[step.InfileID] {
			return nil, fmt.Errorf("lineage cycle detected at dataset %d", step.InfileID)
		}
		visited[step.InfileID] = true
		chain = append(chain, *step)
		current = step.InfileID
	}

	// Walked dataset-to-root; callers want root-to-dataset.
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// RootOf returns the original upload at the start of ds's lineage. For a
// root upload it returns ds itself.
func RootOf(db *gorm.DB, ds *models.Dataset) (*models.Dataset, error) {
	chain, err := Ancestors(db, ds)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return ds, nil
	}
	root := chain[0].Infile
	return &root, nil
}

// DescendantSteps returns the steps that consumed ds as input, oldest first.
// Branching is allowed on the input side, so this may return many rows.
func DescendantSteps(db *gorm.DB, ds *models.Dataset) ([]models.ProcessStep, error) {
	var steps []models.ProcessStep
	err := db.
		Preload("Application").
		Preload("Outfile").
		Where("infile_id = ?", ds.DatasetID).
		Order("process_step_id").
		Find(&steps).Error
	if err != nil {
		return nil, err
	}
	return steps, nil
}
