package services_test

import (
	"testing"

	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
)

// TestAncestorsChain verifies the chain comes back root first and ends with
// the dataset's own producing step.
func TestAncestorsChain(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	app := makeApplication(t, db, "olex2", "1.5")

	root := makeDataset(t, db, "root.cif", user, group)
	mid := makeDataset(t, db, "mid.cif", user, group)
	leaf := makeDataset(t, db, "leaf.cif", user, group)

	if _, err := services.RecordStep(db, &app.ApplicationID, root.DatasetID, &mid.DatasetID); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}
	if _, err := services.RecordStep(db, &app.ApplicationID, mid.DatasetID, &leaf.DatasetID); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}

	chain, err := services.Ancestors(db, leaf)
	if err != nil {
		t.Fatalf("Ancestors failed: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(chain))
	}
	if chain[0].InfileID != root.DatasetID {
		t.Errorf("Expected first step from root %d, got %d", root.DatasetID, chain[0].InfileID)
	}
	if chain[1].OutfileID == nil || *chain[1].OutfileID != leaf.DatasetID {
		t.Errorf("Expected last step to produce leaf %d", leaf.DatasetID)
	}
}

// TestAncestorsRootUpload verifies a root upload has an empty chain and is
// its own root.
func TestAncestorsRootUpload(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	root := makeDataset(t, db, "root.cif", user, group)

	chain, err := services.Ancestors(db, root)
	if err != nil {
		t.Fatalf("Ancestors failed: %v", err)
	}
	if len(chain) != 0 {
		t.Errorf("Expected empty chain for root upload, got %d steps", len(chain))
	}

	resolved, err := services.RootOf(db, root)
	if err != nil {
		t.Fatalf("RootOf failed: %v", err)
	}
	if resolved.DatasetID != root.DatasetID {
		t.Errorf("Expected root %d, got %d", root.DatasetID, resolved.DatasetID)
	}
}

// TestAncestorsSurviveDeactivation verifies deactivated ancestors still
// resolve in the chain.
func TestAncestorsSurviveDeactivation(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	app := makeApplication(t, db, "olex2", "1.5")

	root := makeDataset(t, db, "root.cif", user, group)
	leaf := makeDataset(t, db, "leaf.cif", user, group)
	if _, err := services.RecordStep(db, &app.ApplicationID, root.DatasetID, &leaf.DatasetID); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}

	if err := db.Model(root).Update("active", false).Error; err != nil {
		t.Fatalf("Failed to deactivate root: %v", err)
	}

	chain, err := services.Ancestors(db, leaf)
	if err != nil {
		t.Fatalf("Ancestors failed after deactivation: %v", err)
	}
	if len(chain) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(chain))
	}
	if chain[0].Infile.Active {
		t.Error("Expected deactivated ancestor to come back inactive")
	}

	resolved, err := services.RootOf(db, leaf)
	if err != nil {
		t.Fatalf("RootOf failed: %v", err)
	}
	if resolved.DatasetID != root.DatasetID {
		t.Errorf("Expected root %d, got %d", root.DatasetID, resolved.DatasetID)
	}
}

// TestNullOutputStep verifies a step with no outfile is recorded and never
// appears as a producing step.
func TestNullOutputStep(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	app := makeApplication(t, db, "olex2", "1.5")
	root := makeDataset(t, db, "root.cif", user, group)

	if _, err := services.RecordStep(db, &app.ApplicationID, root.DatasetID, nil); err != nil {
		t.Fatalf("Failed to record null-output step: %v", err)
	}
	// A second null-output step must not violate the outfile uniqueness.
	if _, err := services.RecordStep(db, &app.ApplicationID, root.DatasetID, nil); err != nil {
		t.Fatalf("Failed to record second null-output step: %v", err)
	}

	steps, err := services.DescendantSteps(db, root)
	if err != nil {
		t.Fatalf("DescendantSteps failed: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("Expected 2 steps, got %d", len(steps))
	}

	var count int64
	if err := db.Model(&models.ProcessStep{}).Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 step rows, got %d", count)
	}
}
