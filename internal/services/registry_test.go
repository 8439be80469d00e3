package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
)

var cifContent = []byte("data_sample\n_cell_length_a 10.0\n")

// TestRegisterStoresDataset verifies a valid upload creates an active row
// with a backend reference.
func TestRegisterStoresDataset(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	bk := newFakeBackend()

	ds, err := services.Register(context.Background(), db, bk, cifContent, "sample.cif", user.UserID, group.GroupID)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if ds.BackendID == "" {
		t.Error("Expected a backend reference on the stored dataset")
	}
	if !ds.Active {
		t.Error("Expected the new dataset to be active")
	}
	if ds.Filetype != "cif" {
		t.Errorf("Expected filetype cif, got %s", ds.Filetype)
	}
}

// TestRegisterRollsBackOnBackendFailure verifies a transient upload failure
// leaves no orphan row behind.
func TestRegisterRollsBackOnBackendFailure(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	bk := newFakeBackend()
	bk.uploadErr = &types.BackendUnavailableError{Op: "upload", Err: errors.New("connection refused")}

	_, err := services.Register(context.Background(), db, bk, cifContent, "sample.cif", user.UserID, group.GroupID)
	var unavailable *types.BackendUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected BackendUnavailableError, got %v", err)
	}

	var count int64
	if err := db.Model(&models.Dataset{}).Count(&count).Error; err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected no dataset rows after rollback, got %d", count)
	}
}

// TestRegisterValidation verifies unsupported and unparseable files are
// rejected before any upload.
func TestRegisterValidation(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	bk := newFakeBackend()

	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"unsupported filetype", "sample.exe", cifContent},
		{"empty file", "sample.cif", nil},
		{"no data block", "sample.cif", []byte("just text")},
		{"binary content", "sample.cif", []byte{0xff, 0xfe, 0x00, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.Register(context.Background(), db, bk, tt.data, tt.filename, user.UserID, group.GroupID)
			var validation *types.ValidationError
			if !errors.As(err, &validation) {
				t.Errorf("Expected ValidationError, got %v", err)
			}
		})
	}
	if bk.uploads != 0 {
		t.Errorf("Expected no uploads for rejected files, got %d", bk.uploads)
	}
}

// TestDisplayFilenameDisambiguation verifies repeated filenames get a
// bracketed counter among active rows.
func TestDisplayFilenameDisambiguation(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	bk := newFakeBackend()

	first, err := services.Register(context.Background(), db, bk, cifContent, "sample.cif", user.UserID, group.GroupID)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	second, err := services.Register(context.Background(), db, bk, cifContent, "sample.cif", user.UserID, group.GroupID)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if first.DisplayFilename != "sample.cif" {
		t.Errorf("Expected first display name sample.cif, got %s", first.DisplayFilename)
	}
	if second.DisplayFilename != "sample (1).cif" {
		t.Errorf("Expected second display name sample (1).cif, got %s", second.DisplayFilename)
	}
}

// TestDeactivate verifies permissioned soft delete that leaves lineage
// intact, and that a backend 404 is tolerated.
func TestDeactivate(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	manager := makeUser(t, db, "manager", models.RoleDataManager, group)
	plain := makeUser(t, db, "plain", 0, group)
	app := makeApplication(t, db, "olex2", "1.5")
	bk := newFakeBackend()

	root := makeDataset(t, db, "root.cif", manager, group)
	leaf := makeDataset(t, db, "leaf.cif", manager, group)
	if _, err := services.RecordStep(db, &app.ApplicationID, root.DatasetID, &leaf.DatasetID); err != nil {
		t.Fatalf("Failed to record step: %v", err)
	}

	// A plain member cannot deactivate.
	err := services.Deactivate(context.Background(), db, bk, plain, root.DatasetID)
	var permission *types.PermissionError
	if !errors.As(err, &permission) {
		t.Fatalf("Expected PermissionError, got %v", err)
	}

	// The backend already lost the dataset: still fine.
	bk.deleteErr = &types.NotFoundError{Resource: "backend resource", ID: "delete"}
	if err := services.Deactivate(context.Background(), db, bk, manager, root.DatasetID); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}

	reloaded, err := services.GetDataset(db, root.DatasetID)
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if reloaded.Active {
		t.Error("Expected dataset to be inactive")
	}

	// Lineage through the deactivated dataset still resolves.
	chain, err := services.Ancestors(db, leaf)
	if err != nil {
		t.Fatalf("Ancestors failed: %v", err)
	}
	if len(chain) != 1 {
		t.Errorf("Expected 1 lineage step, got %d", len(chain))
	}
}

// TestDeactivateAbortsOnTransientFailure verifies the dataset stays active
// when the backend delete fails transiently.
func TestDeactivateAbortsOnTransientFailure(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	manager := makeUser(t, db, "manager", models.RoleDataManager, group)
	bk := newFakeBackend()
	bk.deleteErr = &types.BackendUnavailableError{Op: "delete", Err: errors.New("timeout")}

	ds := makeDataset(t, db, "root.cif", manager, group)
	err := services.Deactivate(context.Background(), db, bk, manager, ds.DatasetID)
	var unavailable *types.BackendUnavailableError
	if !errors.As(err, &unavailable) {
		t.Fatalf("Expected BackendUnavailableError, got %v", err)
	}

	reloaded, err := services.GetDataset(db, ds.DatasetID)
	if err != nil {
		t.Fatalf("GetDataset failed: %v", err)
	}
	if !reloaded.Active {
		t.Error("Expected dataset to stay active after transient failure")
	}
}

// TestListVisibleDatasets verifies group-scoped listing with inactive rows
// hidden.
func TestListVisibleDatasets(t *testing.T) {
	db := setupTestDB(t)
	g1 := makeGroup(t, db, "alpha")
	g2 := makeGroup(t, db, "beta")
	alice := makeUser(t, db, "alice", 0, g1)
	bob := makeUser(t, db, "bob", 0, g2)
	global := makeUser(t, db, "global", models.RoleGlobalAccess)

	makeDataset(t, db, "a1.cif", alice, g1)
	makeDataset(t, db, "b1.cif", bob, g2)
	hidden := makeDataset(t, db, "b2.cif", bob, g2)
	if err := db.Model(hidden).Update("active", false).Error; err != nil {
		t.Fatalf("Failed to deactivate: %v", err)
	}

	list, err := services.ListVisibleDatasets(db, alice)
	if err != nil {
		t.Fatalf("ListVisibleDatasets failed: %v", err)
	}
	if len(list) != 1 || list[0].Filename != "a1.cif" {
		t.Errorf("Expected alice to see only a1.cif, got %d rows", len(list))
	}

	list, err = services.ListVisibleDatasets(db, global)
	if err != nil {
		t.Fatalf("ListVisibleDatasets failed: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("Expected global access to see 2 active datasets, got %d", len(list))
	}
}

// TestDownloadRoundTrip verifies the bytes come back unchanged.
func TestDownloadRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "lab")
	user := makeUser(t, db, "alice", 0, group)
	bk := newFakeBackend()

	ds := makeDataset(t, db, "sample.cif", user, group)
	bk.downloads[ds.BackendID] = cifContent

	data, err := services.Download(context.Background(), bk, ds)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	if string(data) != string(cifContent) {
		t.Errorf("Expected byte-identical round trip, got %q", string(data))
	}
}

// TestListVisibleDatasetsOrdering verifies group-then-filename order.
func TestListVisibleDatasetsOrdering(t *testing.T) {
	db := setupTestDB(t)
	g1 := makeGroup(t, db, "alpha")
	g2 := makeGroup(t, db, "beta")
	user := makeUser(t, db, "alice", 0, g1, g2)

	makeDataset(t, db, "z.cif", user, g1)
	makeDataset(t, db, "a.cif", user, g2)
	makeDataset(t, db, "a.cif", user, g1)

	list, err := services.ListVisibleDatasets(db, user)
	if err != nil {
		t.Fatalf("ListVisibleDatasets failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 datasets, got %d", len(list))
	}
	got := fmt.Sprintf("%s/%s %s/%s %s/%s",
		list[0].Group.Name, list[0].DisplayFilename,
		list[1].Group.Name, list[1].DisplayFilename,
		list[2].Group.Name, list[2].DisplayFilename)
	want := "alpha/a.cif alpha/z.cif beta/a.cif"
	if got != want {
		t.Errorf("Expected order %q, got %q", want, got)
	}
}

// TestListVisibleDatasetsPreloadsOwners verifies every listed row carries its
// own user and group, not whichever record happens to share the row's ID.
func TestListVisibleDatasetsPreloadsOwners(t *testing.T) {
	db := setupTestDB(t)
	group := makeGroup(t, db, "alpha")
	alice := makeUser(t, db, "alice", 0, group)
	bob := makeUser(t, db, "bob", 0, group)

	makeDataset(t, db, "one.cif", alice, group)
	makeDataset(t, db, "two.cif", bob, group)
	makeDataset(t, db, "three.cif", alice, group)

	list, err := services.ListVisibleDatasets(db, alice)
	if err != nil {
		t.Fatalf("ListVisibleDatasets failed: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("Expected 3 datasets, got %d", len(list))
	}
	for _, ds := range list {
		if ds.Group.GroupID != ds.GroupID || ds.Group.Name != "alpha" {
			t.Errorf("Dataset %d: expected group %d (alpha), got %d (%q)",
				ds.DatasetID, ds.GroupID, ds.Group.GroupID, ds.Group.Name)
		}
		if ds.User.UserID != ds.UserID {
			t.Errorf("Dataset %d: expected user %d, got %d (%q)",
				ds.DatasetID, ds.UserID, ds.User.UserID, ds.User.Username)
		}
	}
}
