package services_test

import (
	"testing"

	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
)

// TestDatasetPermissionTable walks the role/membership combinations for view
// and edit decisions.
func TestDatasetPermissionTable(t *testing.T) {
	db := setupTestDB(t)
	shared := makeGroup(t, db, "shared")
	other := makeGroup(t, db, "other")

	owner := makeUser(t, db, "owner", 0, shared)
	ds := makeDataset(t, db, "sample.cif", owner, shared)

	tests := []struct {
		name    string
		roles   models.Role
		groups  []*models.Group
		isOwner bool
		canView bool
		canEdit bool
	}{
		{"owner plain", 0, []*models.Group{shared}, true, true, false},
		{"member plain", 0, []*models.Group{shared}, false, true, false},
		{"outsider plain", 0, []*models.Group{other}, false, false, false},
		{"member data manager", models.RoleDataManager, []*models.Group{shared}, false, true, true},
		{"outsider data manager", models.RoleDataManager, []*models.Group{other}, false, false, false},
		{"member admin", models.RoleAdmin, []*models.Group{shared}, false, true, true},
		{"outsider global access", models.RoleGlobalAccess, []*models.Group{other}, false, true, true},
		{"no groups at all", 0, nil, false, false, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actor := owner
			if !tt.isOwner {
				actor = makeUser(t, db, tt.name+string(rune('a'+i)), tt.roles, tt.groups...)
			}
			groups, err := services.GroupsOf(db, actor)
			if err != nil {
				t.Fatalf("GroupsOf failed: %v", err)
			}
			if got := services.CanViewDataset(actor, groups, ds); got != tt.canView {
				t.Errorf("CanViewDataset = %v, want %v", got, tt.canView)
			}
			if got := services.CanEditDataset(actor, groups, ds); got != tt.canEdit {
				t.Errorf("CanEditDataset = %v, want %v", got, tt.canEdit)
			}
		})
	}
}

// TestVisibleGroups verifies the visible set is memberships, or everything
// for global access.
func TestVisibleGroups(t *testing.T) {
	db := setupTestDB(t)
	g1 := makeGroup(t, db, "alpha")
	makeGroup(t, db, "beta")

	member := makeUser(t, db, "member", 0, g1)
	global := makeUser(t, db, "global", models.RoleGlobalAccess)

	groups, err := services.VisibleGroups(db, member)
	if err != nil {
		t.Fatalf("VisibleGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != g1.GroupID {
		t.Errorf("Expected only alpha visible, got %d groups", len(groups))
	}

	groups, err = services.VisibleGroups(db, global)
	if err != nil {
		t.Fatalf("VisibleGroups failed: %v", err)
	}
	if len(groups) != 2 {
		t.Errorf("Expected all groups visible for global access, got %d", len(groups))
	}
}

// TestEditableGroups verifies only owned groups are editable, and only with
// the group-manager role.
func TestEditableGroups(t *testing.T) {
	db := setupTestDB(t)
	owned := makeGroup(t, db, "owned")
	makeGroup(t, db, "unowned")

	manager := makeUser(t, db, "manager", models.RoleGroupManager, owned)
	if err := db.Model(owned).Association("Owners").Append(manager); err != nil {
		t.Fatalf("Failed to set owner: %v", err)
	}
	plain := makeUser(t, db, "plain", 0, owned)

	groups, err := services.EditableGroups(db, manager)
	if err != nil {
		t.Fatalf("EditableGroups failed: %v", err)
	}
	if len(groups) != 1 || groups[0].GroupID != owned.GroupID {
		t.Errorf("Expected manager to edit only owned group, got %d", len(groups))
	}

	groups, err = services.EditableGroups(db, plain)
	if err != nil {
		t.Fatalf("EditableGroups failed: %v", err)
	}
	if len(groups) != 0 {
		t.Errorf("Expected no editable groups without the role, got %d", len(groups))
	}
}

// TestVisibleUsers verifies group-scoped user visibility.
func TestVisibleUsers(t *testing.T) {
	db := setupTestDB(t)
	g1 := makeGroup(t, db, "alpha")
	g2 := makeGroup(t, db, "beta")

	a := makeUser(t, db, "a", 0, g1)
	makeUser(t, db, "b", 0, g1)
	makeUser(t, db, "c", 0, g2)
	global := makeUser(t, db, "global", models.RoleGlobalAccess)

	users, err := services.VisibleUsers(db, a)
	if err != nil {
		t.Fatalf("VisibleUsers failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("Expected a to see 2 users, got %d", len(users))
	}

	users, err = services.VisibleUsers(db, global)
	if err != nil {
		t.Fatalf("VisibleUsers failed: %v", err)
	}
	if len(users) != 4 {
		t.Errorf("Expected global access to see all 4 users, got %d", len(users))
	}
}

// TestCanEditUser verifies manager scope over owned groups.
func TestCanEditUser(t *testing.T) {
	db := setupTestDB(t)
	owned := makeGroup(t, db, "owned")
	foreign := makeGroup(t, db, "foreign")

	manager := makeUser(t, db, "manager", models.RoleGroupManager, owned)
	if err := db.Model(owned).Association("Owners").Append(manager); err != nil {
		t.Fatalf("Failed to set owner: %v", err)
	}
	inScope := makeUser(t, db, "inscope", 0, owned)
	outScope := makeUser(t, db, "outscope", 0, foreign)

	ok, err := services.CanEditUser(db, manager, inScope)
	if err != nil {
		t.Fatalf("CanEditUser failed: %v", err)
	}
	if !ok {
		t.Error("Expected manager to edit member of owned group")
	}

	ok, err = services.CanEditUser(db, manager, outScope)
	if err != nil {
		t.Fatalf("CanEditUser failed: %v", err)
	}
	if ok {
		t.Error("Expected manager not to edit member of foreign group")
	}

	// Every account edits itself, roles or not.
	ok, err = services.CanEditUser(db, inScope, inScope)
	if err != nil {
		t.Fatalf("CanEditUser failed: %v", err)
	}
	if !ok {
		t.Error("Expected a basic user to edit their own account")
	}

	ok, err = services.CanEditUser(db, inScope, outScope)
	if err != nil {
		t.Fatalf("CanEditUser failed: %v", err)
	}
	if ok {
		t.Error("Expected a basic user not to edit anyone else")
	}
}
