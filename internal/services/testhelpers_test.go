package services_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/latticeworks/facet/internal/backend"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
	"gorm.io/gorm"
)

// setupTestDB creates an in-memory SQLite database for testing
func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}

	// Auto-migrate models
	err = db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Application{},
		&models.Dataset{},
		&models.ProcessStep{},
		&models.SessionReference{},
	)
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	return db
}

// makeUser creates a user with the given roles and group memberships.
func makeUser(t *testing.T, db *gorm.DB, username string, roles models.Role, groups ...*models.Group) *models.User {
	user := &models.User{
		Username:     username,
		PasswordHash: "x",
		Roles:        roles,
		Active:       true,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user %s: %v", username, err)
	}
	for _, g := range groups {
		if err := db.Model(user).Association("Groups").Append(g); err != nil {
			t.Fatalf("Failed to add %s to group %s: %v", username, g.Name, err)
		}
	}
	return user
}

// makeGroup creates a named group.
func makeGroup(t *testing.T, db *gorm.DB, name string) *models.Group {
	group := &models.Group{Name: name}
	if err := db.Create(group).Error; err != nil {
		t.Fatalf("Failed to create group %s: %v", name, err)
	}
	return group
}

// makeDataset creates an active dataset owned by user within group.
func makeDataset(t *testing.T, db *gorm.DB, filename string, user *models.User, group *models.Group) *models.Dataset {
	ds := &models.Dataset{
		Filename:        filename,
		DisplayFilename: filename,
		BackendID:       fmt.Sprintf("backend-%s", filename),
		UserID:          user.UserID,
		GroupID:         group.GroupID,
		Filetype:        "cif",
		Active:          true,
	}
	if err := db.Create(ds).Error; err != nil {
		t.Fatalf("Failed to create dataset %s: %v", filename, err)
	}
	return ds
}

// makeApplication creates an active application.
func makeApplication(t *testing.T, db *gorm.DB, name, version string) *models.Application {
	app := &models.Application{
		Name:    name,
		Version: version,
		Slug:    name,
		Port:    8080,
		Active:  true,
	}
	if err := db.Create(app).Error; err != nil {
		t.Fatalf("Failed to create application %s: %v", name, err)
	}
	return app
}

// fakeBackend is an in-memory backend.Client for service tests.
type fakeBackend struct {
	uploads     int
	uploadID    string
	uploadErr   error
	downloads   map[string][]byte
	downloadErr error
	deleteErr   error
	startID     string
	startErr    error
	status      backend.Status
	statusErr   error
	endOutput   *backend.SessionOutput
	endErr      error
	apps        []backend.AppDescriptor
	listErr     error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		uploadID:  "fake-upload",
		startID:   "fake-session",
		status:    backend.StatusActive,
		downloads: map[string][]byte{},
	}
}

func (f *fakeBackend) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	return fmt.Sprintf("%s-%d", f.uploadID, f.uploads), nil
}

func (f *fakeBackend) Download(_ context.Context, backendID string) ([]byte, error) {
	if f.downloadErr != nil {
		return nil, f.downloadErr
	}
	data, ok := f.downloads[backendID]
	if !ok {
		return nil, &types.NotFoundError{Resource: "backend resource", ID: backendID}
	}
	return data, nil
}

func (f *fakeBackend) Delete(_ context.Context, _ string) error {
	return f.deleteErr
}

func (f *fakeBackend) StartSession(_ context.Context, _, _, _ string) (string, error) {
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.startID, nil
}

func (f *fakeBackend) SessionStatus(_ context.Context, _ string) (backend.Status, error) {
	if f.statusErr != nil {
		return backend.StatusUnknown, f.statusErr
	}
	return f.status, nil
}

func (f *fakeBackend) EndSession(_ context.Context, _ string) (*backend.SessionOutput, error) {
	if f.endErr != nil {
		return nil, f.endErr
	}
	return f.endOutput, nil
}

func (f *fakeBackend) ListApplications(_ context.Context) ([]backend.AppDescriptor, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.apps, nil
}
