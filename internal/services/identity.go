package services

import (
	"errors"
	"strconv"

	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/types"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// ResolveRoles returns the permission bit set for user. Kept as a function
// so handlers never read the column directly.
func ResolveRoles(user *models.User) models.Role {
	return user.Roles
}

// GroupsOf returns the groups user is a member of, ordered by name.
func GroupsOf(db *gorm.DB, user *models.User) ([]models.Group, error) {
	var groups []models.Group
	err := db.
		Joins("JOIN user_groups ON user_groups.group_id = groups.group_id").
		Where("user_groups.user_id = ?", user.UserID).
		Order("groups.name").
		Find(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

// OwnersOf returns the managing users of group.
func OwnersOf(db *gorm.DB, group *models.Group) ([]models.User, error) {
	var owners []models.User
	err := db.
		Joins("JOIN group_owners ON group_owners.user_id = users.user_id").
		Where("group_owners.group_id = ?", group.GroupID).
		Order("users.username").
		Find(&owners).Error
	if err != nil {
		return nil, err
	}
	return owners, nil
}

// GetUser fetches a user by id with group memberships preloaded.
func GetUser(db *gorm.DB, userID uint) (*models.User, error) {
	var user models.User
	err := db.Preload("Groups").First(&user, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "user", ID: strconv.FormatUint(uint64(userID), 10)}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByUsername fetches a user by username with memberships preloaded.
func GetUserByUsername(db *gorm.DB, username string) (*models.User, error) {
	var user models.User
	err := db.Preload("Groups").First(&user, "username = ?", username).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "user", ID: username}
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser creates an account with a bcrypt password hash and the given
// group memberships.
func CreateUser(db *gorm.DB, username, email, firstName, lastName, password string, roles models.Role, groupIDs []uint) (*models.User, error) {
	if username == "" {
		return nil, &types.ValidationError{Message: "username is required"}
	}
	if password == "" {
		return nil, &types.ValidationError{Message: "password is required"}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        email,
		FirstName:    firstName,
		LastName:     lastName,
		PasswordHash: string(hash),
		Roles:        roles,
		Active:       true,
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &types.ValidationError{Message: "username already taken"}
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		return setUserGroups(tx, &user, groupIDs)
	})
	if err != nil {
		return nil, err
	}
	return GetUser(db, user.UserID)
}

// UpdateUser updates profile fields, roles and memberships. A nil groupIDs
// leaves memberships untouched; an empty non-nil slice clears them.
func UpdateUser(db *gorm.DB, userID uint, email, firstName, lastName string, roles models.Role, groupIDs []uint) (*models.User, error) {
	user, err := GetUser(db, userID)
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"email":      email,
			"first_name": firstName,
			"last_name":  lastName,
			"roles":      roles,
		}
		if err := tx.Model(user).Updates(updates).Error; err != nil {
			return err
		}
		if groupIDs == nil {
			return nil
		}
		return setUserGroups(tx, user, groupIDs)
	})
	if err != nil {
		return nil, err
	}
	return GetUser(db, userID)
}

// SetPassword replaces the stored bcrypt hash for userID.
func SetPassword(db *gorm.DB, userID uint, password string) error {
	if password == "" {
		return &types.ValidationError{Message: "password is required"}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return db.Model(&models.User{}).Where("user_id = ?", userID).
		Update("password_hash", string(hash)).Error
}

// DisableUser soft-disables an account. The row stays so datasets it owns
// keep a resolvable owner.
func DisableUser(db *gorm.DB, userID uint) error {
	res := db.Model(&models.User{}).Where("user_id = ?", userID).Update("active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &types.NotFoundError{Resource: "user", ID: strconv.FormatUint(uint64(userID), 10)}
	}
	return nil
}

// AuthenticateUser verifies a username/password pair against the stored
// bcrypt hash. Disabled accounts fail with the same error as a wrong
// password.
func AuthenticateUser(db *gorm.DB, username, password string) (*models.User, error) {
	user, err := GetUserByUsername(db, username)
	if err != nil {
		var nf *types.NotFoundError
		if errors.As(err, &nf) {
			return nil, &types.PermissionError{Message: "invalid credentials"}
		}
		return nil, err
	}
	if !user.Active {
		return nil, &types.PermissionError{Message: "invalid credentials"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, &types.PermissionError{Message: "invalid credentials"}
	}
	return user, nil
}

// GetGroup fetches a group by id.
func GetGroup(db *gorm.DB, groupID uint) (*models.Group, error) {
	var group models.Group
	err := db.First(&group, "group_id = ?", groupID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &types.NotFoundError{Resource: "group", ID: strconv.FormatUint(uint64(groupID), 10)}
	}
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// CreateGroup creates a named group with the given owners.
func CreateGroup(db *gorm.DB, name string, ownerIDs []uint) (*models.Group, error) {
	if name == "" {
		return nil, &types.ValidationError{Message: "group name is required"}
	}

	group := models.Group{Name: name}
	err := db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Group{}).Where("name = ?", name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &types.ValidationError{Message: "group name already taken"}
		}
		if err := tx.Create(&group).Error; err != nil {
			return err
		}
		return setGroupOwners(tx, &group, ownerIDs)
	})
	if err != nil {
		return nil, err
	}
	return &group, nil
}

// UpdateGroup renames a group and replaces its owner set. A nil ownerIDs
// leaves the owners untouched.
func UpdateGroup(db *gorm.DB, groupID uint, name string, ownerIDs []uint) (*models.Group, error) {
	group, err := GetGroup(db, groupID)
	if err != nil {
		return nil, err
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if name != "" && name != group.Name {
			if err := tx.Model(group).Update("name", name).Error; err != nil {
				return err
			}
		}
		if ownerIDs == nil {
			return nil
		}
		return setGroupOwners(tx, group, ownerIDs)
	})
	if err != nil {
		return nil, err
	}
	return GetGroup(db, groupID)
}

// DeleteGroup removes a group. Deletion is rejected while any active dataset
// still belongs to the group, so dataset ownership never dangles.
func DeleteGroup(db *gorm.DB, groupID uint) error {
	group, err := GetGroup(db, groupID)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Dataset{}).
			Where("group_id = ? AND active = ?", groupID, true).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return &types.ValidationError{Message: "group still has active datasets"}
		}
		if err := tx.Exec("DELETE FROM user_groups WHERE group_id = ?", groupID).Error; err != nil {
			return err
		}
		if err := tx.Exec("DELETE FROM group_owners WHERE group_id = ?", groupID).Error; err != nil {
			return err
		}
		return tx.Delete(group).Error
	})
}

// setUserGroups replaces user's memberships with groupIDs.
func setUserGroups(tx *gorm.DB, user *models.User, groupIDs []uint) error {
	groups, err := loadGroups(tx, groupIDs)
	if err != nil {
		return err
	}
	return tx.Model(user).Association("Groups").Replace(&groups)
}

// setGroupOwners replaces group's owner set with ownerIDs.
func setGroupOwners(tx *gorm.DB, group *models.Group, ownerIDs []uint) error {
	if ownerIDs == nil {
		return nil
	}
	var owners []models.User
	if len(ownerIDs) > 0 {
		if err := tx.Find(&owners, "user_id IN ?", ownerIDs).Error; err != nil {
			return err
		}
		if len(owners) != len(ownerIDs) {
			return &types.ValidationError{Message: "unknown owner user id"}
		}
	}
	return tx.Model(group).Association("Owners").Replace(&owners)
}

// loadGroups fetches the rows for groupIDs, failing on unknown ids.
func loadGroups(tx *gorm.DB, groupIDs []uint) ([]models.Group, error) {
	var groups []models.Group
	if len(groupIDs) == 0 {
		return groups, nil
	}
	if err := tx.Find(&groups, "group_id IN ?", groupIDs).Error; err != nil {
		return nil, err
	}
	if len(groups) != len(groupIDs) {
		return nil, &types.ValidationError{Message: "unknown group id"}
	}
	return groups, nil
}
