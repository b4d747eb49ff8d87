// users.go provides database operations for users, tokens and groups
package datastore

import (
	"fmt"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// CreateUser stores a new user together with their single-user group. Every
// account owns exactly one such group so private uploads always have a home.
func (ds *DataStore) CreateUser(user *User) error {
	if user.Username == "" {
		return validationError("username must not be empty", "username", user.Username)
	}

	// Begin a transaction
	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "create_user", errors.PriorityHigh)
	}

	// Roll back the transaction if a panic occurs
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(user).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_user", "duplicate_username", "username", user.Username)
		}
		return dbError(err, "create_user", errors.PriorityMedium, "username", user.Username)
	}

	singleGroup := Group{
		Name:            fmt.Sprintf("single:%s", user.Username),
		SingleUserGroup: true,
	}
	if err := tx.Create(&singleGroup).Error; err != nil {
		tx.Rollback()
		return dbError(err, "create_user", errors.PriorityMedium, "step", "single_user_group")
	}

	membership := GroupUser{GroupID: singleGroup.ID, UserID: user.ID, Admin: true}
	if err := tx.Create(&membership).Error; err != nil {
		tx.Rollback()
		return dbError(err, "create_user", errors.PriorityMedium, "step", "single_user_membership")
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "create_user", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetUser retrieves a user by id.
func (ds *DataStore) GetUser(id uint) (User, error) {
	var user User
	if err := ds.DB.First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, notFoundError("user", fmt.Sprintf("%d", id))
		}
		return User{}, dbError(err, "get_user", errors.PriorityMedium)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (ds *DataStore) GetUserByUsername(username string) (User, error) {
	var user User
	if err := ds.DB.Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, notFoundError("user", username)
		}
		return User{}, dbError(err, "get_user_by_username", errors.PriorityMedium)
	}
	return user, nil
}

// CreateToken stores a new API token. The caller is responsible for
// generating the UUID and validating the ACL set.
func (ds *DataStore) CreateToken(token *Token) error {
	if token.ID == "" {
		return validationError("token id must not be empty", "id", token.ID)
	}
	if token.UserID == 0 {
		return validationError("token must belong to a user", "user_id", token.UserID)
	}

	if err := ds.DB.Create(token).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_token", "duplicate_token")
		}
		return dbError(err, "create_token", errors.PriorityMedium)
	}
	return nil
}

// GetToken retrieves a token by id with its user preloaded.
func (ds *DataStore) GetToken(id string) (Token, error) {
	var token Token
	if err := ds.DB.Preload("User").First(&token, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Token{}, notFoundError("token", id)
		}
		return Token{}, dbError(err, "get_token", errors.PriorityMedium)
	}
	return token, nil
}

// DeleteToken removes a token, revoking its access.
func (ds *DataStore) DeleteToken(id string) error {
	result := ds.DB.Delete(&Token{}, "id = ?", id)
	if result.Error != nil {
		return dbError(result.Error, "delete_token", errors.PriorityMedium)
	}
	if result.RowsAffected == 0 {
		return notFoundError("token", id)
	}
	return nil
}

// CreateGroup stores a new group.
func (ds *DataStore) CreateGroup(group *Group) error {
	if group.Name == "" {
		return validationError("group name must not be empty", "name", group.Name)
	}
	if err := ds.DB.Create(group).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_group", "duplicate_group_name", "name", group.Name)
		}
		return dbError(err, "create_group", errors.PriorityMedium, "name", group.Name)
	}
	return nil
}

// GetGroup retrieves a group by id.
func (ds *DataStore) GetGroup(id uint) (Group, error) {
	var group Group
	if err := ds.DB.First(&group, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Group{}, notFoundError("group", fmt.Sprintf("%d", id))
		}
		return Group{}, dbError(err, "get_group", errors.PriorityMedium)
	}
	return group, nil
}

// GetGroupByName retrieves a group by its unique name. Used to resolve the
// public group when a request targets "all".
func (ds *DataStore) GetGroupByName(name string) (Group, error) {
	var group Group
	if err := ds.DB.Where("name = ?", name).First(&group).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Group{}, notFoundError("group", name)
		}
		return Group{}, dbError(err, "get_group_by_name", errors.PriorityMedium)
	}
	return group, nil
}

// AddGroupUser stores a group membership row.
func (ds *DataStore) AddGroupUser(membership *GroupUser) error {
	if err := ds.DB.Create(membership).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "add_group_user", "duplicate_membership",
				"group_id", membership.GroupID, "user_id", membership.UserID)
		}
		return dbError(err, "add_group_user", errors.PriorityMedium)
	}
	return nil
}

// GetUserGroupIDs returns the ids of all groups the user belongs to.
func (ds *DataStore) GetUserGroupIDs(userID uint) ([]uint, error) {
	var ids []uint
	err := ds.DB.Model(&GroupUser{}).
		Where("user_id = ?", userID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, dbError(err, "get_user_group_ids", errors.PriorityMedium, "user_id", userID)
	}
	return ids, nil
}

// GetUserSingleGroup returns the user's single-user group.
func (ds *DataStore) GetUserSingleGroup(userID uint) (Group, error) {
	var group Group
	err := ds.DB.
		Joins("JOIN group_users ON group_users.group_id = groups.id").
		Where("group_users.user_id = ? AND groups.single_user_group = ?", userID, true).
		First(&group).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Group{}, notFoundError("single-user group", fmt.Sprintf("user %d", userID))
		}
		return Group{}, dbError(err, "get_user_single_group", errors.PriorityMedium)
	}
	return group, nil
}

// IsGroupAdmin reports whether the user administers the given group.
func (ds *DataStore) IsGroupAdmin(userID, groupID uint) (bool, error) {
	var count int64
	err := ds.DB.Model(&GroupUser{}).
		Where("user_id = ? AND group_id = ? AND admin = ?", userID, groupID, true).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "is_group_admin", errors.PriorityMedium)
	}
	return count > 0, nil
}
