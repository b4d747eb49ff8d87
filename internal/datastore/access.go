// access.go implements the permission predicates the API accessors build on.
// No handler reads shared rows without going through these checks.
package datastore

import (
	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// Actor carries the authenticated user together with the group memberships
// and token ACLs the permission predicates operate on. Handlers resolve it
// once per request from the presented token.
type Actor struct {
	User          User
	TokenID       string
	ACLs          StringList
	GroupIDs      []uint
	SingleGroupID uint // the user's single-user group
}

// HasACL reports whether the actor's token carries the given ACL.
// System admin implies every other ACL.
func (a *Actor) HasACL(acl string) bool {
	if a == nil {
		return false
	}
	return a.ACLs.Contains(acl) || a.ACLs.Contains(ACLSystemAdmin)
}

// IsAdmin reports whether the actor holds the System admin ACL.
func (a *Actor) IsAdmin() bool {
	return a != nil && a.ACLs.Contains(ACLSystemAdmin)
}

// InGroup reports whether the actor is a member of the given group.
func (a *Actor) InGroup(groupID uint) bool {
	if a == nil {
		return false
	}
	for _, id := range a.GroupIDs {
		if id == groupID {
			return true
		}
	}
	return false
}

// GetActor resolves a token id into the acting user with preloaded group
// memberships. Unknown tokens return a not found error.
func (ds *DataStore) GetActor(tokenID string) (Actor, error) {
	var token Token
	if err := ds.DB.Preload("User").First(&token, "id = ?", tokenID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Actor{}, notFoundError("token", tokenID)
		}
		return Actor{}, dbError(err, "get_actor", errors.PriorityHigh)
	}

	groupIDs, err := ds.GetUserGroupIDs(token.UserID)
	if err != nil {
		return Actor{}, err
	}

	actor := Actor{
		User:     token.User,
		TokenID:  token.ID,
		ACLs:     token.ACLs,
		GroupIDs: groupIDs,
	}

	if single, err := ds.GetUserSingleGroup(token.UserID); err == nil {
		actor.SingleGroupID = single.ID
	}

	return actor, nil
}

// IsObjOwnedBy reports whether at least one active Source row links the obj
// to one of the given groups. This is the base ownership predicate.
func (ds *DataStore) IsObjOwnedBy(objID string, groupIDs []uint) (bool, error) {
	if len(groupIDs) == 0 {
		return false, nil
	}
	var count int64
	err := ds.DB.Model(&Source{}).
		Where("obj_id = ? AND active = ? AND group_id IN ?", objID, true, groupIDs).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "is_obj_owned", errors.PriorityMedium, "obj_id", objID)
	}
	return count > 0, nil
}

// objOwnedByActor wraps IsObjOwnedBy with the admin bypass.
func (ds *DataStore) objOwnedByActor(actor *Actor, objID string) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	return ds.IsObjOwnedBy(objID, actor.GroupIDs)
}

// groupLinkIntersects reports whether any row of the given link table ties
// the resource to one of the actor's groups. The table and columns come
// from the fixed model set, never from request input.
func (ds *DataStore) groupLinkIntersects(table, resourceColumn string, resourceID uint, groupIDs []uint) (bool, error) {
	if len(groupIDs) == 0 {
		return false, nil
	}
	var count int64
	err := ds.DB.Table(table).
		Where(resourceColumn+" = ? AND group_id IN ?", resourceID, groupIDs).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "group_link_intersects", errors.PriorityMedium,
			"table", table, "resource_id", resourceID)
	}
	return count > 0, nil
}

// isPhotometryReadable reports whether the actor may read the photometry
// point: its group links intersect the actor's groups, or the obj is owned.
func (ds *DataStore) isPhotometryReadable(actor *Actor, photometryID uint) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}

	ok, err := ds.groupLinkIntersects("photometry_groups", "photometry_id", photometryID, actor.GroupIDs)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	var photometry Photometry
	if err := ds.DB.Select("obj_id").First(&photometry, photometryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, dbError(err, "is_photometry_readable", errors.PriorityMedium)
	}
	return ds.IsObjOwnedBy(photometry.ObjID, actor.GroupIDs)
}
