// photometry.go provides database operations for photometry and annotations
package datastore

import (
	"fmt"
	"regexp"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// origins are provenance identifiers like "kowalski" or "ps1-dr2"
var validAnnotationOrigin = regexp.MustCompile(`^[\w+-]+$`)

// SavePhotometry stores a photometry point and its group links in one
// transaction.
func (ds *DataStore) SavePhotometry(photometry *Photometry, groupIDs []uint) error {
	if photometry.ObjID == "" {
		return validationError("photometry obj id must not be empty", "obj_id", photometry.ObjID)
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "save_photometry", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(photometry).Error; err != nil {
		tx.Rollback()
		return dbError(err, "save_photometry", errors.PriorityMedium, "obj_id", photometry.ObjID)
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		link := PhotometryGroup{PhotometryID: photometry.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_photometry", errors.PriorityMedium, "step", "group_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "save_photometry", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetPhotometry retrieves a photometry point by id.
func (ds *DataStore) GetPhotometry(id uint) (Photometry, error) {
	var photometry Photometry
	if err := ds.DB.First(&photometry, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Photometry{}, notFoundError("photometry", fmt.Sprintf("%d", id))
		}
		return Photometry{}, dbError(err, "get_photometry", errors.PriorityMedium)
	}
	return photometry, nil
}

// GetPhotometryForUser retrieves a photometry point the actor may read.
// Rows outside scope come back as not found so their existence does not leak.
func (ds *DataStore) GetPhotometryForUser(actor *Actor, id uint) (Photometry, error) {
	photometry, err := ds.GetPhotometry(id)
	if err != nil {
		return Photometry{}, err
	}

	readable, err := ds.isPhotometryReadable(actor, id)
	if err != nil {
		return Photometry{}, err
	}
	if !readable {
		return Photometry{}, notFoundError("photometry", fmt.Sprintf("%d", id))
	}
	return photometry, nil
}

// SaveAnnotation stores an annotation and its group links in one
// transaction. The (photometry, origin) pair is unique; violating it yields
// a conflict error.
func (ds *DataStore) SaveAnnotation(annotation *Annotation, groupIDs []uint) error {
	if annotation.Origin == "" {
		return validationError("annotation origin must not be empty", "origin", annotation.Origin)
	}
	if !validAnnotationOrigin.MatchString(annotation.Origin) {
		return validationError("annotation origin may only contain letters, digits, '_', '-' and '+'",
			"origin", annotation.Origin)
	}
	if annotation.PhotometryID == 0 {
		return validationError("annotation must reference a photometry point",
			"photometry_id", annotation.PhotometryID)
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "save_annotation", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(annotation).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return conflictError(err, "save_annotation", "duplicate_origin",
				"photometry_id", annotation.PhotometryID, "origin", annotation.Origin)
		}
		return dbError(err, "save_annotation", errors.PriorityMedium,
			"photometry_id", annotation.PhotometryID)
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		link := AnnotationGroup{AnnotationID: annotation.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_annotation", errors.PriorityMedium, "step", "group_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "save_annotation", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetAnnotation retrieves an annotation by id.
func (ds *DataStore) GetAnnotation(id uint) (Annotation, error) {
	var annotation Annotation
	if err := ds.DB.First(&annotation, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Annotation{}, notFoundError("annotation", fmt.Sprintf("%d", id))
		}
		return Annotation{}, dbError(err, "get_annotation", errors.PriorityMedium)
	}
	return annotation, nil
}

// GetAnnotationForUser retrieves an annotation the actor may read: its group
// links intersect the actor's groups and the photometry point itself is
// readable. Denials surface as permission errors, not as not found.
func (ds *DataStore) GetAnnotationForUser(actor *Actor, id uint) (Annotation, error) {
	annotation, err := ds.GetAnnotation(id)
	if err != nil {
		return Annotation{}, err
	}

	if actor.IsAdmin() {
		return annotation, nil
	}

	linked, err := ds.groupLinkIntersects("annotation_groups", "annotation_id", id, actor.GroupIDs)
	if err != nil {
		return Annotation{}, err
	}
	if !linked {
		return Annotation{}, unauthorizedError("get_annotation", "annotation")
	}

	readable, err := ds.isPhotometryReadable(actor, annotation.PhotometryID)
	if err != nil {
		return Annotation{}, err
	}
	if !readable {
		return Annotation{}, unauthorizedError("get_annotation", "annotation")
	}
	return annotation, nil
}

// ListAnnotations returns the annotations of a photometry point the actor
// may read.
func (ds *DataStore) ListAnnotations(actor *Actor, photometryID uint) ([]Annotation, error) {
	readable, err := ds.isPhotometryReadable(actor, photometryID)
	if err != nil {
		return nil, err
	}
	if !readable {
		return nil, unauthorizedError("list_annotations", "photometry")
	}

	if actor.IsAdmin() {
		var annotations []Annotation
		err := ds.DB.Where("photometry_id = ?", photometryID).
			Order("origin ASC").
			Find(&annotations).Error
		if err != nil {
			return nil, dbError(err, "list_annotations", errors.PriorityMedium)
		}
		return annotations, nil
	}

	var annotations []Annotation
	if len(actor.GroupIDs) == 0 {
		return annotations, nil
	}
	err = ds.DB.
		Joins("JOIN annotation_groups ON annotation_groups.annotation_id = annotations.id").
		Where("annotations.photometry_id = ? AND annotation_groups.group_id IN ?", photometryID, actor.GroupIDs).
		Group("annotations.id").
		Order("annotations.origin ASC").
		Find(&annotations).Error
	if err != nil {
		return nil, dbError(err, "list_annotations", errors.PriorityMedium)
	}
	return annotations, nil
}

// UpdateAnnotation persists changes to an annotation. Only the author or a
// holder of the Manage sources ACL may update; group links may be widened
// but never narrowed here.
func (ds *DataStore) UpdateAnnotation(actor *Actor, annotation *Annotation, addGroupIDs []uint) error {
	if annotation.AuthorID != actor.User.ID && !actor.HasACL(ACLManageSources) {
		return unauthorizedError("update_annotation", "annotation")
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "update_annotation", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Save(annotation).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return conflictError(err, "update_annotation", "duplicate_origin",
				"photometry_id", annotation.PhotometryID, "origin", annotation.Origin)
		}
		return dbError(err, "update_annotation", errors.PriorityMedium, "annotation_id", annotation.ID)
	}

	for _, groupID := range dedupeIDs(addGroupIDs) {
		var count int64
		if err := tx.Model(&AnnotationGroup{}).
			Where("annotation_id = ? AND group_id = ?", annotation.ID, groupID).
			Count(&count).Error; err != nil {
			tx.Rollback()
			return dbError(err, "update_annotation", errors.PriorityMedium, "step", "group_link_check")
		}
		if count > 0 {
			continue
		}
		link := AnnotationGroup{AnnotationID: annotation.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "update_annotation", errors.PriorityMedium, "step", "group_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "update_annotation", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// DeleteAnnotation removes an annotation and its group links. Only the
// author or a holder of the Manage sources ACL may delete.
func (ds *DataStore) DeleteAnnotation(actor *Actor, id uint) error {
	annotation, err := ds.GetAnnotation(id)
	if err != nil {
		return err
	}
	if annotation.AuthorID != actor.User.ID && !actor.HasACL(ACLManageSources) {
		return unauthorizedError("delete_annotation", "annotation")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("annotation_id = ?", id).Delete(&AnnotationGroup{}).Error; err != nil {
			return dbError(err, "delete_annotation", errors.PriorityMedium, "step", "group_links")
		}
		if err := tx.Delete(&Annotation{}, id).Error; err != nil {
			return dbError(err, "delete_annotation", errors.PriorityMedium)
		}
		return nil
	})
}
