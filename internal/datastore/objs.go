// objs.go provides database operations for objs, sources and classifications
package datastore

import (
	"fmt"
	"time"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// CreateObj stores a new astronomical object.
func (ds *DataStore) CreateObj(obj *Obj) error {
	if obj.ID == "" {
		return validationError("obj id must not be empty", "id", obj.ID)
	}
	if err := ds.DB.Create(obj).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_obj", "duplicate_obj", "obj_id", obj.ID)
		}
		return dbError(err, "create_obj", errors.PriorityMedium, "obj_id", obj.ID)
	}
	return nil
}

// GetObj retrieves an obj by its identifier.
func (ds *DataStore) GetObj(id string) (Obj, error) {
	var obj Obj
	if err := ds.DB.First(&obj, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Obj{}, notFoundError("obj", id)
		}
		return Obj{}, dbError(err, "get_obj", errors.PriorityMedium, "obj_id", id)
	}
	return obj, nil
}

// UpdateObjSummary replaces the obj summary text and clears the indexed-at
// marker so the vector index knows the stored embedding is stale.
func (ds *DataStore) UpdateObjSummary(objID, summary string) error {
	result := ds.DB.Model(&Obj{}).Where("id = ?", objID).Updates(map[string]interface{}{
		"summary":            summary,
		"summary_indexed_at": nil,
	})
	if result.Error != nil {
		return dbError(result.Error, "update_obj_summary", errors.PriorityMedium, "obj_id", objID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("obj", objID)
	}
	return nil
}

// MarkObjSummaryIndexed records that the current summary has been embedded
// and upserted into the vector index.
func (ds *DataStore) MarkObjSummaryIndexed(objID string) error {
	now := time.Now()
	result := ds.DB.Model(&Obj{}).Where("id = ?", objID).Update("summary_indexed_at", &now)
	if result.Error != nil {
		return dbError(result.Error, "mark_obj_summary_indexed", errors.PriorityLow, "obj_id", objID)
	}
	if result.RowsAffected == 0 {
		return notFoundError("obj", objID)
	}
	return nil
}

// SaveSource stores or reactivates the save-association of an obj to a
// group. Saving an already saved pair reactivates it instead of failing.
func (ds *DataStore) SaveSource(source *Source) error {
	if source.ObjID == "" {
		return validationError("source obj id must not be empty", "obj_id", source.ObjID)
	}
	if source.GroupID == 0 {
		return validationError("source group id must not be empty", "group_id", source.GroupID)
	}

	var existing Source
	err := ds.DB.Where("obj_id = ? AND group_id = ?", source.ObjID, source.GroupID).First(&existing).Error
	switch {
	case err == nil:
		existing.Active = source.Active
		existing.SavedByID = source.SavedByID
		if err := ds.DB.Save(&existing).Error; err != nil {
			return dbError(err, "save_source", errors.PriorityMedium, "obj_id", source.ObjID)
		}
		*source = existing
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		if err := ds.DB.Create(source).Error; err != nil {
			return dbError(err, "save_source", errors.PriorityMedium, "obj_id", source.ObjID)
		}
		return nil
	default:
		return dbError(err, "save_source", errors.PriorityMedium, "obj_id", source.ObjID)
	}
}

// GetObjClassifications returns the classifications of an obj visible
// through the given groups.
func (ds *DataStore) GetObjClassifications(objID string, groupIDs []uint) ([]Classification, error) {
	if len(groupIDs) == 0 {
		return []Classification{}, nil
	}
	var classifications []Classification
	err := ds.DB.
		Joins("JOIN classification_groups ON classification_groups.classification_id = classifications.id").
		Where("classifications.obj_id = ? AND classification_groups.group_id IN ?", objID, groupIDs).
		Group("classifications.id").
		Order("classifications.created_at DESC").
		Find(&classifications).Error
	if err != nil {
		return nil, dbError(err, "get_obj_classifications", errors.PriorityMedium, "obj_id", objID)
	}
	return classifications, nil
}

// GetAllObjClassifications returns every classification of an obj regardless
// of group visibility. The vector index stores classification metadata
// globally, so the summary indexer needs the unscoped view.
func (ds *DataStore) GetAllObjClassifications(objID string) ([]Classification, error) {
	var classifications []Classification
	err := ds.DB.
		Where("obj_id = ?", objID).
		Order("created_at DESC").
		Find(&classifications).Error
	if err != nil {
		return nil, dbError(err, "get_all_obj_classifications", errors.PriorityMedium, "obj_id", objID)
	}
	return classifications, nil
}

// CreateClassification stores a classification and links it to the given
// groups in one transaction.
func (ds *DataStore) CreateClassification(classification *Classification, groupIDs []uint) error {
	if classification.Classification == "" {
		return validationError("classification name must not be empty", "classification", "")
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "create_classification", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(classification).Error; err != nil {
		tx.Rollback()
		return dbError(err, "create_classification", errors.PriorityMedium, "obj_id", classification.ObjID)
	}

	for _, groupID := range groupIDs {
		link := ClassificationGroup{ClassificationID: classification.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "create_classification", errors.PriorityMedium,
				"step", "group_link", "group_id", fmt.Sprintf("%d", groupID))
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "create_classification", errors.PriorityHigh, "step", "commit")
	}
	return nil
}
