// analysis.go provides database operations for analysis services and runs
package datastore

import (
	"fmt"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// CreateAnalysisService stores an analysis service and its group links in
// one transaction. AuthInfo must already be encrypted by the caller.
func (ds *DataStore) CreateAnalysisService(service *AnalysisService, groupIDs []uint) error {
	if service.Name == "" {
		return validationError("analysis service name must not be empty", "name", service.Name)
	}
	if service.URL == "" {
		return validationError("analysis service url must not be empty", "url", service.URL)
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "create_analysis_service", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(service).Error; err != nil {
		tx.Rollback()
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_analysis_service", "duplicate_service_name",
				"name", service.Name)
		}
		return dbError(err, "create_analysis_service", errors.PriorityMedium, "name", service.Name)
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		link := GroupAnalysisService{AnalysisServiceID: service.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "create_analysis_service", errors.PriorityMedium, "step", "group_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "create_analysis_service", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetAnalysisService retrieves an analysis service by id. This is the
// unscoped read the webhook worker uses internally.
func (ds *DataStore) GetAnalysisService(id uint) (AnalysisService, error) {
	var service AnalysisService
	if err := ds.DB.First(&service, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return AnalysisService{}, notFoundError("analysis service", fmt.Sprintf("%d", id))
		}
		return AnalysisService{}, dbError(err, "get_analysis_service", errors.PriorityMedium)
	}
	return service, nil
}

// GetAnalysisServiceForUser retrieves an analysis service whose group links
// intersect the actor's groups. Rows outside scope come back as not found.
func (ds *DataStore) GetAnalysisServiceForUser(actor *Actor, id uint) (AnalysisService, error) {
	service, err := ds.GetAnalysisService(id)
	if err != nil {
		return AnalysisService{}, err
	}

	if actor.IsAdmin() {
		return service, nil
	}

	linked, err := ds.groupLinkIntersects("group_analysis_services", "analysis_service_id", id, actor.GroupIDs)
	if err != nil {
		return AnalysisService{}, err
	}
	if !linked {
		return AnalysisService{}, notFoundError("analysis service", fmt.Sprintf("%d", id))
	}
	return service, nil
}

// ListAnalysisServices returns the analysis services visible to the actor.
func (ds *DataStore) ListAnalysisServices(actor *Actor) ([]AnalysisService, error) {
	var services []AnalysisService

	if actor.IsAdmin() {
		if err := ds.DB.Order("name ASC").Find(&services).Error; err != nil {
			return nil, dbError(err, "list_analysis_services", errors.PriorityMedium)
		}
		return services, nil
	}

	if len(actor.GroupIDs) == 0 {
		return services, nil
	}
	err := ds.DB.
		Joins("JOIN group_analysis_services ON group_analysis_services.analysis_service_id = analysis_services.id").
		Where("group_analysis_services.group_id IN ?", actor.GroupIDs).
		Group("analysis_services.id").
		Order("analysis_services.name ASC").
		Find(&services).Error
	if err != nil {
		return nil, dbError(err, "list_analysis_services", errors.PriorityMedium)
	}
	return services, nil
}

// canManageAnalysisService reports whether the actor may update or delete a
// service: a system admin, or a member with the Manage groups ACL
// administering one of the service's owning groups.
func (ds *DataStore) canManageAnalysisService(actor *Actor, serviceID uint) (bool, error) {
	if actor.IsAdmin() {
		return true, nil
	}
	if !actor.HasACL(ACLManageGroups) {
		return false, nil
	}

	var ids []uint
	err := ds.DB.Model(&GroupAnalysisService{}).
		Where("analysis_service_id = ?", serviceID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return false, dbError(err, "can_manage_analysis_service", errors.PriorityMedium)
	}
	for _, groupID := range ids {
		admin, err := ds.IsGroupAdmin(actor.User.ID, groupID)
		if err != nil {
			return false, err
		}
		if admin {
			return true, nil
		}
	}
	return false, nil
}

// UpdateAnalysisService persists changes to an analysis service.
func (ds *DataStore) UpdateAnalysisService(actor *Actor, service *AnalysisService) error {
	allowed, err := ds.canManageAnalysisService(actor, service.ID)
	if err != nil {
		return err
	}
	if !allowed {
		return unauthorizedError("update_analysis_service", "analysis service")
	}

	if err := ds.DB.Save(service).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "update_analysis_service", "duplicate_service_name",
				"name", service.Name)
		}
		return dbError(err, "update_analysis_service", errors.PriorityMedium, "service_id", service.ID)
	}
	return nil
}

// DeleteAnalysisService removes an analysis service, its group links and
// its runs. Runs cascade through the foreign key constraint.
func (ds *DataStore) DeleteAnalysisService(actor *Actor, id uint) error {
	if _, err := ds.GetAnalysisService(id); err != nil {
		return err
	}

	allowed, err := ds.canManageAnalysisService(actor, id)
	if err != nil {
		return err
	}
	if !allowed {
		return unauthorizedError("delete_analysis_service", "analysis service")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("analysis_service_id = ?", id).Delete(&GroupAnalysisService{}).Error; err != nil {
			return dbError(err, "delete_analysis_service", errors.PriorityMedium, "step", "group_links")
		}
		var runIDs []uint
		if err := tx.Model(&ObjAnalysis{}).Where("analysis_service_id = ?", id).
			Pluck("id", &runIDs).Error; err != nil {
			return dbError(err, "delete_analysis_service", errors.PriorityMedium, "step", "run_lookup")
		}
		if len(runIDs) > 0 {
			if err := tx.Where("obj_analysis_id IN ?", runIDs).Delete(&GroupObjAnalysis{}).Error; err != nil {
				return dbError(err, "delete_analysis_service", errors.PriorityMedium, "step", "run_group_links")
			}
			if err := tx.Where("analysis_service_id = ?", id).Delete(&ObjAnalysis{}).Error; err != nil {
				return dbError(err, "delete_analysis_service", errors.PriorityMedium, "step", "runs")
			}
		}
		if err := tx.Delete(&AnalysisService{}, id).Error; err != nil {
			return dbError(err, "delete_analysis_service", errors.PriorityMedium)
		}
		return nil
	})
}

// CreateObjAnalysis stores an analysis run and its group links in one
// transaction.
func (ds *DataStore) CreateObjAnalysis(analysis *ObjAnalysis, groupIDs []uint) error {
	if analysis.ObjID == "" {
		return validationError("analysis obj id must not be empty", "obj_id", analysis.ObjID)
	}
	if analysis.AnalysisServiceID == 0 {
		return validationError("analysis must reference a service",
			"analysis_service_id", analysis.AnalysisServiceID)
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "create_obj_analysis", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(analysis).Error; err != nil {
		tx.Rollback()
		return dbError(err, "create_obj_analysis", errors.PriorityMedium, "obj_id", analysis.ObjID)
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		link := GroupObjAnalysis{ObjAnalysisID: analysis.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "create_obj_analysis", errors.PriorityMedium, "step", "group_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "create_obj_analysis", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetObjAnalysis retrieves an analysis run with its service preloaded. This
// is the unscoped read the webhook worker uses internally.
func (ds *DataStore) GetObjAnalysis(id uint) (ObjAnalysis, error) {
	var analysis ObjAnalysis
	if err := ds.DB.Preload("AnalysisService").First(&analysis, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ObjAnalysis{}, notFoundError("analysis", fmt.Sprintf("%d", id))
		}
		return ObjAnalysis{}, dbError(err, "get_obj_analysis", errors.PriorityMedium)
	}
	return analysis, nil
}

// GetObjAnalysisForUser retrieves an analysis run the actor may read: its
// group links intersect the actor's groups and the obj is owned. Rows
// outside scope come back as not found.
func (ds *DataStore) GetObjAnalysisForUser(actor *Actor, id uint) (ObjAnalysis, error) {
	analysis, err := ds.GetObjAnalysis(id)
	if err != nil {
		return ObjAnalysis{}, err
	}

	if actor.IsAdmin() {
		return analysis, nil
	}

	linked, err := ds.groupLinkIntersects("group_obj_analyses", "obj_analysis_id", id, actor.GroupIDs)
	if err != nil {
		return ObjAnalysis{}, err
	}
	if !linked {
		return ObjAnalysis{}, notFoundError("analysis", fmt.Sprintf("%d", id))
	}

	owned, err := ds.IsObjOwnedBy(analysis.ObjID, actor.GroupIDs)
	if err != nil {
		return ObjAnalysis{}, err
	}
	if !owned {
		return ObjAnalysis{}, notFoundError("analysis", fmt.Sprintf("%d", id))
	}
	return analysis, nil
}

// GetObjAnalysisByToken retrieves an analysis run by its webhook token.
func (ds *DataStore) GetObjAnalysisByToken(token string) (ObjAnalysis, error) {
	var analysis ObjAnalysis
	err := ds.DB.Preload("AnalysisService").
		Where("token = ?", token).
		First(&analysis).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ObjAnalysis{}, notFoundError("analysis", "webhook token")
		}
		return ObjAnalysis{}, dbError(err, "get_obj_analysis_by_token", errors.PriorityMedium)
	}
	return analysis, nil
}

// ListObjAnalyses returns the analysis runs of an obj visible to the actor,
// newest first.
func (ds *DataStore) ListObjAnalyses(actor *Actor, objID string) ([]ObjAnalysis, error) {
	var analyses []ObjAnalysis

	if actor.IsAdmin() {
		err := ds.DB.Preload("AnalysisService").
			Where("obj_id = ?", objID).
			Order("created_at DESC").
			Find(&analyses).Error
		if err != nil {
			return nil, dbError(err, "list_obj_analyses", errors.PriorityMedium, "obj_id", objID)
		}
		return analyses, nil
	}

	owned, err := ds.IsObjOwnedBy(objID, actor.GroupIDs)
	if err != nil {
		return nil, err
	}
	if !owned || len(actor.GroupIDs) == 0 {
		return analyses, nil
	}

	err = ds.DB.Preload("AnalysisService").
		Joins("JOIN group_obj_analyses ON group_obj_analyses.obj_analysis_id = obj_analyses.id").
		Where("obj_analyses.obj_id = ? AND group_obj_analyses.group_id IN ?", objID, actor.GroupIDs).
		Group("obj_analyses.id").
		Order("obj_analyses.created_at DESC").
		Find(&analyses).Error
	if err != nil {
		return nil, dbError(err, "list_obj_analyses", errors.PriorityMedium, "obj_id", objID)
	}
	return analyses, nil
}

// UpdateObjAnalysis persists changes to an analysis run. Status transitions
// come from the webhook worker, which has already authenticated the caller
// via the run token.
func (ds *DataStore) UpdateObjAnalysis(analysis *ObjAnalysis) error {
	if err := ds.DB.Save(analysis).Error; err != nil {
		return dbError(err, "update_obj_analysis", errors.PriorityMedium, "analysis_id", analysis.ID)
	}
	return nil
}

// DeleteObjAnalysis removes an analysis run and its group links. Only the
// author or a system admin may delete.
func (ds *DataStore) DeleteObjAnalysis(actor *Actor, id uint) error {
	analysis, err := ds.GetObjAnalysis(id)
	if err != nil {
		return err
	}
	if analysis.AuthorID != actor.User.ID && !actor.IsAdmin() {
		return unauthorizedError("delete_obj_analysis", "analysis")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("obj_analysis_id = ?", id).Delete(&GroupObjAnalysis{}).Error; err != nil {
			return dbError(err, "delete_obj_analysis", errors.PriorityMedium, "step", "group_links")
		}
		if err := tx.Delete(&ObjAnalysis{}, id).Error; err != nil {
			return dbError(err, "delete_obj_analysis", errors.PriorityMedium)
		}
		return nil
	})
}
