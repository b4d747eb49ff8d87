// followups.go provides database operations for followup requests and
// facility transactions
package datastore

import (
	"fmt"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// CreateFollowupRequest stores a new followup request. Permission checks
// against the allocation's group happen in the API layer before submission.
func (ds *DataStore) CreateFollowupRequest(request *FollowupRequest) error {
	if request.ObjID == "" {
		return validationError("followup request obj id must not be empty", "obj_id", request.ObjID)
	}
	if request.AllocationID == 0 {
		return validationError("followup request must reference an allocation", "allocation_id", request.AllocationID)
	}
	if request.RequesterID == 0 {
		return validationError("followup request must have a requester", "requester_id", request.RequesterID)
	}

	if err := ds.DB.Create(request).Error; err != nil {
		return dbError(err, "create_followup_request", errors.PriorityMedium, "obj_id", request.ObjID)
	}
	return nil
}

// GetFollowupRequest retrieves a followup request with its allocation,
// instrument, telescope, obj, requester and transactions preloaded. This is
// the unscoped read the facility layer uses internally.
func (ds *DataStore) GetFollowupRequest(id uint) (FollowupRequest, error) {
	var request FollowupRequest
	err := ds.DB.
		Preload("Obj").
		Preload("Allocation").
		Preload("Allocation.Instrument").
		Preload("Allocation.Instrument.Telescope").
		Preload("Allocation.Group").
		Preload("Requester").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("facility_transactions.created_at ASC")
		}).
		First(&request, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FollowupRequest{}, notFoundError("followup request", fmt.Sprintf("%d", id))
		}
		return FollowupRequest{}, dbError(err, "get_followup_request", errors.PriorityMedium)
	}
	return request, nil
}

// GetFollowupRequestForUser retrieves a followup request readable by the
// actor: the requester always reads their own, otherwise the target groups
// must intersect the actor's groups. Rows outside scope come back as not
// found so their existence does not leak.
func (ds *DataStore) GetFollowupRequestForUser(actor *Actor, id uint) (FollowupRequest, error) {
	request, err := ds.GetFollowupRequest(id)
	if err != nil {
		return FollowupRequest{}, err
	}

	if actor.IsAdmin() || request.RequesterID == actor.User.ID {
		return request, nil
	}
	for _, groupID := range request.TargetGroupIDs {
		if actor.InGroup(groupID) {
			return request, nil
		}
	}
	return FollowupRequest{}, notFoundError("followup request", fmt.Sprintf("%d", id))
}

// ListFollowupRequests returns the followup requests readable by the actor,
// oldest first. A non-empty objID restricts the list to that obj.
func (ds *DataStore) ListFollowupRequests(actor *Actor, objID string) ([]FollowupRequest, error) {
	var requests []FollowupRequest
	query := ds.DB.
		Preload("Allocation").
		Preload("Allocation.Instrument").
		Preload("Requester").
		Order("created_at ASC")
	if objID != "" {
		query = query.Where("obj_id = ?", objID)
	}
	err := query.Find(&requests).Error
	if err != nil {
		return nil, dbError(err, "list_followup_requests", errors.PriorityMedium, "obj_id", objID)
	}

	if actor.IsAdmin() {
		return requests, nil
	}

	readable := requests[:0]
	for _, request := range requests {
		if request.RequesterID == actor.User.ID {
			readable = append(readable, request)
			continue
		}
		for _, groupID := range request.TargetGroupIDs {
			if actor.InGroup(groupID) {
				readable = append(readable, request)
				break
			}
		}
	}
	return readable, nil
}

// CanManageFollowupRequest reports whether the actor may delete or abort the
// request: the requester, an admin of the allocation's group, or a system
// admin.
func (ds *DataStore) CanManageFollowupRequest(actor *Actor, request *FollowupRequest) (bool, error) {
	if actor.IsAdmin() || request.RequesterID == actor.User.ID {
		return true, nil
	}
	return ds.IsGroupAdmin(actor.User.ID, request.Allocation.GroupID)
}

// UpdateFollowupRequestStatus replaces the request status. The status text
// carries facility feedback verbatim, including rejection reasons.
func (ds *DataStore) UpdateFollowupRequestStatus(id uint, status string) error {
	result := ds.DB.Model(&FollowupRequest{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return dbError(result.Error, "update_followup_request_status", errors.PriorityMedium,
			"followup_request_id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError("followup request", fmt.Sprintf("%d", id))
	}
	return nil
}

// DeleteFollowupRequest removes a followup request and its transactions.
func (ds *DataStore) DeleteFollowupRequest(id uint) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("followup_request_id = ?", id).Delete(&FacilityTransaction{}).Error; err != nil {
			return dbError(err, "delete_followup_request", errors.PriorityMedium, "step", "transactions")
		}
		result := tx.Delete(&FollowupRequest{}, id)
		if result.Error != nil {
			return dbError(result.Error, "delete_followup_request", errors.PriorityMedium)
		}
		if result.RowsAffected == 0 {
			return notFoundError("followup request", fmt.Sprintf("%d", id))
		}
		return nil
	})
}

// SaveFacilityTransaction appends an audit row of facility traffic.
// Transactions are never updated or deleted individually.
func (ds *DataStore) SaveFacilityTransaction(transaction *FacilityTransaction) error {
	if transaction.FollowupRequestID == 0 {
		return validationError("facility transaction must reference a followup request",
			"followup_request_id", transaction.FollowupRequestID)
	}
	if err := ds.DB.Create(transaction).Error; err != nil {
		return dbError(err, "save_facility_transaction", errors.PriorityMedium,
			"followup_request_id", transaction.FollowupRequestID)
	}
	return nil
}

// GetFirstFacilityTransaction returns the oldest transaction of a request.
// Aborting a submission needs the original document to reconstruct the
// facility-side identifier.
func (ds *DataStore) GetFirstFacilityTransaction(followupRequestID uint) (FacilityTransaction, error) {
	var transaction FacilityTransaction
	err := ds.DB.
		Where("followup_request_id = ?", followupRequestID).
		Order("created_at ASC").
		First(&transaction).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FacilityTransaction{}, notFoundError("facility transaction",
				fmt.Sprintf("followup request %d", followupRequestID))
		}
		return FacilityTransaction{}, dbError(err, "get_first_facility_transaction", errors.PriorityMedium)
	}
	return transaction, nil
}
