// instruments.go provides database operations for telescopes, instruments and allocations
package datastore

import (
	"fmt"
	"time"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// CreateTelescope stores a new telescope.
func (ds *DataStore) CreateTelescope(telescope *Telescope) error {
	if telescope.Name == "" {
		return validationError("telescope name must not be empty", "name", telescope.Name)
	}
	if err := ds.DB.Create(telescope).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_telescope", "duplicate_telescope", "name", telescope.Name)
		}
		return dbError(err, "create_telescope", errors.PriorityMedium, "name", telescope.Name)
	}
	return nil
}

// GetTelescope retrieves a telescope by id.
func (ds *DataStore) GetTelescope(id uint) (Telescope, error) {
	var telescope Telescope
	if err := ds.DB.First(&telescope, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Telescope{}, notFoundError("telescope", fmt.Sprintf("%d", id))
		}
		return Telescope{}, dbError(err, "get_telescope", errors.PriorityMedium)
	}
	return telescope, nil
}

// CreateInstrument stores a new instrument.
func (ds *DataStore) CreateInstrument(instrument *Instrument) error {
	if instrument.Name == "" {
		return validationError("instrument name must not be empty", "name", instrument.Name)
	}
	if instrument.Type != InstrumentTypeImager && instrument.Type != InstrumentTypeSpectrograph {
		return validationError("instrument type must be imager or spectrograph", "type", instrument.Type)
	}
	if instrument.TelescopeID == 0 {
		return validationError("instrument must be mounted on a telescope", "telescope_id", instrument.TelescopeID)
	}

	if err := ds.DB.Create(instrument).Error; err != nil {
		if isDuplicateKeyError(err) {
			return conflictError(err, "create_instrument", "duplicate_instrument", "name", instrument.Name)
		}
		return dbError(err, "create_instrument", errors.PriorityMedium, "name", instrument.Name)
	}
	return nil
}

// GetInstrument retrieves an instrument with its telescope preloaded.
func (ds *DataStore) GetInstrument(id uint) (Instrument, error) {
	var instrument Instrument
	if err := ds.DB.Preload("Telescope").First(&instrument, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Instrument{}, notFoundError("instrument", fmt.Sprintf("%d", id))
		}
		return Instrument{}, dbError(err, "get_instrument", errors.PriorityMedium)
	}
	return instrument, nil
}

// GetInstrumentByName retrieves an instrument by its unique name.
func (ds *DataStore) GetInstrumentByName(name string) (Instrument, error) {
	var instrument Instrument
	if err := ds.DB.Preload("Telescope").Where("name = ?", name).First(&instrument).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Instrument{}, notFoundError("instrument", name)
		}
		return Instrument{}, dbError(err, "get_instrument_by_name", errors.PriorityMedium)
	}
	return instrument, nil
}

// UpdateInstrumentStatus replaces the facility-reported status blob and
// stamps the update time.
func (ds *DataStore) UpdateInstrumentStatus(id uint, status string) error {
	now := time.Now()
	result := ds.DB.Model(&Instrument{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":             status,
		"last_status_update": &now,
	})
	if result.Error != nil {
		return dbError(result.Error, "update_instrument_status", errors.PriorityMedium, "instrument_id", id)
	}
	if result.RowsAffected == 0 {
		return notFoundError("instrument", fmt.Sprintf("%d", id))
	}
	return nil
}

// CreateAllocation stores a new allocation. Altdata must already be
// encrypted by the caller.
func (ds *DataStore) CreateAllocation(allocation *Allocation) error {
	if allocation.InstrumentID == 0 {
		return validationError("allocation must reference an instrument", "instrument_id", allocation.InstrumentID)
	}
	if allocation.GroupID == 0 {
		return validationError("allocation must belong to a group", "group_id", allocation.GroupID)
	}
	if err := ds.DB.Create(allocation).Error; err != nil {
		return dbError(err, "create_allocation", errors.PriorityMedium, "proposal_id", allocation.ProposalID)
	}
	return nil
}

// GetAllocation retrieves an allocation with its instrument, telescope and
// group preloaded, as the facility layer needs all three.
func (ds *DataStore) GetAllocation(id uint) (Allocation, error) {
	var allocation Allocation
	err := ds.DB.
		Preload("Instrument").
		Preload("Instrument.Telescope").
		Preload("Group").
		First(&allocation, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Allocation{}, notFoundError("allocation", fmt.Sprintf("%d", id))
		}
		return Allocation{}, dbError(err, "get_allocation", errors.PriorityMedium)
	}
	return allocation, nil
}
