// spectra.go provides database operations for spectra and their share links
package datastore

import (
	"fmt"

	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// SaveSpectrum stores a spectrum together with its group, reducer and
// observer links in one transaction. The caller resolves group ids; the
// uploader's single-user group must already be in groupIDs.
func (ds *DataStore) SaveSpectrum(spectrum *Spectrum, groupIDs, reducerIDs, observerIDs []uint) error {
	if spectrum.ObjID == "" {
		return validationError("spectrum obj id must not be empty", "obj_id", spectrum.ObjID)
	}
	if len(spectrum.Wavelengths) == 0 || len(spectrum.Fluxes) == 0 {
		return validationError("spectrum must carry wavelengths and fluxes", "wavelengths", len(spectrum.Wavelengths))
	}
	if len(spectrum.Wavelengths) != len(spectrum.Fluxes) {
		return validationError("wavelength and flux arrays must have equal length",
			"fluxes", fmt.Sprintf("%d != %d", len(spectrum.Fluxes), len(spectrum.Wavelengths)))
	}
	if len(spectrum.Errors) > 0 && len(spectrum.Errors) != len(spectrum.Wavelengths) {
		return validationError("error array must match wavelength array length",
			"errors", fmt.Sprintf("%d != %d", len(spectrum.Errors), len(spectrum.Wavelengths)))
	}

	tx := ds.DB.Begin()
	if tx.Error != nil {
		return dbError(tx.Error, "save_spectrum", errors.PriorityHigh)
	}
	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
		}
	}()

	if err := tx.Create(spectrum).Error; err != nil {
		tx.Rollback()
		return dbError(err, "save_spectrum", errors.PriorityMedium, "obj_id", spectrum.ObjID)
	}

	for _, groupID := range dedupeIDs(groupIDs) {
		link := SpectrumGroup{SpectrumID: spectrum.ID, GroupID: groupID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_spectrum", errors.PriorityMedium, "step", "group_link")
		}
	}
	for _, userID := range dedupeIDs(reducerIDs) {
		link := SpectrumReducer{SpectrumID: spectrum.ID, UserID: userID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_spectrum", errors.PriorityMedium, "step", "reducer_link")
		}
	}
	for _, userID := range dedupeIDs(observerIDs) {
		link := SpectrumObserver{SpectrumID: spectrum.ID, UserID: userID}
		if err := tx.Create(&link).Error; err != nil {
			tx.Rollback()
			return dbError(err, "save_spectrum", errors.PriorityMedium, "step", "observer_link")
		}
	}

	if err := tx.Commit().Error; err != nil {
		return dbError(err, "save_spectrum", errors.PriorityHigh, "step", "commit")
	}
	return nil
}

// GetSpectrum retrieves a spectrum by id with obj and instrument preloaded.
func (ds *DataStore) GetSpectrum(id uint) (Spectrum, error) {
	var spectrum Spectrum
	err := ds.DB.
		Preload("Obj").
		Preload("Instrument").
		First(&spectrum, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Spectrum{}, notFoundError("spectrum", fmt.Sprintf("%d", id))
		}
		return Spectrum{}, dbError(err, "get_spectrum", errors.PriorityMedium)
	}
	return spectrum, nil
}

// GetSpectrumForUser retrieves a spectrum the actor may read. Spectra are
// readable when their obj is owned by the actor. Rows outside scope come
// back as not found so their existence does not leak.
func (ds *DataStore) GetSpectrumForUser(actor *Actor, id uint) (Spectrum, error) {
	spectrum, err := ds.GetSpectrum(id)
	if err != nil {
		return Spectrum{}, err
	}

	owned, err := ds.objOwnedByActor(actor, spectrum.ObjID)
	if err != nil {
		return Spectrum{}, err
	}
	if !owned {
		return Spectrum{}, notFoundError("spectrum", fmt.Sprintf("%d", id))
	}
	return spectrum, nil
}

// ListSpectraByObj returns the spectra of an obj the actor owns, in
// observation order.
func (ds *DataStore) ListSpectraByObj(actor *Actor, objID string) ([]Spectrum, error) {
	owned, err := ds.objOwnedByActor(actor, objID)
	if err != nil {
		return nil, err
	}
	if !owned {
		return nil, unauthorizedError("list_spectra", "obj")
	}

	var spectra []Spectrum
	err = ds.DB.
		Preload("Instrument").
		Where("obj_id = ?", objID).
		Order("observed_at ASC").
		Find(&spectra).Error
	if err != nil {
		return nil, dbError(err, "list_spectra_by_obj", errors.PriorityMedium, "obj_id", objID)
	}
	return spectra, nil
}

// UpdateSpectrum persists changes to a spectrum. The actor needs the Manage
// sources ACL and ownership of the obj; system admins bypass ownership.
func (ds *DataStore) UpdateSpectrum(actor *Actor, spectrum *Spectrum) error {
	if !actor.HasACL(ACLManageSources) {
		return unauthorizedError("update_spectrum", "spectrum")
	}
	owned, err := ds.objOwnedByActor(actor, spectrum.ObjID)
	if err != nil {
		return err
	}
	if !owned {
		return unauthorizedError("update_spectrum", "spectrum")
	}

	if err := ds.DB.Save(spectrum).Error; err != nil {
		return dbError(err, "update_spectrum", errors.PriorityMedium, "spectrum_id", spectrum.ID)
	}
	return nil
}

// DeleteSpectrum removes a spectrum and its links. Same permission rule as
// UpdateSpectrum.
func (ds *DataStore) DeleteSpectrum(actor *Actor, id uint) error {
	spectrum, err := ds.GetSpectrum(id)
	if err != nil {
		return err
	}

	if !actor.HasACL(ACLManageSources) {
		return unauthorizedError("delete_spectrum", "spectrum")
	}
	owned, err := ds.objOwnedByActor(actor, spectrum.ObjID)
	if err != nil {
		return err
	}
	if !owned {
		return unauthorizedError("delete_spectrum", "spectrum")
	}

	return ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("spectrum_id = ?", id).Delete(&SpectrumGroup{}).Error; err != nil {
			return dbError(err, "delete_spectrum", errors.PriorityMedium, "step", "group_links")
		}
		if err := tx.Where("spectrum_id = ?", id).Delete(&SpectrumReducer{}).Error; err != nil {
			return dbError(err, "delete_spectrum", errors.PriorityMedium, "step", "reducer_links")
		}
		if err := tx.Where("spectrum_id = ?", id).Delete(&SpectrumObserver{}).Error; err != nil {
			return dbError(err, "delete_spectrum", errors.PriorityMedium, "step", "observer_links")
		}
		if err := tx.Delete(&Spectrum{}, id).Error; err != nil {
			return dbError(err, "delete_spectrum", errors.PriorityMedium)
		}
		return nil
	})
}

// GetSpectrumGroupIDs returns the ids of the groups a spectrum is shared with.
func (ds *DataStore) GetSpectrumGroupIDs(spectrumID uint) ([]uint, error) {
	var ids []uint
	err := ds.DB.Model(&SpectrumGroup{}).
		Where("spectrum_id = ?", spectrumID).
		Pluck("group_id", &ids).Error
	if err != nil {
		return nil, dbError(err, "get_spectrum_group_ids", errors.PriorityMedium, "spectrum_id", spectrumID)
	}
	return ids, nil
}

// dedupeIDs removes duplicate ids while preserving order.
func dedupeIDs(ids []uint) []uint {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
