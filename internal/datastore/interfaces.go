// interfaces.go: this code defines the interface for the database operations
package datastore

import (
	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/errors"
	"gorm.io/gorm"
)

// Interface abstracts the underlying database implementation and defines the
// operations the rest of the platform performs against the store.
type Interface interface {
	Open() error
	Close() error
	Ping() error

	// users, tokens and groups
	CreateUser(user *User) error
	GetUser(id uint) (User, error)
	GetUserByUsername(username string) (User, error)
	CreateToken(token *Token) error
	GetToken(id string) (Token, error)
	DeleteToken(id string) error
	CreateGroup(group *Group) error
	GetGroup(id uint) (Group, error)
	GetGroupByName(name string) (Group, error)
	AddGroupUser(membership *GroupUser) error
	GetUserGroupIDs(userID uint) ([]uint, error)
	GetUserSingleGroup(userID uint) (Group, error)
	IsGroupAdmin(userID, groupID uint) (bool, error)
	GetActor(tokenID string) (Actor, error)

	// objs, sources and classifications
	CreateObj(obj *Obj) error
	GetObj(id string) (Obj, error)
	UpdateObjSummary(objID, summary string) error
	MarkObjSummaryIndexed(objID string) error
	SaveSource(source *Source) error
	IsObjOwnedBy(objID string, groupIDs []uint) (bool, error)
	GetObjClassifications(objID string, groupIDs []uint) ([]Classification, error)
	GetAllObjClassifications(objID string) ([]Classification, error)
	CreateClassification(classification *Classification, groupIDs []uint) error

	// telescopes, instruments and allocations
	CreateTelescope(telescope *Telescope) error
	GetTelescope(id uint) (Telescope, error)
	CreateInstrument(instrument *Instrument) error
	GetInstrument(id uint) (Instrument, error)
	GetInstrumentByName(name string) (Instrument, error)
	UpdateInstrumentStatus(id uint, status string) error
	CreateAllocation(allocation *Allocation) error
	GetAllocation(id uint) (Allocation, error)

	// followup requests and facility transactions
	CreateFollowupRequest(request *FollowupRequest) error
	GetFollowupRequest(id uint) (FollowupRequest, error)
	GetFollowupRequestForUser(actor *Actor, id uint) (FollowupRequest, error)
	ListFollowupRequests(actor *Actor, objID string) ([]FollowupRequest, error)
	CanManageFollowupRequest(actor *Actor, request *FollowupRequest) (bool, error)
	UpdateFollowupRequestStatus(id uint, status string) error
	DeleteFollowupRequest(id uint) error
	SaveFacilityTransaction(transaction *FacilityTransaction) error
	GetFirstFacilityTransaction(followupRequestID uint) (FacilityTransaction, error)

	// spectra
	SaveSpectrum(spectrum *Spectrum, groupIDs, reducerIDs, observerIDs []uint) error
	GetSpectrum(id uint) (Spectrum, error)
	GetSpectrumForUser(actor *Actor, id uint) (Spectrum, error)
	ListSpectraByObj(actor *Actor, objID string) ([]Spectrum, error)
	UpdateSpectrum(actor *Actor, spectrum *Spectrum) error
	DeleteSpectrum(actor *Actor, id uint) error
	GetSpectrumGroupIDs(spectrumID uint) ([]uint, error)

	// photometry and annotations
	SavePhotometry(photometry *Photometry, groupIDs []uint) error
	GetPhotometry(id uint) (Photometry, error)
	GetPhotometryForUser(actor *Actor, id uint) (Photometry, error)
	SaveAnnotation(annotation *Annotation, groupIDs []uint) error
	GetAnnotation(id uint) (Annotation, error)
	GetAnnotationForUser(actor *Actor, id uint) (Annotation, error)
	ListAnnotations(actor *Actor, photometryID uint) ([]Annotation, error)
	UpdateAnnotation(actor *Actor, annotation *Annotation, addGroupIDs []uint) error
	DeleteAnnotation(actor *Actor, id uint) error

	// analysis services and runs
	CreateAnalysisService(service *AnalysisService, groupIDs []uint) error
	GetAnalysisService(id uint) (AnalysisService, error)
	GetAnalysisServiceForUser(actor *Actor, id uint) (AnalysisService, error)
	ListAnalysisServices(actor *Actor) ([]AnalysisService, error)
	UpdateAnalysisService(actor *Actor, service *AnalysisService) error
	DeleteAnalysisService(actor *Actor, id uint) error
	CreateObjAnalysis(analysis *ObjAnalysis, groupIDs []uint) error
	GetObjAnalysis(id uint) (ObjAnalysis, error)
	GetObjAnalysisForUser(actor *Actor, id uint) (ObjAnalysis, error)
	GetObjAnalysisByToken(token string) (ObjAnalysis, error)
	ListObjAnalyses(actor *Actor, objID string) ([]ObjAnalysis, error)
	UpdateObjAnalysis(analysis *ObjAnalysis) error
	DeleteObjAnalysis(actor *Actor, id uint) error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB      *gorm.DB // GORM database instance
	metrics *Metrics
}

// New creates a store for the backend enabled in the configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Database.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	case settings.Database.MySQL.Enabled:
		return &MySQLStore{
			Settings: settings,
		}
	default:
		// Consider handling the case where neither database is enabled
		return nil
	}
}

// SetMetrics attaches observability metrics to the store. Safe to leave
// unset; recording is skipped when nil.
func (ds *DataStore) SetMetrics(m *Metrics) {
	ds.metrics = m
}

// Ping verifies the underlying connection is alive.
func (ds *DataStore) Ping() error {
	if ds.DB == nil {
		return errors.Newf("database connection is not initialized").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Priority(errors.PriorityHigh).
			Context("operation", "ping").
			Build()
	}
	sqlDB, err := ds.DB.DB()
	if err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	if err := sqlDB.Ping(); err != nil {
		return dbError(err, "ping", errors.PriorityHigh)
	}
	return nil
}
