package api

import (
	"github.com/stretchr/testify/mock"

	"github.com/skyhub/skyhub-go/internal/datastore"
)

// MockDataStore implements datastore.Interface for handler tests.
type MockDataStore struct {
	mock.Mock
}

func (m *MockDataStore) Open() error  { return m.Called().Error(0) }
func (m *MockDataStore) Close() error { return m.Called().Error(0) }
func (m *MockDataStore) Ping() error  { return m.Called().Error(0) }

func (m *MockDataStore) CreateUser(user *datastore.User) error {
	return m.Called(user).Error(0)
}

func (m *MockDataStore) GetUser(id uint) (datastore.User, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.User), args.Error(1)
}

func (m *MockDataStore) GetUserByUsername(username string) (datastore.User, error) {
	args := m.Called(username)
	return args.Get(0).(datastore.User), args.Error(1)
}

func (m *MockDataStore) CreateToken(token *datastore.Token) error {
	return m.Called(token).Error(0)
}

func (m *MockDataStore) GetToken(id string) (datastore.Token, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Token), args.Error(1)
}

func (m *MockDataStore) DeleteToken(id string) error {
	return m.Called(id).Error(0)
}

func (m *MockDataStore) CreateGroup(group *datastore.Group) error {
	return m.Called(group).Error(0)
}

func (m *MockDataStore) GetGroup(id uint) (datastore.Group, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Group), args.Error(1)
}

func (m *MockDataStore) GetGroupByName(name string) (datastore.Group, error) {
	args := m.Called(name)
	return args.Get(0).(datastore.Group), args.Error(1)
}

func (m *MockDataStore) AddGroupUser(membership *datastore.GroupUser) error {
	return m.Called(membership).Error(0)
}

func (m *MockDataStore) GetUserGroupIDs(userID uint) ([]uint, error) {
	args := m.Called(userID)
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockDataStore) GetUserSingleGroup(userID uint) (datastore.Group, error) {
	args := m.Called(userID)
	return args.Get(0).(datastore.Group), args.Error(1)
}

func (m *MockDataStore) IsGroupAdmin(userID, groupID uint) (bool, error) {
	args := m.Called(userID, groupID)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataStore) GetActor(tokenID string) (datastore.Actor, error) {
	args := m.Called(tokenID)
	return args.Get(0).(datastore.Actor), args.Error(1)
}

func (m *MockDataStore) CreateObj(obj *datastore.Obj) error {
	return m.Called(obj).Error(0)
}

func (m *MockDataStore) GetObj(id string) (datastore.Obj, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Obj), args.Error(1)
}

func (m *MockDataStore) UpdateObjSummary(objID, summary string) error {
	return m.Called(objID, summary).Error(0)
}

func (m *MockDataStore) MarkObjSummaryIndexed(objID string) error {
	return m.Called(objID).Error(0)
}

func (m *MockDataStore) SaveSource(source *datastore.Source) error {
	return m.Called(source).Error(0)
}

func (m *MockDataStore) IsObjOwnedBy(objID string, groupIDs []uint) (bool, error) {
	args := m.Called(objID, groupIDs)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataStore) GetObjClassifications(objID string, groupIDs []uint) ([]datastore.Classification, error) {
	args := m.Called(objID, groupIDs)
	return args.Get(0).([]datastore.Classification), args.Error(1)
}

func (m *MockDataStore) GetAllObjClassifications(objID string) ([]datastore.Classification, error) {
	args := m.Called(objID)
	return args.Get(0).([]datastore.Classification), args.Error(1)
}

func (m *MockDataStore) CreateClassification(classification *datastore.Classification, groupIDs []uint) error {
	return m.Called(classification, groupIDs).Error(0)
}

func (m *MockDataStore) CreateTelescope(telescope *datastore.Telescope) error {
	return m.Called(telescope).Error(0)
}

func (m *MockDataStore) GetTelescope(id uint) (datastore.Telescope, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Telescope), args.Error(1)
}

func (m *MockDataStore) CreateInstrument(instrument *datastore.Instrument) error {
	return m.Called(instrument).Error(0)
}

func (m *MockDataStore) GetInstrument(id uint) (datastore.Instrument, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Instrument), args.Error(1)
}

func (m *MockDataStore) GetInstrumentByName(name string) (datastore.Instrument, error) {
	args := m.Called(name)
	return args.Get(0).(datastore.Instrument), args.Error(1)
}

func (m *MockDataStore) UpdateInstrumentStatus(id uint, status string) error {
	return m.Called(id, status).Error(0)
}

func (m *MockDataStore) CreateAllocation(allocation *datastore.Allocation) error {
	return m.Called(allocation).Error(0)
}

func (m *MockDataStore) GetAllocation(id uint) (datastore.Allocation, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Allocation), args.Error(1)
}

func (m *MockDataStore) CreateFollowupRequest(request *datastore.FollowupRequest) error {
	return m.Called(request).Error(0)
}

func (m *MockDataStore) GetFollowupRequest(id uint) (datastore.FollowupRequest, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.FollowupRequest), args.Error(1)
}

func (m *MockDataStore) GetFollowupRequestForUser(actor *datastore.Actor, id uint) (datastore.FollowupRequest, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.FollowupRequest), args.Error(1)
}

func (m *MockDataStore) ListFollowupRequests(actor *datastore.Actor, objID string) ([]datastore.FollowupRequest, error) {
	args := m.Called(actor, objID)
	return args.Get(0).([]datastore.FollowupRequest), args.Error(1)
}

func (m *MockDataStore) CanManageFollowupRequest(actor *datastore.Actor, request *datastore.FollowupRequest) (bool, error) {
	args := m.Called(actor, request)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataStore) UpdateFollowupRequestStatus(id uint, status string) error {
	return m.Called(id, status).Error(0)
}

func (m *MockDataStore) DeleteFollowupRequest(id uint) error {
	return m.Called(id).Error(0)
}

func (m *MockDataStore) SaveFacilityTransaction(transaction *datastore.FacilityTransaction) error {
	return m.Called(transaction).Error(0)
}

func (m *MockDataStore) GetFirstFacilityTransaction(followupRequestID uint) (datastore.FacilityTransaction, error) {
	args := m.Called(followupRequestID)
	return args.Get(0).(datastore.FacilityTransaction), args.Error(1)
}

func (m *MockDataStore) SaveSpectrum(spectrum *datastore.Spectrum, groupIDs, reducerIDs, observerIDs []uint) error {
	return m.Called(spectrum, groupIDs, reducerIDs, observerIDs).Error(0)
}

func (m *MockDataStore) GetSpectrum(id uint) (datastore.Spectrum, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Spectrum), args.Error(1)
}

func (m *MockDataStore) GetSpectrumForUser(actor *datastore.Actor, id uint) (datastore.Spectrum, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.Spectrum), args.Error(1)
}

func (m *MockDataStore) ListSpectraByObj(actor *datastore.Actor, objID string) ([]datastore.Spectrum, error) {
	args := m.Called(actor, objID)
	return args.Get(0).([]datastore.Spectrum), args.Error(1)
}

func (m *MockDataStore) UpdateSpectrum(actor *datastore.Actor, spectrum *datastore.Spectrum) error {
	return m.Called(actor, spectrum).Error(0)
}

func (m *MockDataStore) DeleteSpectrum(actor *datastore.Actor, id uint) error {
	return m.Called(actor, id).Error(0)
}

func (m *MockDataStore) GetSpectrumGroupIDs(spectrumID uint) ([]uint, error) {
	args := m.Called(spectrumID)
	return args.Get(0).([]uint), args.Error(1)
}

func (m *MockDataStore) SavePhotometry(photometry *datastore.Photometry, groupIDs []uint) error {
	return m.Called(photometry, groupIDs).Error(0)
}

func (m *MockDataStore) GetPhotometry(id uint) (datastore.Photometry, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Photometry), args.Error(1)
}

func (m *MockDataStore) GetPhotometryForUser(actor *datastore.Actor, id uint) (datastore.Photometry, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.Photometry), args.Error(1)
}

func (m *MockDataStore) SaveAnnotation(annotation *datastore.Annotation, groupIDs []uint) error {
	return m.Called(annotation, groupIDs).Error(0)
}

func (m *MockDataStore) GetAnnotation(id uint) (datastore.Annotation, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.Annotation), args.Error(1)
}

func (m *MockDataStore) GetAnnotationForUser(actor *datastore.Actor, id uint) (datastore.Annotation, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.Annotation), args.Error(1)
}

func (m *MockDataStore) ListAnnotations(actor *datastore.Actor, photometryID uint) ([]datastore.Annotation, error) {
	args := m.Called(actor, photometryID)
	return args.Get(0).([]datastore.Annotation), args.Error(1)
}

func (m *MockDataStore) UpdateAnnotation(actor *datastore.Actor, annotation *datastore.Annotation, addGroupIDs []uint) error {
	return m.Called(actor, annotation, addGroupIDs).Error(0)
}

func (m *MockDataStore) DeleteAnnotation(actor *datastore.Actor, id uint) error {
	return m.Called(actor, id).Error(0)
}

func (m *MockDataStore) CreateAnalysisService(service *datastore.AnalysisService, groupIDs []uint) error {
	return m.Called(service, groupIDs).Error(0)
}

func (m *MockDataStore) GetAnalysisService(id uint) (datastore.AnalysisService, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.AnalysisService), args.Error(1)
}

func (m *MockDataStore) GetAnalysisServiceForUser(actor *datastore.Actor, id uint) (datastore.AnalysisService, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.AnalysisService), args.Error(1)
}

func (m *MockDataStore) ListAnalysisServices(actor *datastore.Actor) ([]datastore.AnalysisService, error) {
	args := m.Called(actor)
	return args.Get(0).([]datastore.AnalysisService), args.Error(1)
}

func (m *MockDataStore) UpdateAnalysisService(actor *datastore.Actor, service *datastore.AnalysisService) error {
	return m.Called(actor, service).Error(0)
}

func (m *MockDataStore) DeleteAnalysisService(actor *datastore.Actor, id uint) error {
	return m.Called(actor, id).Error(0)
}

func (m *MockDataStore) CreateObjAnalysis(analysis *datastore.ObjAnalysis, groupIDs []uint) error {
	return m.Called(analysis, groupIDs).Error(0)
}

func (m *MockDataStore) GetObjAnalysis(id uint) (datastore.ObjAnalysis, error) {
	args := m.Called(id)
	return args.Get(0).(datastore.ObjAnalysis), args.Error(1)
}

func (m *MockDataStore) GetObjAnalysisForUser(actor *datastore.Actor, id uint) (datastore.ObjAnalysis, error) {
	args := m.Called(actor, id)
	return args.Get(0).(datastore.ObjAnalysis), args.Error(1)
}

func (m *MockDataStore) GetObjAnalysisByToken(token string) (datastore.ObjAnalysis, error) {
	args := m.Called(token)
	return args.Get(0).(datastore.ObjAnalysis), args.Error(1)
}

func (m *MockDataStore) ListObjAnalyses(actor *datastore.Actor, objID string) ([]datastore.ObjAnalysis, error) {
	args := m.Called(actor, objID)
	return args.Get(0).([]datastore.ObjAnalysis), args.Error(1)
}

func (m *MockDataStore) UpdateObjAnalysis(analysis *datastore.ObjAnalysis) error {
	return m.Called(analysis).Error(0)
}

func (m *MockDataStore) DeleteObjAnalysis(actor *datastore.Actor, id uint) error {
	return m.Called(actor, id).Error(0)
}
