package datastore

import (
	"testing"

	"github.com/google/uuid"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAnalysisService(t *testing.T, ds *DataStore, name string, groupIDs []uint) AnalysisService {
	t.Helper()
	service := AnalysisService{
		Name:               name,
		DisplayName:        name,
		URL:                "http://analysis.example.org/" + name,
		AuthenticationType: AuthTypeNone,
		Enabled:            true,
		InputDataTypes:     StringList{"photometry", "redshift"},
		Timeout:            3600,
		DisplayOnResource:  true,
	}
	require.NoError(t, ds.CreateAnalysisService(&service, groupIDs))
	return service
}

func seedObjAnalysis(t *testing.T, ds *DataStore, objID string, serviceID, authorID uint, groupIDs []uint) ObjAnalysis {
	t.Helper()
	analysis := ObjAnalysis{
		ObjID:             objID,
		AnalysisServiceID: serviceID,
		AuthorID:          authorID,
		Status:            AnalysisStatusQueued,
		Token:             uuid.New().String(),
		UniqueID:          uuid.New().String(),
		ShowPlots:         true,
	}
	require.NoError(t, ds.CreateObjAnalysis(&analysis, groupIDs))
	return analysis
}

func TestCreateAnalysisServiceValidation(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	err := ds.CreateAnalysisService(&AnalysisService{URL: "http://example.org"}, nil)
	assert.True(t, errors.IsValidation(err), "missing name should be rejected")

	err = ds.CreateAnalysisService(&AnalysisService{Name: "fitter"}, nil)
	assert.True(t, errors.IsValidation(err), "missing url should be rejected")

	seedAnalysisService(t, ds, "fitter", nil)
	err = ds.CreateAnalysisService(&AnalysisService{Name: "fitter", URL: "http://example.org"}, nil)
	assert.True(t, errors.IsConflict(err), "duplicate service name should conflict, got %v", err)
}

func TestAnalysisServiceVisibility(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	member := seedUser(t, ds, "svc-member")
	owning := seedGroup(t, ds, "svc-owning")
	outside := seedGroup(t, ds, "svc-outside")

	linked := seedAnalysisService(t, ds, "b-lightcurve-fitter", []uint{owning.ID})
	seedAnalysisService(t, ds, "a-spectrum-fitter", []uint{outside.ID})

	t.Run("group member reads linked services", func(t *testing.T) {
		actor := actorFor(member, []uint{owning.ID})
		service, err := ds.GetAnalysisServiceForUser(actor, linked.ID)
		require.NoError(t, err)
		assert.Equal(t, "b-lightcurve-fitter", service.Name)

		services, err := ds.ListAnalysisServices(actor)
		require.NoError(t, err)
		require.Len(t, services, 1)
		assert.Equal(t, linked.ID, services[0].ID)
	})

	t.Run("outsider gets not found", func(t *testing.T) {
		actor := actorFor(member, nil)
		_, err := ds.GetAnalysisServiceForUser(actor, linked.ID)
		assert.True(t, errors.IsNotFound(err), "out-of-scope service should not leak, got %v", err)

		services, err := ds.ListAnalysisServices(actor)
		require.NoError(t, err)
		assert.Empty(t, services)
	})

	t.Run("admin lists everything by name", func(t *testing.T) {
		admin := actorFor(User{ID: 404}, nil, ACLSystemAdmin)
		services, err := ds.ListAnalysisServices(admin)
		require.NoError(t, err)
		require.Len(t, services, 2)
		assert.Equal(t, "a-spectrum-fitter", services[0].Name)
		assert.Equal(t, "b-lightcurve-fitter", services[1].Name)
	})
}

func TestUpdateAnalysisServicePermissions(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	groupAdmin := seedUser(t, ds, "svc-group-admin")
	plainMember := seedUser(t, ds, "svc-plain-member")
	group := seedGroup(t, ds, "svc-manage-group")
	addMember(t, ds, group.ID, groupAdmin.ID, true)
	addMember(t, ds, group.ID, plainMember.ID, false)

	service := seedAnalysisService(t, ds, "managed-fitter", []uint{group.ID})
	service.Description = "updated description"

	// Group admin status without the ACL is not enough, and vice versa.
	err := ds.UpdateAnalysisService(actorFor(groupAdmin, []uint{group.ID}), &service)
	assert.True(t, errors.IsUnauthorized(err), "expected denial without Manage groups ACL, got %v", err)

	err = ds.UpdateAnalysisService(actorFor(plainMember, []uint{group.ID}, ACLManageGroups), &service)
	assert.True(t, errors.IsUnauthorized(err), "expected denial for non-admin member, got %v", err)

	require.NoError(t, ds.UpdateAnalysisService(actorFor(groupAdmin, []uint{group.ID}, ACLManageGroups), &service))

	fetched, err := ds.GetAnalysisService(service.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated description", fetched.Description)

	require.NoError(t, ds.UpdateAnalysisService(actorFor(User{ID: 404}, nil, ACLSystemAdmin), &service))
}

func TestObjAnalysisLifecycle(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	author := seedUser(t, ds, "run-author")
	group := seedGroup(t, ds, "run-group")
	obj := seedObj(t, ds, "ZTF21analysis")
	saveActiveSource(t, ds, obj.ID, group.ID)
	service := seedAnalysisService(t, ds, "run-fitter", []uint{group.ID})

	err := ds.CreateObjAnalysis(&ObjAnalysis{AnalysisServiceID: service.ID}, nil)
	assert.True(t, errors.IsValidation(err), "missing obj id should be rejected")
	err = ds.CreateObjAnalysis(&ObjAnalysis{ObjID: obj.ID}, nil)
	assert.True(t, errors.IsValidation(err), "missing service should be rejected")

	older := seedObjAnalysis(t, ds, obj.ID, service.ID, author.ID, []uint{group.ID})
	newer := seedObjAnalysis(t, ds, obj.ID, service.ID, author.ID, []uint{group.ID})

	t.Run("webhook token lookup", func(t *testing.T) {
		analysis, err := ds.GetObjAnalysisByToken(older.Token)
		require.NoError(t, err)
		assert.Equal(t, older.ID, analysis.ID)
		assert.Equal(t, "run-fitter", analysis.AnalysisService.Name)

		_, err = ds.GetObjAnalysisByToken(uuid.New().String())
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("scoped read needs link and ownership", func(t *testing.T) {
		member := actorFor(author, []uint{group.ID})
		_, err := ds.GetObjAnalysisForUser(member, older.ID)
		assert.NoError(t, err)

		stranger := actorFor(User{ID: 999}, nil)
		_, err = ds.GetObjAnalysisForUser(stranger, older.ID)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("list newest first", func(t *testing.T) {
		member := actorFor(author, []uint{group.ID})
		analyses, err := ds.ListObjAnalyses(member, obj.ID)
		require.NoError(t, err)
		require.Len(t, analyses, 2)
		assert.Equal(t, newer.ID, analyses[0].ID)
		assert.Equal(t, older.ID, analyses[1].ID)
	})

	t.Run("webhook worker updates status", func(t *testing.T) {
		run := older
		run.Status = AnalysisStatusCompleted
		run.StatusMessage = "posterior sampled"
		require.NoError(t, ds.UpdateObjAnalysis(&run))

		fetched, err := ds.GetObjAnalysis(older.ID)
		require.NoError(t, err)
		assert.Equal(t, AnalysisStatusCompleted, fetched.Status)
		assert.Equal(t, "posterior sampled", fetched.StatusMessage)
	})

	t.Run("only the author or an admin deletes", func(t *testing.T) {
		intruder := actorFor(User{ID: 999}, []uint{group.ID})
		err := ds.DeleteObjAnalysis(intruder, newer.ID)
		assert.True(t, errors.IsUnauthorized(err))

		require.NoError(t, ds.DeleteObjAnalysis(actorFor(author, nil), newer.ID))
		_, err = ds.GetObjAnalysis(newer.ID)
		assert.True(t, errors.IsNotFound(err))
	})
}

func TestDeleteAnalysisServiceCascades(t *testing.T) {
	t.Parallel()
	ds := createStore(t)

	author := seedUser(t, ds, "cascade-author")
	group := seedGroup(t, ds, "cascade-group")
	addMember(t, ds, group.ID, author.ID, true)
	obj := seedObj(t, ds, "ZTF21cascade")
	saveActiveSource(t, ds, obj.ID, group.ID)

	service := seedAnalysisService(t, ds, "cascade-fitter", []uint{group.ID})
	run := seedObjAnalysis(t, ds, obj.ID, service.ID, author.ID, []uint{group.ID})

	intruder := actorFor(User{ID: 999}, []uint{group.ID})
	err := ds.DeleteAnalysisService(intruder, service.ID)
	assert.True(t, errors.IsUnauthorized(err))

	manager := actorFor(author, []uint{group.ID}, ACLManageGroups)
	require.NoError(t, ds.DeleteAnalysisService(manager, service.ID))

	_, err = ds.GetAnalysisService(service.ID)
	assert.True(t, errors.IsNotFound(err))
	_, err = ds.GetObjAnalysis(run.ID)
	assert.True(t, errors.IsNotFound(err), "runs should be removed with their service")

	var linkCount int64
	require.NoError(t, ds.DB.Model(&GroupAnalysisService{}).
		Where("analysis_service_id = ?", service.ID).
		Count(&linkCount).Error)
	assert.Zero(t, linkCount)
}
