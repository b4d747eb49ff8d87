package api

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/archive"
	"github.com/skyhub/skyhub-go/internal/datastore"
)

func testArchive(t *testing.T) *archive.Manager {
	t.Helper()
	target, err := archive.NewLocalTarget(t.TempDir(), nil)
	require.NoError(t, err)
	return archive.NewWithTarget(target, nil)
}

func pendingAnalysis(token string) datastore.ObjAnalysis {
	invalidAfter := time.Now().Add(time.Hour)
	return datastore.ObjAnalysis{
		ID:                31,
		ObjID:             "ZTF21abcdef",
		AnalysisServiceID: 4,
		AuthorID:          7,
		Status:            datastore.AnalysisStatusPending,
		Token:             token,
		UniqueID:          "2a2b8a77-1111-4222-8333-944445555666",
		InvalidAfter:      &invalidAfter,
	}
}

func TestStartObjAnalysisInvokesService(t *testing.T) {
	var received map[string]any
	external := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer external.Close()

	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	service := datastore.AnalysisService{
		ID:                 4,
		Name:               "lightcurve-fitter",
		URL:                external.URL,
		AuthenticationType: datastore.AuthTypeNone,
		Enabled:            true,
		InputDataTypes:     datastore.StringList{"redshift", "classifications"},
		Timeout:            60,
	}
	redshift := 0.034

	ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef", Redshift: &redshift}, nil)
	ds.On("IsObjOwnedBy", "ZTF21abcdef", actor.GroupIDs).Return(true, nil)
	ds.On("GetAnalysisServiceForUser", actor, uint(4)).Return(service, nil)
	ds.On("CreateObjAnalysis", mock.AnythingOfType("*datastore.ObjAnalysis"), actor.GroupIDs).
		Run(func(args mock.Arguments) {
			analysis := args.Get(0).(*datastore.ObjAnalysis)
			analysis.ID = 31
		}).Return(nil)
	ds.On("GetObjClassifications", "ZTF21abcdef", actor.GroupIDs).Return([]datastore.Classification{
		{Classification: "TDE", Taxonomy: "sitewide"},
	}, nil)
	ds.On("UpdateObjAnalysis", mock.AnythingOfType("*datastore.ObjAnalysis")).Return(nil)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/obj/ZTF21abcdef/analysis/4", `{}`, actor)
	ctx.SetParamNames("objID", "serviceID")
	ctx.SetParamValues("ZTF21abcdef", "4")
	require.NoError(t, controller.StartObjAnalysis(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ObjAnalysisResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, datastore.AnalysisStatusPending, resp.Status)

	require.NotNil(t, received)
	assert.Contains(t, received["callback_url"], "/api/v2/webhook/obj_analysis/31/")
	inputs := received["inputs"].(map[string]any)
	assert.Contains(t, inputs, "classifications")
	assert.InDelta(t, redshift, inputs["redshift"].(float64), 1e-9)
}

func TestStartObjAnalysisUnownedObj(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
	ds.On("IsObjOwnedBy", "ZTF21abcdef", actor.GroupIDs).Return(false, nil)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/obj/ZTF21abcdef/analysis/4", `{}`, actor)
	ctx.SetParamNames("objID", "serviceID")
	ctx.SetParamValues("ZTF21abcdef", "4")
	require.NoError(t, controller.StartObjAnalysis(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAnalysisWebhookPersistsResults(t *testing.T) {
	ds := new(MockDataStore)
	manager := testArchive(t)
	controller, e := newTestController(t, ds, WithArchive(manager))

	token := "9f8e7d6c-5b4a-4392-8171-605948372615"
	analysis := pendingAnalysis(token)
	ds.On("GetObjAnalysis", uint(31)).Return(analysis, nil)

	var updated *datastore.ObjAnalysis
	ds.On("UpdateObjAnalysis", mock.AnythingOfType("*datastore.ObjAnalysis")).
		Run(func(args mock.Arguments) {
			updated = args.Get(0).(*datastore.ObjAnalysis)
		}).Return(nil)

	results := []byte("netcdf-results-payload")
	body := `{"status":"success","data":"` + base64.StdEncoding.EncodeToString(results) + `"}`

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/webhook/obj_analysis/31/"+token, body, nil)
	ctx.SetParamNames("analysisID", "token")
	ctx.SetParamValues("31", token)
	require.NoError(t, controller.AnalysisWebhook(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, updated)
	assert.Equal(t, datastore.AnalysisStatusCompleted, updated.Status)
	assert.Equal(t, "analysis_31.nc", updated.Filename)
	assert.NotEmpty(t, updated.Hash)

	stored, err := manager.Retrieve(ctx.Request().Context(), "analysis_31.nc")
	require.NoError(t, err)
	defer func() { _ = stored.Close() }()
	content, err := io.ReadAll(stored)
	require.NoError(t, err)
	assert.Equal(t, results, content)
}

func TestAnalysisWebhookRejectsBadToken(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	analysis := pendingAnalysis("9f8e7d6c-5b4a-4392-8171-605948372615")
	ds.On("GetObjAnalysis", uint(31)).Return(analysis, nil)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/webhook/obj_analysis/31/wrong", `{}`, nil)
	ctx.SetParamNames("analysisID", "token")
	ctx.SetParamValues("31", "wrong-token")
	require.NoError(t, controller.AnalysisWebhook(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	ds.AssertNotCalled(t, "UpdateObjAnalysis", mock.Anything)
}

func TestAnalysisWebhookExpiredRun(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	token := "9f8e7d6c-5b4a-4392-8171-605948372615"
	analysis := pendingAnalysis(token)
	expired := time.Now().Add(-time.Minute)
	analysis.InvalidAfter = &expired
	ds.On("GetObjAnalysis", uint(31)).Return(analysis, nil)
	ds.On("UpdateObjAnalysis", mock.AnythingOfType("*datastore.ObjAnalysis")).Return(nil)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/webhook/obj_analysis/31/"+token, `{}`, nil)
	ctx.SetParamNames("analysisID", "token")
	ctx.SetParamValues("31", token)
	require.NoError(t, controller.AnalysisWebhook(ctx))

	assert.Equal(t, http.StatusGone, rec.Code)
}

func TestDeleteObjAnalysisRemovesArchivedFile(t *testing.T) {
	ds := new(MockDataStore)
	manager := testArchive(t)
	controller, e := newTestController(t, ds, WithArchive(manager))

	actor := testActor()
	analysis := pendingAnalysis("9f8e7d6c-5b4a-4392-8171-605948372615")
	analysis.Status = datastore.AnalysisStatusCompleted
	analysis.Filename = "analysis_31.nc"
	analysis.AuthorID = actor.User.ID

	ctxBg := t.Context()
	require.NoError(t, manager.Store(ctxBg, "analysis_31.nc", strings.NewReader("results")))

	ds.On("GetObjAnalysisForUser", actor, uint(31)).Return(analysis, nil)
	ds.On("DeleteObjAnalysis", actor, uint(31)).Return(nil)

	ctx, rec := newTestContext(e, http.MethodDelete, "/api/v2/obj/analysis/31", "", actor)
	ctx.SetParamNames("analysisID")
	ctx.SetParamValues("31")
	require.NoError(t, controller.DeleteObjAnalysis(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)

	_, err := manager.Retrieve(ctxBg, "analysis_31.nc")
	assert.Error(t, err)
}

func TestDeleteObjAnalysisNotAuthor(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	analysis := pendingAnalysis("9f8e7d6c-5b4a-4392-8171-605948372615")
	analysis.AuthorID = 999

	ds.On("GetObjAnalysisForUser", actor, uint(31)).Return(analysis, nil)

	ctx, rec := newTestContext(e, http.MethodDelete, "/api/v2/obj/analysis/31", "", actor)
	ctx.SetParamNames("analysisID")
	ctx.SetParamValues("31")
	require.NoError(t, controller.DeleteObjAnalysis(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	ds.AssertNotCalled(t, "DeleteObjAnalysis", actor, uint(31))
}
