package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func TestCreateAnnotation(t *testing.T) {
	actor := testActor(datastore.ACLUploadData)

	t.Run("happy path", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetPhotometryForUser", actor, uint(14)).Return(datastore.Photometry{ID: 14, ObjID: "ZTF21abcdef"}, nil)
		ds.On("SaveAnnotation", mock.AnythingOfType("*datastore.Annotation"), mock.Anything).
			Run(func(args mock.Arguments) {
				annotation := args.Get(0).(*datastore.Annotation)
				annotation.ID = 41
				assert.Equal(t, "ps1", annotation.Origin)

				groupIDs := args.Get(1).([]uint)
				assert.Contains(t, groupIDs, actor.SingleGroupID)
			}).Return(nil)

		body := `{"origin":"ps1","data":{"gMeanPSFMag":21.2}}`
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/photometry/14/annotations", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("14")
		require.NoError(t, controller.CreateAnnotation(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)

		var resp AnnotationResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, uint(41), resp.ID)
	})

	t.Run("missing origin", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		body := `{"data":{"x":1}}`
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/photometry/14/annotations", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("14")
		require.NoError(t, controller.CreateAnnotation(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("origin with invalid characters", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetPhotometryForUser", actor, uint(14)).Return(datastore.Photometry{ID: 14}, nil)
		ds.On("SaveAnnotation", mock.AnythingOfType("*datastore.Annotation"), mock.Anything).
			Return(errors.Newf("annotation origin may only contain letters, digits, '_', '-' and '+'").
				Category(errors.CategoryValidation).Build())

		body := `{"origin":"kowalski/alert","data":{"x":1}}`
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/photometry/14/annotations", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("14")
		require.NoError(t, controller.CreateAnnotation(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("duplicate origin", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetPhotometryForUser", actor, uint(14)).Return(datastore.Photometry{ID: 14}, nil)
		ds.On("SaveAnnotation", mock.AnythingOfType("*datastore.Annotation"), mock.Anything).
			Return(errors.Newf("UNIQUE constraint failed: annotations.origin").
				Category(errors.CategoryConflict).Build())

		body := `{"origin":"ps1","data":{"x":1}}`
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/photometry/14/annotations", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("14")
		require.NoError(t, controller.CreateAnnotation(ctx))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unreadable photometry", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetPhotometryForUser", actor, uint(14)).Return(datastore.Photometry{},
			errors.Newf("photometry 14 not found").Category(errors.CategoryNotFound).Build())

		body := `{"origin":"ps1","data":{"x":1}}`
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/photometry/14/annotations", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("14")
		require.NoError(t, controller.CreateAnnotation(ctx))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestUpdateAnnotationAuthorOnly(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	stored := datastore.Annotation{ID: 41, PhotometryID: 14, Origin: "ps1", AuthorID: 999, Data: `{"x":1}`}
	ds.On("GetAnnotationForUser", actor, uint(41)).Return(stored, nil)

	body := `{"data":{"x":2}}`
	ctx, rec := newTestContext(e, http.MethodPatch, "/api/v2/annotations/41", body, actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("41")
	require.NoError(t, controller.UpdateAnnotation(ctx))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	ds.AssertNotCalled(t, "UpdateAnnotation", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateAnnotationWidensGroups(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	stored := datastore.Annotation{ID: 41, PhotometryID: 14, Origin: "ps1", AuthorID: actor.User.ID, Data: `{"x":1}`}
	ds.On("GetAnnotationForUser", actor, uint(41)).Return(stored, nil)
	ds.On("UpdateAnnotation", actor, mock.AnythingOfType("*datastore.Annotation"), []uint{3}).Return(nil)

	body := `{"data":{"x":2},"groupIds":[3]}`
	ctx, rec := newTestContext(e, http.MethodPatch, "/api/v2/annotations/41", body, actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("41")
	require.NoError(t, controller.UpdateAnnotation(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	ds.AssertCalled(t, "UpdateAnnotation", actor, mock.AnythingOfType("*datastore.Annotation"), []uint{3})
}

func TestDeleteAnnotationManageSourcesOverride(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor(datastore.ACLManageSources)
	stored := datastore.Annotation{ID: 41, AuthorID: 999}
	ds.On("GetAnnotationForUser", actor, uint(41)).Return(stored, nil)
	ds.On("DeleteAnnotation", actor, uint(41)).Return(nil)

	ctx, rec := newTestContext(e, http.MethodDelete, "/api/v2/annotations/41", "", actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("41")
	require.NoError(t, controller.DeleteAnnotation(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)
	ds.AssertCalled(t, "DeleteAnnotation", actor, uint(41))
}

func TestListAnnotations(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	actor := testActor()
	ds.On("ListAnnotations", actor, uint(14)).Return([]datastore.Annotation{
		{ID: 41, Origin: "ps1", Data: `{"x":1}`},
		{ID: 42, Origin: "gaia", Data: `{"y":2}`},
	}, nil)

	ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/photometry/14/annotations", "", actor)
	ctx.SetParamNames("id")
	ctx.SetParamValues("14")
	require.NoError(t, controller.ListAnnotations(ctx))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Annotations []AnnotationResponse `json:"annotations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Annotations, 2)
}
