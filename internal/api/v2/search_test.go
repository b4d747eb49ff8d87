package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func TestSummaryQueryWithoutSearchService(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/summary_query", `{"q":"tidal disruption event"}`, testActor())
	require.NoError(t, controller.SummaryQuery(ctx))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestPatchObjSummary(t *testing.T) {
	actor := testActor(datastore.ACLManageSources)

	t.Run("owned object updated", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
		ds.On("IsObjOwnedBy", "ZTF21abcdef", actor.GroupIDs).Return(true, nil)
		ds.On("UpdateObjSummary", "ZTF21abcdef", "A bright transient near NGC 1234.").Return(nil)

		body := `{"summary":"A bright transient near NGC 1234."}`
		ctx, rec := newTestContext(e, http.MethodPatch, "/api/v2/objs/ZTF21abcdef/summary", body, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("ZTF21abcdef")
		require.NoError(t, controller.PatchObjSummary(ctx))

		assert.Equal(t, http.StatusOK, rec.Code)
		ds.AssertCalled(t, "UpdateObjSummary", "ZTF21abcdef", "A bright transient near NGC 1234.")
	})

	t.Run("unowned object rejected", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetObj", "ZTF21abcdef").Return(datastore.Obj{ID: "ZTF21abcdef"}, nil)
		ds.On("IsObjOwnedBy", "ZTF21abcdef", actor.GroupIDs).Return(false, nil)

		ctx, rec := newTestContext(e, http.MethodPatch, "/api/v2/objs/ZTF21abcdef/summary", `{"summary":"x"}`, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("ZTF21abcdef")
		require.NoError(t, controller.PatchObjSummary(ctx))

		assert.Equal(t, http.StatusForbidden, rec.Code)
		ds.AssertNotCalled(t, "UpdateObjSummary", "ZTF21abcdef", "x")
	})

	t.Run("unknown object", func(t *testing.T) {
		ds := new(MockDataStore)
		controller, e := newTestController(t, ds)

		ds.On("GetObj", "ZTF99zzz").Return(datastore.Obj{},
			errors.Newf("obj not found").Category(errors.CategoryNotFound).Build())

		ctx, rec := newTestContext(e, http.MethodPatch, "/api/v2/objs/ZTF99zzz/summary", `{"summary":"x"}`, actor)
		ctx.SetParamNames("id")
		ctx.SetParamValues("ZTF99zzz")
		require.NoError(t, controller.PatchObjSummary(ctx))

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
