package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/errors"
)

func TestNewRequiresDependencies(t *testing.T) {
	e := echo.New()

	_, err := New(nil, new(MockDataStore), nil, nil)
	assert.Error(t, err)

	_, err = New(e, nil, nil, nil)
	assert.Error(t, err)
}

func TestHandleErrorCategoryMapping(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	tests := []struct {
		name     string
		err      error
		fallback int
		want     int
	}{
		{"validation maps to 400", errors.ValidationError("bad input"), http.StatusInternalServerError, http.StatusBadRequest},
		{"not found maps to 404", errors.Newf("missing").Category(errors.CategoryNotFound).Build(), http.StatusInternalServerError, http.StatusNotFound},
		{"unauthorized maps to 403", errors.Newf("denied").Category(errors.CategoryUnauthorized).Build(), http.StatusInternalServerError, http.StatusForbidden},
		{"conflict maps to 409", errors.Newf("duplicate").Category(errors.CategoryConflict).Build(), http.StatusInternalServerError, http.StatusConflict},
		{"facility payload maps to 400", errors.Newf("bad form").Category(errors.CategoryFacilityPayload).Build(), http.StatusInternalServerError, http.StatusBadRequest},
		{"uncategorized keeps fallback", errors.NewStd("boom"), http.StatusBadGateway, http.StatusBadGateway},
		{"nil error keeps fallback", nil, http.StatusForbidden, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/health", "", nil)
			require.NoError(t, controller.HandleError(ctx, tt.err, "test", tt.fallback))
			assert.Equal(t, tt.want, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Code)
			assert.Equal(t, "test", resp.Message)
			assert.NotEmpty(t, resp.CorrelationID)
		})
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	t.Parallel()

	pattern := regexp.MustCompile(`^[0-9a-f]{8}$|^t\d{7}$`)
	seen := make(map[string]bool)
	for range 32 {
		id := generateCorrelationID()
		assert.Regexp(t, pattern, id)
		assert.False(t, seen[id], "correlation IDs should not repeat")
		seen[id] = true
	}
}

func TestRoutesRegistered(t *testing.T) {
	ds := new(MockDataStore)
	_, e := newTestController(t, ds)

	registered := make(map[string]bool)
	for _, route := range e.Routes() {
		registered[route.Method+" "+route.Path] = true
	}

	want := []string{
		"GET /api/v2/health",
		"GET /api/v2/system/info",
		"GET /api/v2/events/stream",
		"POST /api/v2/followup_requests",
		"GET /api/v2/followup_requests",
		"DELETE /api/v2/followup_requests/:id",
		"GET /api/v2/facility/instruments/:name/form",
		"POST /api/v2/spectra",
		"POST /api/v2/spectra/parse/ascii",
		"POST /api/v2/spectra/ascii",
		"GET /api/v2/spectra/:id",
		"PATCH /api/v2/spectra/:id",
		"DELETE /api/v2/spectra/:id",
		"POST /api/v2/summary_query",
		"PATCH /api/v2/objs/:id/summary",
		"POST /api/v2/photometry/:id/annotations",
		"GET /api/v2/photometry/:id/annotations",
		"GET /api/v2/annotations/:id",
		"PATCH /api/v2/annotations/:id",
		"DELETE /api/v2/annotations/:id",
		"POST /api/v2/obj/:objID/analysis/:serviceID",
		"GET /api/v2/obj/analysis/:analysisID",
		"DELETE /api/v2/obj/analysis/:analysisID",
		"POST /api/v2/webhook/obj_analysis/:analysisID/:token",
	}
	for _, route := range want {
		assert.True(t, registered[route], "missing route %s", route)
	}
}
