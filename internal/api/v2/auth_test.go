package api

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func TestExtractToken(t *testing.T) {
	t.Parallel()

	validUUID := "3fa85f64-5717-4562-b3fc-2c963f66afa6"

	tests := []struct {
		name    string
		header  string
		want    string
		wantErr bool
	}{
		{"token scheme", "token " + validUUID, validUUID, false},
		{"bearer scheme", "Bearer " + validUUID, validUUID, false},
		{"uppercase scheme", "TOKEN " + validUUID, validUUID, false},
		{"empty header", "", "", true},
		{"missing credential", "token", "", true},
		{"wrong scheme", "Basic " + validUUID, "", true},
		{"not a uuid", "token not-a-uuid", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := extractToken(tt.header)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthMiddlewareResolvesActor(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	tokenID := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	ds.On("GetActor", tokenID).Return(datastore.Actor{
		User:     datastore.User{ID: 42},
		TokenID:  tokenID,
		GroupIDs: []uint{1},
	}, nil).Once()

	handler := controller.AuthMiddleware(func(ctx echo.Context) error {
		actor := Actor(ctx)
		require.NotNil(t, actor)
		assert.Equal(t, uint(42), actor.User.ID)
		return ctx.NoContent(http.StatusOK)
	})

	ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/followup_requests", "", nil)
	ctx.Request().Header.Set("Authorization", "token "+tokenID)
	require.NoError(t, handler(ctx))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Second request is served from the actor cache.
	ctx2, rec2 := newTestContext(e, http.MethodGet, "/api/v2/followup_requests", "", nil)
	ctx2.Request().Header.Set("Authorization", "token "+tokenID)
	require.NoError(t, handler(ctx2))
	assert.Equal(t, http.StatusOK, rec2.Code)

	ds.AssertNumberOfCalls(t, "GetActor", 1)
}

func TestAuthMiddlewareRejectsUnknownToken(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	tokenID := "3fa85f64-5717-4562-b3fc-2c963f66afa6"
	ds.On("GetActor", tokenID).Return(datastore.Actor{},
		errors.Newf("token not found").Category(errors.CategoryNotFound).Build())

	handler := controller.AuthMiddleware(func(ctx echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/spectra/1", "", nil)
	ctx.Request().Header.Set("Authorization", "token "+tokenID)
	require.NoError(t, handler(ctx))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	handler := controller.AuthMiddleware(func(ctx echo.Context) error {
		t.Fatal("handler must not run")
		return nil
	})

	ctx, rec := newTestContext(e, http.MethodGet, "/api/v2/spectra/1", "", nil)
	require.NoError(t, handler(ctx))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireACL(t *testing.T) {
	ds := new(MockDataStore)
	controller, e := newTestController(t, ds)

	handler := controller.requireACL(datastore.ACLUploadData, func(ctx echo.Context) error {
		return ctx.NoContent(http.StatusOK)
	})

	t.Run("denied without ACL", func(t *testing.T) {
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/spectra", "", testActor())
		require.NoError(t, handler(ctx))
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("allowed with ACL", func(t *testing.T) {
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/spectra", "", testActor(datastore.ACLUploadData))
		require.NoError(t, handler(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin implies ACL", func(t *testing.T) {
		ctx, rec := newTestContext(e, http.MethodPost, "/api/v2/spectra", "", adminActor())
		require.NoError(t, handler(ctx))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
