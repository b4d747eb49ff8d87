package api

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/conf"
	"github.com/skyhub/skyhub-go/internal/datastore"
)

// newTestController builds a controller on a fresh Echo instance with the
// given mock datastore and optional services.
func newTestController(t *testing.T, ds datastore.Interface, opts ...Option) (*Controller, *echo.Echo) {
	t.Helper()

	e := echo.New()
	settings := &conf.Settings{}
	settings.WebServer.Port = "5000"
	settings.WebServer.PublicURL = "http://localhost:5000"
	settings.Realtime.MQTT.Topic = "skyhub"

	controller, err := New(e, ds, settings, nil, opts...)
	require.NoError(t, err)
	t.Cleanup(controller.Shutdown)
	return controller, e
}

// newTestContext builds an echo context for a handler call. An actor, when
// given, is attached the way the auth middleware would.
func newTestContext(e *echo.Echo, method, target string, body string, actor *datastore.Actor) (echo.Context, *httptest.ResponseRecorder) {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	if actor != nil {
		ctx.Set(actorContextKey, actor)
	}
	return ctx, rec
}

// testActor returns an actor in groups 1 and 2 with the given ACLs.
func testActor(acls ...string) *datastore.Actor {
	return &datastore.Actor{
		User:          datastore.User{ID: 7, Username: "astrid"},
		TokenID:       "11111111-2222-3333-4444-555555555555",
		ACLs:          datastore.StringList(acls),
		GroupIDs:      []uint{1, 2},
		SingleGroupID: 2,
	}
}

func adminActor() *datastore.Actor {
	return testActor(datastore.ACLSystemAdmin)
}

