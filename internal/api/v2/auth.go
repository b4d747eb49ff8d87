package api

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// actorContextKey is the echo context key the resolved actor is stored
// under by AuthMiddleware.
const actorContextKey = "skyhub_actor"

// AuthMiddleware authenticates requests via the Authorization header.
// Accepted forms are "token <uuid>" and "Bearer <uuid>". The resolved
// actor is cached briefly so bursts of requests from the same client do
// not hit the database per call.
func (c *Controller) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		tokenID, err := extractToken(ctx.Request().Header.Get("Authorization"))
		if err != nil {
			c.recordAuth("failure")
			return ctx.JSON(http.StatusUnauthorized,
				NewErrorResponse(nil, err.Error(), http.StatusUnauthorized))
		}

		actor, err := c.resolveActor(tokenID)
		if err != nil {
			c.recordAuth("failure")
			return ctx.JSON(http.StatusUnauthorized,
				NewErrorResponse(nil, "invalid token", http.StatusUnauthorized))
		}

		c.recordAuth("success")
		ctx.Set(actorContextKey, actor)
		return next(ctx)
	}
}

// Actor returns the authenticated actor for the request, or nil when the
// route skipped authentication.
func Actor(ctx echo.Context) *datastore.Actor {
	actor, _ := ctx.Get(actorContextKey).(*datastore.Actor)
	return actor
}

func (c *Controller) resolveActor(tokenID string) (*datastore.Actor, error) {
	if cached, found := c.actorCache.Get(tokenID); found {
		return cached.(*datastore.Actor), nil
	}

	actor, err := c.DS.GetActor(tokenID)
	if err != nil {
		return nil, err
	}

	c.actorCache.SetDefault(tokenID, &actor)
	return &actor, nil
}

// extractToken parses the Authorization header value. The scheme is case
// insensitive; the credential must be a UUID.
func extractToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", errMalformedHeader
	}

	scheme := strings.ToLower(strings.TrimSpace(parts[0]))
	if scheme != "token" && scheme != "bearer" {
		return "", errMalformedHeader
	}

	tokenID := strings.TrimSpace(parts[1])
	if _, err := uuid.Parse(tokenID); err != nil {
		return "", errMalformedHeader
	}
	return tokenID, nil
}

var (
	errMissingToken    = errors.NewStd("missing Authorization header")
	errMalformedHeader = errors.NewStd("expected Authorization: token <uuid>")
)

// requireACL wraps a handler so only actors holding the ACL (or system
// admins) may call it.
func (c *Controller) requireACL(acl string, next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		actor := Actor(ctx)
		if actor == nil || !actor.HasACL(acl) {
			return ctx.JSON(http.StatusForbidden,
				NewErrorResponse(nil, "insufficient permissions", http.StatusForbidden))
		}
		return next(ctx)
	}
}

func (c *Controller) recordAuth(status string) {
	if hm := c.httpMetrics(); hm != nil {
		hm.RecordAuthOperation("token", "authenticate", status)
	}
}
