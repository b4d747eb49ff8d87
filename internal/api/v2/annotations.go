package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

func (c *Controller) initAnnotationRoutes() {
	c.Group.POST("/photometry/:id/annotations", c.requireACL(datastore.ACLUploadData, c.CreateAnnotation), c.AuthMiddleware)
	c.Group.GET("/photometry/:id/annotations", c.ListAnnotations, c.AuthMiddleware)
	c.Group.GET("/annotations/:id", c.GetAnnotation, c.AuthMiddleware)
	c.Group.PATCH("/annotations/:id", c.UpdateAnnotation, c.AuthMiddleware)
	c.Group.DELETE("/annotations/:id", c.DeleteAnnotation, c.AuthMiddleware)
}

// AnnotationBody is the create/update payload. Data is free-form JSON
// scoped by origin.
type AnnotationBody struct {
	Origin   string          `json:"origin,omitempty"`
	Data     json.RawMessage `json:"data"`
	GroupIDs []uint          `json:"groupIds,omitempty"`
}

// AnnotationResponse is the wire form of an annotation.
type AnnotationResponse struct {
	ID           uint            `json:"id"`
	PhotometryID uint            `json:"photometryId"`
	Origin       string          `json:"origin"`
	AuthorID     uint            `json:"authorId"`
	Data         json.RawMessage `json:"data"`
}

func annotationResponse(a *datastore.Annotation) *AnnotationResponse {
	data := json.RawMessage(a.Data)
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	return &AnnotationResponse{
		ID:           a.ID,
		PhotometryID: a.PhotometryID,
		Origin:       a.Origin,
		AuthorID:     a.AuthorID,
		Data:         data,
	}
}

// CreateAnnotation handles POST /api/v2/photometry/:id/annotations. One
// annotation per (photometry, origin) pair; a duplicate origin is rejected
// with the duplicate-key message.
func (c *Controller) CreateAnnotation(ctx echo.Context) error {
	actor := Actor(ctx)

	photometryID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid photometry id", http.StatusBadRequest)
	}

	var body AnnotationBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if body.Origin == "" {
		return c.HandleError(ctx, nil, "origin is required", http.StatusBadRequest)
	}

	if _, err := c.DS.GetPhotometryForUser(actor, uint(photometryID)); err != nil {
		return c.HandleError(ctx, err, "photometry not found", http.StatusNotFound)
	}

	groupIDs, err := c.annotationGroups(actor, body.GroupIDs)
	if err != nil {
		return c.HandleError(ctx, err, "invalid groupIds", http.StatusBadRequest)
	}

	annotation := datastore.Annotation{
		PhotometryID: uint(photometryID),
		Origin:       body.Origin,
		AuthorID:     actor.User.ID,
		Data:         string(body.Data),
	}
	if err := c.DS.SaveAnnotation(&annotation, groupIDs); err != nil {
		if errors.IsConflict(err) {
			return c.HandleError(ctx, errors.ValidationError(err.Error()),
				"annotation with this origin already exists", http.StatusBadRequest)
		}
		return c.HandleError(ctx, err, "failed to save annotation", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, annotationResponse(&annotation))
}

// ListAnnotations handles GET /api/v2/photometry/:id/annotations.
func (c *Controller) ListAnnotations(ctx echo.Context) error {
	actor := Actor(ctx)

	photometryID, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid photometry id", http.StatusBadRequest)
	}

	annotations, err := c.DS.ListAnnotations(actor, uint(photometryID))
	if err != nil {
		return c.HandleError(ctx, err, "failed to list annotations", http.StatusInternalServerError)
	}

	out := make([]*AnnotationResponse, 0, len(annotations))
	for i := range annotations {
		out = append(out, annotationResponse(&annotations[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"annotations": out})
}

// GetAnnotation handles GET /api/v2/annotations/:id.
func (c *Controller) GetAnnotation(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid annotation id", http.StatusBadRequest)
	}

	annotation, err := c.DS.GetAnnotationForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "annotation not found", http.StatusForbidden)
	}
	return ctx.JSON(http.StatusOK, annotationResponse(&annotation))
}

// UpdateAnnotation handles PATCH /api/v2/annotations/:id. The author or a
// holder of the Manage sources ACL may update; group links may only widen.
func (c *Controller) UpdateAnnotation(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid annotation id", http.StatusBadRequest)
	}

	var body AnnotationBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	annotation, err := c.DS.GetAnnotationForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "annotation not found", http.StatusForbidden)
	}
	if annotation.AuthorID != actor.User.ID && !actor.HasACL(datastore.ACLManageSources) {
		return c.HandleError(ctx, nil, "only the author may update this annotation", http.StatusForbidden)
	}

	if len(body.Data) > 0 {
		annotation.Data = string(body.Data)
	}
	if err := c.DS.UpdateAnnotation(actor, &annotation, body.GroupIDs); err != nil {
		return c.HandleError(ctx, err, "failed to update annotation", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, annotationResponse(&annotation))
}

// DeleteAnnotation handles DELETE /api/v2/annotations/:id.
func (c *Controller) DeleteAnnotation(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid annotation id", http.StatusBadRequest)
	}

	annotation, err := c.DS.GetAnnotationForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "annotation not found", http.StatusForbidden)
	}
	if annotation.AuthorID != actor.User.ID && !actor.HasACL(datastore.ACLManageSources) {
		return c.HandleError(ctx, nil, "only the author may delete this annotation", http.StatusForbidden)
	}

	if err := c.DS.DeleteAnnotation(actor, uint(id)); err != nil {
		return c.HandleError(ctx, err, "failed to delete annotation", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// annotationGroups validates requested group links and always includes the
// author's single-user group.
func (c *Controller) annotationGroups(actor *datastore.Actor, groupIDs []uint) ([]uint, error) {
	out := make([]uint, 0, len(groupIDs)+1)
	for _, id := range groupIDs {
		if _, err := c.DS.GetGroup(id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if actor.SingleGroupID != 0 && !containsID(out, actor.SingleGroupID) {
		out = append(out, actor.SingleGroupID)
	}
	return out, nil
}
