package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/facility"
	"github.com/skyhub/skyhub-go/internal/mqtt"
)

func (c *Controller) initFollowupRoutes() {
	c.Group.POST("/followup_requests", c.CreateFollowupRequest, c.AuthMiddleware)
	c.Group.GET("/followup_requests", c.ListFollowupRequests, c.AuthMiddleware)
	c.Group.DELETE("/followup_requests/:id", c.DeleteFollowupRequest, c.AuthMiddleware)
	c.Group.GET("/facility/instruments/:name/form", c.GetInstrumentForm, c.AuthMiddleware)
}

// CreateFollowupRequestBody is the POST /followup_requests payload.
type CreateFollowupRequestBody struct {
	AllocationID   uint           `json:"allocationId"`
	ObjID          string         `json:"objId"`
	Payload        map[string]any `json:"payload"`
	TargetGroupIDs []uint         `json:"targetGroupIds"`
}

// FollowupRequestResponse is the wire form of a followup request.
type FollowupRequestResponse struct {
	ID             uint           `json:"id"`
	ObjID          string         `json:"objId"`
	AllocationID   uint           `json:"allocationId"`
	RequesterID    uint           `json:"requesterId"`
	Instrument     string         `json:"instrument,omitempty"`
	Status         string         `json:"status"`
	Payload        map[string]any `json:"payload"`
	TargetGroupIDs []uint         `json:"targetGroupIds"`
	CreatedAt      string         `json:"createdAt"`
}

func followupResponse(req *datastore.FollowupRequest) *FollowupRequestResponse {
	payload := map[string]any{}
	if req.Payload != "" {
		// The stored payload passed schema validation on the way in.
		_ = json.Unmarshal([]byte(req.Payload), &payload)
	}
	return &FollowupRequestResponse{
		ID:             req.ID,
		ObjID:          req.ObjID,
		AllocationID:   req.AllocationID,
		RequesterID:    req.RequesterID,
		Instrument:     req.Allocation.Instrument.Name,
		Status:         req.Status,
		Payload:        payload,
		TargetGroupIDs: req.TargetGroupIDs,
		CreatedAt:      req.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

// CreateFollowupRequest handles POST /api/v2/followup_requests. The request
// is validated against the instrument's form schema, persisted, and
// submitted to the facility synchronously; the response carries the status
// the submission ended in.
func (c *Controller) CreateFollowupRequest(ctx echo.Context) error {
	actor := Actor(ctx)

	var body CreateFollowupRequestBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}
	if body.ObjID == "" {
		return c.HandleError(ctx, nil, "objId is required", http.StatusBadRequest)
	}
	if body.AllocationID == 0 {
		return c.HandleError(ctx, nil, "allocationId is required", http.StatusBadRequest)
	}

	if _, err := c.DS.GetObj(body.ObjID); err != nil {
		return c.HandleError(ctx, err, "object not found", http.StatusNotFound)
	}

	allocation, err := c.DS.GetAllocation(body.AllocationID)
	if err != nil {
		return c.HandleError(ctx, err, "allocation not found", http.StatusNotFound)
	}
	if !actor.IsAdmin() && !actor.InGroup(allocation.GroupID) {
		return c.HandleError(ctx, nil, "allocation belongs to a group you are not in", http.StatusForbidden)
	}

	if c.Facilities == nil {
		return c.HandleError(ctx, nil, "no facilities configured", http.StatusServiceUnavailable)
	}
	facilityAPI, err := c.Facilities.ForInstrument(allocation.Instrument.Name)
	if err != nil {
		return c.HandleError(ctx, err, "instrument has no facility integration", http.StatusBadRequest)
	}

	validated, err := facilityAPI.ValidatePayload(allocation.Instrument.Name, body.Payload)
	if err != nil {
		return c.HandleError(ctx, err, "invalid observation payload", http.StatusBadRequest)
	}
	payloadJSON, err := json.Marshal(validated)
	if err != nil {
		return c.HandleError(ctx, err, "failed to encode payload", http.StatusInternalServerError)
	}

	targetGroupIDs, err := c.resolveTargetGroups(actor, body.TargetGroupIDs)
	if err != nil {
		return c.HandleError(ctx, err, "invalid target groups", http.StatusBadRequest)
	}

	request := datastore.FollowupRequest{
		ObjID:          body.ObjID,
		AllocationID:   allocation.ID,
		RequesterID:    actor.User.ID,
		Status:         facility.StatusPendingSubmission,
		Payload:        string(payloadJSON),
		TargetGroupIDs: targetGroupIDs,
	}
	if err := c.DS.CreateFollowupRequest(&request); err != nil {
		return c.HandleError(ctx, err, "failed to save followup request", http.StatusInternalServerError)
	}

	if err := facilityAPI.Submit(ctx.Request().Context(), &request); err != nil {
		// Validation failed before any facility traffic; the row stays in
		// pending state and the client gets the diagnostic.
		return c.HandleError(ctx, err, "submission failed", http.StatusBadRequest)
	}

	stored, err := c.DS.GetFollowupRequest(request.ID)
	if err != nil {
		stored = request
	}
	c.publishFollowupEvent(ctx.Request().Context(),
		mqtt.NewFollowupEventDTO(mqtt.ActionSubmitted, &stored))

	return ctx.JSON(http.StatusOK, followupResponse(&stored))
}

// ListFollowupRequests handles GET /api/v2/followup_requests. The objID
// query parameter narrows the result to one object; otherwise all requests
// readable by the actor are returned.
func (c *Controller) ListFollowupRequests(ctx echo.Context) error {
	actor := Actor(ctx)

	requests, err := c.DS.ListFollowupRequests(actor, ctx.QueryParam("objID"))
	if err != nil {
		return c.HandleError(ctx, err, "failed to list followup requests", http.StatusInternalServerError)
	}

	out := make([]*FollowupRequestResponse, 0, len(requests))
	for i := range requests {
		out = append(out, followupResponse(&requests[i]))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"followupRequests": out})
}

// DeleteFollowupRequest handles DELETE /api/v2/followup_requests/:id. The
// request is aborted upstream; the row survives with status "deleted" so
// the audit trail stays intact.
func (c *Controller) DeleteFollowupRequest(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid followup request id", http.StatusBadRequest)
	}

	request, err := c.DS.GetFollowupRequestForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "followup request not found", http.StatusNotFound)
	}

	allowed, err := c.DS.CanManageFollowupRequest(actor, &request)
	if err != nil {
		return c.HandleError(ctx, err, "failed to check permissions", http.StatusInternalServerError)
	}
	if !allowed {
		return c.HandleError(ctx, nil, "only the requester or an allocation group admin may delete", http.StatusForbidden)
	}

	facilityAPI, err := c.Facilities.ForInstrument(request.Allocation.Instrument.Name)
	if err != nil {
		return c.HandleError(ctx, err, "instrument has no facility integration", http.StatusBadRequest)
	}

	if err := facilityAPI.Delete(ctx.Request().Context(), &request); err != nil {
		return c.HandleError(ctx, err, "deletion failed", http.StatusBadRequest)
	}

	stored, err := c.DS.GetFollowupRequest(request.ID)
	if err != nil {
		stored = request
	}
	c.publishFollowupEvent(ctx.Request().Context(),
		mqtt.NewFollowupEventDTO(mqtt.ActionDeleted, &stored))

	return ctx.JSON(http.StatusOK, followupResponse(&stored))
}

// GetInstrumentForm handles GET /api/v2/facility/instruments/:name/form and
// returns the JSON schema of the instrument's observation form.
func (c *Controller) GetInstrumentForm(ctx echo.Context) error {
	name := ctx.Param("name")

	if c.Facilities == nil {
		return c.HandleError(ctx, nil, "no facilities configured", http.StatusServiceUnavailable)
	}
	facilityAPI, err := c.Facilities.ForInstrument(name)
	if err != nil {
		return c.HandleError(ctx, err, "instrument has no facility integration", http.StatusNotFound)
	}

	schema, err := facilityAPI.FormSchema(name)
	if err != nil {
		return c.HandleError(ctx, err, "no form schema for instrument", http.StatusNotFound)
	}
	return ctx.JSONBlob(http.StatusOK, schema)
}

// resolveTargetGroups maps requested group ids onto groups. An empty list
// falls back to the actor's own groups so the request stays visible to its
// creator.
func (c *Controller) resolveTargetGroups(actor *datastore.Actor, groupIDs []uint) (datastore.IDList, error) {
	if len(groupIDs) == 0 {
		return datastore.IDList(actor.GroupIDs), nil
	}
	out := make(datastore.IDList, 0, len(groupIDs))
	for _, id := range groupIDs {
		if _, err := c.DS.GetGroup(id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}
