package api

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/skyhub/skyhub-go/internal/archive"
	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/notification"
)

func (c *Controller) initAnalysisRoutes() {
	c.Group.POST("/obj/:objID/analysis/:serviceID", c.StartObjAnalysis, c.AuthMiddleware)
	c.Group.GET("/obj/analysis/:analysisID", c.GetObjAnalysis, c.AuthMiddleware)
	c.Group.DELETE("/obj/analysis/:analysisID", c.DeleteObjAnalysis, c.AuthMiddleware)

	// The external service authenticates with the per-run token in the
	// path, not via the auth middleware.
	c.Group.POST("/webhook/obj_analysis/:analysisID/:token", c.AnalysisWebhook)
}

// StartAnalysisBody carries optional parameters forwarded to the analysis
// service.
type StartAnalysisBody struct {
	AnalysisParameters map[string]any `json:"analysisParameters,omitempty"`
	GroupIDs           []uint         `json:"groupIds,omitempty"`
}

// ObjAnalysisResponse is the wire form of an analysis run.
type ObjAnalysisResponse struct {
	ID                uint   `json:"id"`
	ObjID             string `json:"objId"`
	AnalysisServiceID uint   `json:"analysisServiceId"`
	Status            string `json:"status"`
	StatusMessage     string `json:"statusMessage,omitempty"`
	Filename          string `json:"filename,omitempty"`
	Hash              string `json:"hash,omitempty"`
	InvalidAfter      string `json:"invalidAfter,omitempty"`
}

func analysisResponse(a *datastore.ObjAnalysis) *ObjAnalysisResponse {
	resp := &ObjAnalysisResponse{
		ID:                a.ID,
		ObjID:             a.ObjID,
		AnalysisServiceID: a.AnalysisServiceID,
		Status:            a.Status,
		StatusMessage:     a.StatusMessage,
		Filename:          a.Filename,
		Hash:              a.Hash,
	}
	if a.InvalidAfter != nil {
		resp.InvalidAfter = a.InvalidAfter.UTC().Format(time.RFC3339)
	}
	return resp
}

// StartObjAnalysis handles POST /api/v2/obj/:objID/analysis/:serviceID. The
// run is persisted, the external service is invoked synchronously with the
// object's input data, and the run moves to "pending" awaiting the results
// callback.
func (c *Controller) StartObjAnalysis(ctx echo.Context) error {
	actor := Actor(ctx)
	objID := ctx.Param("objID")

	serviceID, err := strconv.ParseUint(ctx.Param("serviceID"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid analysis service id", http.StatusBadRequest)
	}

	var body StartAnalysisBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	obj, err := c.DS.GetObj(objID)
	if err != nil {
		return c.HandleError(ctx, err, "object not found", http.StatusNotFound)
	}
	if !actor.IsAdmin() {
		owned, err := c.DS.IsObjOwnedBy(objID, actor.GroupIDs)
		if err != nil {
			return c.HandleError(ctx, err, "failed to check ownership", http.StatusInternalServerError)
		}
		if !owned {
			return c.HandleError(ctx, nil, "object is not saved to any of your groups", http.StatusForbidden)
		}
	}

	service, err := c.DS.GetAnalysisServiceForUser(actor, uint(serviceID))
	if err != nil {
		return c.HandleError(ctx, err, "analysis service not found", http.StatusNotFound)
	}
	if !service.Enabled {
		return c.HandleError(ctx, nil, "analysis service is disabled", http.StatusBadRequest)
	}

	params := "{}"
	if body.AnalysisParameters != nil {
		encoded, err := json.Marshal(body.AnalysisParameters)
		if err != nil {
			return c.HandleError(ctx, err, "invalid analysis parameters", http.StatusBadRequest)
		}
		params = string(encoded)
	}

	invalidAfter := time.Now().Add(time.Duration(service.Timeout * float64(time.Second)))
	analysis := datastore.ObjAnalysis{
		ObjID:              objID,
		AnalysisServiceID:  service.ID,
		AuthorID:           actor.User.ID,
		Status:             datastore.AnalysisStatusQueued,
		Token:              uuid.NewString(),
		UniqueID:           uuid.NewString(),
		AnalysisParameters: params,
		InvalidAfter:       &invalidAfter,
	}

	groupIDs := body.GroupIDs
	if len(groupIDs) == 0 {
		groupIDs = actor.GroupIDs
	}
	if err := c.DS.CreateObjAnalysis(&analysis, groupIDs); err != nil {
		return c.HandleError(ctx, err, "failed to create analysis run", http.StatusInternalServerError)
	}

	inputs, err := c.analysisInputs(actor, &obj, &service)
	if err != nil {
		c.failAnalysis(&analysis, fmt.Sprintf("failed to gather inputs: %v", err))
		return c.HandleError(ctx, err, "failed to gather analysis inputs", http.StatusInternalServerError)
	}

	if err := c.invokeAnalysisService(ctx, &analysis, &service, inputs); err != nil {
		c.failAnalysis(&analysis, fmt.Sprintf("webhook call failed: %v", err))
		return c.HandleError(ctx, err, "analysis service call failed", http.StatusBadGateway)
	}

	analysis.Status = datastore.AnalysisStatusPending
	if err := c.DS.UpdateObjAnalysis(&analysis); err != nil {
		return c.HandleError(ctx, err, "failed to update analysis run", http.StatusInternalServerError)
	}

	return ctx.JSON(http.StatusOK, analysisResponse(&analysis))
}

// analysisInputs gathers the object's data according to the service's
// declared input types.
func (c *Controller) analysisInputs(actor *datastore.Actor, obj *datastore.Obj, service *datastore.AnalysisService) (map[string]any, error) {
	inputs := map[string]any{
		"obj": map[string]any{
			"id":       obj.ID,
			"ra":       obj.RA,
			"dec":      obj.Dec,
			"redshift": obj.Redshift,
		},
	}

	// The data types load independently of each other.
	var g errgroup.Group
	var mu sync.Mutex
	for _, inputType := range service.InputDataTypes {
		switch inputType {
		case "classifications":
			g.Go(func() error {
				classifications, err := c.DS.GetObjClassifications(obj.ID, actor.GroupIDs)
				if err != nil {
					return err
				}
				list := make([]map[string]any, 0, len(classifications))
				for _, cl := range classifications {
					list = append(list, map[string]any{
						"classification": cl.Classification,
						"taxonomy":       cl.Taxonomy,
						"probability":    cl.Probability,
					})
				}
				mu.Lock()
				inputs["classifications"] = list
				mu.Unlock()
				return nil
			})
		case "spectra":
			g.Go(func() error {
				spectraList, err := c.DS.ListSpectraByObj(actor, obj.ID)
				if err != nil {
					return err
				}
				list := make([]map[string]any, 0, len(spectraList))
				for i := range spectraList {
					s := &spectraList[i]
					list = append(list, map[string]any{
						"wavelengths": s.Wavelengths,
						"fluxes":      s.Fluxes,
						"errors":      s.Errors,
						"observed_at": s.ObservedAt.UTC().Format(time.RFC3339),
					})
				}
				mu.Lock()
				inputs["spectra"] = list
				mu.Unlock()
				return nil
			})
		case "redshift":
			inputs["redshift"] = obj.Redshift
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// invokeAnalysisService fires the external webhook with the run inputs and
// the results callback URL, applying the service's auth scheme.
func (c *Controller) invokeAnalysisService(ctx echo.Context, analysis *datastore.ObjAnalysis, service *datastore.AnalysisService, inputs map[string]any) error {
	callback := fmt.Sprintf("%s/api/v2/webhook/obj_analysis/%d/%s",
		strings.TrimSuffix(c.Settings.WebServer.PublicURL, "/"), analysis.ID, analysis.Token)

	payload := map[string]any{
		"callback_url":        callback,
		"callback_method":     "POST",
		"invalid_after":       analysis.InvalidAfter.UTC().Format(time.RFC3339),
		"inputs":              inputs,
		"analysis_parameters": json.RawMessage(analysis.AnalysisParameters),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, service.URL, strings.NewReader(string(encoded)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.applyServiceAuth(req, service); err != nil {
		return err
	}

	timeout := time.Duration(service.Timeout * float64(time.Second))
	if timeout <= 0 {
		timeout = time.Hour
	}
	callCtx, cancel := context.WithTimeout(ctx.Request().Context(), timeout)
	defer cancel()

	resp, err := c.webhooks.Do(callCtx, req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("analysis service returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// applyServiceAuth decorates the outbound request according to the
// service's authentication type. Auth info is stored encrypted.
func (c *Controller) applyServiceAuth(req *http.Request, service *datastore.AnalysisService) error {
	if service.AuthenticationType == datastore.AuthTypeNone || service.AuthInfo == "" {
		return nil
	}
	if c.cipher == nil {
		return fmt.Errorf("analysis service %q requires credentials but no cipher is configured", service.Name)
	}

	decrypted, err := c.cipher.DecryptString(service.AuthInfo)
	if err != nil {
		return err
	}
	var authInfo map[string]string
	if err := json.Unmarshal([]byte(decrypted), &authInfo); err != nil {
		return err
	}

	switch service.AuthenticationType {
	case datastore.AuthTypeHeaderToken:
		for name, value := range authInfo {
			req.Header.Set(name, value)
		}
	case datastore.AuthTypeAPIKey:
		query := req.URL.Query()
		for name, value := range authInfo {
			query.Set(name, value)
		}
		req.URL.RawQuery = query.Encode()
	case datastore.AuthTypeHTTPBasic:
		req.SetBasicAuth(authInfo["username"], authInfo["password"])
	default:
		return fmt.Errorf("unsupported authentication type %q", service.AuthenticationType)
	}
	return nil
}

// AnalysisWebhookBody is the results callback payload from the external
// service. Data holds the base64-encoded results file.
type AnalysisWebhookBody struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    string          `json:"data,omitempty"`
	Results json.RawMessage `json:"results,omitempty"`
}

// AnalysisWebhook handles POST /api/v2/webhook/obj_analysis/:analysisID/:token.
// A valid token on a still-pending, unexpired run persists the results file
// to the archive and completes the run; anything else fails it.
func (c *Controller) AnalysisWebhook(ctx echo.Context) error {
	analysisID, err := strconv.ParseUint(ctx.Param("analysisID"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid analysis id", http.StatusBadRequest)
	}

	analysis, err := c.DS.GetObjAnalysis(uint(analysisID))
	if err != nil {
		return c.HandleError(ctx, err, "analysis run not found", http.StatusNotFound)
	}

	if subtle.ConstantTimeCompare([]byte(ctx.Param("token")), []byte(analysis.Token)) != 1 {
		return c.HandleError(ctx, nil, "invalid webhook token", http.StatusForbidden)
	}

	if analysis.Status != datastore.AnalysisStatusPending && analysis.Status != datastore.AnalysisStatusQueued {
		return c.HandleError(ctx, nil, "analysis run already finalized", http.StatusConflict)
	}
	if analysis.InvalidAfter != nil && time.Now().After(*analysis.InvalidAfter) {
		c.failAnalysis(&analysis, "results arrived after the deadline")
		return c.HandleError(ctx, nil, "analysis run expired", http.StatusGone)
	}

	var body AnalysisWebhookBody
	if err := ctx.Bind(&body); err != nil {
		c.failAnalysis(&analysis, "malformed results payload")
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	if body.Status != "" && body.Status != "success" && body.Status != "completed" {
		c.failAnalysis(&analysis, fmt.Sprintf("service reported %s: %s", body.Status, body.Message))
		return ctx.JSON(http.StatusOK, map[string]string{"status": "recorded"})
	}

	results := []byte(body.Results)
	if body.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(body.Data)
		if err != nil {
			c.failAnalysis(&analysis, "results data is not valid base64")
			return c.HandleError(ctx, err, "invalid results data", http.StatusBadRequest)
		}
		results = decoded
	}

	if len(results) > 0 && c.Archive != nil {
		filename := archive.AnalysisFileName(analysis.ID)
		if err := c.Archive.Store(ctx.Request().Context(), filename, bytes.NewReader(results)); err != nil {
			c.failAnalysis(&analysis, fmt.Sprintf("failed to archive results: %v", err))
			return c.HandleError(ctx, err, "failed to persist results", http.StatusInternalServerError)
		}
		analysis.Filename = filename
		sum := md5.Sum(results) //nolint:gosec // content fingerprint
		analysis.Hash = hex.EncodeToString(sum[:])
	}

	now := time.Now()
	analysis.Status = datastore.AnalysisStatusCompleted
	analysis.StatusMessage = body.Message
	analysis.HandledAt = &now
	if err := c.DS.UpdateObjAnalysis(&analysis); err != nil {
		return c.HandleError(ctx, err, "failed to update analysis run", http.StatusInternalServerError)
	}

	c.sse.Broadcast(SSEEvent{
		Type: EventRefreshSource,
		Data: map[string]string{"objID": analysis.ObjID},
	}, 0)
	if c.Notifier != nil {
		title := "Analysis completed"
		message := fmt.Sprintf("Analysis %d on %s finished", analysis.ID, analysis.ObjID)
		if _, err := c.Notifier.CreateForUser(analysis.AuthorID, notification.TypeAnalysis, notification.PriorityMedium, title, message); err != nil {
			c.apiLogger.Warn("failed to store analysis notification", "error", err)
		}
	}

	return ctx.JSON(http.StatusOK, map[string]string{"status": "completed"})
}

// GetObjAnalysis handles GET /api/v2/obj/analysis/:analysisID.
func (c *Controller) GetObjAnalysis(ctx echo.Context) error {
	actor := Actor(ctx)

	analysisID, err := strconv.ParseUint(ctx.Param("analysisID"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid analysis id", http.StatusBadRequest)
	}

	analysis, err := c.DS.GetObjAnalysisForUser(actor, uint(analysisID))
	if err != nil {
		return c.HandleError(ctx, err, "analysis run not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, analysisResponse(&analysis))
}

// DeleteObjAnalysis handles DELETE /api/v2/obj/analysis/:analysisID. The
// archived results file is removed together with the row.
func (c *Controller) DeleteObjAnalysis(ctx echo.Context) error {
	actor := Actor(ctx)

	analysisID, err := strconv.ParseUint(ctx.Param("analysisID"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid analysis id", http.StatusBadRequest)
	}

	analysis, err := c.DS.GetObjAnalysisForUser(actor, uint(analysisID))
	if err != nil {
		return c.HandleError(ctx, err, "analysis run not found", http.StatusNotFound)
	}
	if analysis.AuthorID != actor.User.ID && !actor.IsAdmin() {
		return c.HandleError(ctx, nil, "only the author may delete this analysis run", http.StatusForbidden)
	}

	if analysis.Filename != "" && c.Archive != nil {
		if err := c.Archive.Delete(ctx.Request().Context(), analysis.Filename); err != nil {
			c.apiLogger.Warn("failed to delete archived results", "filename", analysis.Filename, "error", err)
		}
	}

	if err := c.DS.DeleteObjAnalysis(actor, uint(analysisID)); err != nil {
		return c.HandleError(ctx, err, "failed to delete analysis run", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// failAnalysis marks a run failed with a status message. Best effort; a
// failing update only logs.
func (c *Controller) failAnalysis(analysis *datastore.ObjAnalysis, message string) {
	analysis.Status = datastore.AnalysisStatusFailure
	analysis.StatusMessage = message
	if err := c.DS.UpdateObjAnalysis(analysis); err != nil {
		c.apiLogger.Error("failed to mark analysis run failed", "analysis", analysis.ID, "error", err)
	}
}
