package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/search"
)

func (c *Controller) initSearchRoutes() {
	c.Group.POST("/summary_query", c.SummaryQuery, c.AuthMiddleware)
	c.Group.PATCH("/objs/:id/summary", c.requireACL(datastore.ACLManageSources, c.PatchObjSummary), c.AuthMiddleware)
}

// SummaryQueryBody is the POST /summary_query payload. Exactly one of Q and
// ObjID must be set.
type SummaryQueryBody struct {
	Q                   string   `json:"q,omitempty"`
	ObjID               string   `json:"objID,omitempty"`
	K                   *int     `json:"k,omitempty"`
	ZMin                *float64 `json:"z_min,omitempty"`
	ZMax                *float64 `json:"z_max,omitempty"`
	ClassificationTypes []string `json:"classificationTypes,omitempty"`
}

// SummaryQueryResult is one similarity match.
type SummaryQueryResult struct {
	ObjID    string           `json:"objID"`
	Score    float32          `json:"score"`
	Metadata SummaryQueryMeta `json:"metadata"`
}

// SummaryQueryMeta carries the scalar metadata stored next to the vector.
type SummaryQueryMeta struct {
	Redshift *float64 `json:"redshift,omitempty"`
	Class    string   `json:"class,omitempty"`
}

// SummaryQuery handles POST /api/v2/summary_query: vector similarity search
// over source summaries, by free text or by similarity to a stored object.
func (c *Controller) SummaryQuery(ctx echo.Context) error {
	if c.Search == nil {
		return c.HandleError(ctx, nil, "vector search is not configured", http.StatusServiceUnavailable)
	}

	var body SummaryQueryBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	results, err := c.Search.Query(ctx.Request().Context(), &search.Request{
		Q:                   body.Q,
		ObjID:               body.ObjID,
		K:                   body.K,
		ZMin:                body.ZMin,
		ZMax:                body.ZMax,
		ClassificationTypes: body.ClassificationTypes,
	})
	if err != nil {
		return c.HandleError(ctx, err, "summary query failed", http.StatusInternalServerError)
	}

	out := make([]SummaryQueryResult, 0, len(results))
	for _, r := range results {
		out = append(out, SummaryQueryResult{
			ObjID: r.ObjID,
			Score: r.Score,
			Metadata: SummaryQueryMeta{
				Redshift: r.Metadata.Redshift,
				Class:    r.Metadata.Class,
			},
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"results": out})
}

// PatchObjSummaryBody carries the new source summary text.
type PatchObjSummaryBody struct {
	Summary string `json:"summary"`
}

// PatchObjSummary handles PATCH /api/v2/objs/:id/summary. The summary is
// stored and, when search is configured, reindexed synchronously so the
// next summary_query sees it.
func (c *Controller) PatchObjSummary(ctx echo.Context) error {
	actor := Actor(ctx)
	objID := ctx.Param("id")

	var body PatchObjSummaryBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	if _, err := c.DS.GetObj(objID); err != nil {
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

	if err := c.DS.UpdateObjSummary(objID, body.Summary); err != nil {
		return c.HandleError(ctx, err, "failed to update summary", http.StatusInternalServerError)
	}

	indexed := false
	if c.Search != nil {
		if err := c.Search.UpsertSourceSummary(ctx.Request().Context(), objID); err != nil {
			c.apiLogger.Warn("summary reindex failed", "objID", objID, "error", err)
		} else {
			indexed = true
		}
	}

	c.sse.Broadcast(SSEEvent{
		Type: EventRefreshSource,
		Data: map[string]string{"objID": objID},
	}, 0)

	return ctx.JSON(http.StatusOK, map[string]any{"status": "updated", "indexed": indexed})
}
