package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/mqtt"
	"github.com/skyhub/skyhub-go/internal/spectra"
)

func (c *Controller) initSpectraRoutes() {
	c.Group.POST("/spectra", c.requireACL(datastore.ACLUploadData, c.PostSpectrum), c.AuthMiddleware)
	c.Group.POST("/spectra/parse/ascii", c.ParseASCIISpectrum, c.AuthMiddleware)
	c.Group.POST("/spectra/ascii", c.requireACL(datastore.ACLUploadData, c.PostASCIISpectrum), c.AuthMiddleware)
	c.Group.GET("/spectra/:id", c.GetSpectrum, c.AuthMiddleware)
	c.Group.PATCH("/spectra/:id", c.requireACL(datastore.ACLManageSources, c.PatchSpectrum), c.AuthMiddleware)
	c.Group.DELETE("/spectra/:id", c.requireACL(datastore.ACLManageSources, c.DeleteSpectrum), c.AuthMiddleware)
}

// PostSpectrumBody is the POST /spectra payload with already-parsed arrays.
// GroupIDs accepts a list of group ids or the literal string "all".
type PostSpectrumBody struct {
	ObjID        string          `json:"objId"`
	InstrumentID uint            `json:"instrumentId"`
	ObservedAt   string          `json:"observedAt"`
	Wavelengths  []float64       `json:"wavelengths"`
	Fluxes       []float64       `json:"fluxes"`
	Errors       []float64       `json:"errors,omitempty"`
	GroupIDs     json.RawMessage `json:"groupIds,omitempty"`
	ReducedBy    []uint          `json:"reducedBy,omitempty"`
	ObservedBy   []uint          `json:"observedBy,omitempty"`
	Origin       string          `json:"origin,omitempty"`
	Filename     string          `json:"filename,omitempty"`
}

// SpectrumResponse is the wire form of a stored spectrum.
type SpectrumResponse struct {
	ID           uint      `json:"id"`
	ObjID        string    `json:"objId"`
	InstrumentID uint      `json:"instrumentId"`
	Instrument   string    `json:"instrument,omitempty"`
	ObservedAt   string    `json:"observedAt"`
	Origin       string    `json:"origin,omitempty"`
	Wavelengths  []float64 `json:"wavelengths"`
	Fluxes       []float64 `json:"fluxes"`
	Errors       []float64 `json:"errors,omitempty"`
	Filename     string    `json:"filename,omitempty"`
	OwnerID      uint      `json:"ownerId"`
}

func spectrumResponse(s *datastore.Spectrum) *SpectrumResponse {
	return &SpectrumResponse{
		ID:           s.ID,
		ObjID:        s.ObjID,
		InstrumentID: s.InstrumentID,
		Instrument:   s.Instrument.Name,
		ObservedAt:   s.ObservedAt.UTC().Format(time.RFC3339),
		Origin:       s.Origin,
		Wavelengths:  s.Wavelengths,
		Fluxes:       s.Fluxes,
		Errors:       s.Errors,
		Filename:     s.OriginalFileName,
		OwnerID:      s.OwnerID,
	}
}

// PostSpectrum handles POST /api/v2/spectra.
func (c *Controller) PostSpectrum(ctx echo.Context) error {
	actor := Actor(ctx)

	var body PostSpectrumBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	observedAt, err := parseObservedAt(body.ObservedAt)
	if err != nil {
		return c.HandleError(ctx, err, "invalid observedAt timestamp", http.StatusBadRequest)
	}
	if err := validateSeries(body.Wavelengths, body.Fluxes, body.Errors); err != nil {
		return c.HandleError(ctx, err, "invalid spectrum arrays", http.StatusBadRequest)
	}
	if _, err := c.DS.GetObj(body.ObjID); err != nil {
		return c.HandleError(ctx, err, "object not found", http.StatusNotFound)
	}
	if _, err := c.DS.GetInstrument(body.InstrumentID); err != nil {
		return c.HandleError(ctx, err, "instrument not found", http.StatusNotFound)
	}

	groupIDs, err := c.resolveShareGroups(actor, body.GroupIDs)
	if err != nil {
		return c.HandleError(ctx, err, "invalid groupIds", http.StatusBadRequest)
	}

	spectrum := datastore.Spectrum{
		ObjID:            body.ObjID,
		InstrumentID:     body.InstrumentID,
		ObservedAt:       observedAt,
		Origin:           body.Origin,
		Wavelengths:      body.Wavelengths,
		Fluxes:           body.Fluxes,
		Errors:           body.Errors,
		OriginalFileName: body.Filename,
		OwnerID:          actor.User.ID,
	}
	if err := c.DS.SaveSpectrum(&spectrum, groupIDs, body.ReducedBy, body.ObservedBy); err != nil {
		return c.HandleError(ctx, err, "failed to save spectrum", http.StatusInternalServerError)
	}

	c.emitSpectrumEvent(ctx, mqtt.ActionCreated, &spectrum)
	return ctx.JSON(http.StatusOK, spectrumResponse(&spectrum))
}

// ParseASCIIBody is the payload shared by the two ASCII endpoints.
type ParseASCIIBody struct {
	ASCII         string `json:"ascii"`
	WaveColumn    *int   `json:"waveColumn,omitempty"`
	FluxColumn    *int   `json:"fluxColumn,omitempty"`
	FluxerrColumn *int   `json:"fluxerrColumn,omitempty"`

	// Fields below are only used by POST /spectra/ascii.
	ObjID        string          `json:"objId,omitempty"`
	InstrumentID uint            `json:"instrumentId,omitempty"`
	ObservedAt   string          `json:"observedAt,omitempty"`
	GroupIDs     json.RawMessage `json:"groupIds,omitempty"`
	ReducedBy    []uint          `json:"reducedBy,omitempty"`
	ObservedBy   []uint          `json:"observedBy,omitempty"`
	Filename     string          `json:"filename,omitempty"`
}

func (b *ParseASCIIBody) columns() (wave, flux int, fluxerr *int) {
	wave, flux = 0, 1
	if b.WaveColumn != nil {
		wave = *b.WaveColumn
	}
	if b.FluxColumn != nil {
		flux = *b.FluxColumn
	}
	return wave, flux, b.FluxerrColumn
}

// ParseASCIISpectrum handles POST /api/v2/spectra/parse/ascii: parse only,
// nothing is stored.
func (c *Controller) ParseASCIISpectrum(ctx echo.Context) error {
	var body ParseASCIIBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	wave, flux, fluxerr := body.columns()
	series, err := spectra.ParseASCII([]byte(body.ASCII), wave, flux, fluxerr)
	if err != nil {
		return c.HandleError(ctx, err, "failed to parse spectrum", http.StatusBadRequest)
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"wavelengths": series.Wavelengths,
		"fluxes":      series.Fluxes,
		"errors":      series.FluxErrors,
	})
}

// PostASCIISpectrum handles POST /api/v2/spectra/ascii: parse and store,
// preserving the original text alongside the parsed arrays.
func (c *Controller) PostASCIISpectrum(ctx echo.Context) error {
	actor := Actor(ctx)

	var body ParseASCIIBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	observedAt, err := parseObservedAt(body.ObservedAt)
	if err != nil {
		return c.HandleError(ctx, err, "invalid observedAt timestamp", http.StatusBadRequest)
	}
	if _, err := c.DS.GetObj(body.ObjID); err != nil {
		return c.HandleError(ctx, err, "object not found", http.StatusNotFound)
	}
	if _, err := c.DS.GetInstrument(body.InstrumentID); err != nil {
		return c.HandleError(ctx, err, "instrument not found", http.StatusNotFound)
	}

	wave, flux, fluxerr := body.columns()
	series, err := spectra.ParseASCII([]byte(body.ASCII), wave, flux, fluxerr)
	if err != nil {
		return c.HandleError(ctx, err, "failed to parse spectrum", http.StatusBadRequest)
	}

	groupIDs, err := c.resolveShareGroups(actor, body.GroupIDs)
	if err != nil {
		return c.HandleError(ctx, err, "invalid groupIds", http.StatusBadRequest)
	}

	spectrum := datastore.Spectrum{
		ObjID:              body.ObjID,
		InstrumentID:       body.InstrumentID,
		ObservedAt:         observedAt,
		Wavelengths:        series.Wavelengths,
		Fluxes:             series.Fluxes,
		Errors:             series.FluxErrors,
		OriginalFileName:   body.Filename,
		OriginalFileString: body.ASCII,
		OwnerID:            actor.User.ID,
	}
	if err := c.DS.SaveSpectrum(&spectrum, groupIDs, body.ReducedBy, body.ObservedBy); err != nil {
		return c.HandleError(ctx, err, "failed to save spectrum", http.StatusInternalServerError)
	}

	c.emitSpectrumEvent(ctx, mqtt.ActionCreated, &spectrum)
	return ctx.JSON(http.StatusOK, spectrumResponse(&spectrum))
}

// GetSpectrum handles GET /api/v2/spectra/:id. Spectra outside the actor's
// reach return 404 so existence does not leak.
func (c *Controller) GetSpectrum(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid spectrum id", http.StatusBadRequest)
	}

	spectrum, err := c.DS.GetSpectrumForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "spectrum not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, spectrumResponse(&spectrum))
}

// PatchSpectrumBody carries the mutable spectrum fields.
type PatchSpectrumBody struct {
	ObservedAt  *string    `json:"observedAt,omitempty"`
	Origin      *string    `json:"origin,omitempty"`
	Wavelengths *[]float64 `json:"wavelengths,omitempty"`
	Fluxes      *[]float64 `json:"fluxes,omitempty"`
	Errors      *[]float64 `json:"errors,omitempty"`
}

// PatchSpectrum handles PATCH /api/v2/spectra/:id.
func (c *Controller) PatchSpectrum(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid spectrum id", http.StatusBadRequest)
	}

	var body PatchSpectrumBody
	if err := ctx.Bind(&body); err != nil {
		return c.HandleError(ctx, err, "invalid request body", http.StatusBadRequest)
	}

	spectrum, err := c.DS.GetSpectrumForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "spectrum not found", http.StatusNotFound)
	}

	if body.ObservedAt != nil {
		observedAt, err := parseObservedAt(*body.ObservedAt)
		if err != nil {
			return c.HandleError(ctx, err, "invalid observedAt timestamp", http.StatusBadRequest)
		}
		spectrum.ObservedAt = observedAt
	}
	if body.Origin != nil {
		spectrum.Origin = *body.Origin
	}
	if body.Wavelengths != nil {
		spectrum.Wavelengths = *body.Wavelengths
	}
	if body.Fluxes != nil {
		spectrum.Fluxes = *body.Fluxes
	}
	if body.Errors != nil {
		spectrum.Errors = *body.Errors
	}
	if err := validateSeries(spectrum.Wavelengths, spectrum.Fluxes, spectrum.Errors); err != nil {
		return c.HandleError(ctx, err, "invalid spectrum arrays", http.StatusBadRequest)
	}

	if err := c.DS.UpdateSpectrum(actor, &spectrum); err != nil {
		return c.HandleError(ctx, err, "failed to update spectrum", http.StatusInternalServerError)
	}

	c.emitSpectrumEvent(ctx, mqtt.ActionUpdated, &spectrum)
	return ctx.JSON(http.StatusOK, spectrumResponse(&spectrum))
}

// DeleteSpectrum handles DELETE /api/v2/spectra/:id.
func (c *Controller) DeleteSpectrum(ctx echo.Context) error {
	actor := Actor(ctx)

	id, err := strconv.ParseUint(ctx.Param("id"), 10, 32)
	if err != nil {
		return c.HandleError(ctx, err, "invalid spectrum id", http.StatusBadRequest)
	}

	spectrum, err := c.DS.GetSpectrumForUser(actor, uint(id))
	if err != nil {
		return c.HandleError(ctx, err, "spectrum not found", http.StatusNotFound)
	}

	if err := c.DS.DeleteSpectrum(actor, uint(id)); err != nil {
		return c.HandleError(ctx, err, "failed to delete spectrum", http.StatusInternalServerError)
	}

	c.emitSpectrumEvent(ctx, mqtt.ActionDeleted, &spectrum)
	return ctx.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// emitSpectrumEvent broadcasts the SSE refresh and publishes the MQTT
// spectrum event after a successful write.
func (c *Controller) emitSpectrumEvent(ctx echo.Context, action string, spectrum *datastore.Spectrum) {
	c.sse.Broadcast(SSEEvent{
		Type: EventRefreshSource,
		Data: map[string]string{"objID": spectrum.ObjID},
	}, 0)
	c.publishSpectrumEvent(ctx.Request().Context(),
		mqtt.NewSpectrumEventDTO(action, spectrum))
}

// resolveShareGroups resolves the groupIds field of an upload. It accepts a
// JSON array of group ids or the literal string "all", which maps to the
// public group. The uploader's single-user group is always attached.
func (c *Controller) resolveShareGroups(actor *datastore.Actor, raw json.RawMessage) ([]uint, error) {
	groupIDs := []uint{}

	if len(raw) > 0 {
		var all string
		if err := json.Unmarshal(raw, &all); err == nil {
			if all != "all" {
				return nil, errInvalidGroupSpec
			}
			public, err := c.DS.GetGroupByName(datastore.PublicGroupName)
			if err != nil {
				return nil, err
			}
			groupIDs = append(groupIDs, public.ID)
		} else {
			var ids []uint
			if err := json.Unmarshal(raw, &ids); err != nil {
				return nil, errInvalidGroupSpec
			}
			for _, id := range ids {
				if _, err := c.DS.GetGroup(id); err != nil {
					return nil, err
				}
				groupIDs = append(groupIDs, id)
			}
		}
	}

	if actor.SingleGroupID != 0 && !containsID(groupIDs, actor.SingleGroupID) {
		groupIDs = append(groupIDs, actor.SingleGroupID)
	}
	return groupIDs, nil
}

var errInvalidGroupSpec = errors.ValidationError(`groupIds must be a list of group ids or "all"`)

func containsID(ids []uint, id uint) bool {
	for _, existing := range ids {
		if existing == id {
			return true
		}
	}
	return false
}

// parseObservedAt accepts RFC3339 or a bare "2006-01-02T15:04:05" local
// timestamp, which is treated as UTC.
func parseObservedAt(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.ValidationError("observedAt is required")
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02T15:04:05", value)
}

// validateSeries checks parsed or client-provided spectrum arrays.
func validateSeries(wavelengths, fluxes, errs []float64) error {
	if len(wavelengths) == 0 {
		return errors.ValidationError("wavelengths must not be empty")
	}
	if len(wavelengths) != len(fluxes) {
		return errors.ValidationError("wavelengths and fluxes must have the same length")
	}
	if len(errs) > 0 && len(errs) != len(fluxes) {
		return errors.ValidationError("errors must match the flux array length")
	}
	for _, vs := range [][]float64{wavelengths, fluxes, errs} {
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errors.ValidationError("spectrum values must be finite")
			}
		}
	}
	return nil
}
