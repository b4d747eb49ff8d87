// Package mqtt provides MQTT client functionality and data transfer objects.
package mqtt

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/skyhub/skyhub-go/internal/datastore"
)

// Event actions carried in the published payloads.
const (
	ActionCreated   = "created"
	ActionSubmitted = "submitted"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
)

// FollowupTopic returns the topic followup request events are published
// under, e.g. "skyhub/followup".
func FollowupTopic(base string) string {
	return strings.TrimSuffix(base, "/") + "/followup"
}

// SpectraTopic returns the topic spectrum events are published under,
// e.g. "skyhub/spectra".
func SpectraTopic(base string) string {
	return strings.TrimSuffix(base, "/") + "/spectra"
}

// FollowupEventDTO is the payload published to the followup topic when a
// followup request is submitted, updated or deleted.
//
// Field names are part of the MQTT API contract. Downstream automations
// key on them, so do not rename existing fields.
type FollowupEventDTO struct {
	Action     string `json:"action"`
	RequestID  uint   `json:"requestId"`
	ObjID      string `json:"objId"`
	Instrument string `json:"instrument,omitempty"`
	Status     string `json:"status,omitempty"`
	Timestamp  string `json:"timestamp"` // RFC3339 UTC
}

// NewFollowupEventDTO builds the payload for a followup request event.
// The instrument name is included when the allocation association is
// preloaded on the request.
func NewFollowupEventDTO(action string, req *datastore.FollowupRequest) *FollowupEventDTO {
	return &FollowupEventDTO{
		Action:     action,
		RequestID:  req.ID,
		ObjID:      req.ObjID,
		Instrument: req.Allocation.Instrument.Name,
		Status:     req.Status,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// SpectrumEventDTO is the payload published to the spectra topic when a
// spectrum is uploaded or deleted.
//
// Field names are part of the MQTT API contract.
type SpectrumEventDTO struct {
	Action     string `json:"action"`
	SpectrumID uint   `json:"spectrumId"`
	ObjID      string `json:"objId"`
	Instrument string `json:"instrument,omitempty"`
	ObservedAt string `json:"observedAt,omitempty"` // RFC3339 UTC
	Timestamp  string `json:"timestamp"`            // RFC3339 UTC
}

// NewSpectrumEventDTO builds the payload for a spectrum event. The
// instrument name is included when the association is preloaded.
func NewSpectrumEventDTO(action string, spectrum *datastore.Spectrum) *SpectrumEventDTO {
	dto := &SpectrumEventDTO{
		Action:     action,
		SpectrumID: spectrum.ID,
		ObjID:      spectrum.ObjID,
		Instrument: spectrum.Instrument.Name,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	if !spectrum.ObservedAt.IsZero() {
		dto.ObservedAt = spectrum.ObservedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

// JSON renders the payload for publishing.
func (dto *FollowupEventDTO) JSON() (string, error) {
	b, err := json.Marshal(dto)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// JSON renders the payload for publishing.
func (dto *SpectrumEventDTO) JSON() (string, error) {
	b, err := json.Marshal(dto)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
