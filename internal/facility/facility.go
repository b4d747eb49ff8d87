// Package facility defines the contract between followup request handling
// and remote observatory APIs. A facility implementation knows how to build
// the wire document for a request, submit it to the observatory's node
// agent, abort it, and describe the per-instrument observation form.
//
// Implementations register with a Registry keyed by facility name and by
// the instrument names they serve; request handlers resolve the API for an
// allocation's instrument at submission time.
package facility

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/skyhub/skyhub-go/internal/datastore"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// FollowupRequest status values. Rejections carry the upstream error text
// appended to StatusRejectedPrefix.
const (
	StatusPendingSubmission = "pending submission"
	StatusSubmitted         = "submitted"
	StatusDeleted           = "deleted"
	StatusFailedSubmit      = "failed to submit"
	StatusFailedDelete      = "failed to delete"
	StatusRejectedPrefix    = "rejected: "
)

// API is implemented by every supported observatory integration.
//
// Submit and Delete own the full exchange lifecycle: they build the outbound
// document, perform the network call, persist the resulting status and the
// facility transaction rows, and emit refresh events. Validation failures
// before any network traffic are returned as errors; outcomes reported by
// the facility (acceptance, rejection, transport failure) are recorded on
// the request's Status instead.
type API interface {
	// Facility returns the registry key, e.g. "LT".
	Facility() string

	// Instruments lists the instrument names this facility serves.
	Instruments() []string

	// Submit builds the observation document for the request's instrument,
	// sends it to the facility, and records the outcome.
	Submit(ctx context.Context, req *datastore.FollowupRequest) error

	// Delete aborts a previously submitted request upstream and records
	// the outcome.
	Delete(ctx context.Context, req *datastore.FollowupRequest) error

	// FormSchema returns the JSON schema describing the observation form
	// for one of this facility's instruments.
	FormSchema(instrumentName string) (json.RawMessage, error)

	// ValidatePayload checks an observation form against the instrument's
	// schema and returns the payload with defaults applied.
	ValidatePayload(instrumentName string, payload map[string]any) (map[string]any, error)
}

// Events receives lifecycle notifications after a request changes state.
// Implementations fan these out to interested transports (SSE stream, MQTT
// bus, notification store); facility code never talks to those directly.
type Events interface {
	// RefreshSource tells clients watching an object to reload it.
	RefreshSource(objID string)

	// RefreshFollowupRequests tells the requester's clients to reload
	// their request list.
	RefreshFollowupRequests(userID uint)

	// Notify pushes a user-visible notification, e.g. a rejection notice.
	// Level is one of "info", "warning", "error".
	Notify(userID uint, message, level string)
}

// NopEvents discards all lifecycle notifications. Used when no event
// transports are wired, and in tests.
type NopEvents struct{}

func (NopEvents) RefreshSource(string)         {}
func (NopEvents) RefreshFollowupRequests(uint) {}
func (NopEvents) Notify(uint, string, string)  {}

// Registry resolves facility APIs by facility name or instrument name.
// Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	facilities  map[string]API
	instruments map[string]API
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		facilities:  make(map[string]API),
		instruments: make(map[string]API),
	}
}

// Register adds a facility API under its facility name and all of its
// instrument names. Registering a duplicate facility or claiming an
// instrument already served by another facility is a conflict.
func (r *Registry) Register(api API) error {
	if api == nil {
		return errors.Newf("cannot register nil facility API").
			Component("facility").
			Category(errors.CategoryValidation).
			Build()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	name := api.Facility()
	if _, exists := r.facilities[name]; exists {
		return errors.Newf("facility %q is already registered", name).
			Component("facility").
			Category(errors.CategoryConflict).
			Context("facility", name).
			Build()
	}
	for _, instrument := range api.Instruments() {
		if other, exists := r.instruments[instrument]; exists {
			return errors.Newf("instrument %q is already served by facility %q", instrument, other.Facility()).
				Component("facility").
				Category(errors.CategoryConflict).
				Context("instrument", instrument).
				Build()
		}
	}

	r.facilities[name] = api
	for _, instrument := range api.Instruments() {
		r.instruments[instrument] = api
	}
	return nil
}

// Get returns the API registered under the given facility name.
func (r *Registry) Get(facility string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	api, ok := r.facilities[facility]
	if !ok {
		return nil, errors.Newf("no facility registered as %q", facility).
			Component("facility").
			Category(errors.CategoryNotFound).
			Context("facility", facility).
			Build()
	}
	return api, nil
}

// ForInstrument returns the API serving the given instrument name.
func (r *Registry) ForInstrument(instrument string) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	api, ok := r.instruments[instrument]
	if !ok {
		return nil, errors.Newf("no facility serves instrument %q", instrument).
			Component("facility").
			Category(errors.CategoryNotFound).
			Context("instrument", instrument).
			Build()
	}
	return api, nil
}

// Facilities returns the registered facility names in sorted order.
func (r *Registry) Facilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.facilities))
	for name := range r.facilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
