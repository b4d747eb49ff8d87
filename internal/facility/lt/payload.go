package lt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	"github.com/skyhub/skyhub-go/internal/ephem"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// Payload field defaults shared by all three instruments.
const (
	defaultExposureTime   = 300.0
	defaultExposureCounts = int64(1)
	defaultMaximumAirmass = 2.0
	defaultMaximumSeeing  = 1.2
	defaultSkyBrightness  = 2.0
	defaultGrating        = "blue"
)

var (
	iooFilters    = []string{"u", "g", "r", "i", "z"}
	ioiFilters    = []string{"H"}
	spratGratings = []string{"blue", "red"}
)

// observation is a validated observation form read back from a stored
// followup request payload.
type observation struct {
	Filters        []string // imager filter selection, one Schedule each
	Grating        string   // SPRAT arm
	ExposureTime   float64
	ExposureCounts int64
	MaximumAirmass float64
	MaximumSeeing  float64
	SkyBrightness  float64
	Photometric    bool
	StartDate      time.Time
	EndDate        time.Time
}

// parseObservation reads a stored payload at submission time. Payloads have
// passed validatePayload on create, so every field is present; failures here
// mean the stored row was tampered with or predates the current schema.
func parseObservation(instrument string, raw []byte) (*observation, error) {
	root, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFacilityPayload).
			Context("operation", "parse_payload").
			Build()
	}

	obs := &observation{}
	if obs.ExposureTime, err = root.GetFloat64("exposure_time"); err != nil {
		return nil, fieldError("exposure_time", "exposure_time is missing or not a number")
	}
	if obs.ExposureCounts, err = root.GetInt64("exposure_counts"); err != nil {
		return nil, fieldError("exposure_counts", "exposure_counts is missing or not an integer")
	}
	if obs.MaximumAirmass, err = root.GetFloat64("maximum_airmass"); err != nil {
		return nil, fieldError("maximum_airmass", "maximum_airmass is missing or not a number")
	}
	if obs.MaximumSeeing, err = root.GetFloat64("maximum_seeing"); err != nil {
		return nil, fieldError("maximum_seeing", "maximum_seeing is missing or not a number")
	}
	if obs.SkyBrightness, err = root.GetFloat64("sky_brightness"); err != nil {
		return nil, fieldError("sky_brightness", "sky_brightness is missing or not a number")
	}
	if obs.Photometric, err = root.GetBoolean("photometric"); err != nil {
		return nil, fieldError("photometric", "photometric is missing or not a boolean")
	}

	start, err := root.GetString("start_date")
	if err != nil {
		return nil, fieldError("start_date", "start_date is missing")
	}
	if obs.StartDate, err = parseWindowTime(start); err != nil {
		return nil, fieldError("start_date", "start_date is not an ISO 8601 timestamp")
	}
	end, err := root.GetString("end_date")
	if err != nil {
		return nil, fieldError("end_date", "end_date is missing")
	}
	if obs.EndDate, err = parseWindowTime(end); err != nil {
		return nil, fieldError("end_date", "end_date is not an ISO 8601 timestamp")
	}

	switch instrument {
	case InstrumentIOO, InstrumentIOI:
		if obs.Filters, err = root.GetStringArray("observation_choices"); err != nil || len(obs.Filters) == 0 {
			return nil, fieldError("observation_choices", "observation_choices is missing or empty")
		}
	case InstrumentSPRAT:
		if obs.Grating, err = root.GetString("observation_type"); err != nil {
			return nil, fieldError("observation_type", "observation_type is missing")
		}
	default:
		return nil, errors.Newf("facility LT does not serve instrument %q", instrument).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("instrument", instrument).
			Build()
	}

	return obs, nil
}

// validatePayload checks an observation form against the instrument's
// schema, applies defaults, and returns the normalized payload for storage.
// The scheduling window must overlap at least one observing night at the
// telescope site.
func validatePayload(instrument string, payload map[string]any, site *ephem.Site) (map[string]any, error) {
	switch instrument {
	case InstrumentIOO, InstrumentIOI, InstrumentSPRAT:
	default:
		return nil, errors.Newf("facility LT does not serve instrument %q", instrument).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("instrument", instrument).
			Build()
	}

	out := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		out[k] = v
	}

	exposureTime, err := numberField(out, "exposure_time", defaultExposureTime)
	if err != nil {
		return nil, err
	}
	if exposureTime <= 0 {
		return nil, fieldError("exposure_time", "exposure_time must be greater than zero")
	}
	out["exposure_time"] = exposureTime

	counts, err := integerField(out, "exposure_counts", defaultExposureCounts)
	if err != nil {
		return nil, err
	}
	if counts < 1 {
		return nil, fieldError("exposure_counts", "exposure_counts must be at least 1")
	}
	out["exposure_counts"] = counts

	for _, bound := range []struct {
		field    string
		def      float64
		min, max float64
	}{
		{"maximum_airmass", defaultMaximumAirmass, 1, 3},
		{"maximum_seeing", defaultMaximumSeeing, 0, 5},
		{"sky_brightness", defaultSkyBrightness, 0, 5},
	} {
		value, err := numberField(out, bound.field, bound.def)
		if err != nil {
			return nil, err
		}
		if value < bound.min || value > bound.max {
			return nil, fieldError(bound.field,
				fmt.Sprintf("%s must be between %g and %g", bound.field, bound.min, bound.max))
		}
		out[bound.field] = value
	}

	if raw, ok := out["photometric"]; !ok || raw == nil {
		out["photometric"] = false
	} else if _, isBool := raw.(bool); !isBool {
		return nil, fieldError("photometric", "photometric must be a boolean")
	}

	start, err := dateField(out, "start_date")
	if err != nil {
		return nil, err
	}
	end, err := dateField(out, "end_date")
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, fieldError("end_date", "end_date must not precede start_date")
	}
	overlaps, err := site.OverlapsNight(start, end)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryFacilityPayload).
			Context("field", "start_date").
			Build()
	}
	if !overlaps {
		return nil, fieldError("start_date",
			"scheduling window does not overlap an observing night at the telescope site")
	}

	switch instrument {
	case InstrumentIOO:
		choices, err := choicesField(out, iooFilters)
		if err != nil {
			return nil, err
		}
		out["observation_choices"] = choices
	case InstrumentIOI:
		choices, err := choicesField(out, ioiFilters)
		if err != nil {
			return nil, err
		}
		out["observation_choices"] = choices
	case InstrumentSPRAT:
		raw, ok := out["observation_type"]
		if !ok || raw == nil {
			out["observation_type"] = defaultGrating
			break
		}
		grating, isString := raw.(string)
		if !isString || !containsString(spratGratings, grating) {
			return nil, fieldError("observation_type", `observation_type must be "blue" or "red"`)
		}
	}

	return out, nil
}

// numberField reads an optional numeric field, substituting the default when
// absent. JSON decoding yields float64; int is accepted for callers
// assembling payloads in Go.
func numberField(payload map[string]any, field string, def float64) (float64, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	return 0, fieldError(field, field+" must be a number")
}

func integerField(payload map[string]any, field string, def int64) (int64, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return def, nil
	}
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if math.Trunc(v) != v {
			return 0, fieldError(field, field+" must be a whole number")
		}
		return int64(v), nil
	}
	return 0, fieldError(field, field+" must be a whole number")
}

func dateField(payload map[string]any, field string) (time.Time, error) {
	raw, ok := payload[field]
	if !ok || raw == nil {
		return time.Time{}, fieldError(field, field+" is required")
	}
	value, isString := raw.(string)
	if !isString {
		return time.Time{}, fieldError(field, field+" must be an ISO 8601 timestamp")
	}
	t, err := parseWindowTime(value)
	if err != nil {
		return time.Time{}, fieldError(field, field+" must be an ISO 8601 timestamp")
	}
	return t, nil
}

// choicesField validates the imager filter selection: non-empty, no
// repeats, every entry drawn from the instrument's filter set.
func choicesField(payload map[string]any, allowed []string) ([]string, error) {
	raw, ok := payload["observation_choices"]
	if !ok || raw == nil {
		return nil, fieldError("observation_choices", "observation_choices is required")
	}

	var choices []string
	switch v := raw.(type) {
	case []string:
		choices = v
	case []any:
		for _, entry := range v {
			s, isString := entry.(string)
			if !isString {
				return nil, fieldError("observation_choices", "observation_choices must be a list of filter names")
			}
			choices = append(choices, s)
		}
	default:
		return nil, fieldError("observation_choices", "observation_choices must be a list of filter names")
	}

	if len(choices) == 0 {
		return nil, fieldError("observation_choices", "observation_choices must select at least one filter")
	}
	seen := make(map[string]bool, len(choices))
	for _, choice := range choices {
		if seen[choice] {
			return nil, fieldError("observation_choices", "observation_choices must not repeat filters")
		}
		seen[choice] = true
		if !containsString(allowed, choice) {
			return nil, fieldError("observation_choices",
				fmt.Sprintf("observation_choices may only include %s", strings.Join(allowed, ", ")))
		}
	}
	return choices, nil
}

func containsString(list []string, value string) bool {
	for _, entry := range list {
		if entry == value {
			return true
		}
	}
	return false
}

// windowTimeLayouts are the timestamp shapes accepted for scheduling window
// boundaries. Layouts without an offset are read as UT.
var windowTimeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02",
}

func parseWindowTime(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	for _, layout := range windowTimeLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}

func fieldError(field, message string) error {
	return errors.Newf("%s", message).
		Component(componentName).
		Category(errors.CategoryFacilityPayload).
		Context("field", field).
		Build()
}
