package lt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/ephem"
	"github.com/skyhub/skyhub-go/internal/errors"
)

// laPalma is the Liverpool Telescope site at the Roque de los Muchachos
// observatory.
var laPalma = ephem.NewSite(28.7624, -17.8792)

// nightWindowPayload returns a scheduling window spanning several observing
// nights at La Palma.
func nightWindowPayload() map[string]any {
	return map[string]any{
		"start_date": "2026-03-01T18:00:00",
		"end_date":   "2026-03-05T07:00:00",
	}
}

func TestValidatePayloadAppliesDefaults(t *testing.T) {
	t.Parallel()

	out, err := validatePayload(InstrumentSPRAT, nightWindowPayload(), laPalma)
	require.NoError(t, err)

	assert.InDelta(t, 300.0, out["exposure_time"], 0.0001)
	assert.Equal(t, int64(1), out["exposure_counts"])
	assert.InDelta(t, 2.0, out["maximum_airmass"], 0.0001)
	assert.InDelta(t, 1.2, out["maximum_seeing"], 0.0001)
	assert.InDelta(t, 2.0, out["sky_brightness"], 0.0001)
	assert.Equal(t, false, out["photometric"])
	assert.Equal(t, "blue", out["observation_type"])
}

func TestValidatePayloadNormalizesChoices(t *testing.T) {
	t.Parallel()

	payload := nightWindowPayload()
	payload["observation_choices"] = []any{"g", "r"}
	payload["exposure_time"] = 450.0
	payload["photometric"] = true

	out, err := validatePayload(InstrumentIOO, payload, laPalma)
	require.NoError(t, err)
	assert.Equal(t, []string{"g", "r"}, out["observation_choices"])
	assert.InDelta(t, 450.0, out["exposure_time"], 0.0001)
	assert.Equal(t, true, out["photometric"])
}

func TestValidatePayloadUnknownInstrument(t *testing.T) {
	t.Parallel()

	_, err := validatePayload("FORS2", nightWindowPayload(), laPalma)
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestValidatePayloadBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		field   string
		value   any
		message string
	}{
		{"zero exposure time", "exposure_time", 0.0, "exposure_time must be greater than zero"},
		{"exposure time not a number", "exposure_time", "long", "exposure_time must be a number"},
		{"zero exposure counts", "exposure_counts", 0, "exposure_counts must be at least 1"},
		{"fractional exposure counts", "exposure_counts", 1.5, "exposure_counts must be a whole number"},
		{"airmass too high", "maximum_airmass", 3.5, "maximum_airmass must be between 1 and 3"},
		{"airmass too low", "maximum_airmass", 0.5, "maximum_airmass must be between 1 and 3"},
		{"seeing too high", "maximum_seeing", 6.0, "maximum_seeing must be between 0 and 5"},
		{"sky brightness too high", "sky_brightness", 5.5, "sky_brightness must be between 0 and 5"},
		{"photometric not a boolean", "photometric", "yes", "photometric must be a boolean"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := nightWindowPayload()
			payload["observation_choices"] = []any{"g"}
			payload[tc.field] = tc.value

			_, err := validatePayload(InstrumentIOO, payload, laPalma)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.message)
			assert.True(t, errors.IsCategory(err, errors.CategoryFacilityPayload))
		})
	}
}

func TestValidatePayloadChoices(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		instrument string
		choices    any
		message    string
	}{
		{"missing", InstrumentIOO, nil, "observation_choices is required"},
		{"empty", InstrumentIOO, []any{}, "observation_choices must select at least one filter"},
		{"repeated", InstrumentIOO, []any{"g", "g"}, "observation_choices must not repeat filters"},
		{"not in filter set", InstrumentIOO, []any{"g", "H"}, "observation_choices may only include u, g, r, i, z"},
		{"not a list", InstrumentIOO, "g", "observation_choices must be a list of filter names"},
		{"mixed types", InstrumentIOO, []any{"g", 3}, "observation_choices must be a list of filter names"},
		{"optical filter on infrared imager", InstrumentIOI, []any{"g"}, "observation_choices may only include H"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			payload := nightWindowPayload()
			if tc.choices != nil {
				payload["observation_choices"] = tc.choices
			}

			_, err := validatePayload(tc.instrument, payload, laPalma)
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.message)
		})
	}

	payload := nightWindowPayload()
	payload["observation_choices"] = []string{"H"}
	out, err := validatePayload(InstrumentIOI, payload, laPalma)
	require.NoError(t, err)
	assert.Equal(t, []string{"H"}, out["observation_choices"])
}

func TestValidatePayloadGrating(t *testing.T) {
	t.Parallel()

	payload := nightWindowPayload()
	payload["observation_type"] = "red"
	out, err := validatePayload(InstrumentSPRAT, payload, laPalma)
	require.NoError(t, err)
	assert.Equal(t, "red", out["observation_type"])

	payload = nightWindowPayload()
	payload["observation_type"] = "green"
	_, err = validatePayload(InstrumentSPRAT, payload, laPalma)
	require.Error(t, err)
	assert.ErrorContains(t, err, `observation_type must be "blue" or "red"`)
}

func TestValidatePayloadWindow(t *testing.T) {
	t.Parallel()

	t.Run("missing start date", func(t *testing.T) {
		t.Parallel()
		payload := map[string]any{"end_date": "2026-03-05T07:00:00"}
		_, err := validatePayload(InstrumentSPRAT, payload, laPalma)
		require.Error(t, err)
		assert.ErrorContains(t, err, "start_date is required")
	})

	t.Run("unparseable end date", func(t *testing.T) {
		t.Parallel()
		payload := nightWindowPayload()
		payload["end_date"] = "05/03/2026"
		_, err := validatePayload(InstrumentSPRAT, payload, laPalma)
		require.Error(t, err)
		assert.ErrorContains(t, err, "end_date must be an ISO 8601 timestamp")
	})

	t.Run("end precedes start", func(t *testing.T) {
		t.Parallel()
		payload := nightWindowPayload()
		payload["start_date"] = "2026-03-05T07:00:00"
		payload["end_date"] = "2026-03-01T18:00:00"
		_, err := validatePayload(InstrumentSPRAT, payload, laPalma)
		require.Error(t, err)
		assert.ErrorContains(t, err, "end_date must not precede start_date")
	})

	t.Run("zero length window", func(t *testing.T) {
		t.Parallel()
		payload := nightWindowPayload()
		payload["end_date"] = payload["start_date"]
		_, err := validatePayload(InstrumentSPRAT, payload, laPalma)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryFacilityPayload))
	})

	t.Run("daylight only window", func(t *testing.T) {
		t.Parallel()
		payload := map[string]any{
			"start_date": "2026-03-01T11:00:00",
			"end_date":   "2026-03-01T14:00:00",
		}
		_, err := validatePayload(InstrumentSPRAT, payload, laPalma)
		require.Error(t, err)
		assert.ErrorContains(t, err, "does not overlap an observing night")
	})

	t.Run("window spanning a night", func(t *testing.T) {
		t.Parallel()
		_, err := validatePayload(InstrumentSPRAT, nightWindowPayload(), laPalma)
		assert.NoError(t, err)
	})
}

// The normalized payload written at creation time must be readable at
// submission time.
func TestValidatedPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	payload := nightWindowPayload()
	payload["observation_choices"] = []any{"g"}
	payload["exposure_time"] = 450.0

	out, err := validatePayload(InstrumentIOO, payload, laPalma)
	require.NoError(t, err)

	raw, err := json.Marshal(out)
	require.NoError(t, err)

	obs, err := parseObservation(InstrumentIOO, raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"g"}, obs.Filters)
	assert.InDelta(t, 450.0, obs.ExposureTime, 0.0001)
	assert.Equal(t, int64(1), obs.ExposureCounts)
	assert.InDelta(t, 2.0, obs.MaximumAirmass, 0.0001)
	assert.False(t, obs.Photometric)
	assert.Equal(t, time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC), obs.StartDate)
	assert.Equal(t, time.Date(2026, 3, 5, 7, 0, 0, 0, time.UTC), obs.EndDate)
}

func TestParseObservationSPRAT(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"observation_type": "red",
		"exposure_time": 600,
		"exposure_counts": 3,
		"maximum_airmass": 1.7,
		"maximum_seeing": 1.0,
		"sky_brightness": 2,
		"photometric": true,
		"start_date": "2026-03-01T19:00:00",
		"end_date": "2026-03-05T07:00:00"
	}`)

	obs, err := parseObservation(InstrumentSPRAT, raw)
	require.NoError(t, err)
	assert.Equal(t, "red", obs.Grating)
	assert.InDelta(t, 600.0, obs.ExposureTime, 0.0001)
	assert.Equal(t, int64(3), obs.ExposureCounts)
	assert.True(t, obs.Photometric)
}

func TestParseObservationErrors(t *testing.T) {
	t.Parallel()

	_, err := parseObservation(InstrumentIOO, []byte("{"))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryFacilityPayload))

	_, err = parseObservation(InstrumentIOO, []byte(`{"exposure_counts": 1}`))
	require.Error(t, err)
	assert.ErrorContains(t, err, "exposure_time is missing or not a number")

	full := `{
		"exposure_time": 300,
		"exposure_counts": 1,
		"maximum_airmass": 2,
		"maximum_seeing": 1.2,
		"sky_brightness": 2,
		"photometric": false,
		"start_date": "2026-03-01T19:00:00",
		"end_date": "2026-03-05T07:00:00"
	}`

	_, err = parseObservation(InstrumentIOO, []byte(full))
	require.Error(t, err)
	assert.ErrorContains(t, err, "observation_choices is missing or empty")

	_, err = parseObservation("FORS2", []byte(full))
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestParseWindowTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		value string
		want  time.Time
	}{
		{"seconds precision", "2026-03-01T19:00:00", time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)},
		{"rfc3339 zulu", "2026-03-01T19:00:00Z", time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)},
		{"rfc3339 with offset", "2026-03-01T19:00:00+01:00", time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)},
		{"minutes precision", "2026-03-01T19:00", time.Date(2026, 3, 1, 19, 0, 0, 0, time.UTC)},
		{"date only", "2026-03-01", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseWindowTime(tc.value)
			require.NoError(t, err)
			assert.True(t, got.UTC().Equal(tc.want), "got %s", got)
		})
	}

	_, err := parseWindowTime("01/03/2026")
	assert.Error(t, err)
}
