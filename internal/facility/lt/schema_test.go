package lt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skyhub/skyhub-go/internal/errors"
)

type formSchemaDoc struct {
	Type       string                     `json:"type"`
	Properties map[string]json.RawMessage `json:"properties"`
	Required   []string                   `json:"required"`
}

func decodeSchema(t *testing.T, instrument string) formSchemaDoc {
	t.Helper()
	raw, err := formSchema(instrument)
	require.NoError(t, err)
	var doc formSchemaDoc
	require.NoError(t, json.Unmarshal(raw, &doc))
	return doc
}

func TestFormSchemaImager(t *testing.T) {
	t.Parallel()

	doc := decodeSchema(t, InstrumentIOO)
	assert.Equal(t, "object", doc.Type)
	assert.ElementsMatch(t, []string{
		"observation_choices",
		"exposure_time",
		"exposure_counts",
		"start_date",
		"end_date",
		"maximum_airmass",
		"maximum_seeing",
	}, doc.Required)

	var choices struct {
		Type        string `json:"type"`
		Title       string `json:"title"`
		UniqueItems bool   `json:"uniqueItems"`
		MinItems    int    `json:"minItems"`
		Items       struct {
			Type string   `json:"type"`
			Enum []string `json:"enum"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["observation_choices"], &choices))
	assert.Equal(t, "array", choices.Type)
	assert.Equal(t, "Desired Observations", choices.Title)
	assert.True(t, choices.UniqueItems)
	assert.Equal(t, 1, choices.MinItems)
	assert.Equal(t, []string{"u", "g", "r", "i", "z"}, choices.Items.Enum)

	var exposure struct {
		Title   string  `json:"title"`
		Type    string  `json:"type"`
		Default float64 `json:"default"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["exposure_time"], &exposure))
	assert.Equal(t, "Exposure Time [s]", exposure.Title)
	assert.Equal(t, "number", exposure.Type)
	assert.InDelta(t, 300.0, exposure.Default, 0.0001)

	var sky struct {
		Title string `json:"title"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["sky_brightness"], &sky))
	assert.Equal(t, "Maximum allowable Sky Brightness, Dark + X magnitudes [arcsec] (0-5)", sky.Title)
	assert.NotContains(t, doc.Required, "sky_brightness")
}

func TestFormSchemaIOIFilters(t *testing.T) {
	t.Parallel()

	doc := decodeSchema(t, InstrumentIOI)
	var choices struct {
		Items struct {
			Enum []string `json:"enum"`
		} `json:"items"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["observation_choices"], &choices))
	assert.Equal(t, []string{"H"}, choices.Items.Enum)
}

func TestFormSchemaSPRAT(t *testing.T) {
	t.Parallel()

	doc := decodeSchema(t, InstrumentSPRAT)
	assert.ElementsMatch(t, []string{
		"observation_type",
		"start_date",
		"end_date",
		"maximum_airmass",
		"maximum_seeing",
	}, doc.Required)
	assert.NotContains(t, doc.Properties, "observation_choices")

	var grating struct {
		Type    string   `json:"type"`
		Enum    []string `json:"enum"`
		Default string   `json:"default"`
	}
	require.NoError(t, json.Unmarshal(doc.Properties["observation_type"], &grating))
	assert.Equal(t, "string", grating.Type)
	assert.Equal(t, []string{"blue", "red"}, grating.Enum)
	assert.Equal(t, "blue", grating.Default)
}

// The scheduling window defaults start now and end a week out, in the same
// layout validatePayload accepts.
func TestFormSchemaDateDefaults(t *testing.T) {
	t.Parallel()

	doc := decodeSchema(t, InstrumentSPRAT)
	var window struct {
		Default string `json:"default"`
	}

	require.NoError(t, json.Unmarshal(doc.Properties["start_date"], &window))
	start, err := parseWindowTime(window.Default)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), start, time.Minute)

	require.NoError(t, json.Unmarshal(doc.Properties["end_date"], &window))
	end, err := parseWindowTime(window.Default)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, end.Sub(start))
}

func TestFormSchemaUnknownInstrument(t *testing.T) {
	t.Parallel()

	_, err := formSchema("FORS2")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}
