package lt

import (
	"encoding/json"
	"time"

	"github.com/skyhub/skyhub-go/internal/errors"
)

// formSchema returns the JSON schema describing the observation form for an
// LT instrument. Date defaults are computed at call time: starting now and
// ending a week out.
func formSchema(instrument string) (json.RawMessage, error) {
	var schema map[string]any
	switch instrument {
	case InstrumentIOO:
		schema = imagerSchema(iooFilters)
	case InstrumentIOI:
		schema = imagerSchema(ioiFilters)
	case InstrumentSPRAT:
		schema = spratSchema()
	default:
		return nil, errors.Newf("facility LT has no form schema for instrument %q", instrument).
			Component(componentName).
			Category(errors.CategoryNotFound).
			Context("instrument", instrument).
			Build()
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, errors.New(err).
			Component(componentName).
			Category(errors.CategoryState).
			Context("operation", "encode_form_schema").
			Build()
	}
	return data, nil
}

func imagerSchema(filters []string) map[string]any {
	properties := commonProperties()
	properties["observation_choices"] = map[string]any{
		"type":        "array",
		"title":       "Desired Observations",
		"items":       map[string]any{"type": "string", "enum": filters},
		"uniqueItems": true,
		"minItems":    1,
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required": []string{
			"observation_choices",
			"exposure_time",
			"exposure_counts",
			"start_date",
			"end_date",
			"maximum_airmass",
			"maximum_seeing",
		},
	}
}

func spratSchema() map[string]any {
	properties := commonProperties()
	properties["observation_type"] = map[string]any{
		"type":    "string",
		"enum":    spratGratings,
		"default": defaultGrating,
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required": []string{
			"observation_type",
			"start_date",
			"end_date",
			"maximum_airmass",
			"maximum_seeing",
		},
	}
}

func commonProperties() map[string]any {
	now := time.Now().UTC()
	return map[string]any{
		"exposure_time": map[string]any{
			"title":   "Exposure Time [s]",
			"type":    "number",
			"default": defaultExposureTime,
		},
		"exposure_counts": map[string]any{
			"title":   "Exposure Counts",
			"type":    "number",
			"default": defaultExposureCounts,
		},
		"start_date": map[string]any{
			"type":    "string",
			"title":   "Start Date (UT)",
			"default": now.Format("2006-01-02T15:04:05"),
		},
		"end_date": map[string]any{
			"type":    "string",
			"title":   "End Date (UT)",
			"default": now.AddDate(0, 0, 7).Format("2006-01-02T15:04:05"),
		},
		"maximum_airmass": map[string]any{
			"title":   "Maximum Airmass (1-3)",
			"type":    "number",
			"default": defaultMaximumAirmass,
			"minimum": 1,
			"maximum": 3,
		},
		"maximum_seeing": map[string]any{
			"title":   "Maximum Seeing [arcsec] (0-5)",
			"type":    "number",
			"default": defaultMaximumSeeing,
			"minimum": 0,
			"maximum": 5,
		},
		"sky_brightness": map[string]any{
			"title":   "Maximum allowable Sky Brightness, Dark + X magnitudes [arcsec] (0-5)",
			"type":    "number",
			"default": defaultSkyBrightness,
			"minimum": 0,
			"maximum": 5,
		},
		"photometric": map[string]any{
			"title": "Does this observation require photometric conditions?",
			"type":  "boolean",
		},
	}
}
