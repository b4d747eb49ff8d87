// Package spectra parses ASCII spectrum tables uploaded through the API.
package spectra

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/skyhub/skyhub-go/internal/errors"
)

// MaxASCIIBytes caps accepted spectrum uploads. Larger payloads are rejected
// before any parsing work happens.
const MaxASCIIBytes = 10_000_000

// Series holds the parsed columns of an ASCII spectrum.
type Series struct {
	Wavelengths []float64
	Fluxes      []float64
	FluxErrors  []float64 // nil when no flux error column was requested
}

// ParseASCII parses a spectrum from delimited text. waveColumn and fluxColumn
// select the zero-based columns holding wavelengths and fluxes; fluxerrColumn
// is optional. Lines starting with '#' are comments; fields are separated by
// whitespace, commas, or any mix of the two. Every selected value must be a
// finite float.
func ParseASCII(data []byte, waveColumn, fluxColumn int, fluxerrColumn *int) (*Series, error) {
	if len(data) > MaxASCIIBytes {
		return nil, errors.Newf("file must be smaller than %d bytes, got %d", MaxASCIIBytes, len(data)).
			Component("spectra").
			Category(errors.CategoryValidation).
			Context("operation", "parse_ascii").
			Build()
	}

	if waveColumn < 0 || fluxColumn < 0 || (fluxerrColumn != nil && *fluxerrColumn < 0) {
		return nil, errors.Newf("column indexes must not be negative").
			Component("spectra").
			Category(errors.CategoryValidation).
			Context("operation", "parse_ascii").
			Build()
	}

	maxColumn := waveColumn
	if fluxColumn > maxColumn {
		maxColumn = fluxColumn
	}
	if fluxerrColumn != nil && *fluxerrColumn > maxColumn {
		maxColumn = *fluxerrColumn
	}

	series := &Series{}

	for i, line := range strings.Split(string(data), "\n") {
		lineNo := i + 1
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := splitFields(line)
		if len(fields) < 2 {
			return nil, parseError(lineNo, "line %d has %d column(s), at least 2 numeric columns are required", lineNo, len(fields))
		}
		if maxColumn >= len(fields) {
			return nil, parseError(lineNo, "line %d has %d column(s), column index %d was requested", lineNo, len(fields), maxColumn)
		}

		wave, err := parseFiniteFloat(fields[waveColumn])
		if err != nil {
			return nil, parseError(lineNo, "line %d: bad wavelength value %q", lineNo, fields[waveColumn])
		}
		flux, err := parseFiniteFloat(fields[fluxColumn])
		if err != nil {
			return nil, parseError(lineNo, "line %d: bad flux value %q", lineNo, fields[fluxColumn])
		}

		series.Wavelengths = append(series.Wavelengths, wave)
		series.Fluxes = append(series.Fluxes, flux)

		if fluxerrColumn != nil {
			fluxerr, err := parseFiniteFloat(fields[*fluxerrColumn])
			if err != nil {
				return nil, parseError(lineNo, "line %d: bad flux error value %q", lineNo, fields[*fluxerrColumn])
			}
			series.FluxErrors = append(series.FluxErrors, fluxerr)
		}
	}

	if len(series.Wavelengths) == 0 {
		return nil, errors.Newf("no data rows found in spectrum file").
			Component("spectra").
			Category(errors.CategoryValidation).
			Context("operation", "parse_ascii").
			Build()
	}

	return series, nil
}

// splitFields splits a data line on whitespace and commas, collapsing runs
// of delimiters
func splitFields(line string) []string {
	return strings.FieldsFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || r == ','
	})
}

// parseFiniteFloat parses a float and rejects NaN and infinities
func parseFiniteFloat(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, strconv.ErrRange
	}
	return v, nil
}

func parseError(lineNo int, format string, args ...any) error {
	return errors.Newf(format, args...).
		Component("spectra").
		Category(errors.CategoryValidation).
		Context("operation", "parse_ascii").
		Context("line", lineNo).
		Build()
}
