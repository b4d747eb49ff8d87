// Package ephem computes sun event times for an observing site and
// validates that follow-up scheduling windows overlap an observable night.
package ephem

import (
	"sync"
	"time"

	"github.com/sj14/astral/pkg/astral"

	"github.com/skyhub/skyhub-go/internal/errors"
	"github.com/skyhub/skyhub-go/internal/observability/metrics"
)

// maxScanDays bounds the night scan for very long scheduling windows. Any
// site outside the polar circles sees a night within a solar year, so a
// window that survives a full year of dates without an overlap has none.
const maxScanDays = 366

// NightTimes holds the sun event times for one calendar date at the site, in UTC.
// The observable night that starts on date D runs from CivilDusk of D to
// CivilDawn of D+1.
type NightTimes struct {
	Sunset    time.Time // Sunset
	CivilDusk time.Time // Civil dusk, sun 6 degrees below the horizon
	CivilDawn time.Time // Civil dawn
	Sunrise   time.Time // Sunrise
}

// cacheEntry holds the cached sun event times for a given date
type cacheEntry struct {
	times NightTimes
	date  time.Time
}

// Site calculates and caches sun event times for a fixed observatory location.
type Site struct {
	cache    map[string]cacheEntry
	lock     sync.RWMutex
	observer astral.Observer
	metrics  *metrics.EphemMetrics
}

// NewSite creates a Site for the given observatory coordinates in degrees.
func NewSite(latitude, longitude float64) *Site {
	return &Site{
		cache:    make(map[string]cacheEntry),
		observer: astral.Observer{Latitude: latitude, Longitude: longitude},
	}
}

// SetMetrics sets the metrics instance for ephemeris tracking
func (s *Site) SetMetrics(m *metrics.EphemMetrics) {
	s.metrics = m
}

// NightWindow returns the sun event times for the calendar date of t,
// using the cache if available.
func (s *Site) NightWindow(t time.Time) (NightTimes, error) {
	// Normalize to the UTC calendar date so any intraday timestamp hits
	// the same cache entry
	t = t.UTC()
	date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	dateKey := date.Format("2006-01-02")

	s.lock.RLock()
	entry, exists := s.cache[dateKey]
	s.lock.RUnlock()

	if exists && entry.date.Equal(date) {
		if s.metrics != nil {
			s.metrics.RecordCacheHit("twilight_times")
		}
		return entry.times, nil
	}

	if s.metrics != nil {
		s.metrics.RecordCacheMiss("twilight_times")
	}

	start := time.Now()
	times, err := s.calculateNightTimes(date)
	if s.metrics != nil {
		s.metrics.RecordDuration("twilight_times", time.Since(start).Seconds())
		if err != nil {
			s.metrics.RecordCalculation("twilight_times", "error")
			s.metrics.RecordError("twilight_times", "astral")
		} else {
			s.metrics.RecordCalculation("twilight_times", "success")
		}
	}
	if err != nil {
		return NightTimes{}, err
	}

	s.lock.Lock()
	s.cache[dateKey] = cacheEntry{times: times, date: date}
	s.lock.Unlock()

	return times, nil
}

// calculateNightTimes calculates the sun event times for a given date
func (s *Site) calculateNightTimes(date time.Time) (NightTimes, error) {
	sunset, err := astral.Sunset(s.observer, date)
	if err != nil {
		return NightTimes{}, errors.New(err).
			Component("ephem").
			Category(errors.CategoryValidation).
			Context("operation", "sunset").
			Context("date", date.Format("2006-01-02")).
			Build()
	}

	civilDusk, err := astral.Dusk(s.observer, date, astral.DepressionCivil)
	if err != nil {
		return NightTimes{}, errors.New(err).
			Component("ephem").
			Category(errors.CategoryValidation).
			Context("operation", "civil_dusk").
			Context("date", date.Format("2006-01-02")).
			Build()
	}

	civilDawn, err := astral.Dawn(s.observer, date, astral.DepressionCivil)
	if err != nil {
		return NightTimes{}, errors.New(err).
			Component("ephem").
			Category(errors.CategoryValidation).
			Context("operation", "civil_dawn").
			Context("date", date.Format("2006-01-02")).
			Build()
	}

	sunrise, err := astral.Sunrise(s.observer, date)
	if err != nil {
		return NightTimes{}, errors.New(err).
			Component("ephem").
			Category(errors.CategoryValidation).
			Context("operation", "sunrise").
			Context("date", date.Format("2006-01-02")).
			Build()
	}

	return NightTimes{
		Sunset:    sunset.UTC(),
		CivilDusk: civilDusk.UTC(),
		CivilDawn: civilDawn.UTC(),
		Sunrise:   sunrise.UTC(),
	}, nil
}

// OverlapsNight reports whether the scheduling window [start, end] overlaps
// at least one observable night (civil dusk to the next civil dawn) at the
// site. Dates where the sun never reaches civil depression contribute no
// night and are skipped, so a window inside a polar day correctly reports
// no overlap.
func (s *Site) OverlapsNight(start, end time.Time) (bool, error) {
	if !end.After(start) {
		return false, errors.Newf("scheduling window end %s is not after start %s",
			end.Format(time.RFC3339), start.Format(time.RFC3339)).
			Component("ephem").
			Category(errors.CategoryValidation).
			Build()
	}

	start = start.UTC()
	end = end.UTC()

	result := false

	// Scan from the day before the window so a night that began the
	// previous evening is considered
	day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	lastDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	for scanned := 0; !day.After(lastDay) && scanned < maxScanDays; scanned++ {
		duskTimes, duskErr := s.NightWindow(day)
		dawnTimes, dawnErr := s.NightWindow(day.AddDate(0, 0, 1))
		day = day.AddDate(0, 0, 1)

		if duskErr != nil || dawnErr != nil {
			continue
		}

		nightStart := duskTimes.CivilDusk
		nightEnd := dawnTimes.CivilDawn
		if nightStart.Before(end) && nightEnd.After(start) {
			result = true
			break
		}
	}

	if s.metrics != nil {
		status := "no_overlap"
		if result {
			status = "success"
		}
		s.metrics.RecordCalculation("observing_night", status)
	}

	return result, nil
}
