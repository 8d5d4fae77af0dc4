// Package schedule turns a registration into timed Delivery Records.
//
// It owns three pieces:
//   - Resolver computes absolute fire-times from a slot and a (day offset,
//     time-of-day) pair in the system's local zone.
//   - TemplateSource loads a tenant's templates, falling back to built-in
//     defaults, and renders message bodies.
//   - Builder applies templates and the quota gate to produce the records.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"eventbell/internal/types"
)

// Layouts used when rendering times into message bodies.
const (
	timeLayout     = "15:04"
	dateTimeLayout = "2006/01/02 15:04"
)

// Resolver converts slot-relative offsets into absolute instants. All
// calendar arithmetic happens in a single configured location.
type Resolver struct {
	loc *time.Location
}

// NewResolver creates a Resolver for loc. A nil loc means UTC.
func NewResolver(loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.UTC
	}
	return &Resolver{loc: loc}
}

// Location returns the resolver's zone.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// FireTime returns the instant at timeOfDay ("HH:mm", 24h) on the local
// calendar date of slot shifted by offsetDays. A negative offset is before
// the slot. An empty timeOfDay keeps the slot's own local time of day.
//
// The date is shifted with time.Date rather than by adding 24h multiples so
// the zone offset used is the one in force on the target date.
func (r *Resolver) FireTime(slot time.Time, offsetDays int, timeOfDay string) (time.Time, error) {
	local := slot.In(r.loc)
	hour, minute := local.Hour(), local.Minute()
	if timeOfDay != "" {
		var err error
		hour, minute, err = ParseTimeOfDay(timeOfDay)
		if err != nil {
			return time.Time{}, err
		}
	}
	y, m, d := local.Date()
	return time.Date(y, m, d+offsetDays, hour, minute, 0, 0, r.loc).UTC(), nil
}

// LocalDate returns midnight of t's calendar date in the resolver's zone.
func (r *Resolver) LocalDate(t time.Time) time.Time {
	y, m, d := t.In(r.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, r.loc)
}

// FormatTime renders t as "15:04" local time.
func (r *Resolver) FormatTime(t time.Time) string {
	return t.In(r.loc).Format(timeLayout)
}

// FormatDateTime renders t as "2006/01/02 15:04" local time.
func (r *Resolver) FormatDateTime(t time.Time) string {
	return t.In(r.loc).Format(dateTimeLayout)
}

// ParseTimeOfDay parses a 24h "HH:mm" string. Single-digit hours ("8:00")
// are accepted.
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if ok && len(m) == 2 && len(h) >= 1 && len(h) <= 2 {
		hh, errH := strconv.Atoi(h)
		mm, errM := strconv.Atoi(m)
		if errH == nil && errM == nil && hh >= 0 && hh < 24 && mm >= 0 && mm < 60 {
			return hh, mm, nil
		}
	}
	return 0, 0, types.NewAppErrorWithDetails(
		types.ErrCodeValidationTimeOfDay,
		fmt.Sprintf("time of day %q must be HH:mm", s),
		nil,
		map[string]any{"time_of_day": s},
	)
}
