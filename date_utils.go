package main

import (
	"fmt"
	"net/url"
	"sort"
	"time"
)

const dateFormat = "2006-01-02"

// Lookback is a trailing calendar span ending at the measurement date.
type Lookback struct {
	Years  int `json:"years,omitempty"`
	Months int `json:"months,omitempty"`
	Days   int `json:"days,omitempty"`
}

func (l Lookback) String() string {
	switch {
	case l.Months == 0 && l.Days == 0:
		return fmt.Sprintf("%d years", l.Years)
	case l.Years == 0 && l.Days == 0:
		return fmt.Sprintf("%d months", l.Months)
	default:
		return fmt.Sprintf("%dy%dm%dd", l.Years, l.Months, l.Days)
	}
}

// startFrom returns the first instant of the window ending at end. Month
// arithmetic clips to the last day of the target month, so 31 May minus three
// months is 28/29 February rather than early March.
func (l Lookback) startFrom(end time.Time) time.Time {
	return addMonthsClipped(end, -(l.Years*12 + l.Months)).AddDate(0, 0, -l.Days)
}

type window struct {
	Start time.Time
	End   time.Time
}

// contains is inclusive on both bounds.
func (w window) contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// endOfDay is the last instant of t's calendar day.
func endOfDay(t time.Time) time.Time {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start.AddDate(0, 0, 1).Add(-time.Nanosecond)
}

func addMonthsClipped(t time.Time, months int) time.Time {
	// Move to the first of the month to avoid AddDate normalising overflow days
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	shifted := first.AddDate(0, months, 0)

	// Clip the day to the length of the target month
	day := t.Day()
	if last := daysIn(shifted.Year(), shifted.Month()); day > last {
		day = last
	}
	return time.Date(shifted.Year(), shifted.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// wallClock drops the zone offset and keeps the clock reading, so an aware
// timestamp compares with a naive measurement window the same way a local one
// would.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func yearsBetween(start, end time.Time) int {
	// Get difference in years
	years := end.Year() - start.Year()

	// Adjust if end month or day is before start month or day
	if end.Month() < start.Month() || (end.Month() == start.Month() && end.Day() < start.Day()) {
		years--
	}

	return years
}

// ageAt is the age in whole years on the given date, or false when the birth
// date is unknown.
func ageAt(birthDate Date, at time.Time) (int, bool) {
	if !birthDate.Valid() {
		return 0, false
	}
	return yearsBetween(wallClock(birthDate.Time), wallClock(at)), true
}

// birthDateWindow turns an inclusive age range at a given date into the range
// of birth dates that produce it: born after (at - maxAge - 1 years) and on or
// before (at - minAge years).
func birthDateWindow(minAge, maxAge int, at time.Time) (after, onOrBefore time.Time) {
	at = wallClock(at)
	after = addMonthsClipped(at, -12*(maxAge+1))
	onOrBefore = addMonthsClipped(at, -12*minAge)
	return after, onOrBefore
}

func addDateParam(paramName string, bounds map[string]time.Time, queryParams url.Values) {
	// Iterate over the bounds in a stable order so requests are reproducible
	keys := make([]string, 0, len(bounds))
	for key := range bounds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, comparator := range keys {
		value := bounds[comparator]
		if value.IsZero() {
			continue
		}
		queryParams.Add(paramName, comparator+value.Format(dateFormat))
	}
}

func sortEvents[T any](events []T, getTime func(T) time.Time, asc bool) []T {
	sort.SliceStable(events, func(i, j int) bool {
		t1 := getTime(events[i])
		t2 := getTime(events[j])
		if asc {
			return t1.Before(t2)
		}
		return t1.After(t2)
	})
	return events
}

func parseDate(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02T15:04:05.999999999",
		"2006-01-02 15:04:05",
		dateFormat,
	}

	var t time.Time
	var err error
	for _, layout := range layouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unable to parse date: %q", ErrMalformedRecord, s)
}
