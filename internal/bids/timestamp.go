package bids

import (
	"fmt"
	"strings"
	"time"
)

// Timestamp is an acquisition time read from a sidecar. It carries a
// calendar date only when the sidecar provided one.
type Timestamp struct {
	t       time.Time
	hasDate bool
	valid   bool
}

// IsValid reports whether the timestamp was parsed from the sidecar.
func (ts Timestamp) IsValid() bool { return ts.valid }

// HasDate reports whether the timestamp includes a calendar date.
func (ts Timestamp) HasDate() bool { return ts.hasDate }

// Time returns the underlying time. Time-only values sit on 0000-01-01.
func (ts Timestamp) Time() time.Time { return ts.t }

// ClockOnly drops the calendar date, keeping the time of day.
func (ts Timestamp) ClockOnly() Timestamp {
	if !ts.valid || !ts.hasDate {
		return ts
	}
	return Timestamp{t: clock(ts.t), valid: true}
}

// Compare returns -1, 0 or +1. Two dated values compare on the full
// date-time; otherwise only the time of day is compared.
func (ts Timestamp) Compare(other Timestamp) int {
	a, b := ts.t, other.t
	if !ts.hasDate || !other.hasDate {
		a, b = clock(a), clock(b)
	}
	return a.Compare(b)
}

// Equal reports exact equality under Compare.
func (ts Timestamp) Equal(other Timestamp) bool { return ts.Compare(other) == 0 }

// After reports whether ts is strictly later than other.
func (ts Timestamp) After(other Timestamp) bool { return ts.Compare(other) > 0 }

func (ts Timestamp) String() string {
	if !ts.valid {
		return "<none>"
	}
	if ts.hasDate {
		return ts.t.Format("2006-01-02T15:04:05.999999999")
	}
	return ts.t.Format("15:04:05.999999999")
}

var (
	clockLayouts    = []string{"15:04:05.999999999", "150405.999999999", "15:04", "1504"}
	dateLayouts     = []string{"2006-01-02", "20060102"}
	dateTimeLayouts = []string{"2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05.999999999", "20060102150405.999999999"}
)

// ParseTimestamp reads the acquisition time from sidecar metadata. It looks
// at AcquisitionDateTime first, then AcquisitionDate plus AcquisitionTime,
// then AcquisitionTime alone. ok is false when no field is present.
func ParseTimestamp(meta Metadata) (ts Timestamp, ok bool, err error) {
	if s, found := meta.String("AcquisitionDateTime"); found {
		t, err := parseLayouts(strings.TrimSuffix(s, "Z"), dateTimeLayouts)
		if err != nil {
			return Timestamp{}, false, fmt.Errorf("AcquisitionDateTime: %w", err)
		}
		return Timestamp{t: t, hasDate: true, valid: true}, true, nil
	}

	s, found := meta.String("AcquisitionTime")
	if !found {
		return Timestamp{}, false, nil
	}
	tod, err := parseLayouts(s, clockLayouts)
	if err != nil {
		return Timestamp{}, false, fmt.Errorf("AcquisitionTime: %w", err)
	}

	if ds, found := meta.String("AcquisitionDate"); found {
		day, err := parseLayouts(ds, dateLayouts)
		if err != nil {
			return Timestamp{}, false, fmt.Errorf("AcquisitionDate: %w", err)
		}
		full := time.Date(day.Year(), day.Month(), day.Day(),
			tod.Hour(), tod.Minute(), tod.Second(), tod.Nanosecond(), time.UTC)
		return Timestamp{t: full, hasDate: true, valid: true}, true, nil
	}
	return Timestamp{t: tod, valid: true}, true, nil
}

func parseLayouts(s string, layouts []string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", s)
}

func clock(t time.Time) time.Time {
	return time.Date(0, 1, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}
