package calls

import (
	"fmt"
	"math"
	"time"
)

// DefaultBillableUnitMinutes is the rounding increment for chargeable time.
const DefaultBillableUnitMinutes = 15

// Duration is a non-negative whole number of minutes.
// The zero value is a valid zero-minute duration.
type Duration struct {
	minutes int
}

func NewDuration(minutes int) (Duration, error) {
	if minutes < 0 {
		return Duration{}, invalid("duration", fmt.Sprintf("must not be negative, got %d", minutes))
	}
	return Duration{minutes: minutes}, nil
}

// DurationFromHours rounds to the nearest minute.
func DurationFromHours(hours float64) (Duration, error) {
	if hours < 0 || math.IsNaN(hours) || math.IsInf(hours, 0) {
		return Duration{}, invalid("duration", fmt.Sprintf("invalid hours %v", hours))
	}
	return Duration{minutes: int(math.Round(hours * 60))}, nil
}

// DurationBetween measures end - start. A started minute counts as a full minute;
// an end before start yields zero.
func DurationBetween(start, end time.Time) Duration {
	if !end.After(start) {
		return Duration{}
	}
	d := end.Sub(start)
	m := int(d / time.Minute)
	if d%time.Minute != 0 {
		m++
	}
	return Duration{minutes: m}
}

func mustDuration(minutes int) Duration {
	if minutes < 0 {
		minutes = 0
	}
	return Duration{minutes: minutes}
}

func (d Duration) Minutes() int { return d.minutes }

func (d Duration) Hours() float64 { return float64(d.minutes) / 60 }

func (d Duration) Seconds() int { return d.minutes * 60 }

func (d Duration) Std() time.Duration { return time.Duration(d.minutes) * time.Minute }

func (d Duration) IsZero() bool { return d.minutes == 0 }

// String formats as "1h 30m", "2h" or "45m".
func (d Duration) String() string {
	h, m := d.minutes/60, d.minutes%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	default:
		return fmt.Sprintf("%dm", m)
	}
}

// Clock formats as HH:MM.
func (d Duration) Clock() string {
	return fmt.Sprintf("%02d:%02d", d.minutes/60, d.minutes%60)
}

func (d Duration) Add(o Duration) Duration { return Duration{minutes: d.minutes + o.minutes} }

// Sub is floored at zero.
func (d Duration) Sub(o Duration) Duration { return mustDuration(d.minutes - o.minutes) }

// Compare returns -1, 0 or +1.
func (d Duration) Compare(o Duration) int {
	switch {
	case d.minutes < o.minutes:
		return -1
	case d.minutes > o.minutes:
		return 1
	default:
		return 0
	}
}

func (d Duration) Equal(o Duration) bool { return d.minutes == o.minutes }

func (d Duration) Less(o Duration) bool { return d.minutes < o.minutes }

func (d Duration) ExceedsLimit(max Duration) bool { return d.minutes > max.minutes }

// BillableUnits is ceil(minutes / unitMinutes). Non-positive units fall back to
// DefaultBillableUnitMinutes.
func (d Duration) BillableUnits(unitMinutes int) int {
	if unitMinutes <= 0 {
		unitMinutes = DefaultBillableUnitMinutes
	}
	q := d.minutes / unitMinutes
	if d.minutes%unitMinutes != 0 {
		q++
	}
	return q
}

func (d Duration) BillableMinutes(unitMinutes int) int {
	if unitMinutes <= 0 {
		unitMinutes = DefaultBillableUnitMinutes
	}
	return d.BillableUnits(unitMinutes) * unitMinutes
}

// EndOf returns start + d.
func EndOf(start time.Time, d Duration) time.Time {
	return start.Add(d.Std())
}
