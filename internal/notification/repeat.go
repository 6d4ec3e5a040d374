package notification

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// RepeatUnit is the calendar unit a repeating notification advances by.
// Units are never combined.
type RepeatUnit int

const (
	RepeatNone RepeatUnit = iota
	RepeatMinute
	RepeatHour
	RepeatDay
	RepeatWeek
	RepeatMonth
	RepeatYear
)

var repeatUnitNames = [...]string{
	RepeatNone:   "none",
	RepeatMinute: "minute",
	RepeatHour:   "hour",
	RepeatDay:    "day",
	RepeatWeek:   "week",
	RepeatMonth:  "month",
	RepeatYear:   "year",
}

func (u RepeatUnit) String() string {
	if u < 0 || int(u) >= len(repeatUnitNames) {
		return fmt.Sprintf("RepeatUnit(%d)", int(u))
	}
	return repeatUnitNames[u]
}

// ParseRepeatUnit accepts the unit names ("day", "week", ...) case-insensitively.
// Empty input means RepeatNone.
func ParseRepeatUnit(s string) (RepeatUnit, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RepeatNone, nil
	}
	if s == "weekofyear" {
		return RepeatWeek, nil
	}
	for i, n := range repeatUnitNames {
		if n == s {
			return RepeatUnit(i), nil
		}
	}
	return RepeatNone, fmt.Errorf("unknown repeat unit %q", s)
}

func (u RepeatUnit) MarshalText() ([]byte, error) {
	if u < 0 || int(u) >= len(repeatUnitNames) {
		return nil, fmt.Errorf("invalid repeat unit %d", int(u))
	}
	return []byte(repeatUnitNames[u]), nil
}

func (u *RepeatUnit) UnmarshalText(b []byte) error {
	v, err := ParseRepeatUnit(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Calendar adds recurrence steps to an instant.
//
// Add receives t already converted to the notification's time zone.
type Calendar interface {
	Name() string
	Add(t time.Time, unit RepeatUnit, n int) time.Time
}

// DefaultCalendar is the name used when a notification leaves RepeatCalendar empty.
const DefaultCalendar = "gregorian"

var (
	calMu     sync.RWMutex
	calendars = map[string]Calendar{
		DefaultCalendar: Gregorian{},
	}
)

// RegisterCalendar makes c available by name. A later registration with the
// same name replaces the earlier one.
func RegisterCalendar(c Calendar) {
	if c == nil {
		return
	}
	name := strings.ToLower(strings.TrimSpace(c.Name()))
	if name == "" {
		return
	}
	calMu.Lock()
	calendars[name] = c
	calMu.Unlock()
}

// LookupCalendar returns the named calendar. Unknown or empty names resolve to
// the default calendar, with ok=false for unknown ones.
func LookupCalendar(name string) (Calendar, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	calMu.RLock()
	defer calMu.RUnlock()
	if name == "" {
		return calendars[DefaultCalendar], true
	}
	if c, ok := calendars[name]; ok {
		return c, true
	}
	return calendars[DefaultCalendar], false
}

// Gregorian is the proleptic Gregorian calendar in the instant's location.
//
// Minute and hour steps are absolute durations. Day and week steps keep the
// wall-clock time across DST changes. Month and year steps clamp to the last
// day of the target month (Jan 31 + 1 month = Feb 28/29).
type Gregorian struct{}

func (Gregorian) Name() string { return DefaultCalendar }

func (Gregorian) Add(t time.Time, unit RepeatUnit, n int) time.Time {
	switch unit {
	case RepeatMinute:
		return t.Add(time.Duration(n) * time.Minute)
	case RepeatHour:
		return t.Add(time.Duration(n) * time.Hour)
	case RepeatDay:
		return t.AddDate(0, 0, n)
	case RepeatWeek:
		return t.AddDate(0, 0, 7*n)
	case RepeatMonth:
		return addMonthsClamped(t, n)
	case RepeatYear:
		return addMonthsClamped(t, 12*n)
	default:
		return t
	}
}

func addMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	total := int(m) - 1 + months
	ty := y + floorDiv(total, 12)
	tm := time.Month(floorMod(total, 12) + 1)
	if last := daysIn(ty, tm, t.Location()); d > last {
		d = last
	}
	return time.Date(ty, tm, d, hh, mm, ss, t.Nanosecond(), t.Location())
}

func daysIn(y int, m time.Month, loc *time.Location) int {
	return time.Date(y, m+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}

// maxStep is an upper bound of one step of unit, used to estimate how many
// steps fit in an elapsed span without overshooting.
func maxStep(unit RepeatUnit) time.Duration {
	switch unit {
	case RepeatMinute:
		return time.Minute
	case RepeatHour:
		return time.Hour
	case RepeatDay:
		return 25 * time.Hour
	case RepeatWeek:
		return 7*24*time.Hour + time.Hour
	case RepeatMonth:
		return 31*24*time.Hour + time.Hour
	case RepeatYear:
		return 366*24*time.Hour + time.Hour
	default:
		return 0
	}
}
