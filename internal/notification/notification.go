package notification

import (
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

var (
	ErrAlreadyScheduled = errors.New("notification already scheduled")
	ErrEmptyID          = errors.New("notification id required")
)

// Notification is one occurrence of a future-dated alert.
//
// It is a value type: copies never share state except through Payload.UserInfo,
// which Clone (and Prepare) deep-copy. Identity and admission state are
// unexported and only change through Prepare and WithSynchronized, which return
// new values.
type Notification struct {
	// FireDate is the instant the platform should present the alert.
	FireDate time.Time
	// TimeZone is an IANA zone name. Empty means FireDate's own location.
	TimeZone string
	// RepeatCalendar names the calendar recurrence steps are added with.
	// Empty means DefaultCalendar.
	RepeatCalendar string
	RepeatUnit     RepeatUnit
	// RepeatValue multiplies RepeatUnit. Values below 1 are treated as 1.
	RepeatValue int

	Payload Payload

	id           string
	series       string
	synchronized bool
}

// ID is empty until the scheduler admits the notification.
func (n Notification) ID() string { return n.id }

// Series is the id of the first occurrence of a repeating chain.
// It equals ID for non-repeating and first occurrences.
func (n Notification) Series() string { return n.series }

// Synchronized reports whether the notification occupies a platform slot.
func (n Notification) Synchronized() bool { return n.synchronized }

// WithSynchronized returns a copy with the admission flag set.
func (n Notification) WithSynchronized(v bool) Notification {
	n.synchronized = v
	return n
}

// Repeats reports whether the notification has a recurrence rule.
func (n Notification) Repeats() bool { return n.RepeatUnit != RepeatNone }

// Interval returns RepeatValue coerced to at least 1.
func (n Notification) Interval() int {
	if n.RepeatValue < 1 {
		return 1
	}
	return n.RepeatValue
}

// Location resolves TimeZone, falling back to FireDate's location.
func (n Notification) Location() *time.Location {
	if tz := strings.TrimSpace(n.TimeZone); tz != "" {
		if loc, ok := loadLocation(tz); ok {
			return loc
		}
	}
	if loc := n.FireDate.Location(); loc != nil {
		return loc
	}
	return time.Local
}

// Clone returns a deep copy.
func (n Notification) Clone() Notification {
	n.Payload = n.Payload.Clone()
	return n
}

// Copy returns a deep copy. Without keepID the copy drops id, series and the
// admission flag, so it can be scheduled again as a new notification.
func (n Notification) Copy(keepID bool) Notification {
	c := n.Clone()
	if !keepID {
		c.id = ""
		c.series = ""
		c.synchronized = false
	}
	return c
}

// Compare orders by FireDate, then case-insensitively by id.
func Compare(a, b Notification) int {
	if a.FireDate.Before(b.FireDate) {
		return -1
	}
	if a.FireDate.After(b.FireDate) {
		return 1
	}
	return strings.Compare(strings.ToLower(a.id), strings.ToLower(b.id))
}

func (n Notification) Compare(o Notification) int { return Compare(n, o) }

// Equal reports identity: both ids are set and equal. Timing and payload are
// ignored, so a platform snapshot equals the tracked record it came from.
func (n Notification) Equal(o Notification) bool {
	return n.id != "" && n.id == o.id
}

// Hash is derived from the id only, consistent with Equal.
func (n Notification) Hash() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(n.id))
	return h.Sum64()
}

// SameTiming reports whether both values share fire date and recurrence rule.
func (n Notification) SameTiming(o Notification) bool {
	return n.FireDate.Equal(o.FireDate) &&
		n.TimeZone == o.TimeZone &&
		n.RepeatCalendar == o.RepeatCalendar &&
		n.RepeatUnit == o.RepeatUnit &&
		n.Interval() == o.Interval()
}

// NextOccurrence returns the first occurrence strictly after now, stepping from
// FireDate by whole multiples of the recurrence interval. Missed occurrences are
// skipped rather than replayed.
//
// The result is a new, unadmitted notification (no id) in the same series.
// ok is false for non-repeating notifications.
func (n Notification) NextOccurrence(now time.Time) (next Notification, ok bool) {
	if !n.Repeats() || n.FireDate.IsZero() {
		return Notification{}, false
	}
	cal, _ := LookupCalendar(n.RepeatCalendar)
	step := n.Interval()
	base := n.FireDate.In(n.Location())

	k := 1
	if elapsed := now.Sub(base); elapsed > 0 {
		if ms := maxStep(n.RepeatUnit) * time.Duration(step); ms > 0 {
			if est := int(elapsed / ms); est > k {
				k = est
			}
		}
		// Calendars with longer steps than Gregorian could make the estimate overshoot.
		if k > 1 && cal.Add(base, n.RepeatUnit, (k-1)*step).After(now) {
			k = 1
		}
	}

	at := cal.Add(base, n.RepeatUnit, k*step)
	if !at.After(base) {
		return Notification{}, false
	}
	for !at.After(now) {
		k++
		at = cal.Add(base, n.RepeatUnit, k*step)
	}

	next = n.Clone()
	next.FireDate = at
	next.RepeatValue = step
	next.id = ""
	next.synchronized = false
	if next.series == "" {
		next.series = n.id
	}
	return next, true
}

// Prepare assigns id and snapshots the notification for admission. It is called
// exactly once per notification, by the scheduler.
//
// overdue is true when FireDate is not after now; the caller may treat that as
// "fire immediately". It does not change how the notification is tracked.
func (n Notification) Prepare(id string, now time.Time) (prepared Notification, overdue bool, err error) {
	if n.id != "" {
		return n, false, ErrAlreadyScheduled
	}
	if strings.TrimSpace(id) == "" {
		return n, false, ErrEmptyID
	}
	p := n.Clone()
	p.id = id
	if p.series == "" {
		p.series = id
	}
	p.RepeatValue = p.Interval()
	if !p.FireDate.IsZero() {
		p.FireDate = p.FireDate.In(p.Location())
	}
	p.synchronized = false
	return p, !p.FireDate.After(now), nil
}

var locCache sync.Map // string -> *time.Location

func loadLocation(name string) (*time.Location, bool) {
	if v, ok := locCache.Load(name); ok {
		return v.(*time.Location), true
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, false
	}
	locCache.Store(name, loc)
	return loc, true
}
