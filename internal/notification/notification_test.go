package notification

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func mustPrepare(t *testing.T, n Notification, id string) Notification {
	t.Helper()
	p, _, err := n.Prepare(id, time.Time{})
	if err != nil {
		t.Fatalf("Prepare(%q): %v", id, err)
	}
	return p
}

func TestCompareTotalOrder(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2016, 1, 1, 10, 0, 0, 0, time.UTC)
	a := mustPrepare(t, Notification{FireDate: t0}, "abc")
	b := mustPrepare(t, Notification{FireDate: t0}, "ABD")
	c := mustPrepare(t, Notification{FireDate: t0.Add(time.Second)}, "aaa")
	same := mustPrepare(t, Notification{FireDate: t0}, "ABC")

	tests := []struct {
		name string
		x, y Notification
		want int
	}{
		{"id tiebreak ignores case", a, b, -1},
		{"reverse", b, a, 1},
		{"fire date wins", b, c, -1},
		{"equal under folding", a, same, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compare(tt.x, tt.y); got != tt.want {
				t.Fatalf("Compare = %d, want %d", got, tt.want)
			}
			if got := Compare(tt.y, tt.x); got != -tt.want {
				t.Fatalf("Compare reversed = %d, want %d", got, -tt.want)
			}
		})
	}
}

func TestEqualAndHashUseID(t *testing.T) {
	t.Parallel()
	n := mustPrepare(t, Notification{FireDate: time.Unix(100, 0)}, "x1")
	moved := n
	moved.FireDate = time.Unix(500, 0)
	moved.Payload.AlertBody = "changed"

	if !n.Equal(moved) {
		t.Fatal("records with the same id should be equal")
	}
	if n.Hash() != moved.Hash() {
		t.Fatal("equal records must hash equally")
	}
	var a, b Notification
	if a.Equal(b) {
		t.Fatal("unadmitted records must not be equal")
	}
}

func TestNextOccurrenceSkipsMissed(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name  string
		fire  time.Time
		unit  RepeatUnit
		value int
		now   time.Time
		want  time.Time
	}{
		{
			name:  "every two days",
			fire:  time.Date(2016, 1, 1, 10, 0, 0, 0, time.UTC),
			unit:  RepeatDay,
			value: 2,
			now:   time.Date(2016, 1, 10, 9, 0, 0, 0, time.UTC),
			want:  time.Date(2016, 1, 11, 10, 0, 0, 0, time.UTC),
		},
		{
			name:  "exact boundary is not after now",
			fire:  time.Date(2016, 1, 1, 10, 0, 0, 0, time.UTC),
			unit:  RepeatHour,
			value: 1,
			now:   time.Date(2016, 1, 1, 12, 0, 0, 0, time.UTC),
			want:  time.Date(2016, 1, 1, 13, 0, 0, 0, time.UTC),
		},
		{
			name:  "future fire date steps once",
			fire:  time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
			unit:  RepeatWeek,
			value: 1,
			now:   time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2030, 1, 8, 0, 0, 0, 0, time.UTC),
		},
		{
			name:  "month clamps to last day",
			fire:  time.Date(2016, 1, 31, 8, 0, 0, 0, time.UTC),
			unit:  RepeatMonth,
			value: 1,
			now:   time.Date(2016, 2, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2016, 2, 29, 8, 0, 0, 0, time.UTC),
		},
		{
			name:  "many years skipped",
			fire:  time.Date(2000, 6, 15, 9, 30, 0, 0, time.UTC),
			unit:  RepeatYear,
			value: 1,
			now:   time.Date(2016, 7, 1, 0, 0, 0, 0, time.UTC),
			want:  time.Date(2017, 6, 15, 9, 30, 0, 0, time.UTC),
		},
		{
			name:  "minutes across a long gap",
			fire:  time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC),
			unit:  RepeatMinute,
			value: 15,
			now:   time.Date(2016, 3, 1, 0, 7, 0, 0, time.UTC),
			want:  time.Date(2016, 3, 1, 0, 15, 0, 0, time.UTC),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := mustPrepare(t, Notification{FireDate: tt.fire, RepeatUnit: tt.unit, RepeatValue: tt.value}, "first")
			next, ok := n.NextOccurrence(tt.now)
			if !ok {
				t.Fatal("NextOccurrence ok = false, want true")
			}
			if !next.FireDate.Equal(tt.want) {
				t.Fatalf("FireDate = %v, want %v", next.FireDate, tt.want)
			}
			if !next.FireDate.After(tt.now) {
				t.Fatalf("FireDate %v not after now %v", next.FireDate, tt.now)
			}
			if next.ID() != "" {
				t.Fatalf("ID = %q, want empty", next.ID())
			}
			if next.Series() != "first" {
				t.Fatalf("Series = %q, want first", next.Series())
			}
			if next.RepeatUnit != tt.unit || next.Interval() != tt.value {
				t.Fatalf("rule = %v/%d, want %v/%d", next.RepeatUnit, next.Interval(), tt.unit, tt.value)
			}
		})
	}
}

func TestNextOccurrenceKeepsWallClockAcrossDST(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	n := mustPrepare(t, Notification{
		FireDate:   time.Date(2016, 3, 12, 9, 0, 0, 0, loc),
		TimeZone:   "America/New_York",
		RepeatUnit: RepeatDay,
	}, "dst")
	next, ok := n.NextOccurrence(time.Date(2016, 3, 12, 10, 0, 0, 0, loc))
	if !ok {
		t.Fatal("NextOccurrence ok = false")
	}
	if h := next.FireDate.In(loc).Hour(); h != 9 {
		t.Fatalf("hour = %d, want 9", h)
	}
}

func TestNextOccurrenceNonRepeating(t *testing.T) {
	t.Parallel()
	n := mustPrepare(t, Notification{FireDate: time.Unix(0, 0)}, "once")
	if _, ok := n.NextOccurrence(time.Now()); ok {
		t.Fatal("non-repeating notification produced a successor")
	}
}

func TestPrepare(t *testing.T) {
	t.Parallel()
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	orig := Notification{
		FireDate:    now.Add(-time.Minute),
		RepeatUnit:  RepeatDay,
		RepeatValue: -3,
		Payload:     Payload{AlertBody: "hi", UserInfo: map[string]any{"k": []any{"v"}}},
	}

	p, overdue, err := orig.Prepare("id-1", now)
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if !overdue {
		t.Fatal("overdue = false, want true")
	}
	if p.RepeatValue != 1 {
		t.Fatalf("RepeatValue = %d, want 1", p.RepeatValue)
	}
	if p.ID() != "id-1" || p.Series() != "id-1" {
		t.Fatalf("id/series = %q/%q, want id-1/id-1", p.ID(), p.Series())
	}

	orig.Payload.UserInfo["k"].([]any)[0] = "mutated"
	if got := p.Payload.UserInfo["k"].([]any)[0]; got != "v" {
		t.Fatalf("payload snapshot = %v, want v", got)
	}

	if _, _, err := p.Prepare("id-2", now); !errors.Is(err, ErrAlreadyScheduled) {
		t.Fatalf("second Prepare err = %v, want ErrAlreadyScheduled", err)
	}
	if _, _, err := orig.Prepare("  ", now); !errors.Is(err, ErrEmptyID) {
		t.Fatalf("blank id err = %v, want ErrEmptyID", err)
	}
}

func TestCopy(t *testing.T) {
	t.Parallel()
	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	tracked := mustPrepare(t, Notification{
		FireDate:   now.Add(time.Hour),
		RepeatUnit: RepeatWeek,
		Payload:    Payload{AlertTitle: "t", UserInfo: map[string]any{"k": map[string]any{"n": 1}}},
	}, "id-1").WithSynchronized(true)

	kept := tracked.Copy(true)
	if kept.ID() != "id-1" || kept.Series() != "id-1" || !kept.Synchronized() {
		t.Fatalf("Copy(true) = %q/%q/%v, want id-1/id-1/true", kept.ID(), kept.Series(), kept.Synchronized())
	}

	fresh := tracked.Copy(false)
	if fresh.ID() != "" || fresh.Series() != "" || fresh.Synchronized() {
		t.Fatalf("Copy(false) = %q/%q/%v, want empty identity", fresh.ID(), fresh.Series(), fresh.Synchronized())
	}
	if !fresh.SameTiming(tracked) || fresh.Payload.AlertTitle != "t" {
		t.Fatalf("Copy(false) lost content: %v", fresh)
	}
	if _, _, err := fresh.Prepare("id-2", now); err != nil {
		t.Fatalf("Prepare(copy): %v", err)
	}

	fresh.Payload.UserInfo["k"].(map[string]any)["n"] = 2
	if got := tracked.Payload.UserInfo["k"].(map[string]any)["n"]; got != 1 {
		t.Fatalf("source payload = %v, want 1", got)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	n := mustPrepare(t, Notification{
		FireDate:    time.Date(2021, 5, 1, 7, 30, 0, 0, loc),
		TimeZone:    "Europe/Berlin",
		RepeatUnit:  RepeatWeek,
		RepeatValue: 2,
		Payload:     Payload{AlertTitle: "t", BadgeNumber: 3, UserInfo: map[string]any{"a": "b"}},
	}, "rt").WithSynchronized(true)

	b, err := json.Marshal(n)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Notification
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.ID() != "rt" || got.Series() != "rt" || !got.Synchronized() {
		t.Fatalf("identity lost: %s", got.Describe())
	}
	if !got.SameTiming(n) {
		t.Fatalf("timing changed: got %v want %v", got, n)
	}
	if got.FireDate.Location().String() != "Europe/Berlin" {
		t.Fatalf("location = %v, want Europe/Berlin", got.FireDate.Location())
	}
	if got.Payload.UserInfo["a"] != "b" || got.Payload.BadgeNumber != 3 {
		t.Fatalf("payload = %+v", got.Payload)
	}
}

func TestRepeatUnitText(t *testing.T) {
	t.Parallel()
	for _, s := range []string{"minute", "HOUR", "day", "week", "weekofyear", "month", "year", ""} {
		if _, err := ParseRepeatUnit(s); err != nil {
			t.Fatalf("ParseRepeatUnit(%q): %v", s, err)
		}
	}
	if _, err := ParseRepeatUnit("fortnight"); err == nil {
		t.Fatal("ParseRepeatUnit(fortnight) err = nil")
	}
}

type doubleCal struct{}

func (doubleCal) Name() string { return "double-days" }
func (doubleCal) Add(t time.Time, _ RepeatUnit, n int) time.Time {
	return t.AddDate(0, 0, 2*n)
}

func TestCalendarRegistry(t *testing.T) {
	RegisterCalendar(doubleCal{})
	if c, ok := LookupCalendar("Double-Days"); !ok || c.Name() != "double-days" {
		t.Fatalf("LookupCalendar = %v, %v", c, ok)
	}
	if c, ok := LookupCalendar("missing"); ok || c.Name() != DefaultCalendar {
		t.Fatalf("unknown calendar = %v, %v; want default, false", c, ok)
	}

	fire := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	n := mustPrepare(t, Notification{FireDate: fire, RepeatUnit: RepeatDay, RepeatCalendar: "double-days"}, "c")
	next, ok := n.NextOccurrence(fire.Add(time.Hour))
	if !ok || !next.FireDate.Equal(fire.AddDate(0, 0, 2)) {
		t.Fatalf("NextOccurrence = %v, %v; want %v", next.FireDate, ok, fire.AddDate(0, 0, 2))
	}
}

func TestStringForms(t *testing.T) {
	t.Parallel()
	n := mustPrepare(t, Notification{FireDate: time.Unix(0, 0).UTC(), RepeatUnit: RepeatHour, RepeatValue: 3}, "s1")
	if s := n.String(); !strings.Contains(s, "s1") || !strings.Contains(s, "every=3hour") {
		t.Fatalf("String = %q", s)
	}
	if d := n.Describe(); !strings.Contains(d, "repeat: 3 hour (gregorian)") {
		t.Fatalf("Describe = %q", d)
	}
}
