package notification

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// wireNotification is the persisted form. Identity fields travel with the
// record so a restored queue keeps its ids and series.
type wireNotification struct {
	ID             string     `json:"id,omitempty"`
	Series         string     `json:"series,omitempty"`
	FireDate       time.Time  `json:"fire_date"`
	TimeZone       string     `json:"time_zone,omitempty"`
	RepeatCalendar string     `json:"repeat_calendar,omitempty"`
	RepeatUnit     RepeatUnit `json:"repeat_unit"`
	RepeatValue    int        `json:"repeat_value,omitempty"`
	Synchronized   bool       `json:"synchronized,omitempty"`
	Payload        Payload    `json:"payload"`
}

func (n Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireNotification{
		ID:             n.id,
		Series:         n.series,
		FireDate:       n.FireDate,
		TimeZone:       n.TimeZone,
		RepeatCalendar: n.RepeatCalendar,
		RepeatUnit:     n.RepeatUnit,
		RepeatValue:    n.RepeatValue,
		Synchronized:   n.synchronized,
		Payload:        n.Payload,
	})
}

func (n *Notification) UnmarshalJSON(b []byte) error {
	var w wireNotification
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*n = Notification{
		FireDate:       w.FireDate,
		TimeZone:       w.TimeZone,
		RepeatCalendar: w.RepeatCalendar,
		RepeatUnit:     w.RepeatUnit,
		RepeatValue:    w.RepeatValue,
		Payload:        w.Payload,
		id:             w.ID,
		series:         w.Series,
		synchronized:   w.Synchronized,
	}
	if n.series == "" {
		n.series = n.id
	}
	// JSON keeps only the offset; put the instant back into its named zone.
	if n.TimeZone != "" && !n.FireDate.IsZero() {
		n.FireDate = n.FireDate.In(n.Location())
	}
	return nil
}

// String is the brief debug form.
func (n Notification) String() string {
	id := n.id
	if id == "" {
		id = "-"
	}
	s := fmt.Sprintf("%s fire=%s", id, n.FireDate.Format(time.RFC3339))
	if n.Repeats() {
		s += fmt.Sprintf(" every=%d%s", n.Interval(), n.RepeatUnit)
	}
	if n.synchronized {
		s += " sync"
	}
	return s
}

// Describe is the full debug form, one field per line.
func (n Notification) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "id: %s\n", n.id)
	if n.series != "" && n.series != n.id {
		fmt.Fprintf(&b, "series: %s\n", n.series)
	}
	fmt.Fprintf(&b, "fire_date: %s\n", n.FireDate.Format(time.RFC3339Nano))
	if n.TimeZone != "" {
		fmt.Fprintf(&b, "time_zone: %s\n", n.TimeZone)
	}
	if n.Repeats() {
		cal := n.RepeatCalendar
		if cal == "" {
			cal = DefaultCalendar
		}
		fmt.Fprintf(&b, "repeat: %d %s (%s)\n", n.Interval(), n.RepeatUnit, cal)
	}
	fmt.Fprintf(&b, "synchronized: %t\n", n.synchronized)
	p := n.Payload
	if p.AlertTitle != "" {
		fmt.Fprintf(&b, "title: %s\n", p.AlertTitle)
	}
	if p.AlertBody != "" {
		fmt.Fprintf(&b, "body: %s\n", p.AlertBody)
	}
	if p.HasAction || p.AlertAction != "" {
		fmt.Fprintf(&b, "action: %s\n", p.AlertAction)
	}
	if p.Category != "" {
		fmt.Fprintf(&b, "category: %s\n", p.Category)
	}
	if p.BadgeNumber != 0 {
		fmt.Fprintf(&b, "badge: %d\n", p.BadgeNumber)
	}
	if p.SoundName != "" {
		fmt.Fprintf(&b, "sound: %s\n", p.SoundName)
	}
	if len(p.UserInfo) > 0 {
		fmt.Fprintf(&b, "user_info: %d keys\n", len(p.UserInfo))
	}
	return b.String()
}
