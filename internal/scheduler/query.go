package scheduler

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"lnsched/internal/notification"
)

// Lookup returns the tracked notification with id. If more than one matches,
// the earliest fire date wins.
func (s *Scheduler) Lookup(id string) (notification.Notification, bool) {
	if id == "" {
		return notification.Notification{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earliestLocked(func(n notification.Notification) bool { return n.ID() == id })
}

// LookupSeries returns the tracked occurrence of series with the nearest fire
// date.
func (s *Scheduler) LookupSeries(series string) (notification.Notification, bool) {
	if series == "" {
		return notification.Notification{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.earliestLocked(func(n notification.Notification) bool { return n.Series() == series })
}

func (s *Scheduler) earliestLocked(match func(notification.Notification) bool) (notification.Notification, bool) {
	var (
		best  notification.Notification
		found bool
	)
	consider := func(n notification.Notification) {
		if match(n) && (!found || n.FireDate.Before(best.FireDate)) {
			best, found = n, true
		}
	}
	for _, n := range s.admitted {
		consider(n)
	}
	for _, n := range s.queue {
		consider(n)
	}
	if !found {
		return notification.Notification{}, false
	}
	return best.Clone(), true
}

func (s *Scheduler) AdmittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admitted)
}

func (s *Scheduler) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.admitted) + len(s.queue)
}

// Admitted returns the admitted notifications sorted by fire date.
func (s *Scheduler) Admitted() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admittedLocked()
}

func (s *Scheduler) admittedLocked() []notification.Notification {
	out := make([]notification.Notification, 0, len(s.admitted))
	for _, n := range s.admitted {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return notification.Compare(out[i], out[j]) < 0 })
	return out
}

// Queued returns the queue in order.
func (s *Scheduler) Queued() []notification.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queuedLocked()
}

func (s *Scheduler) queuedLocked() []notification.Notification {
	out := make([]notification.Notification, len(s.queue))
	for i, n := range s.queue {
		out[i] = n.Clone()
	}
	return out
}

// Dump writes every tracked notification, one line each when brief.
func (s *Scheduler) Dump(w io.Writer, brief bool) error {
	s.mu.Lock()
	admitted := s.admittedLocked()
	queued := s.queuedLocked()
	capacity := s.capacity
	s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "admitted %d/%d\n", len(admitted), capacity)
	writeSection(&b, admitted, brief)
	fmt.Fprintf(&b, "queued %d\n", len(queued))
	writeSection(&b, queued, brief)
	_, err := io.WriteString(w, b.String())
	return err
}

func writeSection(b *strings.Builder, ns []notification.Notification, brief bool) {
	for _, n := range ns {
		if brief {
			fmt.Fprintf(b, "  %s\n", n)
			continue
		}
		for _, line := range strings.Split(strings.TrimRight(n.Describe(), "\n"), "\n") {
			fmt.Fprintf(b, "  %s\n", line)
		}
		b.WriteString("\n")
	}
}
