package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"lnsched/internal/eventbus"
	logx "lnsched/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func stopService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartRunsOnceAndOnFire(t *testing.T) {
	bus := eventbus.New()
	var runs atomic.Int32
	s := New(Config{OnFire: true}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop(), bus)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopService(t, s)

	waitFor(t, "initial run", func() bool { return runs.Load() >= 1 })
	before := runs.Load()
	bus.Publish(eventbus.Event{Type: eventbus.PlatformDelivered})
	bus.Publish(eventbus.Event{Type: eventbus.PlatformFired})
	waitFor(t, "fire-driven run", func() bool { return runs.Load() > before })
}

func TestIntervalSchedule(t *testing.T) {
	var runs atomic.Int32
	s := New(Config{Spec: "interval:1s", Timezone: "UTC"}, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopService(t, s)

	waitFor(t, "scheduled run", func() bool { return runs.Load() >= 2 && !s.Snapshot().Next.IsZero() })
	snap := s.Snapshot()
	if !snap.Running || snap.Timezone != "UTC" || snap.Next.IsZero() {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestJobErrorsAreCounted(t *testing.T) {
	boom := errors.New("boom")
	s := New(Config{}, func(ctx context.Context) error { return boom }, logx.Nop(), nil)
	if err := s.RunNow(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("RunNow err = %v, want boom", err)
	}
	_ = s.RunNow(context.Background())
	snap := s.Snapshot()
	if snap.Runs != 2 || snap.Errors != 2 || snap.LastError != "boom" {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRunNowSkipsOverlap(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	s := New(Config{}, func(ctx context.Context) error {
		close(entered)
		<-release
		return nil
	}, logx.Nop(), nil)

	done := make(chan error, 1)
	go func() { done <- s.RunNow(context.Background()) }()
	<-entered
	if err := s.RunNow(context.Background()); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("overlapping RunNow err = %v, want ErrOverlapSkip", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first RunNow: %v", err)
	}
	if s.Snapshot().Skipped != 1 {
		t.Fatalf("Skipped = %d, want 1", s.Snapshot().Skipped)
	}
}

func TestApplyRestartsCron(t *testing.T) {
	s := New(Config{Spec: "@hourly"}, func(ctx context.Context) error { return nil }, logx.Nop(), nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopService(t, s)

	if err := s.Apply(Config{Spec: "bogus"}); err == nil {
		t.Fatal("Apply(bogus) err = nil, want error")
	}
	if err := s.Apply(Config{Spec: "0 0 12 * * *", Timezone: "UTC"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	waitFor(t, "next run", func() bool { return !s.Snapshot().Next.IsZero() })
	snap := s.Snapshot()
	if snap.Spec != "0 0 12 * * *" || snap.Timezone != "UTC" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if h := snap.Next.UTC().Hour(); h != 12 {
		t.Fatalf("next run hour = %d, want 12", h)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		cfg Config
		ok  bool
	}{
		{Config{}, true},
		{Config{Spec: "30s"}, true},
		{Config{Spec: "*/5 * * * *", Timezone: "UTC"}, true},
		{Config{Spec: "61 * * * *"}, false},
		{Config{Spec: "whenever"}, false},
		{Config{Timezone: "Mars/Olympus"}, false},
	}
	for _, tt := range tests {
		if err := Validate(tt.cfg); (err == nil) != tt.ok {
			t.Fatalf("Validate(%+v) = %v, want ok=%v", tt.cfg, err, tt.ok)
		}
	}
}
