package local

import (
	"context"
	"time"

	"lnsched/internal/notification"
	logx "lnsched/pkg/logx"
)

// Config controls the pending set and the delivery pipeline.
type Config struct {
	// Capacity is fixed for the lifetime of the platform.
	Capacity      int
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 5
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	return c
}

// Deliverer presents a fired notification to the user.
type Deliverer interface {
	Deliver(ctx context.Context, n notification.Notification) error
}

type DelivererFunc func(ctx context.Context, n notification.Notification) error

func (f DelivererFunc) Deliver(ctx context.Context, n notification.Notification) error {
	return f(ctx, n)
}

// LogDeliverer writes each delivery as a log record.
type LogDeliverer struct {
	Log logx.Logger
}

func (d LogDeliverer) Deliver(_ context.Context, n notification.Notification) error {
	p := n.Payload
	d.Log.Info("notification delivered",
		logx.String("id", n.ID()),
		logx.String("series", n.Series()),
		logx.Time("fire_date", n.FireDate),
		logx.String("title", p.AlertTitle),
		logx.String("body", p.AlertBody),
		logx.String("category", p.Category),
		logx.Int("badge", p.BadgeNumber),
		logx.String("sound", p.SoundName),
	)
	return nil
}
