// Package fake is a deterministic in-memory platform for tests.
package fake

import (
	"context"
	"slices"
	"sort"
	"sync"

	"lnsched/internal/notification"
	"lnsched/internal/platform"
)

// Platform never fires on its own; tests call Fire.
type Platform struct {
	mu       sync.Mutex
	capacity int
	pending  map[string]notification.Notification

	// FailAdmit, when set, is returned by Admit instead of admitting.
	FailAdmit error
	// FailList, when set, is returned by ListPending.
	FailList error
	// FailCancel, when set, is returned by Cancel after the entry is removed.
	FailCancel error
	// KeepOnFailCancel leaves the entry pending when FailCancel is returned,
	// as a platform whose cancel did not go through would.
	KeepOnFailCancel bool
	// Unordered makes ListPending return entries latest first.
	Unordered bool

	admits  int
	cancels []string
}

var _ platform.Platform = (*Platform)(nil)

func New(capacity int) *Platform {
	if capacity <= 0 {
		capacity = platform.DefaultCapacity
	}
	return &Platform{capacity: capacity, pending: map[string]notification.Notification{}}
}

func (p *Platform) Capacity() int { return p.capacity }

func (p *Platform) Admit(_ context.Context, n notification.Notification) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailAdmit != nil {
		return p.FailAdmit
	}
	if _, ok := p.pending[n.ID()]; !ok && len(p.pending) >= p.capacity {
		return platform.ErrCapacity
	}
	p.pending[n.ID()] = n.WithSynchronized(true)
	p.admits++
	return nil
}

func (p *Platform) Cancel(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cancels = append(p.cancels, id)
	if p.FailCancel != nil && p.KeepOnFailCancel {
		return p.FailCancel
	}
	delete(p.pending, id)
	return p.FailCancel
}

func (p *Platform) CancelAll(context.Context) error {
	p.mu.Lock()
	p.pending = map[string]notification.Notification{}
	p.mu.Unlock()
	return nil
}

func (p *Platform) ListPending(context.Context) ([]notification.Notification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FailList != nil {
		return nil, p.FailList
	}
	out := make([]notification.Notification, 0, len(p.pending))
	for _, n := range p.pending {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return notification.Compare(out[i], out[j]) < 0 })
	if p.Unordered {
		slices.Reverse(out)
	}
	return out, nil
}

// Fire removes id from the pending set as if the platform had presented it.
func (p *Platform) Fire(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.pending[id]; !ok {
		return false
	}
	delete(p.pending, id)
	return true
}

// FireAll fires every pending entry.
func (p *Platform) FireAll() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.pending)
	p.pending = map[string]notification.Notification{}
	return n
}

// Inject adds an entry directly, bypassing capacity, as an earlier process
// would have left it.
func (p *Platform) Inject(n notification.Notification) {
	p.mu.Lock()
	p.pending[n.ID()] = n.WithSynchronized(true)
	p.mu.Unlock()
}

func (p *Platform) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

func (p *Platform) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.pending[id]
	return ok
}

func (p *Platform) Admits() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.admits
}

func (p *Platform) Cancelled() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.cancels...)
}
