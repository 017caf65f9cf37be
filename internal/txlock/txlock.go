// Package txlock implements the in-process admission queue that every
// backend shares to serialize conflicting transactions: FIFO ordering
// with reader/writer conflict rules scoped to the set of store names a
// transaction touches, independent of which driver ultimately executes
// the transaction's statements.
package txlock

import (
	"context"
	"sync"

	"nsprovider/internal/storeerr"
)

// Mode is the access mode a transaction requests over its store set.
type Mode int

const (
	// ReadOnly transactions may run concurrently with any number of other
	// ReadOnly transactions over overlapping stores.
	ReadOnly Mode = iota
	// ReadWrite transactions require exclusive access to every store they
	// touch; they conflict with any other open transaction (of either
	// mode) that touches any store in common.
	ReadWrite
)

// Ticket represents one transaction's place in the admission queue. A
// Ticket is obtained from Manager.Open and must be resolved exactly once
// with Complete or Fail.
type Ticket struct {
	mgr     *Manager
	id      uint64
	stores  map[string]struct{}
	mode    Mode
	granted chan struct{}
}

// Manager is the single admission point for a Provider's transactions.
// It owns no backend resources; it only decides when a requested
// transaction may proceed, based on transactions already open.
type Manager struct {
	mu       sync.Mutex
	nextID   uint64
	open     []*Ticket // granted, not yet resolved, in admission order
	waiting  []*Ticket // requested, not yet granted, in FIFO arrival order
	closing  bool
	draining chan struct{}
}

// NewManager creates an admission manager ready to accept transactions.
func NewManager() *Manager {
	return &Manager{}
}

// Open enqueues a request for the given mode over the given store set and
// blocks until either the request is granted, ctx is canceled, or the
// manager has begun closing. The returned Ticket must be resolved with
// Complete or Fail when the transaction finishes, which is also what
// allows subsequently queued, conflicting tickets to be granted.
func (m *Manager) Open(ctx context.Context, stores []string, mode Mode) (*Ticket, error) {
	set := make(map[string]struct{}, len(stores))
	for _, s := range stores {
		set[s] = struct{}{}
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, storeerr.ErrDatabaseClosing
	}

	m.nextID++
	t := &Ticket{
		mgr:     m,
		id:      m.nextID,
		stores:  set,
		mode:    mode,
		granted: make(chan struct{}),
	}
	m.waiting = append(m.waiting, t)
	m.admitLocked()
	m.mu.Unlock()

	select {
	case <-t.granted:
		return t, nil
	case <-ctx.Done():
		if !m.cancelWaiting(t) {
			// Lost the race: t was granted concurrently with the
			// context expiring. Resolve it so it doesn't sit open
			// forever with no caller able to Complete/Fail it.
			<-t.granted
			t.resolve()
		}
		return nil, ctx.Err()
	}
}

// admitLocked scans the waiting queue in FIFO order, granting every
// request that conflicts neither with an already-open transaction nor
// with a request queued ahead of it that is still waiting. A request that
// has to wait therefore holds back every later request that conflicts
// with it, preserving FIFO fairness: a long-waiting writer is never
// starved by a stream of later readers of the same stores.
func (m *Manager) admitLocked() {
	remaining := ticketQueue(m.waiting[:0])
	for _, t := range m.waiting {
		if remaining.conflictsWithAny(t) || conflictsWithOpen(m.open, t) {
			remaining = append(remaining, t)
			continue
		}
		m.open = append(m.open, t)
		close(t.granted)
	}
	m.waiting = remaining
}

// ticketQueue is a slice of not-yet-granted tickets, used only to let
// admitLocked check a candidate against requests ahead of it that were
// themselves left waiting this pass.
type ticketQueue []*Ticket

func (q ticketQueue) conflictsWithAny(t *Ticket) bool {
	return conflictsWithOpen(q, t)
}

func conflictsWithOpen(open []*Ticket, t *Ticket) bool {
	for _, o := range open {
		if o == t {
			continue
		}
		if conflicts(o, t) {
			return true
		}
	}
	return false
}

func conflicts(a, b *Ticket) bool {
	if a.mode == ReadOnly && b.mode == ReadOnly {
		return false
	}
	for s := range a.stores {
		if _, shared := b.stores[s]; shared {
			return true
		}
	}
	return false
}

// cancelWaiting removes t from the waiting queue and reports whether it
// was still there. false means t was already granted concurrently.
func (m *Manager) cancelWaiting(t *Ticket) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, w := range m.waiting {
		if w == t {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			return true
		}
	}
	return false
}

// resolve removes a granted ticket from the open set and re-runs
// admission, since its departure may unblock queued requests.
func (t *Ticket) resolve() {
	m := t.mgr
	m.mu.Lock()
	for i, o := range m.open {
		if o == t {
			m.open = append(m.open[:i], m.open[i+1:]...)
			break
		}
	}
	m.admitLocked()
	closing := m.closing && len(m.open) == 0 && len(m.waiting) == 0
	var draining chan struct{}
	if closing {
		draining = m.draining
	}
	m.mu.Unlock()
	if draining != nil {
		close(draining)
	}
}

// Complete resolves the ticket after a successful commit.
func (t *Ticket) Complete() { t.resolve() }

// Fail resolves the ticket after a rollback or backend failure. Admission
// does not distinguish the two outcomes; Fail exists as the caller-facing
// counterpart to Complete for symmetry and future extension (e.g.
// recording abort metrics).
func (t *Ticket) Fail() { t.resolve() }

// CloseWhenPossible marks the manager as draining: no new Open calls are
// admitted (they return ErrDatabaseClosing), and the returned channel is
// closed once every open and waiting ticket has resolved.
func (m *Manager) CloseWhenPossible() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.draining == nil {
		m.draining = make(chan struct{})
	}
	m.closing = true
	if len(m.open) == 0 && len(m.waiting) == 0 {
		select {
		case <-m.draining:
		default:
			close(m.draining)
		}
	}
	return m.draining
}
