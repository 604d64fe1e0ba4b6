package stats

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome classifies what happened to a broadcast write.
type Outcome string

// Broadcast outcomes.
const (
	OutcomeWritten         Outcome = "written"
	OutcomeNoActiveSession Outcome = "no_active_session"
	OutcomeNoMatchingKey   Outcome = "no_matching_key"
)

// WriteResult reports how many sessions a broadcast write reached.
type WriteResult struct {
	Outcome  Outcome
	Sessions int
}

// Dropped reports whether the write reached no session at all.
func (r WriteResult) Dropped() bool {
	return r.Outcome != OutcomeWritten
}

// DropObserver is told about every broadcast write that reached no session.
type DropObserver interface {
	StatisticDropped(key string, outcome string)
}

// Option customises a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDropObserver registers an observer for dropped writes.
func WithDropObserver(obs DropObserver) Option {
	return func(m *Manager) {
		m.drops = obs
	}
}

// Manager owns the sessions of one binary and the set of currently active
// sessions. It is created explicitly and passed to whoever needs it. Its
// mutex guards only the session lists; statistic values stay behind their
// per-key locks.
type Manager struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	order    []uuid.UUID
	active   []*Session
	closed   bool

	drops  DropObserver
	logger *zap.Logger
}

// NewManager builds an empty Manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[uuid.UUID]*Session),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewSession opens a session whose registry is owned by the execution
// context of ctx. The session starts inactive.
func (m *Manager) NewSession(ctx context.Context, name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := newSession(ctx, name, m.logger)
	m.sessions[s.id] = s
	m.order = append(m.order, s.id)
	m.logger.Debug("session opened", zap.String("session", name), zap.Stringer("session_id", s.id))
	return s, nil
}

// Sessions lists every session opened by the manager, oldest first.
func (m *Manager) Sessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.sessions[id])
	}
	return out
}

// Session looks up a session by id.
func (m *Manager) Session(id uuid.UUID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Activate adds s to the active set. Activating an active session is a no-op.
func (m *Manager) Activate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.indexOf(s) >= 0 {
		return
	}
	m.active = append(m.active, s)
}

// Deactivate removes s from the active set.
func (m *Manager) Deactivate(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.indexOf(s); i >= 0 {
		m.active = append(m.active[:i:i], m.active[i+1:]...)
	}
}

// IsActive reports whether s is in the active set.
func (m *Manager) IsActive(s *Session) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.indexOf(s) >= 0
}

// Active returns a snapshot of the active sessions in activation order.
func (m *Manager) Active() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Session(nil), m.active...)
}

// Enter activates s and returns the matching exit function.
//
//	exit := manager.Enter(session)
//	defer exit()
func (m *Manager) Enter(s *Session) func() {
	m.Activate(s)
	var once sync.Once
	return func() {
		once.Do(func() { m.Deactivate(s) })
	}
}

// Scope runs fn with s active and deactivates s on every exit path, panics
// included.
func (m *Manager) Scope(ctx context.Context, s *Session, fn func(ctx context.Context) error) error {
	exit := m.Enter(s)
	defer exit()
	return fn(ctx)
}

// Broadcast applies fn as a locked read-modify-write to key in every active
// session that registered it. The result says how many sessions were written;
// a write that reaches none is reported, never silently discarded.
func (m *Manager) Broadcast(ctx context.Context, key string, fn func(old any) (any, error)) (WriteResult, error) {
	active := m.Active()
	if len(active) == 0 {
		return m.dropped(key, OutcomeNoActiveSession), nil
	}

	written := 0
	for _, s := range active {
		ok, err := s.registry.Has(ctx, key)
		if err != nil {
			return WriteResult{Outcome: OutcomeWritten, Sessions: written}, fmt.Errorf("session %s: %w", s.name, err)
		}
		if !ok {
			continue
		}
		if err := s.registry.Update(ctx, key, fn); err != nil {
			return WriteResult{Outcome: OutcomeWritten, Sessions: written}, fmt.Errorf("session %s: %w", s.name, err)
		}
		written++
	}
	if written == 0 {
		return m.dropped(key, OutcomeNoMatchingKey), nil
	}
	return WriteResult{Outcome: OutcomeWritten, Sessions: written}, nil
}

// Remove deactivates s, drops it from the manager and stops its registry.
// Removing an unknown session only closes its registry.
func (m *Manager) Remove(s *Session) error {
	m.mu.Lock()
	if i := m.indexOf(s); i >= 0 {
		m.active = append(m.active[:i:i], m.active[i+1:]...)
	}
	if _, ok := m.sessions[s.id]; ok {
		delete(m.sessions, s.id)
		for i, id := range m.order {
			if id == s.id {
				m.order = append(m.order[:i:i], m.order[i+1:]...)
				break
			}
		}
	}
	m.mu.Unlock()

	if err := s.registry.Close(); err != nil {
		return fmt.Errorf("close session %s: %w", s.name, err)
	}
	m.logger.Debug("session removed", zap.String("session", s.name), zap.Stringer("session_id", s.id))
	return nil
}

// Close deactivates and closes every session. Further NewSession calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.active = nil
	sessions := make([]*Session, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.registry.Close(); err != nil {
			return fmt.Errorf("close session %s: %w", s.name, err)
		}
	}
	return nil
}

func (m *Manager) dropped(key string, outcome Outcome) WriteResult {
	m.logger.Debug("statistic write dropped", zap.String("key", key), zap.String("outcome", string(outcome)))
	if m.drops != nil {
		m.drops.StatisticDropped(key, string(outcome))
	}
	return WriteResult{Outcome: outcome}
}

func (m *Manager) indexOf(s *Session) int {
	for i, a := range m.active {
		if a == s {
			return i
		}
	}
	return -1
}
