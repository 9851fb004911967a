package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shelfscan/backend/internal/domain"
)

// Config tunes the session manager.
type Config struct {
	// CoalesceInterval is the fixed live-delivery bucket width per session.
	CoalesceInterval time.Duration
	// IdleTTL is how long a finalized session's buffers survive after the
	// final event or the last listener disconnect, whichever is later.
	IdleTTL time.Duration
	// MaxSessionAge force-expires sessions that never finalize.
	MaxSessionAge time.Duration
	// MaxSessions caps concurrently open sessions.
	MaxSessions int
	// SweepInterval is how often the reaper runs.
	SweepInterval time.Duration
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		CoalesceInterval: 100 * time.Millisecond,
		IdleTTL:          5 * time.Second,
		MaxSessionAge:    60 * time.Second,
		MaxSessions:      256,
		SweepInterval:    time.Second,
	}
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()
	if out.CoalesceInterval <= 0 {
		out.CoalesceInterval = def.CoalesceInterval
	}
	if out.IdleTTL <= 0 {
		out.IdleTTL = def.IdleTTL
	}
	if out.MaxSessionAge <= 0 {
		out.MaxSessionAge = def.MaxSessionAge
	}
	if out.MaxSessions <= 0 {
		out.MaxSessions = def.MaxSessions
	}
	if out.SweepInterval <= 0 {
		out.SweepInterval = def.SweepInterval
	}
	return out
}

// Manager owns every progress session. It implements the orchestrator's
// ProgressReporter and exposes the two external transports: live subscription
// and point-in-time polling.
type Manager struct {
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewManager creates a session manager.
func NewManager(cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg.normalize(),
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}
}

// Open reserves a session for one in-flight resolution. A session id already
// running belongs to another resolution, and the concurrency cap fails fast;
// both are resource-exhaustion signals the caller may retry later.
func (m *Manager) Open(sessionID string) error {
	if sessionID == "" {
		return domain.ErrInvalidRequest
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[sessionID]; ok {
		if !existing.finalized {
			return fmt.Errorf("session %q already in flight: %w", sessionID, domain.ErrResourceExhausted)
		}
		// A finalized leftover is replaced by the new resolution.
		existing.stopFlushTimer()
		delete(m.sessions, sessionID)
	}
	if len(m.sessions) >= m.cfg.MaxSessions {
		return fmt.Errorf("session limit %d reached: %w", m.cfg.MaxSessions, domain.ErrResourceExhausted)
	}

	m.sessions[sessionID] = m.newSession(sessionID)
	return nil
}

func (m *Manager) newSession(sessionID string) *session {
	s := newSession(sessionID, m.cfg.CoalesceInterval, m.now)
	s.onFlush = m.flush
	return s
}

// Emit appends one event to the session's log. Events for unknown sessions
// are dropped with a log line rather than failing the resolution.
func (m *Manager) Emit(sessionID string, stage domain.Stage, message string, payload map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		m.logger.Debug("progress event for unknown session dropped",
			zap.String("session_id", sessionID), zap.String("stage", string(stage)))
		return
	}
	if s.finalized {
		return
	}
	s.append(stage, message, payload)
}

// flush delivers a session's parked event when its bucket timer fires.
func (m *Manager) flush(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[sessionID]; ok {
		s.flushPending()
	}
}

// Snapshot returns the polling view of a session.
func (m *Manager) Snapshot(sessionID string) (*domain.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", sessionID, domain.ErrProductNotFound)
	}
	return s.snapshot(), nil
}

// Subscribe attaches a live listener. The returned backlog replays the log so
// far; the channel carries rate-limited live events and is closed when the
// session finalizes or the cancel function runs. Cancelling only detaches the
// listener, never the resolution itself.
func (m *Manager) Subscribe(sessionID string) ([]domain.ProgressEvent, <-chan domain.ProgressEvent, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil, nil, fmt.Errorf("session %q: %w", sessionID, domain.ErrProductNotFound)
	}

	backlog, ch, subID := s.subscribe()
	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if current, ok := m.sessions[sessionID]; ok && subID >= 0 {
			current.unsubscribe(subID)
		}
	}
	return backlog, ch, cancel, nil
}

// Sweep force-expires overdue sessions and reclaims finalized ones. Exposed
// for tests; Run drives it in production.
func (m *Manager) Sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.sessions {
		if !s.finalized && now.Sub(s.createdAt) > m.cfg.MaxSessionAge {
			m.logger.Warn("force-expiring stalled progress session", zap.String("session_id", id))
			s.append(domain.StageTimeout, "session exceeded maximum age", map[string]any{
				"code":      "TIMEOUT",
				"retryable": true,
			})
			continue
		}
		if s.reclaimable(now, m.cfg.IdleTTL) {
			s.stopFlushTimer()
			delete(m.sessions, id)
		}
	}
}

// Run drives the reaper until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len reports the number of live sessions (for tests and health reporting).
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
