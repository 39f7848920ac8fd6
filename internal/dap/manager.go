package dap

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mtn/wayfind/internal/errors"
	"github.com/mtn/wayfind/pkg/types"
)

// Manager tracks live debug sessions, enforces the session cap, and reaps
// sessions that outlive their timeout. Child sessions spawned by reverse
// requests belong to their parent and are torn down with it, so only parents
// are registered here.
type Manager struct {
	log *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*managed

	maxSessions    int
	sessionTimeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

type managed struct {
	session   *Session
	language  types.Language
	program   string
	pid       int
	createdAt time.Time
}

// NewManager creates a session manager and starts its cleanup loop.
func NewManager(maxSessions int, sessionTimeout time.Duration, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		log:            log,
		sessions:       make(map[string]*managed),
		maxSessions:    maxSessions,
		sessionTimeout: sessionTimeout,
		ctx:            ctx,
		cancel:         cancel,
	}
	go m.cleanupLoop()
	return m
}

// Create registers a new session built by construct, which receives the
// allocated session id.
func (m *Manager) Create(language types.Language, program string, construct func(id string) *Session) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.sessions) >= m.maxSessions {
		return nil, errors.SessionLimitReached(m.maxSessions)
	}

	id := uuid.New().String()
	s := construct(id)
	m.sessions[id] = &managed{
		session:   s,
		language:  language,
		program:   program,
		createdAt: time.Now(),
	}
	return s, nil
}

// Get retrieves a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return entry.session, nil
}

// SetPID records the adapter process id for a session, for reporting.
func (m *Manager) SetPID(id string, pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.sessions[id]; ok {
		entry.pid = pid
	}
}

// List snapshots all registered sessions.
func (m *Manager) List() []types.SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.SessionInfo, 0, len(m.sessions))
	for id, entry := range m.sessions {
		out = append(out, types.SessionInfo{
			SessionID: id,
			Language:  entry.language,
			State:     entry.session.State(),
			PID:       entry.pid,
			Program:   entry.program,
			Children:  len(entry.session.Children()),
		})
	}
	return out
}

// Terminate ends a session and removes it from the registry.
func (m *Manager) Terminate(id string) error {
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return errors.SessionNotFound(id)
	}
	return entry.session.Terminate()
}

// Close tears down the manager and every session it tracks.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()

	for id, entry := range sessions {
		if err := entry.session.Terminate(); err != nil {
			m.log.Warn("failed to terminate session during shutdown",
				zap.String("session", id), zap.Error(err))
		}
	}
}

func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.reapExpired()
		}
	}
}

func (m *Manager) reapExpired() {
	now := time.Now()

	m.mu.Lock()
	var expired []*managed
	for id, entry := range m.sessions {
		if now.Sub(entry.createdAt) > m.sessionTimeout {
			expired = append(expired, entry)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, entry := range expired {
		m.log.Info("reaping expired session", zap.String("program", entry.program))
		if err := entry.session.Terminate(); err != nil {
			m.log.Warn("failed to reap session", zap.Error(err))
		}
	}
}
