package server

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/zoobzio/clockz"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/logging"
)

const (
	// DefaultSessionTimeout is how long an idle session is kept.
	DefaultSessionTimeout = 24 * time.Hour

	// DefaultSessionCleanupInterval is how often idle sessions are pruned.
	DefaultSessionCleanupInterval = 10 * time.Minute
)

// sessionInfo tracks session metadata for cleanup
type sessionInfo struct {
	started    time.Time
	lastAccess time.Time
	requests   int64
}

// SessionInfo is a snapshot of a tracked session.
type SessionInfo struct {
	ID         string    `json:"id"`
	Started    time.Time `json:"started"`
	LastAccess time.Time `json:"last_access"`
	Requests   int64     `json:"requests"`
}

// SessionTracker follows MCP client sessions through mcp-go server hooks
// and keeps the active session gauge in step with them.
type SessionTracker struct {
	sessions       map[string]*sessionInfo
	mu             sync.RWMutex
	metrics        *instrumentation.Metrics
	clock          clockz.Clock
	sessionTimeout time.Duration
	cleanupTicker  *time.Ticker
	cleanupDone    chan struct{}
	stopOnce       sync.Once
	logger         *slog.Logger
}

// SessionTrackerConfig configures a SessionTracker. Zero values select
// defaults. A negative CleanupInterval disables the background cleanup loop.
type SessionTrackerConfig struct {
	Metrics         *instrumentation.Metrics
	Clock           clockz.Clock
	Logger          *slog.Logger
	Timeout         time.Duration
	CleanupInterval time.Duration
}

// NewSessionTracker creates a tracker and starts its cleanup loop unless
// CleanupInterval is negative.
func NewSessionTracker(config SessionTrackerConfig) *SessionTracker {
	if config.Clock == nil {
		config.Clock = clockz.RealClock
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultSessionTimeout
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultSessionCleanupInterval
	}

	t := &SessionTracker{
		sessions:       make(map[string]*sessionInfo),
		metrics:        config.Metrics,
		clock:          config.Clock,
		sessionTimeout: config.Timeout,
		cleanupDone:    make(chan struct{}),
		logger:         logging.WithComponent(config.Logger, "sessions"),
	}

	if config.CleanupInterval > 0 {
		t.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go t.cleanupExpiredSessions()
	}

	return t
}

// Hooks returns mcp-go server hooks that feed the tracker.
func (t *SessionTracker) Hooks() *mcpserver.Hooks {
	hooks := &mcpserver.Hooks{}
	hooks.AddOnRegisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		t.Register(ctx, session.SessionID())
	})
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		t.Unregister(ctx, session.SessionID())
	})
	hooks.AddBeforeAny(func(ctx context.Context, _ any, _ mcp.MCPMethod, _ any) {
		if session := mcpserver.ClientSessionFromContext(ctx); session != nil && session.SessionID() != "" {
			t.Touch(ctx, session.SessionID())
		}
	})
	return hooks
}

// Register starts tracking a session. Registering a known session is a no-op.
func (t *SessionTracker) Register(ctx context.Context, sessionID string) {
	now := t.clock.Now()

	t.mu.Lock()
	_, known := t.sessions[sessionID]
	if !known {
		t.sessions[sessionID] = &sessionInfo{started: now, lastAccess: now}
	}
	t.mu.Unlock()

	if !known {
		t.registered(ctx, sessionID)
	}
}

// Unregister stops tracking a session. Unknown sessions are ignored.
func (t *SessionTracker) Unregister(ctx context.Context, sessionID string) {
	if !t.remove(sessionID) {
		return
	}
	if t.metrics != nil {
		t.metrics.DecrementActiveSessions(ctx)
	}
	t.logger.Debug("session unregistered", slog.String("session_id", sessionID))
}

// Touch records a request on a session. A session first seen here is
// registered, since streamable HTTP sessions do not always pass through the
// register hook.
func (t *SessionTracker) Touch(ctx context.Context, sessionID string) {
	now := t.clock.Now()

	t.mu.Lock()
	info, known := t.sessions[sessionID]
	if !known {
		info = &sessionInfo{started: now}
		t.sessions[sessionID] = info
	}
	info.lastAccess = now
	info.requests++
	t.mu.Unlock()

	if !known {
		t.registered(ctx, sessionID)
	}
}

func (t *SessionTracker) registered(ctx context.Context, sessionID string) {
	if t.metrics != nil {
		t.metrics.IncrementActiveSessions(ctx)
	}
	t.logger.Debug("session registered", slog.String("session_id", sessionID))
}

// Count returns the number of tracked sessions.
func (t *SessionTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// ListSessions returns a snapshot of all tracked sessions ordered by ID.
func (t *SessionTracker) ListSessions() []SessionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sessions := make([]SessionInfo, 0, len(t.sessions))
	for id, info := range t.sessions {
		sessions = append(sessions, SessionInfo{
			ID:         id,
			Started:    info.started,
			LastAccess: info.lastAccess,
			Requests:   info.requests,
		})
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })
	return sessions
}

// PruneExpired drops sessions idle for longer than the session timeout and
// returns how many were removed.
func (t *SessionTracker) PruneExpired(ctx context.Context) int {
	now := t.clock.Now()

	t.mu.Lock()
	var expired []string
	for id, info := range t.sessions {
		if now.Sub(info.lastAccess) > t.sessionTimeout {
			expired = append(expired, id)
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()

	if t.metrics != nil {
		for range expired {
			t.metrics.DecrementActiveSessions(ctx)
		}
	}
	if len(expired) > 0 {
		t.logger.Info("cleaned up expired sessions", slog.Int("count", len(expired)))
	}
	return len(expired)
}

func (t *SessionTracker) remove(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[sessionID]; !ok {
		return false
	}
	delete(t.sessions, sessionID)
	return true
}

// cleanupExpiredSessions periodically removes expired sessions
func (t *SessionTracker) cleanupExpiredSessions() {
	for {
		select {
		case <-t.cleanupTicker.C:
			t.PruneExpired(context.Background())
		case <-t.cleanupDone:
			return
		}
	}
}

// Stop stops the session cleanup goroutine. It is safe to call more than once.
func (t *SessionTracker) Stop() {
	t.stopOnce.Do(func() {
		if t.cleanupTicker != nil {
			t.cleanupTicker.Stop()
		}
		close(t.cleanupDone)
	})
}
