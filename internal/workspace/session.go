package workspace

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

// StopReason explains why a stream session ended early.
type StopReason string

const (
	StopReasonUserCancelled StopReason = "user_cancelled"
	StopReasonReplaced      StopReason = "replaced"
	StopReasonStalled       StopReason = "stalled"
	StopReasonShutdown      StopReason = "shutdown"
)

var errAlreadyStopped = errors.New("stream already stopped")

// StreamSession is one live backend SSE consumption for a thread.
type StreamSession struct {
	ThreadID  string
	StartedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	lastFrame  time.Time
	stopped    bool
	stopReason StopReason
	frames     int
}

// MarkFrame records stream activity, feeding the stall detector.
func (s *StreamSession) MarkFrame() {
	s.mu.Lock()
	s.lastFrame = time.Now()
	s.frames++
	s.mu.Unlock()
}

// Frames returns the number of frames consumed so far.
func (s *StreamSession) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// LastFrame returns the time of the most recent frame, or the session
// start when nothing has arrived yet.
func (s *StreamSession) LastFrame() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastFrame.IsZero() {
		return s.StartedAt
	}
	return s.lastFrame
}

// Stop cancels the session's stream exactly once.
func (s *StreamSession) Stop(reason StopReason) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errAlreadyStopped
	}
	s.stopped = true
	s.stopReason = reason
	s.mu.Unlock()

	s.cancel()
	return nil
}

// IsStopped reports whether Stop has been called.
func (s *StreamSession) IsStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// SessionManager tracks the at-most-one live stream session per thread.
type SessionManager struct {
	logger   *logger.Logger
	sessions map[string]*StreamSession
	mu       sync.RWMutex
}

// NewSessionManager creates a new session manager.
func NewSessionManager(log *logger.Logger) *SessionManager {
	return &SessionManager{
		logger:   log.WithComponent("workspace-session"),
		sessions: make(map[string]*StreamSession),
	}
}

// GetSession retrieves the live session for a thread.
func (sm *SessionManager) GetSession(threadID string) (*StreamSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	session, exists := sm.sessions[threadID]
	return session, exists
}

// CreateSession registers a new session for a thread. An existing live
// session for the same thread is stopped and replaced: rapid duplicate
// sends abort-and-replace rather than stack.
func (sm *SessionManager) CreateSession(parent context.Context, threadID string) *StreamSession {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if existing, exists := sm.sessions[threadID]; exists {
		sm.logger.Warn("replacing existing stream session",
			slog.String("thread_id", threadID),
			slog.Int("frames_consumed", existing.Frames()))
		_ = existing.Stop(StopReasonReplaced)
	}

	ctx, cancel := context.WithCancel(parent)
	session := &StreamSession{
		ThreadID:  threadID,
		StartedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
	}
	sm.sessions[threadID] = session

	sm.logger.Info("stream session created",
		slog.String("thread_id", threadID),
		slog.Int("total_active_sessions", len(sm.sessions)))

	return session
}

// RemoveSession drops a session, but only if it is still the registered
// one: a replaced session must not remove its successor.
func (sm *SessionManager) RemoveSession(session *StreamSession) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if current, exists := sm.sessions[session.ThreadID]; exists && current == session {
		delete(sm.sessions, session.ThreadID)
		sm.logger.Info("stream session removed",
			slog.String("thread_id", session.ThreadID),
			slog.Int("remaining_active_sessions", len(sm.sessions)))
	}
}

// StalledSessions returns sessions with no frames inside the stall
// window.
func (sm *SessionManager) StalledSessions(window time.Duration) []*StreamSession {
	cutoff := time.Now().Add(-window)

	sm.mu.RLock()
	defer sm.mu.RUnlock()

	var stalled []*StreamSession
	for _, s := range sm.sessions {
		if !s.IsStopped() && s.LastFrame().Before(cutoff) {
			stalled = append(stalled, s)
		}
	}
	return stalled
}

// ActiveCount returns the number of registered sessions.
func (sm *SessionManager) ActiveCount() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// StopAll cancels every session, used during shutdown.
func (sm *SessionManager) StopAll(reason StopReason) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, s := range sm.sessions {
		_ = s.Stop(reason)
	}
	sm.sessions = make(map[string]*StreamSession)
}
