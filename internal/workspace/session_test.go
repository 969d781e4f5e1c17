package workspace

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
}

func TestCreateSessionReplacesExisting(t *testing.T) {
	sm := NewSessionManager(testLogger())

	first := sm.CreateSession(context.Background(), "t1")
	second := sm.CreateSession(context.Background(), "t1")

	if !first.IsStopped() {
		t.Error("replaced session should be stopped")
	}
	if second.IsStopped() {
		t.Error("replacement session should be live")
	}
	if sm.ActiveCount() != 1 {
		t.Errorf("expected 1 active session, got %d", sm.ActiveCount())
	}

	select {
	case <-first.ctx.Done():
	case <-time.After(time.Second):
		t.Error("replaced session context should be cancelled")
	}
}

func TestRemoveSessionIgnoresSuperseded(t *testing.T) {
	sm := NewSessionManager(testLogger())

	first := sm.CreateSession(context.Background(), "t1")
	second := sm.CreateSession(context.Background(), "t1")

	// The replaced session's consumer exits late and must not evict its
	// successor.
	sm.RemoveSession(first)
	if got, ok := sm.GetSession("t1"); !ok || got != second {
		t.Error("successor session should remain registered")
	}

	sm.RemoveSession(second)
	if sm.ActiveCount() != 0 {
		t.Errorf("expected 0 active sessions, got %d", sm.ActiveCount())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	sm := NewSessionManager(testLogger())
	s := sm.CreateSession(context.Background(), "t1")

	if err := s.Stop(StopReasonUserCancelled); err != nil {
		t.Fatalf("first stop should succeed: %v", err)
	}
	if err := s.Stop(StopReasonStalled); err == nil {
		t.Error("second stop should report already stopped")
	}
}

func TestStalledSessions(t *testing.T) {
	sm := NewSessionManager(testLogger())

	stalled := sm.CreateSession(context.Background(), "t1")
	stalled.mu.Lock()
	stalled.lastFrame = time.Now().Add(-10 * time.Minute)
	stalled.mu.Unlock()

	active := sm.CreateSession(context.Background(), "t2")
	active.MarkFrame()

	got := sm.StalledSessions(5 * time.Minute)
	if len(got) != 1 || got[0].ThreadID != "t1" {
		t.Fatalf("expected only t1 stalled, got %d sessions", len(got))
	}

	// Stopped sessions are not reported again.
	_ = stalled.Stop(StopReasonStalled)
	if got := sm.StalledSessions(5 * time.Minute); len(got) != 0 {
		t.Errorf("stopped session should not be flagged, got %d", len(got))
	}
}
