package store

import (
	"log/slog"

	"github.com/yadra-ai/workspace-gateway/internal/event"
)

// Research units are identified by the id of the message that started
// them. A unit begins when an execution-agent message arrives while no
// unit is ongoing, accumulates activity messages, claims the latest
// unclaimed plan, and closes when its report lands.

// MarkResearchStart opens a new research unit anchored at the given
// message if the thread has no ongoing unit; otherwise the message joins
// the current unit's activity list.
func (s *Store) MarkResearchStart(threadID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markResearchStartLocked(threadID, messageID)
	s.bumpLocked()
}

func (s *Store) markResearchStartLocked(threadID, messageID string) {
	t := s.ensureThreadLocked(threadID)
	if t.OngoingResearchID == "" {
		s.startResearchLocked(t, messageID)
		return
	}
	s.appendActivityLocked(t, t.OngoingResearchID, messageID)
}

// startResearchLocked opens a unit anchored at messageID and claims the
// pending plan, if any.
func (s *Store) startResearchLocked(t *Thread, messageID string) {
	t.OngoingResearchID = messageID
	if !t.hasResearch(messageID) {
		t.ResearchIDs = append(t.ResearchIDs, messageID)
	}
	t.ResearchActivityIDs[messageID] = appendUnique(t.ResearchActivityIDs[messageID], messageID)
	if t.currentPlanID != "" {
		t.ResearchPlanIDs[messageID] = t.currentPlanID
		t.currentPlanID = ""
	}
	s.logger.Info("research unit started",
		slog.String("thread_id", t.ID),
		slog.String("research_id", messageID))
}

// RecordPlan registers a planner message. If a unit is ongoing and has no
// plan yet, the plan binds to it immediately; otherwise it is held as the
// pending plan for the next unit to claim.
func (s *Store) RecordPlan(threadID, planMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordPlanLocked(threadID, planMessageID)
	s.bumpLocked()
}

func (s *Store) recordPlanLocked(threadID, planMessageID string) {
	t := s.ensureThreadLocked(threadID)
	if t.OngoingResearchID != "" {
		if _, claimed := t.ResearchPlanIDs[t.OngoingResearchID]; !claimed {
			t.ResearchPlanIDs[t.OngoingResearchID] = planMessageID
			return
		}
	}
	// Replanning: the newest plan supersedes any unclaimed predecessor.
	t.currentPlanID = planMessageID
}

// RecordReport binds a reporter message to the ongoing research unit and
// closes the unit. A report with no ongoing unit (replayed or partially
// delivered streams) synthesizes a unit from the report itself so the
// content is never dropped.
func (s *Store) RecordReport(threadID, reportMessageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordReportLocked(threadID, reportMessageID)
	s.bumpLocked()
}

func (s *Store) recordReportLocked(threadID, reportMessageID string) {
	t := s.ensureThreadLocked(threadID)
	researchID := t.OngoingResearchID
	if researchID == "" {
		s.logger.Warn("report with no ongoing research unit, synthesizing unit",
			slog.String("thread_id", threadID),
			slog.String("report_message_id", reportMessageID))
		s.startResearchLocked(t, reportMessageID)
		researchID = reportMessageID
	}
	t.ResearchReportIDs[researchID] = reportMessageID
	t.ResearchActivityIDs[researchID] = appendUnique(t.ResearchActivityIDs[researchID], reportMessageID)
	t.OngoingResearchID = ""
	s.logger.Info("research unit completed",
		slog.String("thread_id", threadID),
		slog.String("research_id", researchID))
}

// AppendActivity adds a message to a research unit's ordered activity
// list, ignoring duplicates.
func (s *Store) AppendActivity(threadID, researchID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.ensureThreadLocked(threadID)
	s.appendActivityLocked(t, researchID, messageID)
	s.bumpLocked()
}

func (s *Store) appendActivityLocked(t *Thread, researchID, messageID string) {
	if researchID == "" || messageID == "" {
		return
	}
	t.ResearchActivityIDs[researchID] = appendUnique(t.ResearchActivityIDs[researchID], messageID)
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// OpenResearch marks a research unit as expanded in the activity panel.
func (s *Store) OpenResearch(threadID, researchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || !t.hasResearch(researchID) {
		s.logger.Warn("open research ignored for unknown unit",
			slog.String("thread_id", threadID),
			slog.String("research_id", researchID))
		return
	}
	t.OpenResearchID = researchID
	s.bumpLocked()
}

// CloseResearch collapses the activity panel for the thread.
func (s *Store) CloseResearch(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	t.OpenResearchID = ""
	s.bumpLocked()
}

// ---- interrupt / feedback ----

// SetInterrupt records that the workflow paused waiting for human input
// on the given message. A thread holds at most one pending interrupt;
// a newer one displaces the older.
func (s *Store) SetInterrupt(threadID, messageID string, options []event.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setInterruptLocked(threadID, messageID, options)
	s.bumpLocked()
}

func (s *Store) setInterruptLocked(threadID, messageID string, options []event.Option) {
	t := s.ensureThreadLocked(threadID)
	if t.LastInterruptMessageID != "" && t.LastInterruptMessageID != messageID {
		s.logger.Warn("new interrupt displaces pending interrupt",
			slog.String("thread_id", threadID),
			slog.String("old", t.LastInterruptMessageID),
			slog.String("new", messageID))
	}
	t.LastInterruptMessageID = messageID
	t.WaitingForFeedbackMessageID = messageID
	s.finalizeMessageLocked(messageID, FinishReasonInterrupt, options)
}

// ClearInterrupt resets the pending-feedback pointers once the user has
// responded (or the run was aborted).
func (s *Store) ClearInterrupt(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	t.LastInterruptMessageID = ""
	t.WaitingForFeedbackMessageID = ""
	s.bumpLocked()
}
