package store

import (
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/event"
)

// Thread is one end-to-end research conversation, addressable by its
// durable id and, optionally, a public url-param alias.
//
// All index fields reference message ids that already exist in MessageIDs:
// message insertion always precedes the index update referencing it, so a
// reader never observes a dangling pointer.
type Thread struct {
	ID       string `json:"id"`
	URLParam string `json:"url_param,omitempty"`

	// MessageIDs is the ordered display sequence. No duplicates.
	MessageIDs []string `json:"message_ids"`

	// ResearchIDs are the message ids that start a research unit, in
	// order of appearance. A research unit is identified by its starting
	// message id (deliberate 1:1 coupling).
	ResearchIDs []string `json:"research_ids,omitempty"`

	// ResearchPlanIDs / ResearchReportIDs point each research unit at its
	// plan and report messages, populated as those messages arrive.
	ResearchPlanIDs   map[string]string `json:"research_plan_ids,omitempty"`
	ResearchReportIDs map[string]string `json:"research_report_ids,omitempty"`

	// ResearchActivityIDs holds intermediate activity (search results,
	// agent outputs) per research unit, in receipt order.
	ResearchActivityIDs map[string][]string `json:"research_activity_ids,omitempty"`

	// OngoingResearchID is the at-most-one research unit actively
	// streaming. OpenResearchID is the independent UI selection and may
	// differ from ongoing.
	OngoingResearchID string `json:"ongoing_research_id,omitempty"`
	OpenResearchID    string `json:"open_research_id,omitempty"`

	// currentPlanID remembers the latest planner message that has not yet
	// been claimed by a research unit, so the unit that starts next can
	// pick it up.
	currentPlanID string

	// Interrupt bookkeeping: at most one outstanding interrupt per
	// thread; cleared on feedback or superseded by a newer interrupt.
	LastInterruptMessageID      string `json:"last_interrupt_message_id,omitempty"`
	WaitingForFeedbackMessageID string `json:"waiting_for_feedback_message_id,omitempty"`

	// ExecutionID is the most recent execution announced via metadata.
	ExecutionID string `json:"execution_id,omitempty"`

	// ArtifactHints are out-of-band artifact events, merged by id with
	// the message-derived projection.
	ArtifactHints []event.Artifact `json:"artifact_hints,omitempty"`

	// LastError is the most recent error event for this thread. Purely
	// informational; applied state is never rolled back.
	LastError *event.Error `json:"last_error,omitempty"`

	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

func newThread(id string, now time.Time) *Thread {
	return &Thread{
		ID:                  id,
		ResearchPlanIDs:     make(map[string]string),
		ResearchReportIDs:   make(map[string]string),
		ResearchActivityIDs: make(map[string][]string),
		CreatedAt:           now,
		LastActivityAt:      now,
	}
}

func (t *Thread) hasMessage(id string) bool {
	for _, mid := range t.MessageIDs {
		if mid == id {
			return true
		}
	}
	return false
}

func (t *Thread) hasResearch(id string) bool {
	for _, rid := range t.ResearchIDs {
		if rid == id {
			return true
		}
	}
	return false
}

// clone returns a deep copy safe to hand to readers outside the store lock.
func (t *Thread) clone() *Thread {
	cp := *t
	cp.MessageIDs = append([]string(nil), t.MessageIDs...)
	cp.ResearchIDs = append([]string(nil), t.ResearchIDs...)

	cp.ResearchPlanIDs = make(map[string]string, len(t.ResearchPlanIDs))
	for k, v := range t.ResearchPlanIDs {
		cp.ResearchPlanIDs[k] = v
	}
	cp.ResearchReportIDs = make(map[string]string, len(t.ResearchReportIDs))
	for k, v := range t.ResearchReportIDs {
		cp.ResearchReportIDs[k] = v
	}
	cp.ResearchActivityIDs = make(map[string][]string, len(t.ResearchActivityIDs))
	for k, v := range t.ResearchActivityIDs {
		cp.ResearchActivityIDs[k] = append([]string(nil), v...)
	}

	if t.ArtifactHints != nil {
		cp.ArtifactHints = append([]event.Artifact(nil), t.ArtifactHints...)
	}
	if t.LastError != nil {
		e := *t.LastError
		cp.LastError = &e
	}
	return &cp
}
