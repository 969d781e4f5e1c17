package store

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
)

// Apply routes one decoded stream event into the store. The whole event is
// applied under a single write lock, so readers see either none or all of
// its effects, and the version advances exactly once per event.
//
// defaultThreadID is the thread the stream session belongs to; events that
// carry their own thread_id override it.
func (s *Store) Apply(defaultThreadID string, ev event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case event.Navigation:
		s.applyNavigationLocked(defaultThreadID, e)
	case event.Metadata:
		s.applyMetadataLocked(defaultThreadID, e)
	case event.Progress:
		s.applyProgressLocked(defaultThreadID, e)
	case event.MessageChunk:
		s.applyMessageChunkLocked(defaultThreadID, e)
	case event.PlanGenerated:
		s.applyPlanGeneratedLocked(defaultThreadID, e)
	case event.Artifact:
		s.applyArtifactLocked(defaultThreadID, e)
	case event.SearchResults:
		s.applySearchResultsLocked(defaultThreadID, e)
	case event.AgentOutput:
		s.applyAgentOutputLocked(defaultThreadID, e)
	case event.NodeStart:
		s.applyNodePhaseLocked(defaultThreadID, e.ThreadID, e.NodeName, true)
	case event.NodeComplete:
		s.applyNodePhaseLocked(defaultThreadID, e.ThreadID, e.NodeName, false)
	case event.Interrupt:
		s.applyInterruptLocked(defaultThreadID, e)
	case event.Complete:
		s.applyCompleteLocked(defaultThreadID, e)
	case event.Error:
		s.applyErrorLocked(defaultThreadID, e)
	case event.Unknown:
		s.logger.Warn("dropping unrecognized stream event",
			slog.String("event", e.Name),
			slog.String("thread_id", defaultThreadID))
		metrics.EventsDropped.WithLabelValues("unknown_event").Inc()
		return // no state change, no version bump
	default:
		s.logger.Warn("dropping unhandled event type",
			slog.String("kind", string(ev.Kind())))
		metrics.EventsDropped.WithLabelValues("unhandled_type").Inc()
		return
	}

	s.bumpLocked()
}

func resolveThread(defaultThreadID, eventThreadID string) string {
	if eventThreadID != "" {
		return eventThreadID
	}
	return defaultThreadID
}

func (s *Store) applyNavigationLocked(defaultThreadID string, e event.Navigation) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	s.setURLParamMappingLocked(e.URLParam, threadID)
	s.logger.Info("session identity registered",
		slog.String("url_param", e.URLParam),
		slog.String("thread_id", threadID))
}

func (s *Store) applyMetadataLocked(defaultThreadID string, e event.Metadata) {
	t := s.ensureThreadLocked(defaultThreadID)
	t.ExecutionID = e.ExecutionID
	t.LastActivityAt = s.now()
}

func (s *Store) applyProgressLocked(defaultThreadID string, e event.Progress) {
	ui := s.ensureUIStateLocked(defaultThreadID)
	ui.CurrentStep = e.CurrentStep
	ui.ProgressPercentage = e.ProgressPercentage
	ui.StatusMessage = e.StatusMessage
	ui.StepsCompleted = append([]string(nil), e.StepsCompleted...)
	ui.StepsRemaining = append([]string(nil), e.StepsRemaining...)
}

// applyMessageChunkLocked is the workhorse: creation and append collapse
// into one event type, so the first chunk for an id both creates the
// message and routes it into the research aggregates.
func (s *Store) applyMessageChunkLocked(defaultThreadID string, e event.MessageChunk) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)

	prev, existed := s.messages[e.MessageID]
	agentWasUnknown := !existed || prev.Agent == ""
	m := s.upsertMessageLocked(Message{
		ID:       e.MessageID,
		ThreadID: threadID,
		Role:     Role(e.Role),
		Agent:    e.Agent,
		Category: e.Category,
	})

	// Route on first sight, and again when a later chunk reveals the
	// producing agent: the first chunk is not guaranteed to carry it.
	if !existed || (agentWasUnknown && m.Agent != "") {
		s.routeNewMessageLocked(threadID, m)
	}

	if e.Content != "" {
		s.appendContentLocked(e.MessageID, e.Content)
	}
	if e.ReasoningContent != "" {
		s.appendReasoningLocked(e.MessageID, e.ReasoningContent)
	}
	if len(e.ToolCallChunks) > 0 {
		s.appendToolCallChunksLocked(e.MessageID, e.ToolCallChunks)
	}

	switch e.FinishReason {
	case "":
		// still streaming
	case "interrupt":
		s.setInterruptLocked(threadID, e.MessageID, e.Options)
	case "tool_calls":
		s.finalizeMessageLocked(e.MessageID, FinishReasonToolCalls, e.Options)
	case "reask":
		s.finalizeMessageLocked(e.MessageID, FinishReasonReask, e.Options)
	default:
		s.finalizeMessageLocked(e.MessageID, FinishReasonStop, e.Options)
	}
}

// routeNewMessageLocked updates the research aggregates for a message seen
// for the first time, based on its producing agent.
func (s *Store) routeNewMessageLocked(threadID string, m *Message) {
	t := s.ensureThreadLocked(threadID)
	switch m.Agent {
	case event.AgentPlanner:
		s.recordPlanLocked(threadID, m.ID)
	case event.AgentResearcher, event.AgentCoder:
		s.markResearchStartLocked(threadID, m.ID)
	case event.AgentReporter, event.AgentPodcastGenerator:
		s.recordReportLocked(threadID, m.ID)
	case event.AgentCoordinator, "":
		// conversational turn, no aggregate update
	default:
		if t.OngoingResearchID != "" {
			s.appendActivityLocked(t, t.OngoingResearchID, m.ID)
		}
	}
}

func (s *Store) applyPlanGeneratedLocked(defaultThreadID string, e event.PlanGenerated) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)

	_, existed := s.messages[e.MessageID]
	s.upsertMessageLocked(Message{
		ID:       e.MessageID,
		ThreadID: threadID,
		Role:     RoleAssistant,
		Agent:    event.AgentPlanner,
		Category: CategoryPlan,
	})
	if !existed {
		s.recordPlanLocked(threadID, e.MessageID)
	}
	s.appendContentLocked(e.MessageID, renderPlan(e))
	s.finalizeMessageLocked(e.MessageID, FinishReasonStop, nil)
}

// renderPlan turns a structured plan into the markdown the workspace
// displays and the artifact projection captures.
func renderPlan(e event.PlanGenerated) string {
	var b strings.Builder
	if e.Title != "" {
		fmt.Fprintf(&b, "# %s\n\n", e.Title)
	}
	if e.Thought != "" {
		fmt.Fprintf(&b, "%s\n\n", e.Thought)
	}
	for i, step := range e.Steps {
		fmt.Fprintf(&b, "%d. **%s**", i+1, step.Title)
		if step.Description != "" {
			fmt.Fprintf(&b, ": %s", step.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// applyArtifactLocked records an out-of-band artifact payload. Hints merge
// by artifact id, newest wins.
func (s *Store) applyArtifactLocked(defaultThreadID string, e event.Artifact) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	t := s.ensureThreadLocked(threadID)
	for i := range t.ArtifactHints {
		if t.ArtifactHints[i].ArtifactID == e.ArtifactID {
			t.ArtifactHints[i] = e
			return
		}
	}
	t.ArtifactHints = append(t.ArtifactHints, e)
	t.LastActivityAt = s.now()
}

func (s *Store) applySearchResultsLocked(defaultThreadID string, e event.SearchResults) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	agent := e.Agent
	if agent == "" {
		agent = event.AgentResearcher
	}

	_, existed := s.messages[e.MessageID]
	s.upsertMessageLocked(Message{
		ID:       e.MessageID,
		ThreadID: threadID,
		Role:     RoleTool,
		Agent:    agent,
		Category: CategorySearchResults,
	})
	if !existed {
		s.markResearchStartLocked(threadID, e.MessageID)
	}
	s.appendContentLocked(e.MessageID, renderSearchResults(e))
	s.finalizeMessageLocked(e.MessageID, FinishReasonStop, nil)
}

func renderSearchResults(e event.SearchResults) string {
	var b strings.Builder
	if e.Query != "" {
		fmt.Fprintf(&b, "Searched: %s\n\n", e.Query)
	}
	for _, r := range e.Results {
		fmt.Fprintf(&b, "- [%s](%s)", r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, " %s", r.Snippet)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (s *Store) applyAgentOutputLocked(defaultThreadID string, e event.AgentOutput) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)

	_, existed := s.messages[e.MessageID]
	m := s.upsertMessageLocked(Message{
		ID:       e.MessageID,
		ThreadID: threadID,
		Role:     RoleAssistant,
		Agent:    e.Agent,
	})
	if !existed {
		s.routeNewMessageLocked(threadID, m)
	}
	s.appendContentLocked(e.MessageID, e.Content)
	s.finalizeMessageLocked(e.MessageID, FinishReasonStop, nil)
}

func (s *Store) applyNodePhaseLocked(defaultThreadID, eventThreadID, nodeName string, started bool) {
	threadID := resolveThread(defaultThreadID, eventThreadID)
	ui := s.ensureUIStateLocked(threadID)
	if started {
		ui.ActiveNode = nodeName
	} else if ui.ActiveNode == nodeName {
		ui.ActiveNode = ""
	}
	s.touchThreadLocked(threadID)
}

func (s *Store) applyInterruptLocked(defaultThreadID string, e event.Interrupt) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	s.setInterruptLocked(threadID, e.MessageID, e.Options)
}

// applyCompleteLocked ends the execution: every still-streaming message is
// finalized so no spinner outlives its stream, and the ongoing research
// unit, if any, closes without a report.
func (s *Store) applyCompleteLocked(defaultThreadID string, e event.Complete) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	for _, id := range t.MessageIDs {
		if m := s.messages[id]; m != nil && m.IsStreaming {
			s.finalizeMessageLocked(id, FinishReasonStop, nil)
		}
	}
	t.OngoingResearchID = ""

	ui := s.ensureUIStateLocked(threadID)
	ui.ProgressPercentage = 100
	ui.CurrentStep = ""
	ui.ActiveNode = ""
	ui.StatusMessage = e.FinalStatus

	s.logger.Info("execution complete",
		slog.String("thread_id", threadID),
		slog.String("execution_id", e.ExecutionID),
		slog.String("final_status", e.FinalStatus),
		slog.Int("artifacts_generated", len(e.ArtifactsGenerated)))
}

// applyErrorLocked surfaces a failure without rolling back applied state.
// Terminal transport errors additionally force-finalize streaming messages
// so partial output stays readable.
func (s *Store) applyErrorLocked(defaultThreadID string, e event.Error) {
	threadID := resolveThread(defaultThreadID, e.ThreadID)
	t := s.ensureThreadLocked(threadID)
	t.LastError = &e
	t.LastActivityAt = s.now()

	s.logger.Error("stream error event",
		slog.String("thread_id", threadID),
		slog.String("error_code", e.ErrorCode),
		slog.String("error_message", e.ErrorMessage),
		slog.Bool("terminal", e.Terminal))

	if e.Terminal {
		s.cancelThreadStreamsLocked(threadID)
	}
}
