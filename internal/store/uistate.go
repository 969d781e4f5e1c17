package store

// UIState is the ephemeral presentation slice for one thread: progress
// reporting, panel visibility, and the single in-flight feedback draft.
// It is never persisted and resets when the thread is cleared.
type UIState struct {
	ThreadID string `json:"thread_id"`

	// Progress mirror of the latest progress event.
	CurrentStep        string   `json:"current_step,omitempty"`
	ProgressPercentage int      `json:"progress_percentage"`
	StatusMessage      string   `json:"status_message,omitempty"`
	StepsCompleted     []string `json:"steps_completed,omitempty"`
	StepsRemaining     []string `json:"steps_remaining,omitempty"`

	// ActiveNode is the pipeline node currently executing, from
	// node_start and node_complete events.
	ActiveNode string `json:"active_node,omitempty"`

	// Panel visibility. Both panels start open; the user may collapse
	// them independently of streaming state.
	ActivityPanelOpen bool `json:"activity_panel_open"`
	ArtifactPanelOpen bool `json:"artifact_panel_open"`

	// Feedback is the single-slot draft reply to a pending interrupt.
	// Writing a new draft replaces the old one; sending clears it.
	Feedback *FeedbackDraft `json:"feedback,omitempty"`
}

// FeedbackDraft is the option the user selected for a pending interrupt,
// held until it is submitted with their next message.
type FeedbackDraft struct {
	MessageID  string `json:"message_id"`
	OptionText string `json:"option_text"`
	Option     string `json:"option"`
}

func (s *Store) ensureUIStateLocked(threadID string) *UIState {
	ui, ok := s.uiStates[threadID]
	if !ok {
		ui = &UIState{
			ThreadID:          threadID,
			ActivityPanelOpen: true,
			ArtifactPanelOpen: true,
		}
		s.uiStates[threadID] = ui
	}
	return ui
}

// UIStateSnapshot returns a copy of the thread's presentation state.
// Threads the store has never seen get the default state back, so callers
// can render without existence checks.
func (s *Store) UIStateSnapshot(threadID string) UIState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ui, ok := s.uiStates[threadID]
	if !ok {
		return UIState{
			ThreadID:          threadID,
			ActivityPanelOpen: true,
			ArtifactPanelOpen: true,
		}
	}
	cp := *ui
	cp.StepsCompleted = append([]string(nil), ui.StepsCompleted...)
	cp.StepsRemaining = append([]string(nil), ui.StepsRemaining...)
	if ui.Feedback != nil {
		f := *ui.Feedback
		cp.Feedback = &f
	}
	return cp
}

// SetActivityPanelOpen toggles the research activity panel.
func (s *Store) SetActivityPanelOpen(threadID string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureUIStateLocked(threadID).ActivityPanelOpen = open
	s.bumpLocked()
}

// SetArtifactPanelOpen toggles the artifact panel.
func (s *Store) SetArtifactPanelOpen(threadID string, open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureUIStateLocked(threadID).ArtifactPanelOpen = open
	s.bumpLocked()
}

// SetFeedback stages a reply to the pending interrupt. A second call
// before submission replaces the draft.
func (s *Store) SetFeedback(threadID string, draft FeedbackDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui := s.ensureUIStateLocked(threadID)
	ui.Feedback = &draft
	s.bumpLocked()
}

// ClearFeedback drops the staged draft, either after submission or when
// the user dismisses it.
func (s *Store) ClearFeedback(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ui, ok := s.uiStates[threadID]
	if !ok || ui.Feedback == nil {
		return
	}
	ui.Feedback = nil
	s.bumpLocked()
}
