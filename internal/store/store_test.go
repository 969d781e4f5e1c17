package store

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
)

func newTestStore() *Store {
	return New(logger.New(logger.Config{Level: slog.LevelError, Format: "text"}))
}

func chunk(threadID, messageID, agent, content string) event.MessageChunk {
	return event.MessageChunk{
		MessageID: messageID,
		ThreadID:  threadID,
		Agent:     agent,
		Role:      "assistant",
		Content:   content,
	}
}

func TestMessageStreamingLifecycle(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "m1", "", "Hello"))
	s.Apply("t1", chunk("t1", "m1", "", ", world"))

	m, ok := s.MessageSnapshot("m1")
	if !ok {
		t.Fatal("expected message m1 to exist")
	}
	if m.Content != "Hello, world" {
		t.Errorf("expected concatenated content, got %q", m.Content)
	}
	if len(m.ContentChunks) != 2 {
		t.Errorf("expected 2 raw chunks, got %d", len(m.ContentChunks))
	}
	if !m.IsStreaming {
		t.Error("expected message to be streaming before terminal chunk")
	}

	final := chunk("t1", "m1", "", "!")
	final.FinishReason = "stop"
	s.Apply("t1", final)

	m, _ = s.MessageSnapshot("m1")
	if m.IsStreaming {
		t.Error("expected streaming to end after terminal chunk")
	}
	if m.FinishReason != FinishReasonStop {
		t.Errorf("expected finish reason stop, got %q", m.FinishReason)
	}
	if m.Content != "Hello, world!" {
		t.Errorf("unexpected final content %q", m.Content)
	}
}

func TestFinalizeIsIdempotent(t *testing.T) {
	s := newTestStore()
	s.UpsertMessage(Message{ID: "m1", ThreadID: "t1"})
	s.FinalizeMessage("m1", FinishReasonInterrupt, []event.Option{{Text: "Accept", Value: "accepted"}})
	s.FinalizeMessage("m1", FinishReasonStop, nil)

	m, _ := s.MessageSnapshot("m1")
	if m.FinishReason != FinishReasonInterrupt {
		t.Errorf("second finalize should be ignored, got %q", m.FinishReason)
	}
	if len(m.Options) != 1 {
		t.Errorf("expected options preserved, got %d", len(m.Options))
	}
}

func TestChunkBeforeCreatePlaceholder(t *testing.T) {
	s := newTestStore()

	// Chunk outruns everything that would establish the message.
	s.AppendContent("m9", "early ")

	m, ok := s.MessageSnapshot("m9")
	if !ok {
		t.Fatal("expected placeholder message")
	}
	if m.Content != "early " {
		t.Errorf("placeholder lost chunk content: %q", m.Content)
	}
	if m.ThreadID != "" {
		t.Errorf("placeholder should be detached, got thread %q", m.ThreadID)
	}

	// Creation event lands later and reconciles thread membership.
	s.Apply("t1", chunk("t1", "m9", event.AgentCoordinator, "late"))

	m, _ = s.MessageSnapshot("m9")
	if m.Content != "early late" {
		t.Errorf("expected reconciled content, got %q", m.Content)
	}
	th, ok := s.ThreadSnapshot("t1")
	if !ok || !contains(th.MessageIDs, "m9") {
		t.Error("expected placeholder attached to thread after reconcile")
	}
}

func TestURLParamMapping(t *testing.T) {
	s := newTestStore()

	if _, ok := s.ThreadIDByURLParam("abc"); ok {
		t.Error("unknown url-param should resolve to nothing")
	}

	s.Apply("", event.Navigation{URLParam: "abc", ThreadID: "t1"})
	if id, _ := s.ThreadIDByURLParam("abc"); id != "t1" {
		t.Errorf("expected t1, got %q", id)
	}

	// Remapping: last write wins.
	s.Apply("", event.Navigation{URLParam: "abc", ThreadID: "t2"})
	if id, _ := s.ThreadIDByURLParam("abc"); id != "t2" {
		t.Errorf("expected remapped t2, got %q", id)
	}
}

func TestResearchUnitGrouping(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "coord-1", event.AgentCoordinator, "Working on it."))
	s.Apply("t1", chunk("t1", "plan-1", event.AgentPlanner, "plan text"))
	s.Apply("t1", chunk("t1", "res-1", event.AgentResearcher, "searching"))
	s.Apply("t1", chunk("t1", "res-2", event.AgentResearcher, "more findings"))
	s.Apply("t1", chunk("t1", "rep-1", event.AgentReporter, "final report"))

	th, _ := s.ThreadSnapshot("t1")
	if len(th.ResearchIDs) != 1 {
		t.Fatalf("expected one research unit, got %d", len(th.ResearchIDs))
	}
	rid := th.ResearchIDs[0]
	if rid != "res-1" {
		t.Errorf("research unit should anchor at first execution message, got %q", rid)
	}
	if th.ResearchPlanIDs[rid] != "plan-1" {
		t.Errorf("unit should claim pending plan, got %q", th.ResearchPlanIDs[rid])
	}
	if th.ResearchReportIDs[rid] != "rep-1" {
		t.Errorf("report should bind to unit, got %q", th.ResearchReportIDs[rid])
	}
	if th.OngoingResearchID != "" {
		t.Error("report should close the ongoing unit")
	}
	want := []string{"res-1", "res-2", "rep-1"}
	got := th.ResearchActivityIDs[rid]
	if len(got) != len(want) {
		t.Fatalf("expected activity %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("activity[%d]: expected %q, got %q", i, want[i], got[i])
		}
	}
	if contains(th.ResearchActivityIDs[rid], "coord-1") {
		t.Error("coordinator chatter must not join research activity")
	}
}

func TestLateAgentTagStillRoutesResearch(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "res-1", event.AgentResearcher, "digging"))

	// The pipeline tags the producer on a later chunk, not the first one.
	s.Apply("t1", chunk("t1", "rep-1", "", "# Findings\n"))
	final := chunk("t1", "rep-1", event.AgentReporter, "the answer")
	final.FinishReason = "stop"
	s.Apply("t1", final)

	th, _ := s.ThreadSnapshot("t1")
	if len(th.ResearchIDs) != 1 {
		t.Fatalf("expected one research unit, got %d", len(th.ResearchIDs))
	}
	rid := th.ResearchIDs[0]
	if th.ResearchReportIDs[rid] != "rep-1" {
		t.Errorf("late-tagged report must still bind to the unit, got %q", th.ResearchReportIDs[rid])
	}
	if th.OngoingResearchID != "" {
		t.Error("report should close the ongoing unit")
	}
}

func TestInterleavedStreamsOrderIndependent(t *testing.T) {
	resChunks := []event.MessageChunk{
		chunk("t1", "res-1", event.AgentResearcher, "Looked at source A. "),
		chunk("t1", "res-1", event.AgentResearcher, "Then source B."),
	}
	long := strings.Repeat("Key finding with supporting detail. ", 4)
	repChunks := []event.MessageChunk{
		chunk("t1", "rep-1", event.AgentReporter, "# Report\n"+long),
		chunk("t1", "rep-1", event.AgentReporter, "Closing remarks."),
	}

	// Same multiset of events, two interleavings; per-message order is
	// preserved and the researcher's first chunk leads in both.
	orderings := [][]event.MessageChunk{
		{resChunks[0], repChunks[0], resChunks[1], repChunks[1]},
		{resChunks[0], resChunks[1], repChunks[0], repChunks[1]},
	}

	var threads []*Thread
	var contents [][2]string
	var artifactSets [][]Artifact
	for _, order := range orderings {
		s := newTestStore()
		for _, c := range order {
			s.Apply("t1", c)
		}
		res, _ := s.MessageSnapshot("res-1")
		rep, _ := s.MessageSnapshot("rep-1")
		th, _ := s.ThreadSnapshot("t1")
		threads = append(threads, th)
		contents = append(contents, [2]string{res.Content, rep.Content})
		artifactSets = append(artifactSets, s.ArtifactsForThread("t1"))
	}

	if contents[0] != contents[1] {
		t.Errorf("final contents differ across interleavings: %q vs %q", contents[0], contents[1])
	}
	if contents[0][0] != "Looked at source A. Then source B." {
		t.Errorf("unexpected researcher content %q", contents[0][0])
	}
	for i, th := range threads {
		if len(th.ResearchIDs) != 1 || th.ResearchIDs[0] != "res-1" {
			t.Errorf("ordering %d: expected unit anchored at res-1, got %v", i, th.ResearchIDs)
		}
		if th.ResearchReportIDs["res-1"] != "rep-1" {
			t.Errorf("ordering %d: report not bound, got %q", i, th.ResearchReportIDs["res-1"])
		}
	}

	// The streaming reporter message projects (long enough), the
	// researcher's never does regardless of arrival order.
	for i, arts := range artifactSets {
		if len(arts) != 1 {
			t.Fatalf("ordering %d: expected exactly one artifact, got %d", i, len(arts))
		}
		if arts[0].ID != "artifact-rep-1" {
			t.Errorf("ordering %d: expected reporter artifact, got %q", i, arts[0].ID)
		}
	}
}

func TestReplanningSupersedesPendingPlan(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "plan-1", event.AgentPlanner, "first draft"))
	s.Apply("t1", chunk("t1", "plan-2", event.AgentPlanner, "revised plan"))
	s.Apply("t1", chunk("t1", "res-1", event.AgentResearcher, "executing"))

	th, _ := s.ThreadSnapshot("t1")
	if th.ResearchPlanIDs["res-1"] != "plan-2" {
		t.Errorf("unit should claim the latest plan, got %q", th.ResearchPlanIDs["res-1"])
	}
}

func TestSecondResearchUnitInSameThread(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "res-1", event.AgentResearcher, "a"))
	s.Apply("t1", chunk("t1", "rep-1", event.AgentReporter, "report one"))
	s.Apply("t1", chunk("t1", "plan-2", event.AgentPlanner, "follow-up plan"))
	s.Apply("t1", chunk("t1", "res-2", event.AgentResearcher, "b"))
	s.Apply("t1", chunk("t1", "rep-2", event.AgentReporter, "report two"))

	th, _ := s.ThreadSnapshot("t1")
	if len(th.ResearchIDs) != 2 {
		t.Fatalf("expected two research units, got %d", len(th.ResearchIDs))
	}
	if th.ResearchReportIDs["res-1"] != "rep-1" || th.ResearchReportIDs["res-2"] != "rep-2" {
		t.Errorf("reports bound to wrong units: %v", th.ResearchReportIDs)
	}
	if th.ResearchPlanIDs["res-2"] != "plan-2" {
		t.Errorf("second unit should claim second plan, got %q", th.ResearchPlanIDs["res-2"])
	}
}

func TestReportWithoutOngoingResearchSynthesizesUnit(t *testing.T) {
	s := newTestStore()

	// Replayed or partially delivered stream: the report is the first
	// execution message we see.
	s.Apply("t1", chunk("t1", "rep-1", event.AgentReporter, "orphan report"))

	th, _ := s.ThreadSnapshot("t1")
	if len(th.ResearchIDs) != 1 || th.ResearchIDs[0] != "rep-1" {
		t.Fatalf("expected synthesized unit anchored at report, got %v", th.ResearchIDs)
	}
	if th.ResearchReportIDs["rep-1"] != "rep-1" {
		t.Error("synthesized unit should carry the report")
	}
	if th.OngoingResearchID != "" {
		t.Error("synthesized unit should be closed immediately")
	}
}

func TestInterruptSingleSlot(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", event.Interrupt{
		ThreadID:  "t1",
		MessageID: "i1",
		Options:   []event.Option{{Text: "Accept", Value: "accepted"}, {Text: "Edit", Value: "edit_plan"}},
	})

	th, _ := s.ThreadSnapshot("t1")
	if th.LastInterruptMessageID != "i1" || th.WaitingForFeedbackMessageID != "i1" {
		t.Error("interrupt pointers not set")
	}
	m, _ := s.MessageSnapshot("i1")
	if m.FinishReason != FinishReasonInterrupt || len(m.Options) != 2 {
		t.Errorf("interrupt message not finalized with options: %+v", m)
	}

	// A newer interrupt displaces the pending one.
	s.Apply("t1", event.Interrupt{ThreadID: "t1", MessageID: "i2"})
	th, _ = s.ThreadSnapshot("t1")
	if th.LastInterruptMessageID != "i2" {
		t.Errorf("expected displaced interrupt, got %q", th.LastInterruptMessageID)
	}

	s.ClearInterrupt("t1")
	th, _ = s.ThreadSnapshot("t1")
	if th.LastInterruptMessageID != "" || th.WaitingForFeedbackMessageID != "" {
		t.Error("interrupt pointers should clear")
	}
}

func TestCompleteFinalizesStreamingMessages(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "partial"))
	s.Apply("t1", chunk("t1", "m2", event.AgentCoordinator, "also partial"))
	s.Apply("t1", event.Complete{ExecutionID: "e1", ThreadID: "t1", FinalStatus: "completed"})

	for _, id := range []string{"m1", "m2"} {
		m, _ := s.MessageSnapshot(id)
		if m.IsStreaming {
			t.Errorf("message %s should be finalized after complete", id)
		}
		if m.FinishReason != FinishReasonStop {
			t.Errorf("message %s: expected stop, got %q", id, m.FinishReason)
		}
	}
	th, _ := s.ThreadSnapshot("t1")
	if th.OngoingResearchID != "" {
		t.Error("complete should close the ongoing research unit")
	}
	ui := s.UIStateSnapshot("t1")
	if ui.ProgressPercentage != 100 {
		t.Errorf("expected progress 100 after complete, got %d", ui.ProgressPercentage)
	}
}

func TestTerminalErrorCancelsStreams(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "partial output"))
	s.Apply("t1", event.Error{ErrorCode: "STREAM_INTERRUPTED", ErrorMessage: "connection lost", Terminal: true})

	m, _ := s.MessageSnapshot("m1")
	if m.IsStreaming {
		t.Error("terminal error should force-finalize streaming messages")
	}
	if m.FinishReason != FinishReasonCancelled {
		t.Errorf("expected cancelled, got %q", m.FinishReason)
	}
	if m.Content != "partial output" {
		t.Error("applied content must survive the error")
	}
	th, _ := s.ThreadSnapshot("t1")
	if th.LastError == nil || th.LastError.ErrorCode != "STREAM_INTERRUPTED" {
		t.Error("expected last error recorded on thread")
	}
}

func TestNonTerminalErrorKeepsStreaming(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "partial"))
	s.Apply("t1", event.Error{ErrorCode: "RATE_LIMITED", ErrorMessage: "slow down", RetryAfter: 30})

	m, _ := s.MessageSnapshot("m1")
	if !m.IsStreaming {
		t.Error("recoverable error must not finalize streaming messages")
	}
}

func TestReaskFinishReasonPreserved(t *testing.T) {
	s := newTestStore()

	c := chunk("t1", "m1", "", "restored question")
	c.FinishReason = "reask"
	s.Apply("t1", c)

	m, _ := s.MessageSnapshot("m1")
	if m.IsStreaming {
		t.Error("reask chunk should finalize the message")
	}
	if m.FinishReason != FinishReasonReask {
		t.Errorf("expected reask finish reason, got %q", m.FinishReason)
	}
}

func TestUnknownEventDropCounted(t *testing.T) {
	s := newTestStore()

	before := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_event"))
	v := s.Version()
	s.Apply("t1", event.Unknown{Name: "mystery"})
	if s.Version() != v {
		t.Error("unknown event must not advance the version")
	}
	after := testutil.ToFloat64(metrics.EventsDropped.WithLabelValues("unknown_event"))
	if after != before+1 {
		t.Errorf("expected drop counter to advance by one, got %v then %v", before, after)
	}
}

func TestOpenResearchUnknownUnitIsNoOp(t *testing.T) {
	s := newTestStore()
	s.Apply("t1", chunk("t1", "res-1", event.AgentResearcher, "digging"))

	v := s.Version()
	s.OpenResearch("t1", "not-a-unit")

	th, _ := s.ThreadSnapshot("t1")
	if th.OpenResearchID != "" {
		t.Errorf("unknown unit must not open, got %q", th.OpenResearchID)
	}
	if s.Version() != v {
		t.Error("ignored open must not advance the version")
	}
}

func TestThreadIsolation(t *testing.T) {
	s := newTestStore()

	s.Apply("t1", chunk("t1", "a1", event.AgentResearcher, "thread one"))
	s.Apply("t2", chunk("t2", "b1", event.AgentResearcher, "thread two"))
	s.Apply("t1", event.Error{ErrorCode: "FATAL", Terminal: true})

	m, _ := s.MessageSnapshot("b1")
	if !m.IsStreaming {
		t.Error("error in t1 must not affect t2 streams")
	}
	t2, _ := s.ThreadSnapshot("t2")
	if t2.LastError != nil {
		t.Error("error in t1 must not surface on t2")
	}
	if contains(t2.MessageIDs, "a1") {
		t.Error("messages leaked across threads")
	}
}

func TestSnapshotsAreDeepCopies(t *testing.T) {
	s := newTestStore()
	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "original"))

	m, _ := s.MessageSnapshot("m1")
	m.Content = "mutated"
	m.ContentChunks[0] = "mutated"

	th, _ := s.ThreadSnapshot("t1")
	th.MessageIDs[0] = "mutated"
	th.ResearchActivityIDs["m1"] = append(th.ResearchActivityIDs["m1"], "mutated")

	fresh, _ := s.MessageSnapshot("m1")
	if fresh.Content != "original" || fresh.ContentChunks[0] != "original" {
		t.Error("message snapshot mutation leaked into store")
	}
	freshT, _ := s.ThreadSnapshot("t1")
	if freshT.MessageIDs[0] != "m1" || len(freshT.ResearchActivityIDs["m1"]) != 1 {
		t.Error("thread snapshot mutation leaked into store")
	}
}

func TestVersionAdvancesOncePerEvent(t *testing.T) {
	s := newTestStore()
	v0 := s.Version()

	// One event touching message, thread index, and interrupt state still
	// moves the version by exactly one.
	final := chunk("t1", "m1", event.AgentPlanner, "plan")
	final.FinishReason = "interrupt"
	final.Options = []event.Option{{Text: "Accept", Value: "accepted"}}
	s.Apply("t1", final)

	if got := s.Version(); got != v0+1 {
		t.Errorf("expected version %d, got %d", v0+1, got)
	}

	// Unknown events change nothing and bump nothing.
	s.Apply("t1", event.Unknown{Name: "future_event"})
	if got := s.Version(); got != v0+1 {
		t.Errorf("unknown event must not bump version, got %d", got)
	}
}

func TestWatchCoalescesNotifications(t *testing.T) {
	s := newTestStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Watch(ctx)

	for i := 0; i < 10; i++ {
		s.AppendContent("m1", "x")
	}

	select {
	case v := <-ch:
		if v == 0 {
			t.Error("expected non-zero version notification")
		}
	case <-time.After(time.Second):
		t.Fatal("expected a watch notification")
	}

	// After draining, the latest pending notification reflects the final
	// version, not an intermediate backlog entry.
	s.AppendContent("m1", "y")
	select {
	case v := <-ch:
		if v != s.Version() {
			t.Errorf("expected latest version %d, got %d", s.Version(), v)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a second watch notification")
	}
}

func TestClearThreadKeepsIdentity(t *testing.T) {
	s := newTestStore()
	s.Apply("", event.Navigation{URLParam: "abc", ThreadID: "t1"})
	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "content"))

	s.ClearThread("t1")

	if _, ok := s.MessageSnapshot("m1"); ok {
		t.Error("messages should be gone after clear")
	}
	th, ok := s.ThreadSnapshot("t1")
	if !ok {
		t.Fatal("thread should survive clear")
	}
	if len(th.MessageIDs) != 0 || len(th.ResearchIDs) != 0 {
		t.Error("thread indices should reset")
	}
	if id, _ := s.ThreadIDByURLParam("abc"); id != "t1" {
		t.Error("url-param mapping should survive clear")
	}
}

func TestRemoveThread(t *testing.T) {
	s := newTestStore()
	s.Apply("", event.Navigation{URLParam: "abc", ThreadID: "t1"})
	s.Apply("t1", chunk("t1", "m1", event.AgentResearcher, "content"))

	s.RemoveThread("t1")

	if _, ok := s.ThreadSnapshot("t1"); ok {
		t.Error("thread should be gone")
	}
	if _, ok := s.MessageSnapshot("m1"); ok {
		t.Error("messages should be gone")
	}
	if _, ok := s.ThreadIDByURLParam("abc"); ok {
		t.Error("url-param mapping should be gone")
	}
}

func TestToolCallAssembly(t *testing.T) {
	s := newTestStore()
	s.UpsertMessage(Message{ID: "m1", ThreadID: "t1"})

	s.AppendToolCallChunks("m1", []event.ToolCallChunk{
		{Index: 0, ID: "call-1", Name: "web_search", Arguments: `{"query":`},
	})
	s.AppendToolCallChunks("m1", []event.ToolCallChunk{
		{Index: 1, ID: "call-2", Name: "crawl", Arguments: `{"url":"x"}`},
		{Index: 0, Arguments: `"go"}`},
	})

	m, _ := s.MessageSnapshot("m1")
	if len(m.ToolCalls) != 2 {
		t.Fatalf("expected 2 assembled calls, got %d", len(m.ToolCalls))
	}
	if m.ToolCalls[0].Name != "web_search" || m.ToolCalls[0].Arguments != `{"query":"go"}` {
		t.Errorf("interleaved fragments misassembled: %+v", m.ToolCalls[0])
	}
	if m.ToolCalls[1].ID != "call-2" {
		t.Errorf("expected second call preserved, got %+v", m.ToolCalls[1])
	}
}

func TestFeedbackDraftSingleSlot(t *testing.T) {
	s := newTestStore()

	ui := s.UIStateSnapshot("t1")
	if !ui.ActivityPanelOpen || !ui.ArtifactPanelOpen {
		t.Error("panels should default open")
	}

	s.SetFeedback("t1", FeedbackDraft{MessageID: "i1", OptionText: "Edit", Option: "edit_plan"})
	s.SetFeedback("t1", FeedbackDraft{MessageID: "i1", OptionText: "Accept", Option: "accepted"})

	ui = s.UIStateSnapshot("t1")
	if ui.Feedback == nil || ui.Feedback.Option != "accepted" {
		t.Errorf("second draft should replace first, got %+v", ui.Feedback)
	}

	s.ClearFeedback("t1")
	if s.UIStateSnapshot("t1").Feedback != nil {
		t.Error("feedback should clear")
	}
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
