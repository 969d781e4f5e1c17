package store

import (
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/event"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason records how a message's stream terminated. Set once.
type FinishReason string

const (
	FinishReasonStop      FinishReason = "stop"
	FinishReasonInterrupt FinishReason = "interrupt"
	FinishReasonToolCalls FinishReason = "tool_calls"
	FinishReasonReask     FinishReason = "reask"

	// FinishReasonCancelled marks a message force-finalized after its
	// stream was aborted. Distinguishable from a normal stop so the UI
	// can label partial output.
	FinishReasonCancelled FinishReason = "cancelled"
)

// MessageSource records how a user message originated. Display-only.
type MessageSource string

const (
	SourceInput  MessageSource = "input"
	SourceButton MessageSource = "button"
	SourceSystem MessageSource = "system"
)

// Message categories set by the producer. Artifact projection trusts these
// before falling back to agent heuristics.
const (
	CategoryPlan          = "plan"
	CategoryReport        = "report"
	CategoryArtifact      = "artifact"
	CategorySearchResults = "search_results"
	CategorySystem        = "system"
)

// Resource is a user-supplied reference attached to a research question.
type Resource struct {
	URI         string `json:"uri"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

// OriginalInput snapshots the raw submission behind a user message so the
// re-ask flow can restore the original query for editing.
type OriginalInput struct {
	Text        string                 `json:"text"`
	Locale      string                 `json:"locale,omitempty"`
	Resources   []Resource             `json:"resources,omitempty"`
	Settings    map[string]interface{} `json:"settings,omitempty"`
	SubmittedAt time.Time              `json:"submitted_at"`
}

// ToolCall is one fully-assembled structured call.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is the atomic unit of conversation and pipeline output.
//
// Content accumulates append-only while IsStreaming is true; a terminal
// event flips IsStreaming exactly once and sets FinishReason. Raw chunks
// are retained so the delivery sequence is recoverable for replay and
// debugging.
type Message struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	Role     Role   `json:"role"`

	// Agent tags which backend pipeline node produced the message; empty
	// means a plain conversational turn.
	Agent string `json:"agent,omitempty"`

	Content       string   `json:"content"`
	ContentChunks []string `json:"content_chunks,omitempty"`

	// ReasoningContent is the parallel "thinking" channel, with the same
	// append semantics as Content.
	ReasoningContent string   `json:"reasoning_content,omitempty"`
	ReasoningChunks  []string `json:"reasoning_chunks,omitempty"`

	ToolCalls      []ToolCall            `json:"tool_calls,omitempty"`
	ToolCallChunks []event.ToolCallChunk `json:"tool_call_chunks,omitempty"`

	IsStreaming  bool         `json:"is_streaming"`
	FinishReason FinishReason `json:"finish_reason,omitempty"`

	// Options is the choice set offered to the user when
	// FinishReason == interrupt.
	Options []event.Option `json:"options,omitempty"`

	Source        MessageSource  `json:"source,omitempty"`
	OriginalInput *OriginalInput `json:"original_input,omitempty"`

	// Category is the producer-set classification tag; used by artifact
	// projection before falling back to agent heuristics.
	Category string `json:"category,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// seq is the global insertion order, used for stable artifact sorting.
	seq uint64
}

// clone returns a deep copy safe to hand to readers outside the store lock.
func (m *Message) clone() *Message {
	cp := *m
	if m.ContentChunks != nil {
		cp.ContentChunks = append([]string(nil), m.ContentChunks...)
	}
	if m.ReasoningChunks != nil {
		cp.ReasoningChunks = append([]string(nil), m.ReasoningChunks...)
	}
	if m.ToolCalls != nil {
		cp.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.ToolCallChunks != nil {
		cp.ToolCallChunks = append([]event.ToolCallChunk(nil), m.ToolCallChunks...)
	}
	if m.Options != nil {
		cp.Options = append([]event.Option(nil), m.Options...)
	}
	if m.OriginalInput != nil {
		oi := *m.OriginalInput
		if m.OriginalInput.Resources != nil {
			oi.Resources = append([]Resource(nil), m.OriginalInput.Resources...)
		}
		cp.OriginalInput = &oi
	}
	return &cp
}

// assembleToolCalls folds accumulated chunks into complete calls, keyed by
// chunk index. Fragments for the same index concatenate their arguments in
// receipt order.
func assembleToolCalls(chunks []event.ToolCallChunk) []ToolCall {
	if len(chunks) == 0 {
		return nil
	}

	byIndex := make(map[int]*ToolCall)
	var order []int
	for _, c := range chunks {
		tc, ok := byIndex[c.Index]
		if !ok {
			tc = &ToolCall{}
			byIndex[c.Index] = tc
			order = append(order, c.Index)
		}
		if c.ID != "" {
			tc.ID = c.ID
		}
		if c.Name != "" {
			tc.Name = c.Name
		}
		tc.Arguments += c.Arguments
	}

	calls := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		calls = append(calls, *byIndex[idx])
	}
	return calls
}
