package event

import "encoding/json"

// Kind identifies the type of a server-sent event on the research stream.
type Kind string

const (
	KindNavigation    Kind = "navigation"
	KindMetadata      Kind = "metadata"
	KindProgress      Kind = "progress"
	KindMessageChunk  Kind = "message_chunk"
	KindPlanGenerated Kind = "plan_generated"
	KindArtifact      Kind = "artifact"
	KindSearchResults Kind = "search_results"
	KindAgentOutput   Kind = "agent_output"
	KindNodeStart     Kind = "node_start"
	KindNodeComplete  Kind = "node_complete"
	KindInterrupt     Kind = "interrupt"
	KindComplete      Kind = "complete"
	KindError         Kind = "error"
	KindUnknown       Kind = "unknown"
)

// Event is the discriminated union of everything the research backend emits.
// Concrete types carry the decoded payload; consumers switch on Kind().
type Event interface {
	Kind() Kind
}

// Navigation announces the identity of a newly created session.
// Typically the first event after session creation; registers the
// url-param to thread-id mapping.
type Navigation struct {
	URLParam     string `json:"url_param"`
	ThreadID     string `json:"thread_id"`
	WorkspaceURL string `json:"workspace_url"`
}

func (Navigation) Kind() Kind { return KindNavigation }

// Metadata describes the execution that is about to stream.
// Informational only; attaches to the current execution.
type Metadata struct {
	ExecutionID       string                 `json:"execution_id"`
	ConfigUsed        map[string]interface{} `json:"config_used"`
	ModelInfo         map[string]interface{} `json:"model_info"`
	EstimatedDuration int                    `json:"estimated_duration"`
	StartTime         string                 `json:"start_time"`
}

func (Metadata) Kind() Kind { return KindMetadata }

// Progress reports pipeline progress. UI-only; never persisted to the
// message table.
type Progress struct {
	CurrentStep        string   `json:"current_step"`
	ProgressPercentage int      `json:"progress_percentage"`
	StatusMessage      string   `json:"status_message"`
	StepsCompleted     []string `json:"steps_completed"`
	StepsRemaining     []string `json:"steps_remaining"`
}

func (Progress) Kind() Kind { return KindProgress }

// Option is one choice offered to the user at an interrupt point.
type Option struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// ToolCallChunk is a fragment of a structured tool call, keyed by index so
// interleaved fragments can be reassembled.
type ToolCallChunk struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// MessageChunk carries a content delta for one message. The same message id
// may receive many chunks; the terminal chunk sets FinishReason.
type MessageChunk struct {
	MessageID        string          `json:"message_id"`
	ThreadID         string          `json:"thread_id"`
	Agent            string          `json:"agent,omitempty"`
	Role             string          `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCallChunks   []ToolCallChunk `json:"tool_call_chunks,omitempty"`
	FinishReason     string          `json:"finish_reason,omitempty"`
	Options          []Option        `json:"options,omitempty"`

	// Category is the structured classification tag set by the producer.
	// Optional; when absent, artifact projection falls back to agent-based
	// heuristics.
	Category string `json:"category,omitempty"`
}

func (MessageChunk) Kind() Kind { return KindMessageChunk }

// PlanStep is one step of a generated research plan.
type PlanStep struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	StepType    string `json:"step_type,omitempty"`
}

// PlanGenerated carries a structured research plan from the planner agent.
type PlanGenerated struct {
	ThreadID  string     `json:"thread_id"`
	MessageID string     `json:"message_id"`
	Title     string     `json:"title"`
	Thought   string     `json:"thought,omitempty"`
	Steps     []PlanStep `json:"steps,omitempty"`
}

func (PlanGenerated) Kind() Kind { return KindPlanGenerated }

// Artifact carries a fully-formed artifact payload emitted out-of-band from
// message chunks.
type Artifact struct {
	ArtifactID string                 `json:"artifact_id"`
	ThreadID   string                 `json:"thread_id"`
	Type       string                 `json:"type"`
	Title      string                 `json:"title"`
	Content    string                 `json:"content"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

func (Artifact) Kind() Kind { return KindArtifact }

// SearchResult is one hit returned by the researcher agent's web search.
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchResults carries intermediate research activity from a search step.
type SearchResults struct {
	ThreadID  string         `json:"thread_id"`
	MessageID string         `json:"message_id"`
	Agent     string         `json:"agent,omitempty"`
	Query     string         `json:"query,omitempty"`
	Results   []SearchResult `json:"results"`
}

func (SearchResults) Kind() Kind { return KindSearchResults }

// AgentOutput carries a complete block of output from one agent, used for
// activity that is not streamed chunk-by-chunk.
type AgentOutput struct {
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id"`
	Agent     string `json:"agent"`
	Content   string `json:"content"`
}

func (AgentOutput) Kind() Kind { return KindAgentOutput }

// NodeStart marks a pipeline node beginning execution.
type NodeStart struct {
	NodeName  string `json:"node_name"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id,omitempty"`
}

func (NodeStart) Kind() Kind { return KindNodeStart }

// NodeComplete marks a pipeline node finishing execution.
type NodeComplete struct {
	NodeName  string `json:"node_name"`
	ThreadID  string `json:"thread_id"`
	MessageID string `json:"message_id,omitempty"`
}

func (NodeComplete) Kind() Kind { return KindNodeComplete }

// Interrupt pauses the pipeline until the user picks one of the offered
// options (accept plan, edit plan, etc.).
type Interrupt struct {
	ThreadID  string   `json:"thread_id"`
	MessageID string   `json:"message_id"`
	Options   []Option `json:"options"`
}

func (Interrupt) Kind() Kind { return KindInterrupt }

// Complete terminates an execution; any still-open messages for the
// execution are finalized on receipt.
type Complete struct {
	ExecutionID        string   `json:"execution_id"`
	ThreadID           string   `json:"thread_id,omitempty"`
	FinalStatus        string   `json:"final_status"`
	TotalDuration      int      `json:"total_duration,omitempty"`
	ArtifactsGenerated []string `json:"artifacts_generated,omitempty"`
}

func (Complete) Kind() Kind { return KindComplete }

// Error is a backend-reported or transport-synthesized failure. It never
// corrupts already-applied state; it is surfaced to the UI and ends the
// stream when Terminal is set.
type Error struct {
	ErrorCode    string   `json:"error_code"`
	ErrorMessage string   `json:"error_message"`
	ThreadID     string   `json:"thread_id,omitempty"`
	RetryAfter   int      `json:"retry_after,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`

	// Terminal is set on synthetic transport errors so consumers know the
	// stream will produce no further events.
	Terminal bool `json:"-"`
}

func (Error) Kind() Kind { return KindError }

// Unknown preserves an event the client does not understand.
// The dispatcher drops these with a warning; keeping the raw payload makes
// new backend event types debuggable without a client upgrade.
type Unknown struct {
	Name string
	Data json.RawMessage
}

func (Unknown) Kind() Kind { return KindUnknown }
