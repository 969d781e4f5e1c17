package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

// Store is the single writer for normalized workspace state: the message
// table, per-thread research aggregates, the url-param identity mapping,
// and ephemeral UI state.
//
// Key responsibilities:
//   - Normalize streamed events into messages and thread indices
//   - Tolerate out-of-order delivery (chunk-before-create, report-before-
//     research-start) without losing data
//   - Keep cross-thread state fully isolated
//   - Hand out immutable snapshots so readers never observe torn state
//
// Thread-safety:
//   - All mutation goes through Store methods under one mutex
//   - A batch of updates from one SSE frame is applied atomically (see
//     Apply); readers between frames always see a consistent view
//   - Snapshots are deep copies; callers may retain them freely
type Store struct {
	mu sync.RWMutex

	messages  map[string]*Message
	threads   map[string]*Thread
	urlParams map[string]string // url-param -> thread id
	uiStates  map[string]*UIState

	nextSeq uint64
	version uint64

	watchers    map[uint64]chan uint64
	nextWatcher uint64

	// artifact projection cache, invalidated by version
	projCache map[string]projection

	logger *logger.Logger
	now    func() time.Time
}

// New creates an empty workspace store. One store instance serves the
// whole process; construct it at startup and inject it into consumers.
func New(log *logger.Logger) *Store {
	return &Store{
		messages:  make(map[string]*Message),
		threads:   make(map[string]*Thread),
		urlParams: make(map[string]string),
		uiStates:  make(map[string]*UIState),
		watchers:  make(map[uint64]chan uint64),
		projCache: make(map[string]projection),
		logger:    log.WithComponent("workspace-store"),
		now:       time.Now,
	}
}

// Version returns the current mutation counter. It increases by exactly
// one per applied mutation batch.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Watch returns a channel that receives the store version after each
// mutation batch. Notifications coalesce: a slow receiver sees only the
// latest version, never a backlog. The channel closes when ctx is done.
func (s *Store) Watch(ctx context.Context) <-chan uint64 {
	ch := make(chan uint64, 1)

	s.mu.Lock()
	id := s.nextWatcher
	s.nextWatcher++
	s.watchers[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}

// NotifyExternalChange advances the version without mutating state. Used
// when a secondary source (persisted artifact records) changes and
// watchers should rebuild their views.
func (s *Store) NotifyExternalChange() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bumpLocked()
}

// bumpLocked advances the version and notifies watchers. Callers hold the
// write lock.
func (s *Store) bumpLocked() {
	s.version++
	for _, ch := range s.watchers {
		select {
		case ch <- s.version:
		default:
			// Coalesce: replace the stale pending notification.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s.version:
			default:
			}
		}
	}
}

// ---- identity mapping ----

// SetURLParamMapping registers or overwrites the url-param alias for a
// thread. Last write wins.
func (s *Store) SetURLParamMapping(urlParam, threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setURLParamMappingLocked(urlParam, threadID)
	s.bumpLocked()
}

func (s *Store) setURLParamMappingLocked(urlParam, threadID string) {
	if urlParam == "" || threadID == "" {
		return
	}
	s.urlParams[urlParam] = threadID
	t := s.ensureThreadLocked(threadID)
	t.URLParam = urlParam
}

// ThreadIDByURLParam resolves a public url-param to its durable thread id.
// Returns false when the mapping has not arrived yet; callers render an
// empty view rather than failing.
func (s *Store) ThreadIDByURLParam(urlParam string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.urlParams[urlParam]
	return id, ok
}

// ---- message operations ----

// UpsertMessage inserts a message with streaming defaults, or shallow-
// merges non-zero fields into the existing entry. Message insertion into
// the owning thread's ordered list happens here, before any index update
// can reference the id.
func (s *Store) UpsertMessage(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertMessageLocked(msg)
	s.bumpLocked()
}

func (s *Store) upsertMessageLocked(msg Message) *Message {
	existing, ok := s.messages[msg.ID]
	if !ok {
		m := msg.clone()
		if m.Role == "" {
			m.Role = RoleAssistant
		}
		m.IsStreaming = true
		if !msg.IsStreaming && msg.FinishReason != "" {
			m.IsStreaming = false
		}
		m.CreatedAt = s.now()
		m.seq = s.nextSeq
		s.nextSeq++
		s.messages[m.ID] = m
		s.attachToThreadLocked(m)
		return m
	}

	// Shallow-merge: only non-zero incoming fields overwrite.
	if existing.ThreadID == "" && msg.ThreadID != "" {
		existing.ThreadID = msg.ThreadID
		s.attachToThreadLocked(existing)
	}
	if msg.Role != "" {
		existing.Role = msg.Role
	}
	if msg.Agent != "" {
		existing.Agent = msg.Agent
	}
	if msg.Category != "" {
		existing.Category = msg.Category
	}
	if msg.Source != "" {
		existing.Source = msg.Source
	}
	if msg.OriginalInput != nil {
		existing.OriginalInput = msg.OriginalInput
	}
	return existing
}

// attachToThreadLocked links a message into its owning thread's ordered
// list. Messages with an unknown thread (placeholders created by a chunk
// that outran its creation event) stay detached until reconciled.
func (s *Store) attachToThreadLocked(m *Message) {
	if m.ThreadID == "" {
		return
	}
	t := s.ensureThreadLocked(m.ThreadID)
	if !t.hasMessage(m.ID) {
		t.MessageIDs = append(t.MessageIDs, m.ID)
	}
	t.LastActivityAt = s.now()
}

func (s *Store) ensureThreadLocked(threadID string) *Thread {
	t, ok := s.threads[threadID]
	if !ok {
		t = newThread(threadID, s.now())
		s.threads[threadID] = t
	}
	return t
}

// AppendContent concatenates a content delta onto a streaming message and
// records the raw chunk. A chunk arriving before its creation event lazily
// creates a placeholder message so the data is not lost; fields reconcile
// when the creation event lands.
func (s *Store) AppendContent(id, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendContentLocked(id, chunk)
	s.bumpLocked()
}

func (s *Store) appendContentLocked(id, chunk string) {
	if chunk == "" {
		return
	}
	m, ok := s.messages[id]
	if !ok {
		s.logger.Warn("content chunk arrived before message creation, creating placeholder",
			slog.String("message_id", id))
		m = s.upsertMessageLocked(Message{ID: id})
	}
	if !m.IsStreaming {
		// Late chunk after finalization: applied, but flagged as anomalous.
		s.logger.Warn("content chunk for finalized message",
			slog.String("message_id", id),
			slog.String("finish_reason", string(m.FinishReason)))
	}
	m.Content += chunk
	m.ContentChunks = append(m.ContentChunks, chunk)
	s.touchThreadLocked(m.ThreadID)
}

// AppendReasoning concatenates a reasoning ("thinking") delta, with the
// same semantics as AppendContent.
func (s *Store) AppendReasoning(id, chunk string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendReasoningLocked(id, chunk)
	s.bumpLocked()
}

func (s *Store) appendReasoningLocked(id, chunk string) {
	if chunk == "" {
		return
	}
	m, ok := s.messages[id]
	if !ok {
		s.logger.Warn("reasoning chunk arrived before message creation, creating placeholder",
			slog.String("message_id", id))
		m = s.upsertMessageLocked(Message{ID: id})
	}
	m.ReasoningContent += chunk
	m.ReasoningChunks = append(m.ReasoningChunks, chunk)
	s.touchThreadLocked(m.ThreadID)
}

// AppendToolCallChunks accumulates structured tool call fragments and
// reassembles the complete calls, keyed by fragment index.
func (s *Store) AppendToolCallChunks(id string, chunks []event.ToolCallChunk) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendToolCallChunksLocked(id, chunks)
	s.bumpLocked()
}

func (s *Store) appendToolCallChunksLocked(id string, chunks []event.ToolCallChunk) {
	if len(chunks) == 0 {
		return
	}
	m, ok := s.messages[id]
	if !ok {
		s.logger.Warn("tool call chunk arrived before message creation, creating placeholder",
			slog.String("message_id", id))
		m = s.upsertMessageLocked(Message{ID: id})
	}
	m.ToolCallChunks = append(m.ToolCallChunks, chunks...)
	m.ToolCalls = assembleToolCalls(m.ToolCallChunks)
	s.touchThreadLocked(m.ThreadID)
}

// FinalizeMessage flips a message out of streaming exactly once and
// records why. Finalizing an already-terminal message is a logged no-op.
func (s *Store) FinalizeMessage(id string, reason FinishReason, options []event.Option) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeMessageLocked(id, reason, options)
	s.bumpLocked()
}

func (s *Store) finalizeMessageLocked(id string, reason FinishReason, options []event.Option) {
	m, ok := s.messages[id]
	if !ok {
		s.logger.Warn("finalize for unknown message, creating placeholder",
			slog.String("message_id", id),
			slog.String("finish_reason", string(reason)))
		m = s.upsertMessageLocked(Message{ID: id})
	}
	if !m.IsStreaming && m.FinishReason != "" {
		s.logger.Warn("finalize for already-terminal message ignored",
			slog.String("message_id", id),
			slog.String("existing", string(m.FinishReason)),
			slog.String("incoming", string(reason)))
		return
	}
	m.IsStreaming = false
	m.FinishReason = reason
	if len(options) > 0 {
		m.Options = append([]event.Option(nil), options...)
	}
	s.touchThreadLocked(m.ThreadID)
}

func (s *Store) touchThreadLocked(threadID string) {
	if threadID == "" {
		return
	}
	if t, ok := s.threads[threadID]; ok {
		t.LastActivityAt = s.now()
	}
}

// ClearThread removes all messages and index entries for a thread while
// keeping the thread itself addressable. Used only by the explicit
// user-initiated re-ask reset.
func (s *Store) ClearThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	for _, id := range t.MessageIDs {
		delete(s.messages, id)
	}
	urlParam := t.URLParam
	createdAt := t.CreatedAt
	fresh := newThread(threadID, s.now())
	fresh.URLParam = urlParam
	fresh.CreatedAt = createdAt
	s.threads[threadID] = fresh
	delete(s.uiStates, threadID)

	s.logger.Info("thread cleared", slog.String("thread_id", threadID))
	s.bumpLocked()
}

// RemoveThread destroys a thread entirely, e.g. when the user closes a
// task in the multi-task panel.
func (s *Store) RemoveThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	for _, id := range t.MessageIDs {
		delete(s.messages, id)
	}
	if t.URLParam != "" {
		delete(s.urlParams, t.URLParam)
	}
	delete(s.threads, threadID)
	delete(s.uiStates, threadID)
	delete(s.projCache, threadID)

	s.logger.Info("thread removed", slog.String("thread_id", threadID))
	s.bumpLocked()
}

// CancelThreadStreams force-finalizes every still-streaming message in a
// thread with a cancelled finish state. Applied mutations stay intact;
// partial progress remains visible. Used after a stream abort so the UI
// never shows an infinite spinner.
func (s *Store) CancelThreadStreams(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelThreadStreamsLocked(threadID)
	s.bumpLocked()
}

func (s *Store) cancelThreadStreamsLocked(threadID string) {
	t, ok := s.threads[threadID]
	if !ok {
		return
	}
	cancelled := 0
	for _, id := range t.MessageIDs {
		m := s.messages[id]
		if m != nil && m.IsStreaming {
			m.IsStreaming = false
			m.FinishReason = FinishReasonCancelled
			cancelled++
		}
	}
	t.OngoingResearchID = ""
	if cancelled > 0 {
		s.logger.Info("streaming messages force-finalized",
			slog.String("thread_id", threadID),
			slog.Int("cancelled", cancelled))
	}
}

// ---- snapshots ----

// MessageSnapshot returns a deep copy of one message.
func (s *Store) MessageSnapshot(id string) (*Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	return m.clone(), true
}

// ThreadSnapshot returns a deep copy of one thread's aggregate state.
func (s *Store) ThreadSnapshot(threadID string) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// ThreadSnapshotByURLParam resolves the identity mapping first, then
// snapshots. An unknown url-param yields (nil, false), never an error:
// the mapping may simply not have arrived yet.
func (s *Store) ThreadSnapshotByURLParam(urlParam string) (*Thread, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	threadID, ok := s.urlParams[urlParam]
	if !ok {
		return nil, false
	}
	t, ok := s.threads[threadID]
	if !ok {
		return nil, false
	}
	return t.clone(), true
}

// MessagesForThread returns deep copies of a thread's messages in display
// order.
func (s *Store) MessagesForThread(threadID string) []*Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.threads[threadID]
	if !ok {
		return nil
	}
	out := make([]*Message, 0, len(t.MessageIDs))
	for _, id := range t.MessageIDs {
		if m, ok := s.messages[id]; ok {
			out = append(out, m.clone())
		}
	}
	return out
}

// ThreadIDs returns the ids of all known threads.
func (s *Store) ThreadIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.threads))
	for id := range s.threads {
		ids = append(ids, id)
	}
	return ids
}
