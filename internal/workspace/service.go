package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/yadra-ai/workspace-gateway/internal/artifacts"
	"github.com/yadra-ai/workspace-gateway/internal/config"
	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
	"github.com/yadra-ai/workspace-gateway/internal/store"
	"github.com/yadra-ai/workspace-gateway/internal/stream"
)

const maxQuestionRunes = 2000

var (
	ErrEmptyQuestion      = errors.New("question must not be empty")
	ErrQuestionTooLong    = errors.New("question exceeds maximum length")
	ErrUnknownWorkspace   = errors.New("unknown workspace")
	ErrNoPendingInterrupt = errors.New("no pending interrupt to answer")
	ErrNoActiveStream     = errors.New("no active stream for thread")
	ErrNothingToReask     = errors.New("no original input recorded for thread")
)

// Service drives the research workflow: it talks to the backend's ask and
// stream endpoints, consumes events into the store, and exposes the
// actions the HTTP layer calls.
type Service struct {
	logger   *logger.Logger
	cfg      *config.Config
	store    *store.Store
	streams  *stream.Client
	sessions *SessionManager

	checkpoints *CheckpointClient
	records     *artifacts.Storage // nil when no database is configured
	cancelSvc   *DistributedCancelService

	httpClient *http.Client
}

// NewService creates the workspace service. records may be nil when the
// gateway runs without a database.
func NewService(log *logger.Logger, cfg *config.Config, st *store.Store, records *artifacts.Storage) *Service {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	return &Service{
		logger:      log.WithComponent("workspace"),
		cfg:         cfg,
		store:       st,
		streams:     stream.NewClient(nil, cfg.StreamReadTimeout, log),
		sessions:    NewSessionManager(log),
		checkpoints: NewCheckpointClient(cfg.BackendBaseURL, cfg.BackendAPIKey, httpClient, log),
		records:     records,
		httpClient:  httpClient,
	}
}

// SetDistributedCancel attaches the NATS-backed cancel service, wired
// after construction because both sides need the session manager.
func (s *Service) SetDistributedCancel(svc *DistributedCancelService) {
	s.cancelSvc = svc
}

// Sessions exposes the session manager for the distributed cancel service
// and the sweeper.
func (s *Service) Sessions() *SessionManager {
	return s.sessions
}

// Store exposes the underlying workspace store.
func (s *Service) Store() *store.Store {
	return s.store
}

// AskRequest is a new research question or a follow-up in an existing
// thread.
type AskRequest struct {
	Question  string                 `json:"question"`
	AskType   string                 `json:"ask_type,omitempty"` // initial | followup
	ThreadID  string                 `json:"thread_id,omitempty"`
	Locale    string                 `json:"locale,omitempty"`
	Resources []store.Resource       `json:"resources,omitempty"`
	Config    *config.ResearchConfig `json:"config,omitempty"`
}

// AskResponse is the backend's session identity for a new research run.
type AskResponse struct {
	URLParam     string `json:"url_param"`
	ThreadID     string `json:"thread_id"`
	WorkspaceURL string `json:"workspace_url,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}

// streamPayload is the body posted to the backend stream endpoint.
type streamPayload struct {
	ThreadID          string                 `json:"thread_id"`
	Question          string                 `json:"question"`
	InterruptFeedback string                 `json:"interrupt_feedback,omitempty"`
	Resources         []store.Resource       `json:"resources,omitempty"`
	Config            *config.ResearchConfig `json:"config,omitempty"`
}

// AskResearch validates the question, registers the run with the backend,
// records the user message, and starts consuming the event stream.
func (s *Service) AskResearch(ctx context.Context, req AskRequest) (*AskResponse, error) {
	log := s.logger.WithContext(ctx)

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		return nil, fmt.Errorf("%w: %d runes, max %d", ErrQuestionTooLong, utf8.RuneCountInString(question), maxQuestionRunes)
	}
	if req.Config == nil {
		req.Config = s.cfg.Research
	}
	if req.AskType == "" {
		req.AskType = "initial"
	}
	req.Question = question

	resp, err := s.postAsk(ctx, req)
	if err != nil {
		return nil, err
	}

	s.store.SetURLParamMapping(resp.URLParam, resp.ThreadID)
	s.recordUserMessage(resp.ThreadID, question, req.Locale, req.Resources, store.SourceInput)
	metrics.ResearchStarted.Inc()

	s.startStream(resp.ThreadID, streamPayload{
		ThreadID:  resp.ThreadID,
		Question:  question,
		Resources: req.Resources,
		Config:    req.Config,
	})

	log.Info("research started",
		slog.String("thread_id", resp.ThreadID),
		slog.String("url_param", resp.URLParam),
		slog.String("ask_type", req.AskType))

	return resp, nil
}

func (s *Service) postAsk(ctx context.Context, req AskRequest) (*AskResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ask request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.cfg.BackendBaseURL+"/api/research/ask", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build ask request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.cfg.BackendAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.cfg.BackendAPIKey)
	}

	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ask request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(httpResp.Body, 2048))
		return nil, fmt.Errorf("ask request returned HTTP %d: %s", httpResp.StatusCode, string(payload))
	}

	var resp AskResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("failed to decode ask response: %w", err)
	}
	if resp.ThreadID == "" {
		return nil, errors.New("ask response missing thread_id")
	}
	return &resp, nil
}

// SendMessageOptions carries the optional parts of a user send.
type SendMessageOptions struct {
	Resources         []store.Resource
	InterruptFeedback string
	Locale            string
}

// SendMessage records the user's message and opens a fresh event stream
// for the thread. A send while a stream is already live aborts and
// replaces it. Interrupt feedback rides along and clears the pending
// interrupt.
func (s *Service) SendMessage(ctx context.Context, threadID, text string, opts SendMessageOptions) error {
	log := s.logger.WithContext(ctx)

	text = strings.TrimSpace(text)
	if text == "" && opts.InterruptFeedback == "" {
		return ErrEmptyQuestion
	}
	if utf8.RuneCountInString(text) > maxQuestionRunes {
		return ErrQuestionTooLong
	}

	source := store.SourceInput
	if opts.InterruptFeedback != "" {
		source = store.SourceButton
		s.store.ClearInterrupt(threadID)
		s.store.ClearFeedback(threadID)
	}
	s.recordUserMessage(threadID, text, opts.Locale, opts.Resources, source)

	s.startStream(threadID, streamPayload{
		ThreadID:          threadID,
		Question:          text,
		InterruptFeedback: opts.InterruptFeedback,
		Resources:         opts.Resources,
		Config:            s.cfg.Research,
	})

	log.Info("message sent",
		slog.String("thread_id", threadID),
		slog.Bool("interrupt_feedback", opts.InterruptFeedback != ""))
	return nil
}

// SubmitFeedback answers the pending interrupt on the workspace addressed
// by urlParam.
func (s *Service) SubmitFeedback(ctx context.Context, urlParam, option, optionText string) error {
	threadID, ok := s.store.ThreadIDByURLParam(urlParam)
	if !ok {
		return ErrUnknownWorkspace
	}
	th, ok := s.store.ThreadSnapshot(threadID)
	if !ok || th.WaitingForFeedbackMessageID == "" {
		return ErrNoPendingInterrupt
	}

	s.store.SetFeedback(threadID, store.FeedbackDraft{
		MessageID:  th.WaitingForFeedbackMessageID,
		Option:     option,
		OptionText: optionText,
	})

	text := optionText
	if text == "" {
		text = option
	}
	return s.SendMessage(ctx, threadID, text, SendMessageOptions{InterruptFeedback: option})
}

// Reask resets the workspace addressed by urlParam and re-submits the
// most recent user question from its recorded original input. The thread
// keeps its identity mapping; messages, research units, and UI state are
// rebuilt by the new stream.
func (s *Service) Reask(ctx context.Context, urlParam string) error {
	log := s.logger.WithContext(ctx)

	threadID, ok := s.store.ThreadIDByURLParam(urlParam)
	if !ok {
		return ErrUnknownWorkspace
	}

	var original *store.OriginalInput
	msgs := s.store.MessagesForThread(threadID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == store.RoleUser && msgs[i].OriginalInput != nil {
			original = msgs[i].OriginalInput
			break
		}
	}
	if original == nil {
		return ErrNothingToReask
	}

	if session, ok := s.sessions.GetSession(threadID); ok {
		if err := session.Stop(StopReasonReplaced); err != nil && !errors.Is(err, errAlreadyStopped) {
			return err
		}
	}
	s.store.ClearThread(threadID)

	s.store.UpsertMessage(store.Message{
		ID:            uuid.New().String(),
		ThreadID:      threadID,
		Role:          store.RoleUser,
		Content:       original.Text,
		IsStreaming:   false,
		FinishReason:  store.FinishReasonReask,
		Source:        store.SourceInput,
		OriginalInput: original,
	})

	s.startStream(threadID, streamPayload{
		ThreadID:  threadID,
		Question:  original.Text,
		Resources: original.Resources,
		Config:    s.cfg.Research,
	})

	log.Info("workspace re-asked",
		slog.String("thread_id", threadID),
		slog.String("url_param", urlParam))
	return nil
}

// StopResearch cancels the live stream for a thread. When this instance
// does not own the session the cancel is broadcast over NATS so the
// owning instance can act.
func (s *Service) StopResearch(ctx context.Context, threadID, stoppedBy string) error {
	log := s.logger.WithContext(ctx)

	if session, ok := s.sessions.GetSession(threadID); ok {
		if err := session.Stop(StopReasonUserCancelled); err != nil && !errors.Is(err, errAlreadyStopped) {
			return err
		}
		s.store.CancelThreadStreams(threadID)
		log.Info("research stopped locally",
			slog.String("thread_id", threadID),
			slog.String("stopped_by", stoppedBy))
		return nil
	}

	if s.cancelSvc != nil {
		resp, err := s.cancelSvc.RequestCancel(ctx, threadID, stoppedBy)
		if err != nil {
			return err
		}
		if resp.Found {
			// The owning instance stopped the stream; mirror the forced
			// finalization locally in case we hold a stale copy.
			s.store.CancelThreadStreams(threadID)
			return nil
		}
	}

	return ErrNoActiveStream
}

// Attach folds the backend's checkpoint state for a thread into the
// store, used when a client opens a workspace that has no live stream on
// this instance.
func (s *Service) Attach(ctx context.Context, threadID string) error {
	events, err := s.checkpoints.ThreadState(ctx, threadID)
	if err != nil {
		return err
	}
	for _, ev := range events {
		s.store.Apply(threadID, ev)
	}
	s.logger.WithContext(ctx).Info("workspace attached from checkpoint",
		slog.String("thread_id", threadID),
		slog.Int("events_replayed", len(events)))
	return nil
}

// View is the consistent read model served to clients: one thread's
// messages, research aggregates, artifacts, and UI state at a single
// store version.
type View struct {
	Version   uint64           `json:"version"`
	Thread    *store.Thread    `json:"thread"`
	Messages  []*store.Message `json:"messages"`
	Artifacts []store.Artifact `json:"artifacts"`
	UIState   store.UIState    `json:"ui_state"`
}

// ViewByURLParam assembles a workspace view through the identity mapping.
// Unknown url-params resolve to (nil, false); the mapping may simply not
// have arrived yet.
func (s *Service) ViewByURLParam(ctx context.Context, urlParam string) (*View, bool) {
	threadID, ok := s.store.ThreadIDByURLParam(urlParam)
	if !ok {
		return nil, false
	}

	thread, ok := s.store.ThreadSnapshot(threadID)
	if !ok {
		return nil, false
	}

	arts := s.store.ArtifactsForThread(threadID)
	if s.records != nil {
		recs, err := s.records.RecordsForTrace(ctx, threadID)
		if err != nil {
			s.logger.Warn("failed to load artifact records, serving projection only",
				slog.String("thread_id", threadID),
				slog.String("error", err.Error()))
		} else {
			arts = artifacts.Merge(arts, recs)
		}
	}

	return &View{
		Version:   s.store.Version(),
		Thread:    thread,
		Messages:  s.store.MessagesForThread(threadID),
		Artifacts: arts,
		UIState:   s.store.UIStateSnapshot(threadID),
	}, true
}

// Shutdown stops every live stream session.
func (s *Service) Shutdown() {
	s.sessions.StopAll(StopReasonShutdown)
}

func (s *Service) recordUserMessage(threadID, text, locale string, resources []store.Resource, source store.MessageSource) {
	s.store.UpsertMessage(store.Message{
		ID:           uuid.New().String(),
		ThreadID:     threadID,
		Role:         store.RoleUser,
		Content:      text,
		IsStreaming:  false,
		FinishReason: store.FinishReasonStop,
		Source:       source,
		OriginalInput: &store.OriginalInput{
			Text:        text,
			Locale:      locale,
			Resources:   resources,
			SubmittedAt: time.Now(),
		},
	})
}

// startStream opens a backend SSE stream for the thread and consumes it
// on a dedicated goroutine until the channel closes.
func (s *Service) startStream(threadID string, payload streamPayload) {
	session := s.sessions.CreateSession(context.Background(), threadID)
	metrics.ActiveStreams.Inc()

	go s.consume(session, payload)
}

func (s *Service) consume(session *StreamSession, payload streamPayload) {
	defer func() {
		metrics.ActiveStreams.Dec()
		s.sessions.RemoveSession(session)
	}()

	endpoint := s.cfg.BackendBaseURL + "/api/research/stream"
	events := s.streams.Open(session.ctx, endpoint, payload)

	for ev := range events {
		session.MarkFrame()
		metrics.EventsApplied.WithLabelValues(string(ev.Kind())).Inc()
		if errEv, ok := ev.(event.Error); ok {
			metrics.StreamErrors.WithLabelValues(errEv.ErrorCode).Inc()
		}
		s.store.Apply(session.ThreadID, ev)
	}

	// Stream ended. If it was stopped rather than completing naturally,
	// force-finalize whatever was still streaming so the UI settles.
	if session.IsStopped() {
		s.store.CancelThreadStreams(session.ThreadID)
	}

	s.logger.Info("stream session finished",
		slog.String("thread_id", session.ThreadID),
		slog.Int("frames", session.Frames()),
		slog.Bool("stopped", session.IsStopped()))
}
