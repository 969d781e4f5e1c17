package workspace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

const (
	// NATS subject for stream cancellation requests
	streamCancelSubject = "workspace.stream.cancel"

	// Timeout for distributed cancel requests
	distributedCancelTimeout = 5 * time.Second
)

// CancelRequest represents a distributed stream cancellation request.
type CancelRequest struct {
	ThreadID  string `json:"thread_id"`
	StoppedBy string `json:"stopped_by"`
	Reason    string `json:"reason"`
}

// CancelResponse represents the result of a distributed cancel operation.
type CancelResponse struct {
	Success        bool   `json:"success"`
	Found          bool   `json:"found"`
	AlreadyStopped bool   `json:"already_stopped,omitempty"`
	FramesConsumed int    `json:"frames_consumed,omitempty"`
	Error          string `json:"error,omitempty"`
	InstanceID     string `json:"instance_id"`
}

// DistributedCancelService handles cross-instance stream cancellation via NATS.
//
// Stream sessions live in-memory on the instance that opened the backend
// stream. When a stop request lands on a different instance, this service
// broadcasts the cancel over NATS pub/sub and the owning instance acts on
// it and replies.
type DistributedCancelService struct {
	nc           *nats.Conn
	service      *Service
	logger       *logger.Logger
	instanceID   string
	subscription *nats.Subscription
}

// NewDistributedCancelService creates a new distributed cancel service.
// Returns nil if NATS connection is not available.
func NewDistributedCancelService(nc *nats.Conn, service *Service, log *logger.Logger, instanceID string) *DistributedCancelService {
	if nc == nil {
		return nil
	}

	return &DistributedCancelService{
		nc:         nc,
		service:    service,
		logger:     log.WithComponent("distributed-cancel"),
		instanceID: instanceID,
	}
}

// Start begins listening for distributed cancel requests.
// This should be called once during server startup.
func (s *DistributedCancelService) Start() error {
	sub, err := s.nc.Subscribe(streamCancelSubject, s.handleCancelRequest)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", streamCancelSubject, err)
	}

	s.subscription = sub
	s.logger.Info("distributed cancel service started",
		slog.String("subject", streamCancelSubject),
		slog.String("instance_id", s.instanceID))

	return nil
}

// Stop gracefully shuts down the service.
func (s *DistributedCancelService) Stop() error {
	if s.subscription != nil {
		if err := s.subscription.Drain(); err != nil {
			return fmt.Errorf("failed to drain subscription: %w", err)
		}
	}
	s.logger.Info("distributed cancel service stopped")
	return nil
}

// RequestCancel sends a cancel request to all instances and waits for a
// response from the instance that owns the session. A timeout means no
// instance owns it.
func (s *DistributedCancelService) RequestCancel(ctx context.Context, threadID, stoppedBy string) (*CancelResponse, error) {
	req := CancelRequest{
		ThreadID:  threadID,
		StoppedBy: stoppedBy,
		Reason:    string(StopReasonUserCancelled),
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, distributedCancelTimeout)
	defer cancel()

	msg, err := s.nc.RequestWithContext(reqCtx, streamCancelSubject, data)
	if err != nil {
		// No subscribers on the subject
		if errors.Is(err, nats.ErrNoResponders) {
			return &CancelResponse{Success: false, Found: false}, nil
		}
		// Timeout - no instance owns this session
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return &CancelResponse{Success: false, Found: false}, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel request failed: %w", err)
	}

	var resp CancelResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return &resp, nil
}

// handleCancelRequest processes incoming cancel requests from other
// instances. Only the instance that owns the session replies; everyone
// else stays silent.
func (s *DistributedCancelService) handleCancelRequest(msg *nats.Msg) {
	var req CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("received invalid cancel request", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("received cancel request",
		slog.String("thread_id", req.ThreadID),
		slog.String("stopped_by", req.StoppedBy))

	session, ok := s.service.Sessions().GetSession(req.ThreadID)
	if !ok {
		s.logger.Debug("session not owned by this instance, ignoring",
			slog.String("thread_id", req.ThreadID))
		return
	}

	resp := s.processLocalCancel(session, req)
	resp.InstanceID = s.instanceID

	s.reply(msg, resp)

	s.logger.Info("processed distributed cancel request",
		slog.String("thread_id", req.ThreadID),
		slog.Bool("success", resp.Success))
}

// processLocalCancel stops a local session and returns the result.
func (s *DistributedCancelService) processLocalCancel(session *StreamSession, req CancelRequest) CancelResponse {
	err := session.Stop(StopReason(req.Reason))
	if err != nil {
		if errors.Is(err, errAlreadyStopped) {
			return CancelResponse{Success: false, Found: true, AlreadyStopped: true}
		}
		return CancelResponse{Success: false, Found: true, Error: err.Error()}
	}

	s.service.Store().CancelThreadStreams(req.ThreadID)

	return CancelResponse{
		Success:        true,
		Found:          true,
		FramesConsumed: session.Frames(),
	}
}

// reply sends a response back to the requester.
func (s *DistributedCancelService) reply(msg *nats.Msg, resp CancelResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("failed to marshal response", slog.String("error", err.Error()))
		return
	}

	if err := msg.Respond(data); err != nil {
		s.logger.Error("failed to send response", slog.String("error", err.Error()))
	}
}
