package workspace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

// CheckpointClient reads a thread's persisted state from the backend's
// checkpoint endpoint. The response is the recorded event log for the
// thread, which replays through the same Apply path as a live stream.
type CheckpointClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewCheckpointClient creates a checkpoint client.
func NewCheckpointClient(baseURL, apiKey string, httpClient *http.Client, log *logger.Logger) *CheckpointClient {
	return &CheckpointClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     log.WithComponent("checkpoint-client"),
	}
}

type checkpointResponse struct {
	ThreadID string `json:"thread_id"`
	Events   []struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	} `json:"events"`
}

// ThreadState fetches and decodes the stored event log for a thread.
// Events that fail to decode are skipped; a partially replayable log is
// better than none.
func (c *CheckpointClient) ThreadState(ctx context.Context, threadID string) ([]event.Event, error) {
	url := fmt.Sprintf("%s/api/threads/%s/state", c.baseURL, threadID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build checkpoint request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("checkpoint request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("checkpoint request returned HTTP %d: %s", resp.StatusCode, string(payload))
	}

	var decoded checkpointResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint response: %w", err)
	}

	events := make([]event.Event, 0, len(decoded.Events))
	for _, raw := range decoded.Events {
		ev, err := event.Decode(raw.Event, raw.Data)
		if err != nil {
			c.logger.Warn("skipping undecodable checkpoint event",
				slog.String("thread_id", threadID),
				slog.String("event", raw.Event),
				slog.String("error", err.Error()))
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}
