package stream

import (
	"bufio"
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

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
	"github.com/yadra-ai/workspace-gateway/internal/metrics"
)

const (
	// maxFrameSize is the maximum size of a single SSE line in bytes.
	// Prevents individual frames from consuming excessive memory.
	maxFrameSize = 1024 * 1024 // 1MB

	// defaultReadTimeout is the maximum lifetime of one stream read.
	// Prevents hanging forever if the backend becomes unresponsive.
	defaultReadTimeout = 10 * time.Minute
)

// Client opens research streams against the backend and decodes them into
// typed event sequences.
//
// Key behaviors:
//   - Events are yielded in the exact order the backend wrote them
//   - Aborting the context ends the sequence cleanly, never with a panic
//     or an error pushed to the consumer
//   - Transport failures (connection drop, non-2xx) surface as a single
//     synthetic terminal Error event so callers can always finish their
//     receive loop and run cleanup
//   - Frames that fail JSON parsing are dropped with a logged warning;
//     the stream continues
type Client struct {
	httpClient  *http.Client
	readTimeout time.Duration
	logger      *logger.Logger
}

// NewClient creates a stream client. A nil httpClient falls back to a
// client with no overall timeout (streams are long-lived; the read timeout
// is enforced per stream via context).
func NewClient(httpClient *http.Client, readTimeout time.Duration, log *logger.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}
	return &Client{
		httpClient:  httpClient,
		readTimeout: readTimeout,
		logger:      log.WithComponent("stream-client"),
	}
}

// Open POSTs the payload to the endpoint and returns the decoded event
// sequence. The returned channel is closed when the stream ends for any
// reason; it always terminates.
func (c *Client) Open(ctx context.Context, endpoint string, payload interface{}) <-chan event.Event {
	events := make(chan event.Event, 16)

	go func() {
		defer close(events)
		c.run(ctx, endpoint, payload, events)
	}()

	return events
}

func (c *Client) run(ctx context.Context, endpoint string, payload interface{}, events chan<- event.Event) {
	log := c.logger.WithContext(ctx)

	body, err := json.Marshal(payload)
	if err != nil {
		c.emit(ctx, events, transportError("ENCODE_FAILED", fmt.Sprintf("failed to encode request: %v", err)))
		return
	}

	readCtx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(readCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		c.emit(ctx, events, transportError("REQUEST_FAILED", fmt.Sprintf("failed to build request: %v", err)))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isCanceled(ctx, err) {
			log.Debug("stream request canceled before connect")
			return
		}
		c.emit(ctx, events, transportError("CONNECT_FAILED", fmt.Sprintf("failed to connect: %v", err)))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Read a bounded slice of the body for the error message.
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Warn("stream request rejected",
			slog.Int("status", resp.StatusCode),
			slog.String("detail", string(detail)))
		c.emit(ctx, events, transportError(
			fmt.Sprintf("HTTP_%d", resp.StatusCode),
			strings.TrimSpace(string(detail))))
		return
	}

	// The deadline rides on the request; cancellation decisions below are
	// made against the caller's context so a timeout is not mistaken for a
	// cooperative abort.
	c.readFrames(ctx, resp.Body, events, log)
}

// readFrames scans SSE frames off the response body and emits decoded
// events in receipt order.
func (c *Client) readFrames(ctx context.Context, body io.Reader, events chan<- event.Event, log *logger.Logger) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize) // 64KB initial, 1MB max

	var (
		frameName string
		frameData []string
		frames    int
	)

	flush := func() bool {
		if len(frameData) == 0 {
			frameName = ""
			return true
		}
		name := frameName
		if name == "" {
			name = string(event.KindMessageChunk)
		}
		data := strings.Join(frameData, "\n")
		frameName = ""
		frameData = nil

		ev, err := event.Decode(name, []byte(data))
		if err != nil {
			log.Warn("dropping malformed frame",
				slog.String("event", name),
				slog.String("error", err.Error()))
			metrics.EventsDropped.WithLabelValues("malformed_frame").Inc()
			return true
		}
		frames++
		return c.emit(ctx, events, ev)
	}

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			log.Info("stream read stopped", slog.Int("frames_read", frames))
			return
		default:
		}

		line := scanner.Text()

		// An empty line terminates the current frame.
		if strings.TrimSpace(line) == "" {
			if !flush() {
				return
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			frameName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			frameData = append(frameData, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case strings.HasPrefix(line, ":"):
			// SSE comment/keepalive, ignore.
		default:
			log.Debug("ignoring unrecognized SSE field", slog.String("line", truncate(line, 120)))
		}
	}

	// Flush a final unterminated frame; some backends omit the trailing
	// blank line before closing the connection.
	if !flush() {
		return
	}

	if err := scanner.Err(); err != nil {
		if isCanceled(ctx, err) {
			// Cooperative cancellation: everything read so far is already
			// delivered; end the sequence without an error.
			log.Info("stream read canceled", slog.Int("frames_read", frames))
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("stream read timed out",
				slog.Duration("read_timeout", c.readTimeout),
				slog.Int("frames_read", frames))
			c.emit(ctx, events, transportError("STREAM_TIMEOUT",
				fmt.Sprintf("no complete response within %s", c.readTimeout)))
			return
		}
		log.Error("stream read failed",
			slog.String("error", err.Error()),
			slog.Int("frames_read", frames))
		c.emit(ctx, events, transportError("STREAM_INTERRUPTED", err.Error()))
		return
	}

	log.Info("stream completed", slog.Int("frames_read", frames))
}

// emit delivers one event, respecting cancellation. Returns false when the
// consumer is gone.
func (c *Client) emit(ctx context.Context, events chan<- event.Event, ev event.Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func transportError(code, message string) event.Error {
	return event.Error{
		ErrorCode:    code,
		ErrorMessage: message,
		Suggestions:  []string{"retry the request"},
		Terminal:     true,
	}
}

func isCanceled(ctx context.Context, err error) bool {
	return errors.Is(err, context.Canceled) || ctx.Err() != nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
