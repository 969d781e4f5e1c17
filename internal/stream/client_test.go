package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yadra-ai/workspace-gateway/internal/event"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

func testClient() *Client {
	log := logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
	return NewClient(nil, 5*time.Second, log)
}

func collect(t *testing.T, ch <-chan event.Event) []event.Event {
	t.Helper()
	var out []event.Event
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatal("stream did not terminate")
		}
	}
}

func sseServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("expected SSE accept header, got %q", accept)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenDecodesFramesInOrder(t *testing.T) {
	srv := sseServer(t, ""+
		"event: navigation\n"+
		"data: {\"url_param\":\"abc\",\"thread_id\":\"t1\"}\n"+
		"\n"+
		": keepalive comment\n"+
		"event: message_chunk\n"+
		"data: {\"message_id\":\"m1\",\"thread_id\":\"t1\",\"content\":\"hello\"}\n"+
		"\n"+
		"event: complete\n"+
		"data: {\"execution_id\":\"e1\",\"final_status\":\"completed\"}\n"+
		"\n")

	events := collect(t, testClient().Open(context.Background(), srv.URL, map[string]string{"q": "x"}))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d: %#v", len(events), events)
	}
	if _, ok := events[0].(event.Navigation); !ok {
		t.Errorf("expected navigation first, got %T", events[0])
	}
	chunk, ok := events[1].(event.MessageChunk)
	if !ok || chunk.Content != "hello" {
		t.Errorf("expected message chunk second, got %#v", events[1])
	}
	if _, ok := events[2].(event.Complete); !ok {
		t.Errorf("expected complete last, got %T", events[2])
	}
}

func TestMalformedFrameSkippedStreamContinues(t *testing.T) {
	srv := sseServer(t, ""+
		"event: message_chunk\n"+
		"data: {not json\n"+
		"\n"+
		"event: message_chunk\n"+
		"data: {\"message_id\":\"m2\",\"content\":\"ok\"}\n"+
		"\n")

	events := collect(t, testClient().Open(context.Background(), srv.URL, nil))

	if len(events) != 1 {
		t.Fatalf("expected malformed frame dropped, got %d events", len(events))
	}
	chunk := events[0].(event.MessageChunk)
	if chunk.MessageID != "m2" {
		t.Errorf("wrong surviving event: %+v", chunk)
	}
}

func TestFrameWithoutEventNameDefaultsToMessageChunk(t *testing.T) {
	srv := sseServer(t, "data: {\"message_id\":\"m1\",\"content\":\"x\"}\n\n")

	events := collect(t, testClient().Open(context.Background(), srv.URL, nil))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if _, ok := events[0].(event.MessageChunk); !ok {
		t.Errorf("expected default message_chunk, got %T", events[0])
	}
}

func TestFinalUnterminatedFrameFlushed(t *testing.T) {
	srv := sseServer(t, ""+
		"event: complete\n"+
		"data: {\"execution_id\":\"e1\",\"final_status\":\"completed\"}\n")

	events := collect(t, testClient().Open(context.Background(), srv.URL, nil))
	if len(events) != 1 {
		t.Fatalf("expected trailing frame flushed, got %d events", len(events))
	}
}

func TestNon2xxEmitsSingleTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	events := collect(t, testClient().Open(context.Background(), srv.URL, nil))

	if len(events) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(events))
	}
	errEv, ok := events[0].(event.Error)
	if !ok {
		t.Fatalf("expected Error event, got %T", events[0])
	}
	if errEv.ErrorCode != "HTTP_502" || !errEv.Terminal {
		t.Errorf("unexpected error event: %+v", errEv)
	}
}

func TestConnectFailureEmitsSingleTerminalError(t *testing.T) {
	events := collect(t, testClient().Open(context.Background(), "http://127.0.0.1:1", nil))

	if len(events) != 1 {
		t.Fatalf("expected exactly one error event, got %d", len(events))
	}
	errEv := events[0].(event.Error)
	if errEv.ErrorCode != "CONNECT_FAILED" || !errEv.Terminal {
		t.Errorf("unexpected error event: %+v", errEv)
	}
}

func TestReadTimeoutEmitsTerminalError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_chunk\ndata: {\"message_id\":\"m1\",\"content\":\"partial\"}\n\n")
		w.(http.Flusher).Flush()
		// Stall without closing; only the client's read deadline ends this.
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	log := logger.New(logger.Config{Level: slog.LevelError, Format: "text"})
	client := NewClient(nil, 200*time.Millisecond, log)

	events := collect(t, client.Open(context.Background(), srv.URL, nil))

	if len(events) != 2 {
		t.Fatalf("expected chunk plus terminal error, got %d: %#v", len(events), events)
	}
	errEv, ok := events[1].(event.Error)
	if !ok {
		t.Fatalf("a stalled backend must surface a terminal error, got %T", events[1])
	}
	if errEv.ErrorCode != "STREAM_TIMEOUT" || !errEv.Terminal {
		t.Errorf("unexpected error event: %+v", errEv)
	}
}

func TestCancellationEndsStreamCleanly(t *testing.T) {
	started := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: message_chunk\ndata: {\"message_id\":\"m1\",\"content\":\"a\"}\n\n")
		w.(http.Flusher).Flush()
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	ch := testClient().Open(ctx, srv.URL, nil)

	// First event arrives, then we abort mid-stream.
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("expected first event")
	}
	<-started
	cancel()

	// The channel must close without a synthetic error: cancellation is
	// not a failure.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if errEv, isErr := ev.(event.Error); isErr {
				t.Fatalf("cancellation must not surface an error event: %+v", errEv)
			}
		case <-deadline:
			t.Fatal("channel did not close after cancellation")
		}
	}
}
