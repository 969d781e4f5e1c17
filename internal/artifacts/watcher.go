package artifacts

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

const (
	notifyChannel = "artifact_records_changed"

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second
)

// Watcher follows row changes on artifact_records via LISTEN/NOTIFY and
// invokes the refresh callback with the changed trace id. It lets the
// gateway pick up artifacts written by the backend out-of-band, without
// polling.
type Watcher struct {
	listener *pq.Listener
	logger   *logger.Logger
	onChange func(traceID string)
}

// NewWatcher creates a watcher on the given database URL. onChange runs
// on the watcher goroutine; it must not block.
func NewWatcher(databaseURL string, log *logger.Logger, onChange func(traceID string)) *Watcher {
	w := &Watcher{
		logger:   log.WithComponent("artifact-watcher"),
		onChange: onChange,
	}
	w.listener = pq.NewListener(databaseURL, listenerMinReconnect, listenerMaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				w.logger.Error("listener connection event",
					slog.Int("event", int(ev)),
					slog.String("error", err.Error()))
			}
		})
	return w
}

// Start subscribes to the notify channel and runs until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.listener.Listen(notifyChannel); err != nil {
		return err
	}
	w.logger.Info("artifact watcher started", slog.String("channel", notifyChannel))

	go w.run(ctx)
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer func() {
		if err := w.listener.Close(); err != nil {
			w.logger.Warn("failed to close listener", slog.String("error", err.Error()))
		}
	}()

	ping := time.NewTicker(listenerPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("artifact watcher stopped")
			return
		case n := <-w.listener.Notify:
			// A nil notification signals a reconnect; callers should
			// refresh everything they care about, so we pass the empty
			// trace id through.
			traceID := ""
			if n != nil {
				traceID = n.Extra
			}
			w.logger.Debug("artifact records changed", slog.String("trace_id", traceID))
			w.onChange(traceID)
		case <-ping.C:
			if err := w.listener.Ping(); err != nil {
				w.logger.Warn("listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}
