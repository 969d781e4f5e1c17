package workspace

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/yadra-ai/workspace-gateway/internal/artifacts"
	"github.com/yadra-ai/workspace-gateway/internal/logger"
)

const artifactRecordRetention = 30 * 24 * time.Hour

// Sweeper runs the periodic maintenance jobs: flagging stream sessions
// that stopped producing frames, and pruning old artifact records.
type Sweeper struct {
	cron    *cron.Cron
	service *Service
	records *artifacts.Storage
	stall   time.Duration
	logger  *logger.Logger
}

// NewSweeper creates the sweeper. records may be nil when no database is
// configured; the cleanup job is skipped then.
func NewSweeper(service *Service, records *artifacts.Storage, stall time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		cron:    cron.New(),
		service: service,
		records: records,
		stall:   stall,
		logger:  log.WithComponent("sweeper"),
	}
}

// Start schedules the jobs and runs the cron loop in the background.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("* * * * *", s.sweepStalledSessions); err != nil {
		return err
	}
	if s.records != nil {
		if _, err := s.cron.AddFunc("30 3 * * *", s.cleanupArtifactRecords); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("sweeper started", slog.Duration("stall_window", s.stall))
	return nil
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sweeper stopped")
}

// sweepStalledSessions stops sessions with no frames inside the stall
// window and force-finalizes their streaming messages.
func (s *Sweeper) sweepStalledSessions() {
	stalled := s.service.Sessions().StalledSessions(s.stall)
	for _, session := range stalled {
		s.logger.Warn("stalled stream session, cancelling",
			slog.String("thread_id", session.ThreadID),
			slog.Time("last_frame", session.LastFrame()),
			slog.Int("frames", session.Frames()))

		if err := session.Stop(StopReasonStalled); err != nil {
			continue
		}
		s.service.Store().CancelThreadStreams(session.ThreadID)
	}
}

func (s *Sweeper) cleanupArtifactRecords() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.records.CleanupOldRecords(ctx, artifactRecordRetention); err != nil {
		s.logger.Error("artifact record cleanup failed", slog.String("error", err.Error()))
	}
}
