package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/metrics"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

const sweepTimeout = 2 * time.Minute

// Lifecycle is the part of the conversation service the sweeper drives.
type Lifecycle interface {
	RecoverStale(ctx context.Context, lease time.Duration, limit int) (int, error)
	IdleConversations(ctx context.Context, idleAfter time.Duration, limit int) ([]uuid.UUID, error)
}

// SweepReport describes one sweep.
type SweepReport struct {
	Recovered int
	Scheduled int
}

// Sweeper returns abandoned closes to active and schedules closes for idle
// conversations on a cron schedule.
type Sweeper struct {
	lifecycle Lifecycle
	closes    CloseScheduler
	schedule  string
	lease     time.Duration
	idleAfter time.Duration
	batch     int
	log       *logger.Logger

	// running prevents overlapping sweeps when one outlasts the interval.
	running sync.Mutex
}

func NewSweeper(cfg config.SweeperConfig, lifecycle Lifecycle, closes CloseScheduler, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.Nop()
	}
	batch := cfg.GetSweepBatchSize()
	if batch < 1 {
		batch = 100
	}
	schedule := cfg.GetSweepSchedule()
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &Sweeper{
		lifecycle: lifecycle,
		closes:    closes,
		schedule:  schedule,
		lease:     cfg.GetClosingLease(),
		idleAfter: cfg.GetIdleCloseAfter(),
		batch:     batch,
		log:       log,
	}
}

// Run sweeps on the configured schedule until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	runner := cron.New()
	if _, err := runner.AddFunc(s.schedule, func() { s.tick(ctx) }); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.log.Info("conversation sweeper started", "schedule", s.schedule, "lease", s.lease.String(), "idleAfter", s.idleAfter.String())
	runner.Start()
	<-ctx.Done()
	<-runner.Stop().Done()
	s.log.Info("conversation sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.log.Warn("previous sweep still running, skipping")
		return
	}
	defer s.running.Unlock()

	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	report, err := s.SweepOnce(sweepCtx)
	if err != nil {
		s.log.Error("conversation sweep failed", "error", err)
		return
	}
	if report.Recovered > 0 || report.Scheduled > 0 {
		s.log.Info("conversation sweep finished", "recovered", report.Recovered, "scheduled", report.Scheduled)
	}
}

// SweepOnce performs a single sweep. A failure to schedule one idle
// conversation does not stop the others.
func (s *Sweeper) SweepOnce(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	if s.lease > 0 {
		recovered, err := s.lifecycle.RecoverStale(ctx, s.lease, s.batch)
		if err != nil {
			return report, err
		}
		report.Recovered = recovered
		metrics.RecordSweep("recovered", recovered)
	}

	if s.idleAfter <= 0 || s.closes == nil {
		return report, nil
	}

	ids, err := s.lifecycle.IdleConversations(ctx, s.idleAfter, s.batch)
	if err != nil {
		return report, err
	}
	for _, id := range ids {
		payload := ConversationClosePayload{ConversationID: id.String(), Reason: CloseReasonIdle}
		if err := s.closes.ScheduleClose(ctx, payload); err != nil {
			s.log.Warn("failed to schedule idle close", "conversationId", id, "error", err)
			continue
		}
		report.Scheduled++
	}
	metrics.RecordSweep("scheduled", report.Scheduled)

	return report, nil
}
