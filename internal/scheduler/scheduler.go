package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"hdblens/server/internal/syncer"
)

// Scheduler drives periodic sync invocations. Overlap protection lives in
// the sync-state lease, so a tick firing while a manual run is active is
// skipped quietly rather than queued.
type Scheduler struct {
	orchestrator *syncer.Orchestrator
	logger       *logrus.Logger
	cron         *cron.Cron
}

func NewScheduler(orchestrator *syncer.Orchestrator, logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		logger:       logger,
		cron:         cron.New(),
	}
}

// Start registers the sync job under the given cron spec and starts the
// scheduler. An empty spec disables scheduling.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		s.logger.Info("No cron spec configured, scheduler disabled")
		return nil
	}

	_, err := s.cron.AddFunc(spec, s.runSync)
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.WithField("spec", spec).Info("Scheduler started")
	return nil
}

func (s *Scheduler) runSync() {
	result, err := s.orchestrator.RunSync(context.Background())
	if errors.Is(err, syncer.ErrSyncInProgress) {
		s.logger.Info("Skipping scheduled sync, another run is active")
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Scheduled sync failed")
		return
	}

	s.logger.WithFields(logrus.Fields{
		"fetched":  result.Fetched,
		"inserted": result.Inserted,
	}).Info("Scheduled sync completed")
}

// Stop halts the scheduler, waiting for a running job to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
