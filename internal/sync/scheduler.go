package sync

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"pos-sync-terminal/internal/config"
	"pos-sync-terminal/internal/logger"
	"pos-sync-terminal/internal/model"
)

// ReservationCleaner releases holds left behind by abandoned orders.
type ReservationCleaner interface {
	CleanupExpiredReservations(ctx context.Context, olderThanMinutes int) ([]model.Reservation, error)
}

type Scheduler struct {
	cfg     config.SchedulerConfig
	engine  *Engine
	cleaner ReservationCleaner
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	entries []cron.EntryID
}

func NewScheduler(cfg config.SchedulerConfig, engine *Engine, cleaner ReservationCleaner) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		engine:  engine,
		cleaner: cleaner,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.L().Info("Scheduler is disabled")
		return nil
	}

	logger.L().Info("Starting scheduler",
		zap.String("sync_spec", s.cfg.SyncSpec),
		zap.String("cleanup_spec", s.cfg.CleanupSpec),
	)

	if s.cfg.SyncSpec != "" && s.engine != nil {
		id, err := s.cron.AddFunc(s.cfg.SyncSpec, s.runSync)
		if err != nil {
			return err
		}
		s.entries = append(s.entries, id)
	}
	if s.cfg.CleanupSpec != "" && s.cleaner != nil {
		id, err := s.cron.AddFunc(s.cfg.CleanupSpec, s.runCleanup)
		if err != nil {
			return err
		}
		s.entries = append(s.entries, id)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.L().Info("Stopped scheduler")
}

func (s *Scheduler) runSync() {
	logger.L().Debug("Triggering scheduled sync")

	if s.engine.Trigger() {
		return
	}
	// Background loop not running: do the pass inline.
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Minute)
	defer cancel()
	if _, err := s.engine.SyncOnce(ctx); err != nil {
		logger.L().Warn("Scheduled sync failed", zap.Error(err))
	}
}

func (s *Scheduler) runCleanup() {
	ctx, cancel := context.WithTimeout(s.ctx, time.Minute)
	defer cancel()
	if _, err := s.cleaner.CleanupExpiredReservations(ctx, s.cfg.ReservationTTLMinutes); err != nil {
		logger.L().Error("Reservation cleanup failed", zap.Error(err))
	}
}
