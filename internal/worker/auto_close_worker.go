package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/whatsapp-helpdesk/internal/config"
)

const autoCloseBatch = 100

// IdleSweeper closes tickets that saw no activity for idle.
type IdleSweeper interface {
	SweepIdleTickets(ctx context.Context, idle time.Duration, limit int) (int, error)
}

// AutoCloseWorker runs the idle ticket sweep on a cron schedule.
type AutoCloseWorker struct {
	sweeper IdleSweeper
	idle    time.Duration
	timeout time.Duration
	cron    *cron.Cron
	logger  *zap.Logger
}

// NewAutoCloseWorker schedules the sweep. Overlapping runs are skipped.
func NewAutoCloseWorker(sweeper IdleSweeper, cfg config.AutoCloseConfig, logger *zap.Logger) (*AutoCloseWorker, error) {
	w := &AutoCloseWorker{
		sweeper: sweeper,
		idle:    cfg.IdleTimeout(),
		timeout: time.Minute,
		logger:  logger,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
	if _, err := w.cron.AddFunc(cfg.Schedule, w.RunOnce); err != nil {
		return nil, err
	}
	return w, nil
}

// Start begins the schedule in the background.
func (w *AutoCloseWorker) Start() {
	w.logger.Info("auto close worker started", zap.Duration("idle", w.idle))
	w.cron.Start()
}

// Stop halts the schedule and waits for a running sweep.
func (w *AutoCloseWorker) Stop() {
	<-w.cron.Stop().Done()
}

// RunOnce performs one sweep.
func (w *AutoCloseWorker) RunOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	closed, err := w.sweeper.SweepIdleTickets(ctx, w.idle, autoCloseBatch)
	if err != nil {
		w.logger.Error("auto close sweep failed", zap.Error(err))
		return
	}
	if closed > 0 {
		w.logger.Info("idle tickets closed", zap.Int("count", closed))
	}
}
