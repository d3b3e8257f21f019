package sync

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nhle/mailcross/internal/logging"
)

// DefaultCleanupSchedule runs the cache sweep once a minute.
const DefaultCleanupSchedule = "@every 1m"

// Cleaner is anything with a cache sweep, normally the Orchestrator.
type Cleaner interface {
	CleanupCache() int
}

// Housekeeper triggers CleanupCache on a cron schedule.
type Housekeeper struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewHousekeeper registers the sweep. The schedule accepts standard
// five-field specs and descriptors such as "@every 30s".
func NewHousekeeper(c Cleaner, schedule string, logger *zap.Logger) (*Housekeeper, error) {
	logger = logging.OrNop(logger)
	if schedule == "" {
		schedule = DefaultCleanupSchedule
	}

	cl := cronLogger{logger.Sugar()}
	scheduler := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(
			cron.SkipIfStillRunning(cl),
			cron.Recover(cl),
		),
	)

	_, err := scheduler.AddFunc(schedule, func() {
		n := c.CleanupCache()
		logger.Debug("cache sweep finished", zap.Int("evicted", n))
	})
	if err != nil {
		return nil, fmt.Errorf("adding cleanup job %q: %w", schedule, err)
	}

	return &Housekeeper{cron: scheduler, logger: logger}, nil
}

// Start runs the scheduler in its own goroutine.
func (h *Housekeeper) Start() {
	h.logger.Info("starting cache housekeeping")
	h.cron.Start()
}

// Stop halts the scheduler and waits for a running sweep until ctx ends.
func (h *Housekeeper) Stop(ctx context.Context) {
	done := h.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
