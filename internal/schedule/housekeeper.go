package schedule

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	"hometopology/internal/logging"
)

// Housekeeper runs periodic, non-time-critical jobs — snapshotting engine
// state to the configured snapshot.Store every N minutes, and any other
// maintenance work a host wants on a cron schedule. It is a thin wrapper
// around gocron/v2; unlike TimeoutLoop, jitter of a few seconds in either
// direction is harmless here.
type Housekeeper struct {
	scheduler gocron.Scheduler
	logger    *slog.Logger
}

// NewHousekeeper creates a Housekeeper. Call RegisterFunc to add jobs, then
// Start to begin running them.
func NewHousekeeper(logger *slog.Logger) (*Housekeeper, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create housekeeper scheduler: %w", err)
	}
	return &Housekeeper{scheduler: s, logger: logging.Default(logger).With("component", "housekeeper")}, nil
}

// RegisterFunc adds a named job running on the given cron expression. fn
// receives a context detached from any single request; errors are logged,
// not returned to a caller, since cron jobs have no caller to report to.
func (h *Housekeeper) RegisterFunc(name, cronExpr string, fn func(ctx context.Context) error) error {
	task := func() {
		if err := fn(context.Background()); err != nil {
			h.logger.Error("housekeeping job failed", "name", name, "error", err)
		}
	}
	_, err := h.scheduler.NewJob(
		gocron.CronJob(cronExpr, false),
		gocron.NewTask(task),
		gocron.WithName(name),
	)
	if err != nil {
		return fmt.Errorf("register housekeeping job %s: %w", name, err)
	}
	return nil
}

// Start begins running registered jobs on their schedules.
func (h *Housekeeper) Start() {
	h.scheduler.Start()
}

// Stop shuts down the scheduler, waiting for any running job to finish.
func (h *Housekeeper) Stop() error {
	return h.scheduler.Shutdown()
}
