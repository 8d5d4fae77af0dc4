package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"eventbell/internal/scheduler"
)

// rolloverSchedule runs the usage rollover locally. Periods end on whole
// days, so hourly is frequent enough.
const rolloverSchedule = "@hourly"

// taskTimeout bounds one locally triggered task.
const taskTimeout = 10 * time.Minute

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

// newCron builds the local schedule. SkipIfStillRunning keeps a slow run from
// overlapping the next tick of the same job.
func newCron(h *Handler, dispatchSpec string, loc *time.Location, logger *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	if _, err := c.AddJob(dispatchSpec, taskJob(h, scheduler.TaskDispatchDue, logger)); err != nil {
		return nil, fmt.Errorf("scheduling %s with %q: %w", scheduler.TaskDispatchDue, dispatchSpec, err)
	}
	if _, err := c.AddJob(rolloverSchedule, taskJob(h, scheduler.TaskRolloverUsage, logger)); err != nil {
		return nil, fmt.Errorf("scheduling %s: %w", scheduler.TaskRolloverUsage, err)
	}
	return c, nil
}

func taskJob(h *Handler, task scheduler.TaskType, logger *slog.Logger) cron.Job {
	return cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), taskTimeout)
		defer cancel()
		if _, err := h.Handle(ctx, scheduler.TaskPayload{Task: task}); err != nil {
			logger.Error("scheduled task failed", "task", string(task), "error", err)
		}
	})
}

// runLocal runs the cron schedule until SIGINT or SIGTERM.
func runLocal(h *Handler, dispatchSpec string, loc *time.Location, logger *slog.Logger) error {
	c, err := newCron(h, dispatchSpec, loc, logger)
	if err != nil {
		return err
	}

	c.Start()
	logger.Info("local dispatcher schedule started",
		"dispatch_schedule", dispatchSpec,
		"rollover_schedule", rolloverSchedule,
		"tz", loc.String(),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	logger.Info("shutdown signal received", "signal", sig.String())

	<-c.Stop().Done()
	logger.Info("dispatcher stopped cleanly")
	return nil
}
