// Package main is the entrypoint for the dispatcher.
//
// The dispatcher is a task multiplexer: an EventBridge rule invokes it with a
// TaskPayload and the handler routes to the dispatch or usage rollover job.
// Per invocation:
//  1. Determine the reference time.
//  2. Acquire the job lock for the task's window.
//  3. Record job start in job_history.
//  4. Run the task.
//  5. Record job completion.
//
// Outside Lambda it runs both jobs from an in-process cron schedule, or a
// single task when started with --task (see once.go).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/google/uuid"

	"eventbell/internal/config"
	"eventbell/internal/db"
	"eventbell/internal/external"
	"eventbell/internal/scheduler"
	"eventbell/internal/tenant"
	"eventbell/internal/types"
)

const (
	// lockTTL covers the longest expected run with margin.
	lockTTL = 15 * time.Minute

	// Lock windows. A dispatch window matches the shortest trigger interval
	// so redelivered events within the same minute run once.
	dispatchLockWindow = time.Minute
	rolloverLockWindow = time.Hour
)

// DispatchRunner sends due Delivery Records.
type DispatchRunner interface {
	Run(ctx context.Context, in scheduler.DispatchInput) (scheduler.DispatchResult, error)
}

// RolloverRunner resets usage counters of ended billing periods.
type RolloverRunner interface {
	Run(ctx context.Context, now time.Time) (scheduler.RolloverResult, error)
}

// JobLocker abstracts the distributed lock acquisition.
type JobLocker interface {
	Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error)
}

// JobHistorian abstracts the job history recording.
type JobHistorian interface {
	Start(ctx context.Context, jobType string) (int64, error)
	Finish(ctx context.Context, id int64, status string, items int, err error) error
}

// Handler holds the dependencies of the dispatcher entrypoint.
type Handler struct {
	Dispatcher DispatchRunner
	Rollover   RolloverRunner
	JobLock    JobLocker
	JobHistory JobHistorian
	WorkerID   string
	Clock      types.Clock
	Logger     *slog.Logger
}

// Handle runs the task named by payload.
func (h *Handler) Handle(ctx context.Context, payload scheduler.TaskPayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := h.Clock
	if clock == nil {
		clock = types.RealClock{}
	}

	now := clock.Now().UTC()
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	taskStr := string(payload.Task)
	logger.InfoContext(ctx, "dispatcher invoked",
		"task", taskStr,
		"reference_time", now.Format(time.RFC3339),
		"worker_id", h.WorkerID,
	)

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in payload")
	}
	window, ok := lockWindow(payload.Task)
	if !ok {
		return "", fmt.Errorf("unknown task type: %q", payload.Task)
	}

	lockID := fmt.Sprintf("%s:%s", payload.Task, now.Truncate(window).Format("2006-01-02T15:04"))
	acquired, err := h.JobLock.Acquire(ctx, lockID, h.WorkerID, lockTTL)
	if err != nil {
		logger.ErrorContext(ctx, "failed to acquire job lock",
			"lock_id", lockID,
			"error", err,
		)
		return "", fmt.Errorf("acquiring job lock %s: %w", lockID, err)
	}
	if !acquired {
		logger.InfoContext(ctx, "job lock not acquired, another worker is processing",
			"lock_id", lockID,
		)
		return fmt.Sprintf("skipped: lock %s held by another worker", lockID), nil
	}

	// History is best effort; jobID 0 skips Finish.
	jobID, err := h.JobHistory.Start(ctx, taskStr)
	if err != nil {
		logger.ErrorContext(ctx, "failed to start job history",
			"task", taskStr,
			"error", err,
		)
		jobID = 0
	}

	items, execErr := h.dispatch(ctx, payload, now)

	status := "success"
	if execErr != nil {
		status = "failed"
	}
	if jobID != 0 {
		if finishErr := h.JobHistory.Finish(ctx, jobID, status, items, execErr); finishErr != nil {
			logger.ErrorContext(ctx, "failed to finish job history",
				"job_id", jobID,
				"task", taskStr,
				"error", finishErr,
			)
		}
	}

	if execErr != nil {
		logger.ErrorContext(ctx, "task execution failed",
			"task", taskStr,
			"error", execErr,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", taskStr, execErr)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", taskStr, items)
	logger.InfoContext(ctx, result,
		"task", taskStr,
		"items", items,
	)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, payload scheduler.TaskPayload, now time.Time) (int, error) {
	switch payload.Task {
	case scheduler.TaskDispatchDue:
		res, err := h.Dispatcher.Run(ctx, scheduler.DispatchInput{
			Limit:         payload.Limit,
			ReferenceTime: &now,
		})
		return res.Processed(), err

	case scheduler.TaskRolloverUsage:
		res, err := h.Rollover.Run(ctx, now)
		return res.Reset, err

	default:
		return 0, fmt.Errorf("unknown task type: %q", payload.Task)
	}
}

func lockWindow(task scheduler.TaskType) (time.Duration, bool) {
	switch task {
	case scheduler.TaskDispatchDue:
		return dispatchLockWindow, true
	case scheduler.TaskRolloverUsage:
		return rolloverLockWindow, true
	default:
		return 0, false
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	once, err := parseOnceFlags(os.Args[1:], os.Stderr)
	if err != nil {
		return err
	}
	if once.List {
		printTasks(os.Stdout)
		return nil
	}
	if once.DryRun {
		return printPayload(os.Stdout, once.payload())
	}

	var provider config.SecretProvider
	if os.Getenv("APP_ENV") != "local" {
		provider = config.NewSSMProvider(os.Getenv("AWS_REGION"))
	}
	cfg, err := config.LoadConfig(provider)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("dispatcher initializing",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
	)

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	clients, err := external.NewClientRegistry(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating clients: %w", err)
	}

	tenants := db.NewTenantRepository(pool)
	credentials := tenant.NewResolver(tenant.ResolverConfig{
		Store: tenants,
		Defaults: types.TenantCredentials{
			ChannelToken:  cfg.Messaging.DefaultChannelToken,
			ChannelSecret: cfg.Messaging.DefaultChannelSecret,
		},
		TTL:    cfg.Messaging.CredentialCacheTTL,
		Logger: logger,
	})

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	workerID := uuid.New().String()
	handler := &Handler{
		Dispatcher: scheduler.NewDispatcher(scheduler.DispatcherConfig{
			Deliveries:  db.NewDeliveryRepository(pool),
			Applicants:  db.NewApplicantRepository(pool),
			Credentials: credentials,
			Messenger:   clients.Messenger,
			Metrics:     metrics,
			Logger:      logger,
			BatchLimit:  cfg.Dispatcher.BatchLimit,
			MaxFailures: cfg.Dispatcher.MaxFailures,
			ClaimLease:  cfg.Dispatcher.ClaimLease,
		}),
		Rollover:   scheduler.NewUsageRollover(db.NewQuotaRepository(pool), logger),
		JobLock:    db.NewJobLockRepository(pool),
		JobHistory: db.NewJobHistoryRepository(pool),
		WorkerID:   workerID,
		Logger:     logger,
	}

	logger.Info("dispatcher initialized",
		"worker_id", workerID,
		"batch_limit", cfg.Dispatcher.BatchLimit,
		"metrics_enabled", cfg.Observability.EnableMetrics,
	)

	if once.requested() {
		result, err := handler.Handle(ctx, once.payload())
		if err != nil {
			return err
		}
		logger.Info("manual run finished", "result", result)
		return nil
	}

	if isLambdaEnvironment() {
		lambda.Start(handler.Handle)
		return nil
	}

	loc, err := cfg.Schedule.Location()
	if err != nil {
		return fmt.Errorf("loading schedule zone: %w", err)
	}
	return runLocal(handler, cfg.Dispatcher.Schedule, loc, logger)
}

// newMetrics returns CloudWatch metrics when enabled, otherwise a no-op.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (scheduler.Metrics, error) {
	if !cfg.Observability.EnableMetrics {
		return scheduler.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS SDK config: %w", err)
	}
	client := cloudwatch.NewFromConfig(awsCfg, func(o *cloudwatch.Options) {
		if cfg.AWS.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.AWS.EndpointURL)
		}
	})
	return scheduler.NewCloudWatchMetrics(client, cfg.Observability.MetricNamespace, logger), nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
