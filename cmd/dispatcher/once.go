package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"sort"
	"time"

	"eventbell/internal/scheduler"
)

// taskDescriptions lists the tasks the handler can run.
var taskDescriptions = map[scheduler.TaskType]string{
	scheduler.TaskDispatchDue:   "Send Delivery Records whose scheduled time has passed",
	scheduler.TaskRolloverUsage: "Reset tenant usage counters for ended billing periods",
}

// onceOptions selects a single manual run instead of Lambda or the local
// cron loop. A zero value means no manual run was requested.
type onceOptions struct {
	Task   scheduler.TaskType
	RefAt  *time.Time
	Limit  int
	DryRun bool
	List   bool
}

func (o *onceOptions) requested() bool {
	return o.Task != "" || o.List
}

func (o *onceOptions) payload() scheduler.TaskPayload {
	return scheduler.TaskPayload{
		Task:          o.Task,
		ReferenceTime: o.RefAt,
		Limit:         o.Limit,
	}
}

// parseOnceFlags reads the manual-run flags.
//
//	dispatcher --list
//	dispatcher --task=dispatch_due --limit=50
//	dispatcher --task=rollover_usage --reference-time=2026-01-01T00:00:00Z --dry-run
func parseOnceFlags(args []string, stderr io.Writer) (*onceOptions, error) {
	fs := flag.NewFlagSet("dispatcher", flag.ContinueOnError)
	fs.SetOutput(stderr)

	task := fs.String("task", "", "Run one task and exit (see --list)")
	refTime := fs.String("reference-time", "", "Override reference time (RFC3339)")
	limit := fs.Int("limit", 0, "Batch limit override for dispatch_due")
	dryRun := fs.Bool("dry-run", false, "Print the task payload without running it")
	list := fs.Bool("list", false, "List available tasks and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	opts := &onceOptions{
		Task:   scheduler.TaskType(*task),
		Limit:  *limit,
		DryRun: *dryRun,
		List:   *list,
	}
	if opts.Task != "" {
		if _, ok := taskDescriptions[opts.Task]; !ok {
			return nil, fmt.Errorf("unknown task type %q", *task)
		}
	}
	if *refTime != "" {
		if opts.Task == "" {
			return nil, fmt.Errorf("--reference-time requires --task")
		}
		t, err := time.Parse(time.RFC3339, *refTime)
		if err != nil {
			return nil, fmt.Errorf("invalid --reference-time %q: %w", *refTime, err)
		}
		opts.RefAt = &t
	}
	if opts.Limit < 0 {
		return nil, fmt.Errorf("--limit must not be negative")
	}
	if opts.DryRun && opts.Task == "" {
		return nil, fmt.Errorf("--dry-run requires --task")
	}
	return opts, nil
}

func printTasks(w io.Writer) {
	names := make([]string, 0, len(taskDescriptions))
	for t := range taskDescriptions {
		names = append(names, string(t))
	}
	sort.Strings(names)

	fmt.Fprintln(w, "Available tasks:")
	for _, n := range names {
		fmt.Fprintf(w, "  %-16s %s\n", n, taskDescriptions[scheduler.TaskType(n)])
	}
}

func printPayload(w io.Writer, p scheduler.TaskPayload) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
