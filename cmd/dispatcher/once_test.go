package main

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"eventbell/internal/scheduler"
)

func TestParseOnceFlags(t *testing.T) {
	opts, err := parseOnceFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("no flags: %v", err)
	}
	if opts.requested() {
		t.Error("no flags should not request a manual run")
	}

	opts, err = parseOnceFlags([]string{"--task=dispatch_due", "--limit=25", "--reference-time=2026-01-15T02:00:00Z"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !opts.requested() {
		t.Error("expected manual run")
	}
	p := opts.payload()
	if p.Task != scheduler.TaskDispatchDue || p.Limit != 25 {
		t.Errorf("payload = %+v", p)
	}
	if p.ReferenceTime == nil || !p.ReferenceTime.Equal(time.Date(2026, 1, 15, 2, 0, 0, 0, time.UTC)) {
		t.Errorf("reference time = %v", p.ReferenceTime)
	}
}

func TestParseOnceFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown task", []string{"--task=archive"}},
		{"bad time", []string{"--task=dispatch_due", "--reference-time=yesterday"}},
		{"time without task", []string{"--reference-time=2026-01-15T02:00:00Z"}},
		{"negative limit", []string{"--task=dispatch_due", "--limit=-1"}},
		{"dry run without task", []string{"--dry-run"}},
		{"unknown flag", []string{"--nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseOnceFlags(tt.args, io.Discard); err == nil {
				t.Errorf("expected error for %v", tt.args)
			}
		})
	}
}

func TestPrintTasks(t *testing.T) {
	var buf bytes.Buffer
	printTasks(&buf)
	out := buf.String()
	if !strings.Contains(out, "dispatch_due") || !strings.Contains(out, "rollover_usage") {
		t.Errorf("output missing tasks:\n%s", out)
	}
	if strings.Index(out, "dispatch_due") > strings.Index(out, "rollover_usage") {
		t.Error("tasks should be listed in name order")
	}
}

func TestPrintPayload(t *testing.T) {
	ref := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	if err := printPayload(&buf, scheduler.TaskPayload{Task: scheduler.TaskRolloverUsage, ReferenceTime: &ref}); err != nil {
		t.Fatalf("printPayload: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if got["task"] != "rollover_usage" || got["reference_time"] != "2026-01-01T00:00:00Z" {
		t.Errorf("payload = %v", got)
	}
	if _, ok := got["limit"]; ok {
		t.Error("zero limit should be omitted")
	}
}
