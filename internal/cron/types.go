package cron

import (
	"context"
	"fmt"
	"time"
)

const (
	KindDaily = "daily"
	KindEvery = "every"
)

type Schedule struct {
	Kind  string        `json:"kind"`
	At    string        `json:"at,omitempty"` // "HH:MM" local time, daily jobs
	Every time.Duration `json:"every,omitempty"`
}

// RunFunc performs one job run and returns a short result for the log.
type RunFunc func(ctx context.Context) (string, error)

type Job struct {
	Name     string
	Schedule Schedule
	Run      RunFunc
}

// JobState is persisted so a restart never repeats a daily job.
type JobState struct {
	LastRunDate string `json:"lastRunDate,omitempty"` // YYYY-MM-DD, daily latch
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
}

// ParseClock parses "HH:MM" into hour and minute.
func ParseClock(s string) (int, int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}
