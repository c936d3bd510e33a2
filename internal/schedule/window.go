// Package schedule computes per-tenant report windows and decides when a
// scheduled run is due.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/synkro/synkro/internal/model"
)

// dueWindow is how long after the scheduled run time a tick still fires.
// The scheduler tick granularity must stay below this to avoid missed runs.
const dueWindow = 180 * time.Second

// Location resolves the tenant's timezone, falling back to UTC when the
// configured name is empty or unknown.
func Location(cfg model.RuntimeConfig) *time.Location {
	name := strings.TrimSpace(cfg.Timezone)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// LastClosedWindow returns the most recent fully closed business day as a
// UTC half-open interval [start, end). The business day boundary is the
// configured tenant-local start-of-day; if now precedes today's boundary the
// boundary rolls back one calendar day. The window is always 24 hours and
// its end never exceeds now.
func LastClosedWindow(cfg model.RuntimeConfig, now time.Time) (time.Time, time.Time) {
	loc := Location(cfg)
	nowLocal := now.In(loc)
	h, m := parseClock(cfg.BusinessDayStart, 22, 1)
	dayStart := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), h, m, 0, 0, loc)
	if nowLocal.Before(dayStart) {
		dayStart = dayStart.AddDate(0, 0, -1)
	}
	end := dayStart
	start := end.Add(-24 * time.Hour)
	return start.UTC(), end.UTC()
}

// IsDue reports whether a scheduled run should fire: now (tenant-local) falls
// within [scheduledRunTime, scheduledRunTime+180s) of today. Always false
// when scheduling is disabled.
func IsDue(cfg model.RuntimeConfig, now time.Time) bool {
	if !cfg.ScheduleEnabled {
		return false
	}
	loc := Location(cfg)
	nowLocal := now.In(loc)
	h, m := parseClock(cfg.ScheduledRunTime, 22, 10)
	scheduled := time.Date(nowLocal.Year(), nowLocal.Month(), nowLocal.Day(), h, m, 0, 0, loc)
	since := nowLocal.Sub(scheduled)
	return since >= 0 && since < dueWindow
}

// IdempotencyKey builds the deterministic job key. Window bounds are
// truncated to the minute so two scheduling attempts for the same logical
// window always collide.
func IdempotencyKey(tenantID int64, trigger model.TriggerType, mode model.SyncMode, start, end time.Time) string {
	const layout = "20060102T1504"
	return fmt.Sprintf("%s:%d:%s:%s:%s",
		trigger, tenantID, mode,
		start.UTC().Format(layout), end.UTC().Format(layout))
}

// ValidationError rejects bad forced-window input before any job or audit
// record is created.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// ValidateForcedWindow checks an operator-supplied window against the
// tenant's limits. Each failure mode has a distinct message.
func ValidateForcedWindow(cfg model.RuntimeConfig, now, start, end time.Time) error {
	if !end.After(start) {
		return &ValidationError{msg: "window end must be after window start"}
	}
	if end.Sub(start) > time.Duration(cfg.MaxForceWindowHours)*time.Hour {
		return &ValidationError{msg: fmt.Sprintf("window too long: maximum is %d hours", cfg.MaxForceWindowHours)}
	}
	lookbackLimit := now.Add(-time.Duration(cfg.MaxForceLookbackDays) * 24 * time.Hour)
	if start.Before(lookbackLimit) {
		return &ValidationError{msg: fmt.Sprintf("window too old: maximum lookback is %d days", cfg.MaxForceLookbackDays)}
	}
	return nil
}

// parseClock parses "HH:MM", returning the fallback on malformed input.
func parseClock(s string, defH, defM int) (int, int) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return defH, defM
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return defH, defM
	}
	return h, m
}
