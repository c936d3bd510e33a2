package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synkro/synkro/internal/model"
)

func testConfig() model.RuntimeConfig {
	cfg := model.DefaultRuntimeConfig(1, "Europe/Moscow")
	return cfg
}

func TestLastClosedWindow_Is24HoursAndClosed(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	start, end := LastClosedWindow(cfg, now)
	assert.Equal(t, 24*time.Hour, end.Sub(start))
	assert.False(t, end.After(now), "window end must not exceed now")
}

func TestLastClosedWindow_RollsBackBeforeBoundary(t *testing.T) {
	cfg := testConfig()
	// Moscow is UTC+3, boundary 22:01 local = 19:01 UTC. At 18:00 UTC the
	// boundary has not passed yet, so the window ends a day earlier.
	beforeBoundary := time.Date(2024, 5, 2, 18, 0, 0, 0, time.UTC)
	_, endBefore := LastClosedWindow(cfg, beforeBoundary)
	assert.Equal(t, time.Date(2024, 5, 1, 19, 1, 0, 0, time.UTC), endBefore)

	afterBoundary := time.Date(2024, 5, 2, 20, 0, 0, 0, time.UTC)
	_, endAfter := LastClosedWindow(cfg, afterBoundary)
	assert.Equal(t, time.Date(2024, 5, 2, 19, 1, 0, 0, time.UTC), endAfter)
}

func TestLastClosedWindow_UnknownTimezoneFallsBackToUTC(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "Atlantis/Nowhere"
	now := time.Date(2024, 5, 2, 23, 30, 0, 0, time.UTC)

	_, end := LastClosedWindow(cfg, now)
	assert.Equal(t, time.Date(2024, 5, 2, 22, 1, 0, 0, time.UTC), end)
}

func TestIsDue(t *testing.T) {
	cfg := testConfig()
	cfg.Timezone = "UTC"
	cfg.ScheduledRunTime = "22:10"

	assert.True(t, IsDue(cfg, time.Date(2024, 5, 2, 22, 10, 0, 0, time.UTC)))
	assert.True(t, IsDue(cfg, time.Date(2024, 5, 2, 22, 12, 59, 0, time.UTC)))
	assert.False(t, IsDue(cfg, time.Date(2024, 5, 2, 22, 13, 0, 0, time.UTC)))
	assert.False(t, IsDue(cfg, time.Date(2024, 5, 2, 22, 9, 59, 0, time.UTC)))

	cfg.ScheduleEnabled = false
	assert.False(t, IsDue(cfg, time.Date(2024, 5, 2, 22, 10, 30, 0, time.UTC)))
}

func TestIdempotencyKey_TruncatesToMinute(t *testing.T) {
	start := time.Date(2024, 5, 1, 22, 1, 17, 0, time.UTC)
	end := time.Date(2024, 5, 2, 22, 1, 42, 0, time.UTC)

	key := IdempotencyKey(7, model.TriggerScheduled, model.ModeCRMAndMessaging, start, end)
	assert.Equal(t, "scheduled:7:crm_and_messaging:20240501T2201:20240502T2201", key)

	// Seconds differ, key does not.
	again := IdempotencyKey(7, model.TriggerScheduled, model.ModeCRMAndMessaging,
		start.Add(30*time.Second), end.Add(10*time.Second))
	assert.Equal(t, key, again)
}

func TestValidateForcedWindow(t *testing.T) {
	cfg := testConfig()
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	valid := ValidateForcedWindow(cfg, now,
		now.Add(-20*time.Hour), now.Add(-2*time.Hour))
	assert.NoError(t, valid)

	err := ValidateForcedWindow(cfg, now, now, now.Add(-time.Hour))
	require.Error(t, err)
	assert.Equal(t, "window end must be after window start", err.Error())

	err = ValidateForcedWindow(cfg, now, now.Add(-30*time.Hour), now)
	require.Error(t, err)
	assert.Equal(t, "window too long: maximum is 24 hours", err.Error())

	err = ValidateForcedWindow(cfg, now, now.Add(-4*24*time.Hour), now.Add(-4*24*time.Hour+time.Hour))
	require.Error(t, err)
	assert.Equal(t, "window too old: maximum lookback is 3 days", err.Error())
}
