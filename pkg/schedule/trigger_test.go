package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeTrigger(t *testing.T) {
	tests := []struct {
		name    string
		in      Trigger
		wantErr bool
	}{
		{"valid cron", Trigger{Kind: TriggerCron, CronExpr: "*/5 * * * *"}, false},
		{"cron with timezone", Trigger{Kind: TriggerCron, CronExpr: "0 9 * * 1", TZ: "Europe/Berlin"}, false},
		{"cron missing expression", Trigger{Kind: TriggerCron}, true},
		{"cron six fields rejected", Trigger{Kind: TriggerCron, CronExpr: "0 */5 * * * *"}, true},
		{"cron bad timezone", Trigger{Kind: TriggerCron, CronExpr: "* * * * *", TZ: "Mars/Olympus"}, true},
		{"valid interval", Trigger{Kind: TriggerInterval, IntervalMs: 1000}, false},
		{"zero interval", Trigger{Kind: TriggerInterval}, true},
		{"negative interval", Trigger{Kind: TriggerInterval, IntervalMs: -5}, true},
		{"valid once", Trigger{Kind: TriggerOnce, RunAt: "2026-09-01T10:00:00Z"}, false},
		{"once bad timestamp", Trigger{Kind: TriggerOnce, RunAt: "tomorrow"}, true},
		{"once missing timestamp", Trigger{Kind: TriggerOnce}, true},
		{"valid event", Trigger{Kind: TriggerEvent, EventType: "file:changed"}, false},
		{"event missing type", Trigger{Kind: TriggerEvent}, true},
		{"unknown kind", Trigger{Kind: "lunar"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NormalizeTrigger(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNormalizeTriggerDropsForeignFields(t *testing.T) {
	got, err := NormalizeTrigger(Trigger{
		Kind:       TriggerInterval,
		IntervalMs: 500,
		CronExpr:   "* * * * *",
		EventType:  "leftover",
	})
	require.NoError(t, err)
	assert.Equal(t, Trigger{Kind: TriggerInterval, IntervalMs: 500}, got)
}

func TestNextRun(t *testing.T) {
	after := time.Date(2026, 8, 24, 12, 30, 0, 0, time.UTC)

	t.Run("cron", func(t *testing.T) {
		next, err := NextRun(Trigger{Kind: TriggerCron, CronExpr: "0 * * * *"}, after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 8, 24, 13, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("interval", func(t *testing.T) {
		next, err := NextRun(Trigger{Kind: TriggerInterval, IntervalMs: 60000}, after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, after.Add(time.Minute), *next)
	})

	t.Run("once in the future", func(t *testing.T) {
		next, err := NextRun(Trigger{Kind: TriggerOnce, RunAt: "2026-08-24T15:00:00Z"}, after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, time.Date(2026, 8, 24, 15, 0, 0, 0, time.UTC), next.UTC())
	})

	t.Run("once in the past runs immediately", func(t *testing.T) {
		next, err := NextRun(Trigger{Kind: TriggerOnce, RunAt: "2020-01-01T00:00:00Z"}, after)
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, after, *next)
	})

	t.Run("event has no next run", func(t *testing.T) {
		next, err := NextRun(Trigger{Kind: TriggerEvent, EventType: "x"}, after)
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}
