package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field cron format.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// NormalizeTrigger validates a trigger and rejects fields that do not
// belong to its kind.
func NormalizeTrigger(t Trigger) (Trigger, error) {
	switch t.Kind {
	case TriggerCron:
		if t.CronExpr == "" {
			return Trigger{}, fmt.Errorf("cron trigger requires cronExpr")
		}
		if _, err := cronParser.Parse(t.CronExpr); err != nil {
			return Trigger{}, fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
		}
		if t.TZ != "" {
			if _, err := time.LoadLocation(t.TZ); err != nil {
				return Trigger{}, fmt.Errorf("invalid timezone %q: %w", t.TZ, err)
			}
		}
		return Trigger{Kind: TriggerCron, CronExpr: t.CronExpr, TZ: t.TZ}, nil

	case TriggerInterval:
		if t.IntervalMs <= 0 {
			return Trigger{}, fmt.Errorf("interval trigger requires positive intervalMs")
		}
		return Trigger{Kind: TriggerInterval, IntervalMs: t.IntervalMs}, nil

	case TriggerOnce:
		if t.RunAt == "" {
			return Trigger{}, fmt.Errorf("once trigger requires runAt")
		}
		if _, err := time.Parse(time.RFC3339, t.RunAt); err != nil {
			return Trigger{}, fmt.Errorf("invalid runAt timestamp %q: %w", t.RunAt, err)
		}
		return Trigger{Kind: TriggerOnce, RunAt: t.RunAt}, nil

	case TriggerEvent:
		if t.EventType == "" {
			return Trigger{}, fmt.Errorf("event trigger requires eventType")
		}
		return Trigger{Kind: TriggerEvent, EventType: t.EventType, EventSource: t.EventSource}, nil

	default:
		return Trigger{}, fmt.Errorf("unknown trigger kind: %q", t.Kind)
	}
}

// NextRun computes the next run time for a time-based trigger after the
// given instant. Event triggers have no next run and return nil.
func NextRun(t Trigger, after time.Time) (*time.Time, error) {
	switch t.Kind {
	case TriggerCron:
		sched, err := cronParser.Parse(t.CronExpr)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression: %w", err)
		}
		at := after
		if t.TZ != "" {
			loc, err := time.LoadLocation(t.TZ)
			if err != nil {
				return nil, fmt.Errorf("invalid timezone: %w", err)
			}
			at = at.In(loc)
		}
		next := sched.Next(at)
		return &next, nil

	case TriggerInterval:
		next := after.Add(time.Duration(t.IntervalMs) * time.Millisecond)
		return &next, nil

	case TriggerOnce:
		at, err := time.Parse(time.RFC3339, t.RunAt)
		if err != nil {
			return nil, fmt.Errorf("invalid runAt timestamp: %w", err)
		}
		if !at.After(after) {
			// Already due; run immediately and let the task expire after.
			return &after, nil
		}
		return &at, nil

	case TriggerEvent:
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown trigger kind: %q", t.Kind)
	}
}
