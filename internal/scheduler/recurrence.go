package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"doc_syncer/internal/config"
)

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// Expression renders a source recurrence as a standard five-field cron
// expression. Manual sources have no expression.
func Expression(cfg config.ScheduleConfig) (string, error) {
	if cfg.Cadence == config.CadenceManual || cfg.Cadence == "" {
		return "", nil
	}
	if cfg.Cadence == config.CadenceCron {
		return strings.TrimSpace(cfg.Cron), nil
	}

	at, err := time.Parse("15:04", strings.TrimSpace(cfg.Time))
	if err != nil {
		return "", fmt.Errorf("invalid schedule time %q: %w", cfg.Time, err)
	}
	hm := fmt.Sprintf("%d %d", at.Minute(), at.Hour())

	switch cfg.Cadence {
	case config.CadenceDaily:
		return hm + " * * *", nil
	case config.CadenceWeekly:
		name := strings.ToLower(strings.TrimSpace(cfg.Weekday))
		if name == "" {
			name = "monday"
		}
		wd, ok := weekdays[name]
		if !ok {
			return "", fmt.Errorf("invalid weekday %q", cfg.Weekday)
		}
		return fmt.Sprintf("%s * * %d", hm, wd), nil
	case config.CadenceMonthly:
		day := cfg.Day
		if day == 0 {
			day = 1
		}
		if day < 1 || day > 31 {
			return "", fmt.Errorf("invalid day of month %d", day)
		}
		return fmt.Sprintf("%s %d * *", hm, day), nil
	default:
		return "", fmt.Errorf("unknown cadence %q", cfg.Cadence)
	}
}

// Parse compiles a recurrence, evaluating it in loc when given.
func Parse(cfg config.ScheduleConfig, loc *time.Location) (cron.Schedule, string, error) {
	expr, err := Expression(cfg)
	if err != nil || expr == "" {
		return nil, expr, err
	}
	spec := expr
	if loc != nil && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		spec = "CRON_TZ=" + loc.String() + " " + expr
	}
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, expr, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched, expr, nil
}
