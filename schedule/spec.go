package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/saiset-co/sai-scheduler/types"
)

// cron standard parser uses 0 for Sunday.
var weekdays = map[string]int{
	"sun": 0,
	"mon": 1,
	"tue": 2,
	"wed": 3,
	"thu": 4,
	"fri": 5,
	"sat": 6,
}

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Spec is a validated schedule: a type plus its normalized time string,
// compiled to a cron schedule for next-run evaluation.
type Spec struct {
	Type     types.ScheduleType
	Raw      string
	expr     string
	schedule cron.Schedule
}

func Parse(scheduleType types.ScheduleType, raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)

	var expr string
	var normalized string
	var err error

	switch scheduleType {
	case types.ScheduleHourly:
		expr, normalized, err = parseHourly(raw)
	case types.ScheduleDaily:
		expr, normalized, err = parseDaily(raw)
	case types.ScheduleWeekly:
		expr, normalized, err = parseWeekly(raw)
	default:
		return Spec{}, types.Errorf(types.ErrUnknownScheduleType, "type: %s", scheduleType)
	}

	if err != nil {
		return Spec{}, err
	}

	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return Spec{}, types.Errorf(types.ErrInvalidScheduleFormat, "expression %q: %v", expr, err)
	}

	return Spec{
		Type:     scheduleType,
		Raw:      normalized,
		expr:     expr,
		schedule: schedule,
	}, nil
}

// Next returns the earliest trigger instant strictly after from.
func (s Spec) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

func (s Spec) Expression() string {
	return s.expr
}

func parseHourly(raw string) (string, string, error) {
	minute, err := parseBounded(raw, 0, 59)
	if err != nil {
		return "", "", types.Errorf(types.ErrInvalidScheduleFormat, "hourly schedule wants a minute 0-59, got %q", raw)
	}
	return fmt.Sprintf("%d * * * *", minute), raw, nil
}

func parseDaily(raw string) (string, string, error) {
	hour, minute, err := parseClock(raw)
	if err != nil {
		return "", "", types.Errorf(types.ErrInvalidScheduleFormat, "daily schedule wants HH:MM, got %q", raw)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), raw, nil
}

func parseWeekly(raw string) (string, string, error) {
	fields := strings.Fields(raw)
	if len(fields) != 2 {
		return "", "", types.Errorf(types.ErrInvalidScheduleFormat, "weekly schedule wants \"<day> HH:MM\", got %q", raw)
	}

	day := strings.ToLower(fields[0])
	dow, ok := weekdays[day]
	if !ok {
		return "", "", types.Errorf(types.ErrInvalidScheduleFormat, "unknown weekday %q", fields[0])
	}

	hour, minute, err := parseClock(fields[1])
	if err != nil {
		return "", "", types.Errorf(types.ErrInvalidScheduleFormat, "weekly schedule wants \"<day> HH:MM\", got %q", raw)
	}

	return fmt.Sprintf("%d %d * * %d", minute, hour, dow), day + " " + fields[1], nil
}

func parseClock(raw string) (int, int, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return 0, 0, types.ErrInvalidScheduleFormat
	}

	hour, err := parseBounded(parts[0], 0, 23)
	if err != nil {
		return 0, 0, err
	}

	minute, err := parseBounded(parts[1], 0, 59)
	if err != nil {
		return 0, 0, err
	}

	return hour, minute, nil
}

func parseBounded(raw string, min, max int) (int, error) {
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.ErrInvalidScheduleFormat
	}
	if value < min || value > max {
		return 0, types.ErrInvalidScheduleFormat
	}
	return value, nil
}
