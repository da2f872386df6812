package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-scheduler/types"
)

func TestParseHourly(t *testing.T) {
	spec, err := Parse(types.ScheduleHourly, "15")
	require.NoError(t, err)
	assert.Equal(t, "15 * * * *", spec.Expression())

	spec, err = Parse(types.ScheduleHourly, " 0 ")
	require.NoError(t, err)
	assert.Equal(t, "0 * * * *", spec.Expression())

	for _, raw := range []string{"", "60", "-1", "1:30", "abc"} {
		_, err := Parse(types.ScheduleHourly, raw)
		assert.True(t, types.IsError(err, types.ErrInvalidScheduleFormat), "raw=%q", raw)
	}
}

func TestParseDaily(t *testing.T) {
	spec, err := Parse(types.ScheduleDaily, "14:30")
	require.NoError(t, err)
	assert.Equal(t, "30 14 * * *", spec.Expression())

	for _, raw := range []string{"", "14", "24:00", "14:60", "aa:bb", "14:30:00"} {
		_, err := Parse(types.ScheduleDaily, raw)
		assert.True(t, types.IsError(err, types.ErrInvalidScheduleFormat), "raw=%q", raw)
	}
}

func TestParseWeekly(t *testing.T) {
	spec, err := Parse(types.ScheduleWeekly, "Mon 12:45")
	require.NoError(t, err)
	assert.Equal(t, "45 12 * * 1", spec.Expression())
	assert.Equal(t, "mon 12:45", spec.Raw)

	spec, err = Parse(types.ScheduleWeekly, "sun 00:00")
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * 0", spec.Expression())

	for _, raw := range []string{"", "monday 12:45", "mon", "mon 25:00", "mon 12:45 extra"} {
		_, err := Parse(types.ScheduleWeekly, raw)
		assert.True(t, types.IsError(err, types.ErrInvalidScheduleFormat), "raw=%q", raw)
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := Parse(types.ScheduleType("monthly"), "1")
	assert.True(t, types.IsError(err, types.ErrUnknownScheduleType))
}

func TestNextHourly(t *testing.T) {
	spec, err := Parse(types.ScheduleHourly, "15")
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	next := spec.Next(day.Add(10*time.Hour + 20*time.Minute))
	assert.Equal(t, day.Add(11*time.Hour+15*time.Minute), next)

	next = spec.Next(day.Add(10*time.Hour + 10*time.Minute))
	assert.Equal(t, day.Add(10*time.Hour+15*time.Minute), next)

	// exactly on the trigger instant re-arms for the next hour
	next = spec.Next(day.Add(10*time.Hour + 15*time.Minute))
	assert.Equal(t, day.Add(11*time.Hour+15*time.Minute), next)
}

func TestNextDaily(t *testing.T) {
	spec, err := Parse(types.ScheduleDaily, "14:30")
	require.NoError(t, err)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	next := spec.Next(day.Add(15 * time.Hour))
	assert.Equal(t, day.AddDate(0, 0, 1).Add(14*time.Hour+30*time.Minute), next)

	next = spec.Next(day.Add(9 * time.Hour))
	assert.Equal(t, day.Add(14*time.Hour+30*time.Minute), next)
}

func TestNextWeekly(t *testing.T) {
	spec, err := Parse(types.ScheduleWeekly, "mon 12:45")
	require.NoError(t, err)

	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	require.Equal(t, time.Monday, monday.Weekday())

	next := spec.Next(monday.AddDate(0, 0, 1).Add(10 * time.Hour))
	assert.Equal(t, monday.AddDate(0, 0, 7).Add(12*time.Hour+45*time.Minute), next)

	next = spec.Next(monday.Add(12 * time.Hour))
	assert.Equal(t, monday.Add(12*time.Hour+45*time.Minute), next)

	next = spec.Next(monday.Add(13 * time.Hour))
	assert.Equal(t, monday.AddDate(0, 0, 7).Add(12*time.Hour+45*time.Minute), next)
}

func TestNextIsStrictlyAfter(t *testing.T) {
	specs := []Spec{}
	for _, c := range []struct {
		t   types.ScheduleType
		raw string
	}{
		{types.ScheduleHourly, "0"},
		{types.ScheduleDaily, "00:00"},
		{types.ScheduleWeekly, "sun 00:00"},
	} {
		spec, err := Parse(c.t, c.raw)
		require.NoError(t, err)
		specs = append(specs, spec)
	}

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, spec := range specs {
		next := spec.Next(from)
		assert.True(t, next.After(from), "type=%s", spec.Type)

		// re-arming from the trigger itself keeps moving forward
		again := spec.Next(next)
		assert.True(t, again.After(next), "type=%s", spec.Type)
	}
}
