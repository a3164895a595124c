package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildAndFormatCanonical(t *testing.T) {
	cases := []struct {
		name    string
		req     Request
		expr    string
		display string
	}{
		{"daily", Request{Target: "GLOBAL", Frequency: Daily, Hour: 4, Minute: 0}, "0 4 * * *", "Daily at 04:00"},
		{"weekly", Request{Target: "GLOBAL", Frequency: Weekly, WeekDay: "tue", Hour: 9, Minute: 30}, "30 9 * * tue", "Weekly (Tuesday) at 09:30"},
		{"monthly", Request{Target: "plex", Frequency: Monthly, DayOfMonth: 15, Hour: 2, Minute: 0}, "0 2 15 * *", "Monthly (Day 15) at 02:00"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expr, err := Build(tc.req)
			require.NoError(t, err)
			assert.Equal(t, tc.expr, expr)
			assert.Equal(t, tc.display, Format(expr))
		})
	}
}

func TestBuildIgnoresUnusedDayFields(t *testing.T) {
	expr, err := Build(Request{Target: "GLOBAL", Frequency: Daily, WeekDay: "fri", DayOfMonth: 3, Hour: 23, Minute: 59})
	require.NoError(t, err)
	assert.Equal(t, "59 23 * * *", expr)

	expr, err = Build(Request{Target: "GLOBAL", Frequency: Weekly, WeekDay: "SUN", DayOfMonth: 3, Hour: 0, Minute: 0})
	require.NoError(t, err)
	assert.Equal(t, "0 0 * * sun", expr)
}

func TestFormatPrecedence(t *testing.T) {
	// both day fields set: day-of-week wins
	assert.Equal(t, "Weekly (Friday) at 06:05", Format("5 6 10 * fri"))
	assert.Equal(t, "Monthly (Day 1) at 00:00", Format("0 0 1 * *"))
	assert.Equal(t, "Daily at 12:07", Format("7 12 * * *"))
}

func TestFormatOddInput(t *testing.T) {
	assert.Equal(t, "0 4 *", Format("0 4 *"))
	assert.Equal(t, "", Format(""))
	assert.Equal(t, "Weekly (1-5) at 08:00", Format("0 8 * * 1-5"))
	assert.Equal(t, "Daily at */2:00", Format("0 */2 * * *"))
}

func TestValidationRejected(t *testing.T) {
	bad := []Request{
		{Target: "", Frequency: Daily},
		{Target: "GLOBAL", Frequency: Daily, Hour: 24},
		{Target: "GLOBAL", Frequency: Daily, Hour: -1},
		{Target: "GLOBAL", Frequency: Daily, Minute: 60},
		{Target: "GLOBAL", Frequency: Weekly, WeekDay: "funday"},
		{Target: "GLOBAL", Frequency: Weekly},
		{Target: "GLOBAL", Frequency: Monthly, DayOfMonth: 0},
		{Target: "GLOBAL", Frequency: Monthly, DayOfMonth: 29},
		{Target: "GLOBAL", Frequency: "hourly"},
	}
	for _, r := range bad {
		_, err := Build(r)
		if !errors.Is(err, ErrInvalid) {
			t.Errorf("expected ErrInvalid for %+v, got %v", r, err)
		}
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("expected *ValidationError for %+v", r)
		}
	}
}

func TestClientRequest(t *testing.T) {
	w := Request{Target: "pihole", Frequency: Weekly, WeekDay: "Tue", Hour: 9, Minute: 30}.ClientRequest()
	assert.Equal(t, "pihole", w.Target)
	assert.Equal(t, "cron", w.TaskType)
	assert.Equal(t, "tue", w.WeekDay)
	assert.Equal(t, "1", w.DayOfMonth)

	m := Request{Target: "GLOBAL", Frequency: Monthly, DayOfMonth: 15, Hour: 2}.ClientRequest()
	assert.Equal(t, "*", m.WeekDay)
	assert.Equal(t, "15", m.DayOfMonth)
}

func TestNext(t *testing.T) {
	from := time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC) // Monday
	next, err := Next("30 9 * * tue", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 7, 9, 30, 0, 0, time.UTC), next)

	next, err = Next("0 4 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 7, 4, 0, 0, 0, time.UTC), next)

	_, err = Next("not a cron", from)
	assert.Error(t, err)
}
