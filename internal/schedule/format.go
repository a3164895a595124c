package schedule

import (
	"fmt"
	"strconv"
	"strings"
)

var dayNames = map[string]string{
	"mon": "Monday",
	"tue": "Tuesday",
	"wed": "Wednesday",
	"thu": "Thursday",
	"fri": "Friday",
	"sat": "Saturday",
	"sun": "Sunday",
}

// Format renders a canonical expression for display. Day-of-week wins
// over day-of-month when both are set.
func Format(expr string) string {
	parts := strings.Fields(expr)
	if len(parts) < 5 {
		return expr
	}
	minute, hour, dom, dow := parts[0], parts[1], parts[2], parts[4]
	at := pad(hour) + ":" + pad(minute)

	switch {
	case dom == "*" && dow == "*":
		return "Daily at " + at
	case dow != "*":
		return fmt.Sprintf("Weekly (%s) at %s", DayName(dow), at)
	default:
		return fmt.Sprintf("Monthly (Day %s) at %s", dom, at)
	}
}

// DayName maps mon..sun to the full English name; other tokens are
// returned unchanged.
func DayName(token string) string {
	if name, ok := dayNames[strings.ToLower(token)]; ok {
		return name
	}
	return token
}

func pad(field string) string {
	n, err := strconv.Atoi(field)
	if err != nil || n < 0 {
		return field
	}
	return fmt.Sprintf("%02d", n)
}
