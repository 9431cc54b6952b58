package core

import (
	"fmt"
	"strings"
	"time"
)

// Millis converts a time to epoch milliseconds, the timestamp unit used
// throughout the ledger.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// StartOfDay returns local midnight of the day containing t, in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// StartOfWeek returns local midnight of the most recent day whose weekday
// equals first. A t already on that weekday maps to its own midnight.
func StartOfWeek(t time.Time, first time.Weekday) time.Time {
	day := StartOfDay(t)
	back := (int(day.Weekday()) - int(first) + 7) % 7
	return day.AddDate(0, 0, -back)
}

// ParseWeekday parses a weekday name ("sunday", "Monday", ...) for the
// WEEK_START setting.
func ParseWeekday(s string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sunday":
		return time.Sunday, nil
	case "monday":
		return time.Monday, nil
	case "tuesday":
		return time.Tuesday, nil
	case "wednesday":
		return time.Wednesday, nil
	case "thursday":
		return time.Thursday, nil
	case "friday":
		return time.Friday, nil
	case "saturday":
		return time.Saturday, nil
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
