// Package dateparse parses natural language points in the past, used for
// filters like --since.
package dateparse

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrUnrecognized is returned for input no format matches.
var ErrUnrecognized = errors.New("unrecognized date")

// Since parses input relative to the current time.
// Supported formats:
//   - today, yesterday (start of day)
//   - monday, tuesday, ... (start of the most recent one; same day = a week ago)
//   - last monday, last week, last month
//   - N days ago, N weeks ago, N hours ago
//   - -N (N days ago)
//   - 30m, 12h, 3d, 2w
//   - YYYY-MM-DD (start of that day, local time)
//   - RFC 3339 timestamps
func Since(input string) (time.Time, error) {
	return SinceFrom(input, time.Now())
}

// SinceFrom parses input relative to now. Day-based results start at
// midnight in now's location.
func SinceFrom(input string, now time.Time) (time.Time, error) {
	raw := strings.TrimSpace(input)
	input = strings.ToLower(raw)

	switch input {
	case "today":
		return startOfDay(now), nil
	case "yesterday":
		return startOfDay(now.AddDate(0, 0, -1)), nil
	case "last week", "lastweek":
		return startOfDay(now.AddDate(0, 0, -7)), nil
	case "last month", "lastmonth":
		return startOfDay(now.AddDate(0, -1, 0)), nil
	}

	if day, ok := parseWeekday(input); ok {
		return startOfDay(previousWeekday(now, day)), nil
	}

	// -N days format
	if strings.HasPrefix(input, "-") {
		if days, err := strconv.Atoi(input[1:]); err == nil && days >= 0 {
			return startOfDay(now.AddDate(0, 0, -days)), nil
		}
	}

	// "N units ago" format
	if match := agoPattern.FindStringSubmatch(input); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil {
			return ago(now, n, match[2]), nil
		}
	}

	// 3d, 12h, 2w
	if match := compactPattern.FindStringSubmatch(input); match != nil {
		n, err := strconv.Atoi(match[1])
		if err == nil {
			return ago(now, n, match[2]), nil
		}
	}

	if datePattern.MatchString(input) {
		if t, err := time.ParseInLocation("2006-01-02", input, now.Location()); err == nil {
			return t, nil
		}
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrUnrecognized, raw)
}

// IsValid returns true if the input is a recognized format.
func IsValid(input string) bool {
	_, err := Since(input)
	return err == nil
}

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	agoPattern     = regexp.MustCompile(`^(\d{1,6}) (minute|hour|day|week|month)s? ago$`)
	compactPattern = regexp.MustCompile(`^(\d{1,6})(m|h|d|w)$`)
)

func ago(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "m", "minute":
		return now.Add(-time.Duration(n) * time.Minute)
	case "h", "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	case "w", "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	}
	return now.AddDate(0, 0, -n)
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

func parseWeekday(input string) (time.Weekday, bool) {
	input = strings.TrimPrefix(input, "last ")

	switch input {
	case "sunday", "sun":
		return time.Sunday, true
	case "monday", "mon":
		return time.Monday, true
	case "tuesday", "tue":
		return time.Tuesday, true
	case "wednesday", "wed":
		return time.Wednesday, true
	case "thursday", "thu":
		return time.Thursday, true
	case "friday", "fri":
		return time.Friday, true
	case "saturday", "sat":
		return time.Saturday, true
	}
	return 0, false
}

// previousWeekday returns the most recent past occurrence of target.
// If today IS the target weekday, it returns 7 days ago.
func previousWeekday(now time.Time, target time.Weekday) time.Time {
	daysBack := int(now.Weekday() - target)
	if daysBack <= 0 {
		daysBack += 7
	}
	return now.AddDate(0, 0, -daysBack)
}
