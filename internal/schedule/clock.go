package schedule

import (
	"fmt"
	"strings"
	"time"
)

func parseHHMM(s string) (int, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0], "%d", &h); err != nil {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	if _, err := fmt.Sscanf(parts[1], "%d", &m); err != nil {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	return h*60 + m, nil
}

// nextDaily returns the next instant strictly after now at minute-of-day mins
// in now's location.
func nextDaily(now time.Time, mins int) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	next := day.Add(time.Duration(mins) * time.Minute)
	if !next.After(now) {
		next = time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location()).Add(time.Duration(mins) * time.Minute)
	}
	return next
}

// ExecutionLimit is the time a run started at now may take: until 30 s
// before the next quarter, or one more quarter when that leaves less than
// a minute.
func ExecutionLimit(now time.Time) time.Duration {
	next := now.Truncate(15 * time.Minute).Add(15 * time.Minute)
	limit := next.Sub(now) - 30*time.Second
	if limit < time.Minute {
		limit += 15 * time.Minute
	}
	return limit
}

// ValidateDailyAt checks a "HH:MM" daily trigger time.
func ValidateDailyAt(s string) error {
	_, err := parseHHMM(s)
	return err
}
