package core

import (
	"strconv"
	"strings"
	"time"
)

var monthNames = [12]string{
	"January", "February", "March", "April", "May", "June",
	"July", "August", "September", "October", "November", "December",
}

// MonthName returns the English name for a one-based month, or "" when out of range.
func MonthName(month int) string {
	if month < 1 || month > 12 {
		return ""
	}
	return monthNames[month-1]
}

// MonthShort returns the three letter abbreviation ("Mar").
func MonthShort(month int) string {
	name := MonthName(month)
	if name == "" {
		return ""
	}
	return name[:3]
}

// MonthNames returns January through December.
func MonthNames() []string {
	out := make([]string, len(monthNames))
	copy(out, monthNames[:])
	return out
}

// ParseMonthName resolves a full or short English month name, or a
// one-based number, to a one-based month.
func ParseMonthName(s string) (int, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > 12 {
			return 0, ErrInvalidMonth
		}
		return n, nil
	}
	for i, name := range monthNames {
		if strings.EqualFold(name, s) || strings.EqualFold(name[:3], s) {
			return i + 1, nil
		}
	}
	return 0, ErrInvalidMonth
}

// CalendarDate truncates t to its calendar date in loc.
// A nil location means the process-local zone.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
