package utils

import (
	"log"
	"time"
)

const DefaultDateFormat = "02-01-2006"

// ParseDate parses a date string using the default format.
// Logs an error and returns zero time if parsing fails.
func ParseDate(dateStr string) time.Time {
	t, err := time.Parse(DefaultDateFormat, dateStr)
	if err != nil {
		log.Printf("Error parsing date '%s' with format '%s': %v. Returning zero time.", dateStr, DefaultDateFormat, err)
		return time.Time{}
	}
	return t
}

// FormatDate renders a time in the default DD-MM-YYYY wire format.
func FormatDate(t time.Time) string {
	return t.Format(DefaultDateFormat)
}

// DayInMonth clamps a day-of-month to what the given month actually has,
// so a SIP day of 31 lands on Feb 28 (or 29 in a leap year).
func DayInMonth(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween returns the number of whole calendar months elapsed from
// 'from' to 'to', counting a month only once its day-of-month is reached.
// Returns 0 when 'to' is before 'from'.
func MonthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
