package util

import "fmt"

const (
	hoursPerDay  = 24
	hoursPerWeek = 7 * hoursPerDay
)

func plural(n int) string {
	if n > 1 || n == 0 {
		return "s"
	}
	return ""
}

// FormatCancellation converts a cancellation period in hours into text, e.g. "2 days" or "1 week"
func FormatCancellation(hours int) string {
	weeks := hours / hoursPerWeek
	remainder := hours % hoursPerWeek
	days := remainder / hoursPerDay
	rest := remainder % hoursPerDay

	switch {
	case hours <= hoursPerDay:
		return fmt.Sprintf("%d hour%s", hours, plural(hours))
	case weeks == 0 && rest == 0:
		return fmt.Sprintf("%d day%s", days, plural(days))
	case days == 0 && rest == 0:
		return fmt.Sprintf("%d week%s", weeks, plural(weeks))
	default:
		return fmt.Sprintf(
			"%d week%s, %d day%s and %d hour%s",
			weeks, plural(weeks), days, plural(days), rest, plural(rest),
		)
	}
}
