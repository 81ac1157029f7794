package util //nolint:revive // package name util hosts shared formatting helpers used by the CLI

import "time"

// FormatElapsed formats a processing duration for display. Zero or negative
// durations render as "-"; longer ones are truncated to milliseconds, or to
// tenths of a second past one minute.
func FormatElapsed(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Millisecond:
		return d.String()
	case d < time.Minute:
		return d.Truncate(time.Millisecond).String()
	default:
		return d.Truncate(100 * time.Millisecond).String()
	}
}
