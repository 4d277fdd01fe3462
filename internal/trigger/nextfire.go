package trigger

import "time"

// NextFixedHour computes the next occurrence of hour (UTC) strictly after now.
// If the target hour today has already passed (or is exactly now), it rolls to
// tomorrow, so recomputing right after a firing always moves forward and the
// same target hour can never fire twice.
func NextFixedHour(now time.Time, hour int) time.Time {
	now = now.UTC()
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
