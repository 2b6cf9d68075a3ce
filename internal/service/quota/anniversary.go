package quota

import "time"

// Monthly quota windows reset on the account's billing anniversary, the
// day-of-month the account was created. Months shorter than the anchor day
// clamp to their final day, so a day-31 anchor resets on Feb 28 (29 in leap
// years) and snaps back to the 31st in months that have one.

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func anniversaryInMonth(anchorDay, year int, month time.Month) time.Time {
	day := anchorDay
	if last := daysInMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LastAnniversary returns the most recent billing anniversary at or before
// now, given the billing period anchor date.
func LastAnniversary(anchor, now time.Time) time.Time {
	today := truncateToDay(now)
	candidate := anniversaryInMonth(anchor.Day(), today.Year(), today.Month())
	if candidate.After(today) {
		prev := today.AddDate(0, -1, -today.Day()+1)
		candidate = anniversaryInMonth(anchor.Day(), prev.Year(), prev.Month())
	}
	return candidate
}

// NextAnniversary returns the first billing anniversary strictly after now.
func NextAnniversary(anchor, now time.Time) time.Time {
	last := LastAnniversary(anchor, now)
	next := last.AddDate(0, 1, -last.Day()+1)
	return anniversaryInMonth(anchor.Day(), next.Year(), next.Month())
}

// NextMidnightUTC returns the start of the next UTC day, when daily message
// counters reset.
func NextMidnightUTC(now time.Time) time.Time {
	return truncateToDay(now).AddDate(0, 0, 1)
}
