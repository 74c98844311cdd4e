package domain

import "time"

// DateOnly strips the time component, normalized to UTC midnight.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// AnchorInYear places the anchor's month and day into the given calendar
// year, clamping the day for short months.
func AnchorInYear(anchor time.Time, year int) time.Time {
	return clampedDate(year, anchor.Month(), anchor.Day())
}

// FiscalYearFor labels the fiscal year a date belongs to. A date on or after
// the anchor within its calendar year belongs to the fiscal year ending the
// following calendar year.
func FiscalYearFor(anchor, date time.Time) int {
	d := DateOnly(date)
	if !d.Before(AnchorInYear(anchor, d.Year())) {
		return d.Year() + 1
	}
	return d.Year()
}

// FiscalYearStart returns the first day of the fiscal year.
func FiscalYearStart(anchor time.Time, fiscalYear int) time.Time {
	return AnchorInYear(anchor, fiscalYear-1)
}

// PeriodWindow computes the month period covering date: its date range,
// 1-based period number within the fiscal year, and the fiscal year label.
func PeriodWindow(anchor, date time.Time) (start, end time.Time, periodNumber, fiscalYear int) {
	d := DateOnly(date)

	start = clampedDate(d.Year(), d.Month(), anchor.Day())
	if d.Before(start) {
		start = clampedDate(prevMonth(d.Year(), d.Month()))
		start = clampedDate(start.Year(), start.Month(), anchor.Day())
	}
	end = nextMonthAnchor(start, anchor.Day()).AddDate(0, 0, -1)

	fiscalYear = FiscalYearFor(anchor, d)
	fyStart := FiscalYearStart(anchor, fiscalYear)
	periodNumber = 12*(start.Year()-fyStart.Year()) + int(start.Month()) - int(fyStart.Month()) + 1
	return start, end, periodNumber, fiscalYear
}

// GenerateWindows lays out the 12 consecutive month windows of a fiscal year.
func GenerateWindows(anchor time.Time, fiscalYear int) [12][2]time.Time {
	var windows [12][2]time.Time
	start := FiscalYearStart(anchor, fiscalYear)
	for i := 0; i < 12; i++ {
		end := nextMonthAnchor(start, anchor.Day()).AddDate(0, 0, -1)
		windows[i] = [2]time.Time{start, end}
		start = nextMonthAnchor(start, anchor.Day())
	}
	return windows
}

// SameCalendarMonth reports whether two dates share year and month.
func SameCalendarMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

func nextMonthAnchor(start time.Time, anchorDay int) time.Time {
	year, month := nextMonth(start.Year(), start.Month())
	return clampedDate(year, month, anchorDay)
}

func nextMonth(year int, month time.Month) (int, time.Month) {
	if month == time.December {
		return year + 1, time.January
	}
	return year, month + 1
}

func prevMonth(year int, month time.Month) (int, time.Month, int) {
	if month == time.January {
		return year - 1, time.December, 1
	}
	return year, month - 1, 1
}

// clampedDate builds a UTC date clamping day into the month's length.
func clampedDate(year int, month time.Month, day int) time.Time {
	last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
