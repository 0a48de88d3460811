// Package timeparse recognises natural-language time expressions embedded in
// a search query and turns them into a [start, end) window, stripping the
// recognised phrase out of the remaining query text.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Result is the outcome of parsing a query for a time expression.
type Result struct {
	// Start and End bound the recognised window. Both are nil if nothing
	// was recognised.
	Start *time.Time
	End   *time.Time
	// Cleaned is the query with the recognised time phrase removed and
	// surrounding whitespace collapsed.
	Cleaned string
	// Matched is true if a time expression was recognised at all.
	Matched bool
}

// Clock lets tests inject a fixed "now" instead of depending on the wall
// clock, mirroring the injectable-clock style used elsewhere in the store.
type Clock func() time.Time

var defaultClock Clock = time.Now

var agoRe = regexp.MustCompile(`(?i)\b(\d+)\s+(second|minute|hour|day|week|month|year)s?\s+ago\b`)

var namedRanges = []struct {
	phrase string
	window func(now time.Time) (time.Time, time.Time)
}{
	{"yesterday", func(now time.Time) (time.Time, time.Time) {
		start := dayStart(now.AddDate(0, 0, -1))
		return start, start.AddDate(0, 0, 1)
	}},
	{"today", func(now time.Time) (time.Time, time.Time) {
		start := dayStart(now)
		return start, start.AddDate(0, 0, 1)
	}},
	{"tomorrow", func(now time.Time) (time.Time, time.Time) {
		start := dayStart(now.AddDate(0, 0, 1))
		return start, start.AddDate(0, 0, 1)
	}},
	{"this week", func(now time.Time) (time.Time, time.Time) {
		start := weekStart(now)
		return start, start.AddDate(0, 0, 7)
	}},
	{"last week", func(now time.Time) (time.Time, time.Time) {
		start := weekStart(now).AddDate(0, 0, -7)
		return start, start.AddDate(0, 0, 7)
	}},
	{"this month", func(now time.Time) (time.Time, time.Time) {
		start := monthStart(now)
		return start, start.AddDate(0, 1, 0)
	}},
	{"last month", func(now time.Time) (time.Time, time.Time) {
		start := monthStart(now).AddDate(0, -1, 0)
		return start, start.AddDate(0, 1, 0)
	}},
	{"this year", func(now time.Time) (time.Time, time.Time) {
		start := yearStart(now)
		return start, start.AddDate(1, 0, 0)
	}},
	{"last year", func(now time.Time) (time.Time, time.Time) {
		start := yearStart(now).AddDate(-1, 0, 0)
		return start, start.AddDate(1, 0, 0)
	}},
	{"this morning", func(now time.Time) (time.Time, time.Time) {
		d := dayStart(now)
		return d.Add(6 * time.Hour), d.Add(12 * time.Hour)
	}},
	{"this afternoon", func(now time.Time) (time.Time, time.Time) {
		d := dayStart(now)
		return d.Add(12 * time.Hour), d.Add(18 * time.Hour)
	}},
	{"this evening", func(now time.Time) (time.Time, time.Time) {
		d := dayStart(now)
		return d.Add(18 * time.Hour), d.Add(24 * time.Hour)
	}},
	{"last spring", func(now time.Time) (time.Time, time.Time) { return season(now, -1, 2, 3, 5) }},
	{"last summer", func(now time.Time) (time.Time, time.Time) { return season(now, -1, 5, 6, 8) }},
	{"last fall", func(now time.Time) (time.Time, time.Time) { return season(now, -1, 8, 9, 11) }},
	{"last autumn", func(now time.Time) (time.Time, time.Time) { return season(now, -1, 8, 9, 11) }},
	{"last winter", func(now time.Time) (time.Time, time.Time) { return season(now, -1, 11, 12, 2) }},
	{"spring", func(now time.Time) (time.Time, time.Time) { return season(now, 0, 2, 3, 5) }},
	{"summer", func(now time.Time) (time.Time, time.Time) { return season(now, 0, 5, 6, 8) }},
	{"fall", func(now time.Time) (time.Time, time.Time) { return season(now, 0, 8, 9, 11) }},
	{"autumn", func(now time.Time) (time.Time, time.Time) { return season(now, 0, 8, 9, 11) }},
	{"winter", func(now time.Time) (time.Time, time.Time) { return season(now, 0, 11, 12, 2) }},
	{"christmas", func(now time.Time) (time.Time, time.Time) { return holiday(now, 12, 25) }},
	{"new year", func(now time.Time) (time.Time, time.Time) { return holiday(now, 1, 1) }},
	{"halloween", func(now time.Time) (time.Time, time.Time) { return holiday(now, 10, 31) }},
	{"thanksgiving", func(now time.Time) (time.Time, time.Time) { return holiday(now, 11, 27) }},
}

// Parse scans query for a recognised time expression using clk as "now"
// (defaultClock when nil) and returns the resulting window plus the query
// text with the phrase stripped out.
func Parse(query string, clk Clock) Result {
	if clk == nil {
		clk = defaultClock
	}
	now := clk()
	lower := strings.ToLower(query)

	if m := agoRe.FindStringSubmatchIndex(lower); m != nil {
		n, _ := strconv.Atoi(lower[m[2]:m[3]])
		unit := lower[m[4]:m[5]]
		start := subtractUnits(now, n, unit)
		return Result{
			Start:   &start,
			End:     ptr(now),
			Cleaned: collapseSpaces(strings.TrimSpace(query[:m[0]] + query[m[1]:])),
			Matched: true,
		}
	}

	for _, nr := range namedRanges {
		idx := strings.Index(lower, nr.phrase)
		if idx < 0 {
			continue
		}
		start, end := nr.window(now)
		cleaned := strings.TrimSpace(query[:idx] + query[idx+len(nr.phrase):])
		return Result{Start: &start, End: &end, Cleaned: collapseSpaces(cleaned), Matched: true}
	}

	return Result{Cleaned: query}
}

func subtractUnits(now time.Time, n int, unit string) time.Time {
	switch unit {
	case "second":
		return now.Add(-time.Duration(n) * time.Second)
	case "minute":
		return now.Add(-time.Duration(n) * time.Minute)
	case "hour":
		return now.Add(-time.Duration(n) * time.Hour)
	case "day":
		return now.AddDate(0, 0, -n)
	case "week":
		return now.AddDate(0, 0, -7*n)
	case "month":
		return now.AddDate(0, -n, 0)
	case "year":
		return now.AddDate(-n, 0, 0)
	default:
		return now
	}
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func weekStart(t time.Time) time.Time {
	d := dayStart(t)
	offset := (int(d.Weekday()) + 6) % 7 // Monday = 0
	return d.AddDate(0, 0, -offset)
}

func monthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func yearStart(t time.Time) time.Time {
	y, _, _ := t.Date()
	return time.Date(y, 1, 1, 0, 0, 0, 0, t.Location())
}

// season returns the [start, end) window for a three-month season, optionally
// offset by yearOffset (e.g. -1 for "last spring"). startMonth/endMonthExcl
// are 1-based months; winter wraps across the year boundary.
func season(now time.Time, yearOffset, startMonth, midMonth, endMonthExcl int) (time.Time, time.Time) {
	y := now.Year() + yearOffset
	_ = midMonth
	start := time.Date(y, time.Month(startMonth), 1, 0, 0, 0, 0, now.Location())
	endYear := y
	if endMonthExcl < startMonth {
		endYear++
	}
	end := time.Date(endYear, time.Month(endMonthExcl), 1, 0, 0, 0, 0, now.Location())
	return start, end
}

func holiday(now time.Time, month, day int) (time.Time, time.Time) {
	y := now.Year()
	start := time.Date(y, time.Month(month), day, 0, 0, 0, 0, now.Location())
	if start.After(now) {
		start = start.AddDate(-1, 0, 0)
	}
	return start, start.AddDate(0, 0, 1)
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func ptr(t time.Time) *time.Time { return &t }
