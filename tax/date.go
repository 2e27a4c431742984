package tax

import (
	"regexp"
	"strconv"
	"time"
)

// =============================================================================
// STRICT DATE PARSING
// =============================================================================

// isoDate accepts YYYY-MM-DD with an optional THH:MM[:SS[.fraction]] time and
// an optional Z or ±HH:MM offset. Nothing may follow the offset.
var isoDate = regexp.MustCompile(
	`^(\d{4})-(\d{2})-(\d{2})` +
		`(?:T(\d{2}):(\d{2})(?::(\d{2})(?:\.(\d{1,9}))?)?(Z|[+-]\d{2}:\d{2})?)?$`)

// DateLayout is the canonical rendering of an instant: fixed width, UTC,
// nanosecond precision. Fixed width keeps lexical and chronological order
// identical, which the SQL stores rely on.
const DateLayout = "2006-01-02T15:04:05.000000000Z"

// ParseDate parses s as an ISO-8601 date or date-time and returns it in UTC.
//
// Date-only strings mean midnight UTC. A time without an offset is UTC.
// Calendar overflow is rejected rather than normalized: "2024-02-30" is an
// error, not March 1st. So is an offset whose UTC instant falls on another
// day than the one written: "2024-02-28T02:00:00+05:00" is an error.
func ParseDate(s string) (time.Time, error) {
	m := isoDate.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, &DateFormatError{Input: s, Reason: "expected YYYY-MM-DD[THH:MM[:SS[.fff]][Z|±HH:MM]]"}
	}

	year, month, day := atoi(m[1]), atoi(m[2]), atoi(m[3])
	hour, minute, second := atoi(m[4]), atoi(m[5]), atoi(m[6])

	if month < 1 || month > 12 {
		return time.Time{}, &DateFormatError{Input: s, Reason: "month out of range"}
	}
	if day < 1 || day > 31 {
		return time.Time{}, &DateFormatError{Input: s, Reason: "day out of range"}
	}
	if hour > 23 || minute > 59 || second > 59 {
		return time.Time{}, &DateFormatError{Input: s, Reason: "time out of range"}
	}

	nanos := 0
	if frac := m[7]; frac != "" {
		nanos = atoi(frac)
		for i := len(frac); i < 9; i++ {
			nanos *= 10
		}
	}

	loc := time.UTC
	if off := m[8]; off != "" && off != "Z" {
		oh, om := atoi(off[1:3]), atoi(off[4:6])
		if oh > 23 || om > 59 {
			return time.Time{}, &DateFormatError{Input: s, Reason: "offset out of range"}
		}
		secs := oh*3600 + om*60
		if off[0] == '-' {
			secs = -secs
		}
		loc = time.FixedZone(off, secs)
	}

	// time.Date normalizes overflow (Feb 30 becomes Mar 1). The UTC calendar
	// day must match the literal one, so an offset that moves the instant
	// across midnight UTC is rejected too.
	u := time.Date(year, time.Month(month), day, hour, minute, second, nanos, loc).UTC()
	if u.Year() != year || int(u.Month()) != month || u.Day() != day {
		return time.Time{}, &DateFormatError{Input: s, Reason: "calendar date does not match UTC instant"}
	}

	return u, nil
}

// MustParseDate is ParseDate for literals; it panics on error.
func MustParseDate(s string) time.Time {
	t, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// FormatDate renders t in DateLayout.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// atoi converts a regexp group of ASCII digits. Empty groups are zero.
func atoi(s string) int {
	if s == "" {
		return 0
	}
	n, _ := strconv.Atoi(s)
	return n
}
