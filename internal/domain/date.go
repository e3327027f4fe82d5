package domain

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	// monthYearRe matches the SGO "OCT-2025" incident date format.
	monthYearRe = regexp.MustCompile(`^([A-Za-z]{3})-(\d{4})$`)

	// slashDateRe matches MM/DD/YYYY with optional zero padding.
	slashDateRe = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)

	isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	// clockRe matches an HH:MM time token, seconds optional.
	clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::\d{2})?$`)
)

var monthAbbrev = map[string]time.Month{
	"JAN": time.January, "FEB": time.February, "MAR": time.March,
	"APR": time.April, "MAY": time.May, "JUN": time.June,
	"JUL": time.July, "AUG": time.August, "SEP": time.September,
	"OCT": time.October, "NOV": time.November, "DEC": time.December,
}

// fallbackLayouts are tried in order once the structured formats fail.
var fallbackLayouts = []string{
	"January 2006",
	"Jan 2006",
	"01/2006",
	"2006-01",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-2006",
}

// ParseDate resolves a source date token and an optional HH:MM time token to a
// UTC instant. It reports false when the date cannot be interpreted; callers
// substitute the ingestion time. Formats are tried in priority order:
// MON-YYYY (first of the month), MM/DD/YYYY, YYYY-MM-DD, then a fixed list of
// generic layouts.
func ParseDate(date, timeOfDay string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	if date == "" || isSentinel(date) {
		return time.Time{}, false
	}

	t, ok := parseDateOnly(date)
	if !ok {
		return time.Time{}, false
	}
	return applyClock(t, timeOfDay), true
}

func parseDateOnly(date string) (time.Time, bool) {
	if m := monthYearRe.FindStringSubmatch(date); m != nil {
		month, ok := monthAbbrev[strings.ToUpper(m[1])]
		if !ok {
			return time.Time{}, false
		}
		year, _ := strconv.Atoi(m[2])
		return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC), true
	}

	// A token shaped like a slash or ISO date that fails to parse is
	// rejected outright rather than handed to the looser layouts.
	if slashDateRe.MatchString(date) {
		t, err := time.Parse("1/2/2006", date)
		return t, err == nil
	}
	if isoDateRe.MatchString(date) {
		t, err := time.Parse(time.DateOnly, date)
		return t, err == nil
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, date); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// applyClock sets hours and minutes from an HH:MM token. Invalid tokens leave
// the date untouched.
func applyClock(t time.Time, timeOfDay string) time.Time {
	m := clockRe.FindStringSubmatch(strings.TrimSpace(timeOfDay))
	if m == nil {
		return t
	}
	hour, errH := strconv.Atoi(m[1])
	mins, errM := strconv.Atoi(m[2])
	if errH != nil || errM != nil || hour > 23 || mins > 59 {
		return t
	}
	return time.Date(t.Year(), t.Month(), t.Day(), hour, mins, 0, 0, time.UTC)
}

// isSentinel reports whether a value is a placeholder rather than data.
func isSentinel(s string) bool {
	u := strings.ToUpper(strings.TrimSpace(s))
	switch u {
	case "", "UNKNOWN", "BLANK", "N/A", "NA", "NONE", "NULL":
		return true
	}
	return strings.Contains(u, "REDACTED")
}
