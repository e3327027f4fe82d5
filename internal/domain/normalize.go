package domain

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
)

// SGO column names.
const (
	colReportID         = "Report ID"
	colSameIncidentID   = "Same Incident ID"
	colReportingEntity  = "Reporting Entity"
	colMake             = "Make"
	colModel            = "Model"
	colModelYear        = "Model Year"
	colAddress          = "Address"
	colCity             = "City"
	colState            = "State"
	colLatitude         = "Latitude"
	colLongitude        = "Longitude"
	colIncidentDate     = "Incident Date"
	colIncidentMonth    = "Incident Month/Year"
	colIncidentTime     = "Incident Time (24:00)"
	colSubmissionDate   = "Report Submission Date"
	colCrashWith        = "Crash With"
	colAutomationEngage = "Automation System Engaged?"
	colAutomationType   = "Type of Automation System Engaged"
	colNarrative        = "Narrative"
)

var (
	severityCols = []string{"Highest Injury Severity Alleged", "Injury Severity", "Highest Injury Severity"}
	injuryCols   = []string{"Injuries", "Persons Injured", "Number of Injured"}
	fatalityCols = []string{"Fatalities", "Persons Killed", "Deaths"}
)

// maxNarrativeLen caps the narrative excerpt appended to descriptions, in runes.
const maxNarrativeLen = 500

// NormalizeResult is the outcome of normalizing one dataset's rows.
type NormalizeResult struct {
	Pending []PendingIncident
	// Duplicates counts rows skipped because their Same Incident ID was
	// already seen in this dataset.
	Duplicates int
	// DateFallbacks counts incidents whose occurred_at is the ingestion time.
	DateFallbacks int
}

// Normalizer maps SGO rows to incidents awaiting location resolution.
type Normalizer struct {
	logger *slog.Logger
	clock  clockwork.Clock
}

// NewNormalizer creates a Normalizer that logs data-quality fallbacks and
// stamps ingestion time from c. A nil clock uses real time.
func NewNormalizer(logger *slog.Logger, c clockwork.Clock) *Normalizer {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &Normalizer{logger: logger, clock: c}
}

// Normalize converts rows in source order. Rows repeating an earlier row's
// Same Incident ID are skipped.
func (n *Normalizer) Normalize(ds Dataset, records []RawRecord) NormalizeResult {
	var res NormalizeResult
	seen := make(map[string]struct{}, len(records))

	for i, row := range records {
		if key := strings.TrimSpace(row[colSameIncidentID]); key != "" {
			if _, dup := seen[key]; dup {
				res.Duplicates++
				continue
			}
			seen[key] = struct{}{}
		}

		p, fellBack := n.normalizeRow(ds, row, i)
		if fellBack {
			res.DateFallbacks++
		}
		res.Pending = append(res.Pending, p)
	}
	return res
}

func (n *Normalizer) normalizeRow(ds Dataset, row RawRecord, index int) (PendingIncident, bool) {
	now := n.clock.Now().UTC()
	externalID := ExternalID(ds.IDPrefix, row[colReportID], index)

	dateToken := firstValue(row, colIncidentDate, colIncidentMonth)
	occurredAt, ok := ParseDate(dateToken, row[colIncidentTime])
	if !ok {
		occurredAt, ok = ParseDate(row[colSubmissionDate], "")
	}
	fellBack := false
	if !ok {
		occurredAt = now
		fellBack = true
		n.logger.Warn("unparseable incident date, using ingestion time",
			"external_id", externalID,
			"date", dateToken,
			"source", ds.Name,
		)
	}

	severity := firstValue(row, severityCols...)
	fatalities, injuries := Casualties(row, severity)
	city := cleanValue(row[colCity])
	state := strings.ToUpper(cleanValue(row[colState]))

	inc := Incident{
		IncidentType: ClassifyIncident(severity),
		AVCompany:    companyFor(row),
		Description:  describe(row, city, state),
		Address:      cleanValue(row[colAddress]),
		City:         city,
		State:        state,
		OccurredAt:   occurredAt,
		ReportedAt:   now,
		Status:       StatusVerified,
		Source:       ds.Source,
		ExternalID:   externalID,
		Fatalities:   fatalities,
		Injuries:     injuries,
		RawData:      row,
	}

	return PendingIncident{
		Incident: inc,
		Hint: LocationHint{
			Latitude:  row[colLatitude],
			Longitude: row[colLongitude],
			Address:   inc.Address,
			Narrative: row[colNarrative],
			City:      city,
			State:     state,
		},
	}, fellBack
}

// companyFor maps Make, then Reporting Entity when Make names only a vehicle
// brand. SGO rows usually carry the brand in Make and the operator in the
// entity column.
func companyFor(row RawRecord) string {
	if c := MapCompany(row[colMake]); c != CompanyOther {
		return c
	}
	return MapCompany(row[colReportingEntity])
}

// ExternalID composes the upsert key for a row: "<prefix>-<report id>", or
// "<prefix>-row-<index>" when the row has no report id.
func ExternalID(prefix, reportID string, index int) string {
	reportID = strings.TrimSpace(reportID)
	if reportID == "" || isSentinel(reportID) {
		return fmt.Sprintf("%s-row-%d", prefix, index)
	}
	return prefix + "-" + reportID
}

// ClassifyIncident derives the incident type from an injury severity value.
// Crash-report datasets default to a collision.
func ClassifyIncident(severity string) string {
	s := strings.ToLower(severity)
	switch {
	case strings.Contains(s, "fatal"), strings.Contains(s, "serious"):
		return TypeCollision
	case strings.Contains(s, "minor"), strings.Contains(s, "possible"):
		return TypeNearMiss
	default:
		return TypeCollision
	}
}

// Casualties reads fatality and injury counts from the first populated count
// column, then raises them to at least one when the severity implies it.
func Casualties(row RawRecord, severity string) (fatalities, injuries int) {
	fatalities = parseIntOr(firstValue(row, fatalityCols...), 0)
	injuries = parseIntOr(firstValue(row, injuryCols...), 0)

	s := strings.ToLower(severity)
	if strings.Contains(s, "fatal") {
		fatalities = max(fatalities, 1)
	}
	if (strings.Contains(s, "injur") && !strings.Contains(s, "no injur")) || strings.Contains(s, "hospitalization") {
		injuries = max(injuries, 1)
	}
	return fatalities, injuries
}

// describe builds "<year make model> (<automation>) <crash with> in <city>, <st>."
// followed by the narrative excerpt.
func describe(row RawRecord, city, state string) string {
	var b strings.Builder

	vehicle := joinNonEmpty(" ", cleanValue(row[colModelYear]), cleanValue(row[colMake]), cleanValue(row[colModel]))
	if vehicle == "" {
		vehicle = "Vehicle"
	}
	b.WriteString(vehicle)

	if automation := firstValue(row, colAutomationType, colAutomationEngage); automation != "" {
		fmt.Fprintf(&b, " (%s)", automation)
	}
	if crashWith := cleanValue(row[colCrashWith]); crashWith != "" {
		fmt.Fprintf(&b, " crash with %s", strings.ToLower(crashWith))
	} else {
		b.WriteString(" crash")
	}
	if place := joinNonEmpty(", ", city, state); place != "" {
		fmt.Fprintf(&b, " in %s", place)
	}
	b.WriteString(".")

	if narrative := cleanValue(row[colNarrative]); narrative != "" {
		b.WriteString(" ")
		b.WriteString(truncateRunes(narrative, maxNarrativeLen))
	}
	return b.String()
}

// firstValue returns the first column among cols holding a non-placeholder value.
func firstValue(row RawRecord, cols ...string) string {
	for _, c := range cols {
		if v := cleanValue(row[c]); v != "" {
			return v
		}
	}
	return ""
}

// cleanValue trims a cell and blanks redaction and unknown placeholders.
func cleanValue(s string) string {
	s = strings.TrimSpace(s)
	if isSentinel(s) {
		return ""
	}
	return s
}

// parseIntOr parses a non-negative count, returning def for anything else.
func parseIntOr(s string, def int) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f < 1e6 {
		return int(f)
	}
	return def
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}
