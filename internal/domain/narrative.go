package domain

import (
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"
)

// Candidate length bounds, in runes, for an extracted location fragment.
const (
	minLocationLen = 6
	maxLocationLen = 99
)

// Pattern building blocks. A word starts with a capital letter or a digit so
// that ordinary narrative prose does not read as a street name.
const (
	wordPat       = `[A-Z0-9][A-Za-z0-9'.\-]*`
	streetTypePat = `(?i:street|st|avenue|ave|boulevard|blvd|road|rd|drive|dr|lane|ln|parkway|pkwy|way|highway|hwy|place|pl|court|ct|terrace|ter|expressway|expy|freeway|fwy|circle|cir)\b`
)

var (
	// streetPat is one to four words ending in a street type: "Market Street".
	streetPat = `(?:` + wordPat + `\s+){0,3}?` + wordPat + `\s+` + streetTypePat
	// crossPat is the second leg of an intersection, with or without a type.
	crossPat = `(?:(?:` + wordPat + `\s+){0,2}?` + wordPat + `\s+` + streetTypePat + `|` + wordPat + `)`
	// legPat is the first leg of an intersection.
	legPat = `(?:` + wordPat + `\s+){0,2}` + wordPat + `(?:\s+` + streetTypePat + `)?`
	andPat = `\s+(?i:and|&)\s+`
)

// LocationRule is one named narrative pattern. The first capture group holds
// the location text.
type LocationRule struct {
	Name    string
	Pattern *regexp.Regexp
}

// DefaultLocationRules returns the built-in rules in priority order.
func DefaultLocationRules() []LocationRule {
	return []LocationRule{
		{Name: "on_street", Pattern: regexp.MustCompile(`\b(?i:on)\s+(` + streetPat + `)`)},
		{Name: "at_intersection", Pattern: regexp.MustCompile(`\b(?i:at)\s+(` + legPat + andPat + crossPat + `)`)},
		{Name: "near_street", Pattern: regexp.MustCompile(`\b(?i:near)\s+(` + streetPat + `)`)},
		{Name: "street_near_street", Pattern: regexp.MustCompile(`\b(` + streetPat + `\s+(?i:near)\s+` + crossPat + `)`)},
		{Name: "intersection_of", Pattern: regexp.MustCompile(`\b(?i:intersection\s+of)\s+(` + legPat + andPat + crossPat + `)`)},
		{Name: "street_address", Pattern: regexp.MustCompile(`\b(\d{1,6}\s+` + streetPat + `)`)},
	}
}

// LocationMatch is an accepted fragment and the rule that produced it.
type LocationMatch struct {
	Rule string
	Text string
}

// Extractor scans incident narratives for street and intersection mentions.
// It is a heuristic: false positives are expected and are filtered by the
// geocoder's distance check.
type Extractor struct {
	rules []LocationRule
}

// NewExtractor builds an extractor over rules, tried in order. With no rules
// it uses DefaultLocationRules.
func NewExtractor(rules ...LocationRule) *Extractor {
	if len(rules) == 0 {
		rules = DefaultLocationRules()
	}
	return &Extractor{rules: slices.Clone(rules)}
}

// Without returns a copy of the extractor with the named rules disabled.
func (e *Extractor) Without(names ...string) *Extractor {
	kept := make([]LocationRule, 0, len(e.rules))
	for _, r := range e.rules {
		if !slices.Contains(names, r.Name) {
			kept = append(kept, r)
		}
	}
	return &Extractor{rules: kept}
}

// Rules returns the rule names in priority order.
func (e *Extractor) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

// Extract returns the first acceptable location fragment in text.
func (e *Extractor) Extract(text string) (string, bool) {
	m, ok := e.Match(text)
	return m.Text, ok
}

// Match is Extract that also reports which rule matched.
func (e *Extractor) Match(text string) (LocationMatch, bool) {
	if strings.TrimSpace(text) == "" || isSentinel(text) {
		return LocationMatch{}, false
	}
	for _, rule := range e.rules {
		for _, sub := range rule.Pattern.FindAllStringSubmatch(text, -1) {
			if len(sub) < 2 {
				continue
			}
			candidate := cleanLocation(sub[1])
			n := utf8.RuneCountInString(candidate)
			if n >= minLocationLen && n <= maxLocationLen {
				return LocationMatch{Rule: rule.Name, Text: candidate}, true
			}
		}
	}
	return LocationMatch{}, false
}

var leadingWords = []string{"on", "at", "near", "of", "the"}

// cleanLocation trims punctuation and leading prepositions from a fragment.
func cleanLocation(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	s = strings.Trim(s, " ,.;:")
	for {
		first, rest, found := strings.Cut(s, " ")
		if !found || !slices.Contains(leadingWords, strings.ToLower(first)) {
			return s
		}
		s = rest
	}
}
