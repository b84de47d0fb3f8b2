package oebb

import (
	"regexp"
	"strings"
)

var (
	// Leading generic labels such as "Bauarbeiten - Zugausfall:" carry no
	// information once the category is set.
	labelRe = regexp.MustCompile(`(?i)^\s*(?:(?:bauarbeiten|zugausfall(?:e)?|geänderte\s*fahrzeiten|fahrplanänderung|einschränkungen?|störung|verkehrsmeldung|baustelle|verkehrsinfo)\s*(?:[-:–—]|/\s*)\s*)+`)

	parenStopTypeRe = regexp.MustCompile(`(?i)\s*\((?:U\d*|S\d*)\)`)
	bahnhofRe       = regexp.MustCompile(`(?i)\bBahnhof\b\.?`)
	bhfRe           = regexp.MustCompile(`(?i)\bBhf\b\.?`) // Hbf stays
	relationDashRe  = regexp.MustCompile(`\s[-–—]\s`)
	bzwRe           = regexp.MustCompile(`(?i)\s*bzw\.?\s*`)
	multiArrowRe    = regexp.MustCompile(`(?:\s*↔\s*){2,}`)
	multiSpaceRe    = regexp.MustCompile(`\s{2,}`)

	// Arrows wrapped in stray angle brackets, including once or twice
	// escaped ones, appear in descriptions after entity decoding.
	arrowNoiseRe = regexp.MustCompile(`(?:&(?:amp;)?lt;|<)?\s*(?:↔|<->|<=>)\s*(?:&(?:amp;)?gt;|>)?`)

	facilityRe = regexp.MustCompile(`(?i)\b(aufzug|aufzüge|lift|fahrstuhl|fahrtreppe|fahrtreppen|rolltreppe|rolltreppen)\b`)
)

// tidyTitle strips label and station noise from an upstream title and
// normalises relation separators to a single arrow form.
func tidyTitle(title string) string {
	t := labelRe.ReplaceAllString(title, "")

	t = parenStopTypeRe.ReplaceAllString(t, "")
	t = bahnhofRe.ReplaceAllString(t, "")
	t = bhfRe.ReplaceAllString(t, "")

	t = relationDashRe.ReplaceAllString(t, " ↔ ")
	t = bzwRe.ReplaceAllString(t, "/")

	// A relation written with a slash still needs one arrow: the last word
	// before the first slash is the left endpoint.
	if strings.Contains(t, "/") && !strings.Contains(t, "↔") {
		idx := strings.Index(t, "/")
		left := t[:idx]
		if li := strings.LastIndex(left, " "); li >= 0 {
			t = left[:li] + " ↔ " + left[li+1:] + t[idx:]
		}
	}

	t = multiArrowRe.ReplaceAllString(t, " ↔ ")
	t = strings.Trim(multiSpaceRe.ReplaceAllString(t, " "), " \t-–—:/")
	if t != "" {
		return t
	}
	if title != "" {
		return title
	}
	return "ÖBB Meldung"
}

// cleanDescription repairs arrow spellings that upstream wraps in angle
// brackets or double-escapes.
func cleanDescription(s string) string {
	s = arrowNoiseRe.ReplaceAllString(s, " ↔ ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// isFacilityOnly reports whether the item is about elevators or escalators
// only. Those stay out of the feed; the municipal provider filters them the
// same way.
func isFacilityOnly(texts ...string) bool {
	return facilityRe.MatchString(strings.Join(texts, " "))
}
