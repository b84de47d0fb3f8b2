package wl

import (
	"regexp"
	"sort"
	"strings"
)

// Relevance and exclusion gates. News items must look like an actual
// service restriction; marketing and lift maintenance notes are dropped.
var (
	kwRestriction = regexp.MustCompile(`(?i)\b(umleitung|ersatzverkehr|unterbrech|sperr|gesperrt|störung|stoerung|arbeiten|baustell|einschränk|verspät|ausfall|verkehr|kurzführung|kurzfuehrung|teilbetrieb|pendelverkehr|kurzstrecke)\b`)

	kwExclude = regexp.MustCompile(`(?i)\b(willkommen|gewinnspiel|anzeiger|eröffnung|eroeffnung|service(?:-info)?|info(?:rmation)?|fest|keine\s+echtzeitinfo)\b`)

	facilityOnly = regexp.MustCompile(`(?i)\b(aufzug|aufzüge|aufzuege|lift|fahrstuhl|fahrtreppe|fahrtreppen|rolltreppe|rolltreppen|aufzugsinfo|fahrtreppeninfo)\b`)
)

func isFacilityOnly(texts ...string) bool {
	return facilityOnly.MatchString(strings.ToLower(strings.Join(texts, " ")))
}

var titleLabels = []string{
	"bauarbeiten",
	"straßenbauarbeiten",
	"strassenbauarbeiten",
	"gleisbauarbeiten",
	"verkehrsinfo",
	"verkehrsinformation",
	"verkehrsmeldung",
	"störung",
	"stoerung",
	"hinweis",
	"serviceinfo",
	"service\\-info",
	"information",
}

var labelHeadRe = regexp.MustCompile(`(?i)^\s*(?:(?:` + strings.Join(titleLabels, "|") + `)\s*(?:[-:–—/]\s*|\s+))+`)

var informativeRe = regexp.MustCompile(`[A-Za-zÄÖÜäöüß0-9]{3,}`)

var angleQuoteRe = regexp.MustCompile(`[<>«»‹›]+`)

var multiSpaceRe = regexp.MustCompile(`\s{2,}`)

// tidyTitle removes generic labels from the start of a title when the
// remainder is still informative.
func tidyTitle(title string) string {
	t := strings.TrimSpace(title)
	if t == "" {
		return t
	}
	stripped := labelHeadRe.ReplaceAllString(t, "")
	if stripped != "" && informativeRe.MatchString(stripped) {
		t = stripped
	}
	t = angleQuoteRe.ReplaceAllString(t, "")
	return strings.Trim(multiSpaceRe.ReplaceAllString(t, " "), " -–—:/\t")
}

// Topic extraction keeps recurring disruptions with varied routine wording
// grouped under one key.
var titleTopicTokens = map[string]struct{}{
	"falschparker":    {},
	"polizeieinsatz":  {},
	"rettungseinsatz": {},
	"unfall":          {},
	"signalstörung":   {},
	"signalstoerung":  {},
	"umleitung":       {},
	"ersatzverkehr":   {},
	"kurzführung":     {},
	"kurzfuehrung":    {},
	"sperre":          {},
	"gesperrt":        {},
}

var genericFillerRe = regexp.MustCompile(`(?i)\b(fahrtbehinderung|verkehrsbehinderung|behinderung|störung|stoerung|hinweis|meldung|serviceinfo|service\-info|betrieb\s+ab.*|betrieb\s+nur.*)\b`)

var nonWordRe = regexp.MustCompile(`[^\wäöüÄÖÜß]+`)

func titleCore(t string) string {
	t2 := tidyTitle(t)
	t2 = nonWordRe.ReplaceAllString(t2, " ")
	return strings.ToLower(strings.TrimSpace(multiSpaceRe.ReplaceAllString(t2, " ")))
}

func topicKey(raw string) string {
	t := genericFillerRe.ReplaceAllString(raw, " ")
	t = strings.ToLower(nonWordRe.ReplaceAllString(t, " "))
	var toks []string
	seen := map[string]struct{}{}
	for _, w := range strings.Fields(t) {
		if _, topic := titleTopicTokens[w]; !topic {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		toks = append(toks, w)
	}
	if len(toks) > 0 {
		sort.Strings(toks)
		return strings.Join(toks, " ")
	}
	return titleCore(raw)
}
