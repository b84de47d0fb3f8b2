package wl

import (
	"regexp"
	"sort"
	"strings"
)

// linePair keeps the normalised token (for grouping) next to the display
// form (for the title prefix).
type linePair struct {
	tok  string
	disp string
}

var (
	rufbusHeadRe = regexp.MustCompile(`(?i)^\s*Rufbus\s+`)
	spacesRe     = regexp.MustCompile(`\s+`)
	nonTokenRe   = regexp.MustCompile(`[^A-Za-z0-9+]`)
)

func cleanLineToken(s string) string {
	s = rufbusHeadRe.ReplaceAllString(s, "")
	return strings.ToUpper(spacesRe.ReplaceAllString(s, ""))
}

func lineToken(v string) string {
	return cleanLineToken(nonTokenRe.ReplaceAllString(v, ""))
}

func displayLine(s string) string {
	return cleanLineToken(s)
}

// Existing line blocks at the start of a title come in slash, comma and
// Rufbus flavours; all are stripped before the canonical prefix is added.
var (
	linePrefixStripRe = regexp.MustCompile(`(?i)^\s*[A-Za-z0-9]+(?:/[A-Za-z0-9]+){0,20}\s*:\s*`)

	linesComplexPrefixRe = regexp.MustCompile(`(?i)^\s*[A-Za-z0-9]+(?:\s*,\s*[A-Za-z0-9]+)+(?:\s*(?:und)?\s*(?:Rufbus\s+[A-Za-z0-9]+|\([^)]+\))\s*)*\s*:\s*`)

	rufbusPrefixRe = regexp.MustCompile(`(?i)^\s*Rufbus\s+[A-Za-z0-9]+\s*:\s*`)
)

func stripExistingLineBlock(title string) string {
	t := linePrefixStripRe.ReplaceAllString(title, "")
	t = linesComplexPrefixRe.ReplaceAllString(t, "")
	t = rufbusPrefixRe.ReplaceAllString(t, "")
	if i := strings.Index(t, ":"); i >= 0 {
		pre, post := t[:i], t[i+1:]
		if strings.Contains(pre, ",") || strings.Contains(pre, "Rufbus") || strings.Contains(pre, "(") {
			t = strings.TrimSpace(post)
		}
	}
	return t
}

// ensureLinePrefix normalises the title to a single "L1/L2: rest" prefix.
func ensureLinePrefix(title string, linesDisp []string) string {
	if len(linesDisp) == 0 {
		return title
	}
	wanted := strings.Join(linesDisp, "/")
	wantedRe := regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(wanted) + `\s*:\s*`)
	if wantedRe.MatchString(title) {
		rest := strings.TrimSpace(wantedRe.ReplaceAllString(title, ""))
		if rest == "" {
			return wanted
		}
		return title
	}
	stripped := strings.TrimSpace(stripExistingLineBlock(title))
	if stripped == "" {
		return wanted
	}
	return wanted + ": " + stripped
}

// Fallback line detection scans the title text after masking dates, clock
// times and street addresses, which would otherwise look like line codes.
var (
	lineCodeRe = regexp.MustCompile(`(?i)\b(?:U\d{1,2}|S\d{1,2}|N\d{1,3}|[0-9]{1,3}[A-Z]?|[A-Z])\b`)
	rufbusRe   = regexp.MustCompile(`(?i)Rufbus\s+([A-Za-z0-9]+)`)

	dateFullRe  = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\.(?:\d{2}|\d{4})\b`)
	dateShortRe = regexp.MustCompile(`\b\d{1,2}\.\d{1,2}\b`)
	clockRe     = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)

	addressNoRe = regexp.MustCompile(`(?i)\b([A-Za-zÄÖÜäöüß\-]+(?:gasse|straße|strasse|platz|allee|weg|steig|ufer|brücke|kai|ring|gürtel|lände|damm|markt))\s+\d+\b`)

	addressNoPreRe = regexp.MustCompile(`(?i)\b(?:ggü\.?|gegenüber|Nr\.?|Nummer|Hausnr\.?|Objekt|Stiege|Tür|Top)\s+\d+\b`)
)

func maskDatesTimesAddresses(t string) string {
	t = dateFullRe.ReplaceAllString(t, " ")
	t = dateShortRe.ReplaceAllString(t, " ")
	t = clockRe.ReplaceAllString(t, " ")
	t = addressNoRe.ReplaceAllString(t, "${1}")
	t = addressNoPreRe.ReplaceAllString(t, " ")
	return t
}

func detectLinePairsFromText(text string) []linePair {
	t := maskDatesTimesAddresses(text)
	var pairs []linePair
	seen := map[string]struct{}{}

	for _, m := range rufbusRe.FindAllStringSubmatch(t, -1) {
		tok := lineToken(m[1])
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		pairs = append(pairs, linePair{tok: tok, disp: displayLine(m[1])})
	}
	for _, m := range lineCodeRe.FindAllString(t, -1) {
		tok := lineToken(m)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		pairs = append(pairs, linePair{tok: tok, disp: displayLine(m)})
	}
	return pairs
}

func linePairsFromRelated(values []string) []linePair {
	var pairs []linePair
	seen := map[string]struct{}{}
	for _, v := range values {
		tok := lineToken(v)
		if tok == "" {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		pairs = append(pairs, linePair{tok: tok, disp: displayLine(v)})
	}
	return pairs
}

func mergeLinePairs(base, add []linePair) []linePair {
	existing := make(map[string]struct{}, len(base))
	for _, p := range base {
		existing[p.tok] = struct{}{}
	}
	out := base
	for _, p := range add {
		if _, dup := existing[p.tok]; dup {
			continue
		}
		existing[p.tok] = struct{}{}
		out = append(out, p)
	}
	return out
}

func lineTokens(pairs []linePair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.tok)
	}
	return out
}

func lineDisplays(pairs []linePair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.disp)
	}
	return out
}

func sortedTokenKey(pairs []linePair) string {
	toks := lineTokens(pairs)
	sort.Strings(toks)
	return strings.Join(toks, ",")
}
