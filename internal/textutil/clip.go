package textutil

import (
	"regexp"
	"strings"
)

var sentenceEndRe = regexp.MustCompile(`[.!?…](?:\s|$)`)

// Clip shortens s to at most limit runes, ellipsis included. The cut lands
// after a sentence end when one occurs late enough in the window, otherwise
// on the last word boundary. Words are never cut apart unless the text is a
// single token longer than the whole budget. A limit of zero disables
// clipping.
func Clip(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}

	budget := limit - 2 // room for " …"
	if budget < 1 {
		budget = 1
	}
	window := string(runes[:budget])

	if locs := sentenceEndRe.FindAllStringIndex(window, -1); len(locs) > 0 {
		end := locs[len(locs)-1][1]
		if cut := strings.TrimSpace(window[:end]); len([]rune(cut)) >= limit/2 {
			return cut + " …"
		}
	}
	if i := strings.LastIndexAny(window, " \n\t"); i > 0 {
		return strings.TrimRight(window[:i], " \n\t,;:-–") + " …"
	}
	return strings.TrimSpace(window) + " …"
}
