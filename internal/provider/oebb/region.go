package oebb

import (
	"regexp"
	"strings"

	"github.com/Origamihase/wien-oepnv/internal/stations"
)

const maxStationWindow = 4

var (
	arrowSplitRe = regexp.MustCompile(`\s*(?:↔|<=>|<->|→|=>|->|—|–|\s-\s)\s*`)
	dashSepRe    = regexp.MustCompile(`\s-\s`)
	connectorRe  = regexp.MustCompile(`(?i)\s*(?:/|,|\bbzw\.|\boder\b|\bund\b)\s*`)
	parenChunkRe = regexp.MustCompile(`\s*\([^)]*\)\s*`)

	stationNoiseRe    = regexp.MustCompile(`(?i)\s*\b(?:Bahnhof|Bahnhst|Hbf|Bf)\b(?:\s*\(\s*[US]\d*\s*\))?`)
	stationCompoundRe = regexp.MustCompile(`(?i)(\S)(?:bahnhof|bahnhst|hbf|bf)(\s|-|$)`)

	wordTokenRe     = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	regionKeywordRe = regexp.MustCompile(`(?i)\bwien\b|\bvienna\b`)
	farAwayRe       = regexp.MustCompile(`(?i)\b(salzburg|innsbruck|villach|bregenz|linz|graz|klagenfurt|bratislava|m(?:ü|ue)nchen|passau|freilassing)\b`)

	arrowMarkers = []string{"↔", "<=>", "<->", "→", "=>", "->", "—", "–"}
)

// keepByRegion decides whether an item belongs into the feed. A relation
// title is kept only when every endpoint is an allowed station; anything
// else needs a regional keyword or a known allowed station in the text and
// must not mention a far away hub.
func keepByRegion(catalog *stations.Catalogue, title, desc string, onlyVienna bool) bool {
	if endpoints := splitEndpoints(title); len(endpoints) > 0 {
		for _, ep := range endpoints {
			if !allowedStation(catalog, ep, onlyVienna) {
				return false
			}
		}
		return true
	}

	blob := title + " " + desc
	if farAwayRe.MatchString(blob) {
		return false
	}
	if regionKeywordRe.MatchString(blob) {
		return true
	}
	return hasAllowedStation(catalog, blob, onlyVienna)
}

// splitEndpoints extracts the station names of a relation title. Only the
// first two arrow separated parts count; each side may list several
// stations joined by slashes or connector words.
func splitEndpoints(title string) []string {
	hasArrow := false
	for _, marker := range arrowMarkers {
		if strings.Contains(title, marker) {
			hasArrow = true
			break
		}
	}
	if !hasArrow && !dashSepRe.MatchString(title) {
		return nil
	}

	var parts []string
	for _, part := range arrowSplitRe.Split(title, -1) {
		if p := strings.TrimSpace(part); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) < 2 {
		return nil
	}

	var endpoints []string
	seen := map[string]struct{}{}
	for _, segment := range []string{parts[0], parts[1]} {
		for _, name := range explode(segment) {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			endpoints = append(endpoints, name)
		}
	}
	return endpoints
}

func explode(segment string) []string {
	var names []string
	for _, token := range connectorRe.Split(segment, -1) {
		token = parenChunkRe.ReplaceAllString(token, " ")
		token = strings.Trim(multiSpaceRe.ReplaceAllString(token, " "), " .")
		if token != "" {
			names = append(names, token)
		}
	}
	return names
}

// allowedStation resolves a spelling against the catalogue, first verbatim
// and then with station type noise stripped, so "Wien Hauptbahnhof" and
// "Wien Meidling Hbf" both classify.
func allowedStation(catalog *stations.Catalogue, name string, onlyVienna bool) bool {
	for _, candidate := range endpointVariants(name) {
		if catalog.IsInVienna(candidate) {
			return true
		}
		if !onlyVienna && catalog.IsCommuter(candidate) {
			return true
		}
	}
	return false
}

func endpointVariants(name string) []string {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	variants := []string{name}
	v := stationNoiseRe.ReplaceAllString(name, "")
	v = stationCompoundRe.ReplaceAllString(v, "${1}${2}")
	v = strings.Trim(multiSpaceRe.ReplaceAllString(v, " "), " .")
	if v != "" && v != name {
		variants = append(variants, v)
	}
	return variants
}

// hasAllowedStation scans the text with a shrinking token window, longest
// candidates first, so multi word station names win over their fragments.
func hasAllowedStation(catalog *stations.Catalogue, blob string, onlyVienna bool) bool {
	tokens := wordTokenRe.FindAllString(blob, -1)
	if len(tokens) == 0 {
		return false
	}
	window := maxStationWindow
	if len(tokens) < window {
		window = len(tokens)
	}
	for size := window; size >= 1; size-- {
		for i := 0; i+size <= len(tokens); i++ {
			candidate := strings.Join(tokens[i:i+size], " ")
			if allowedStation(catalog, candidate, onlyVienna) {
				return true
			}
		}
	}
	return false
}
