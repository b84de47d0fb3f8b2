// Package stations resolves upstream station spellings to catalogue
// entries. The catalogue drives the regional filter of the railway adapter
// and the station id resolution of the regional authority adapter.
package stations

import (
	_ "embed"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
)

//go:embed stations.json
var embeddedCatalogue []byte

// Station is one catalogue entry.
type Station struct {
	Name     string   `json:"name"`
	Aliases  []string `json:"aliases,omitempty"`
	InVienna bool     `json:"in_vienna"`
	Pendler  bool     `json:"pendler,omitempty"`
	Lat      *float64 `json:"lat,omitempty"`
	Lon      *float64 `json:"lon,omitempty"`
	VORIDs   []string `json:"vor_ids,omitempty"`
	VORID    string   `json:"vor_id,omitempty"`
}

type catalogueFile struct {
	Stations []Station `json:"stations"`
}

// Catalogue indexes stations by their canonical name.
type Catalogue struct {
	stations    []Station
	byCanonical map[string]int
}

// Load reads a catalogue from path, or the embedded one when path is empty.
func Load(path string, logger *slog.Logger) (*Catalogue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	data := embeddedCatalogue
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, apperr.ConfigError("station catalogue unreadable", err, map[string]interface{}{"path": path})
		}
	}
	return parse(data, logger)
}

func parse(data []byte, logger *slog.Logger) (*Catalogue, error) {
	var file catalogueFile
	if err := json.Unmarshal(data, &file); err != nil || file.Stations == nil {
		// Also accept a bare array.
		var list []Station
		if err2 := json.Unmarshal(data, &list); err2 != nil {
			return nil, apperr.ConfigError("station catalogue does not parse", err, nil)
		}
		file.Stations = list
	}

	c := &Catalogue{
		stations:    file.Stations,
		byCanonical: make(map[string]int, len(file.Stations)*2),
	}
	for i, st := range file.Stations {
		c.index(st.Name, i, logger)
		for _, alias := range st.Aliases {
			c.index(alias, i, logger)
		}
	}
	return c, nil
}

func (c *Catalogue) index(name string, i int, logger *slog.Logger) {
	key := Fold(name)
	if key == "" {
		return
	}
	if prev, exists := c.byCanonical[key]; exists {
		if prev != i {
			logger.Warn("station name collides with an earlier entry, keeping the first",
				"name", name, "kept", c.stations[prev].Name)
		}
		return
	}
	c.byCanonical[key] = i
}

// Lookup resolves any known spelling to its catalogue entry.
func (c *Catalogue) Lookup(name string) (Station, bool) {
	i, ok := c.byCanonical[Fold(name)]
	if !ok {
		return Station{}, false
	}
	return c.stations[i], true
}

// IsKnown reports whether name resolves to a catalogue entry.
func (c *Catalogue) IsKnown(name string) bool {
	_, ok := c.byCanonical[Fold(name)]
	return ok
}

// CanonicalName returns the catalogue spelling for name, or the folded
// input when the station is unknown.
func (c *Catalogue) CanonicalName(name string) string {
	if st, ok := c.Lookup(name); ok {
		return st.Name
	}
	return Fold(name)
}

// IsInVienna reports whether a known station lies inside the city.
func (c *Catalogue) IsInVienna(name string) bool {
	st, ok := c.Lookup(name)
	return ok && st.InVienna
}

// IsCommuter reports whether a known station belongs to the commuter belt.
func (c *Catalogue) IsCommuter(name string) bool {
	st, ok := c.Lookup(name)
	return ok && st.Pendler
}

// IsRelevant reports whether a station is in Vienna or its commuter belt.
func (c *Catalogue) IsRelevant(name string) bool {
	st, ok := c.Lookup(name)
	return ok && (st.InVienna || st.Pendler)
}

// RegionalIDs returns the regional authority ids for a station.
func (c *Catalogue) RegionalIDs(name string) []string {
	st, ok := c.Lookup(name)
	if !ok {
		return nil
	}
	if len(st.VORIDs) > 0 {
		return st.VORIDs
	}
	if st.VORID != "" {
		return []string{st.VORID}
	}
	return nil
}

// Len returns the number of catalogue entries.
func (c *Catalogue) Len() int {
	return len(c.stations)
}

// All returns the catalogue entries in file order.
func (c *Catalogue) All() []Station {
	return c.stations
}

var foldChain = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Station type words vary between upstreams; map them onto one form.
var tokenAliases = map[string]string{
	"bf":  "bahnhof",
	"bhf": "bahnhof",
	"hbf": "hauptbahnhof",
	"hst": "",
}

// Fold derives the canonical lookup key for a station spelling: lowercase,
// accents stripped, punctuation dropped, whitespace collapsed and station
// type words normalised.
func Fold(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, "ß", "ss")
	if out, _, err := transform.String(foldChain, s); err == nil {
		s = out
	}
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	tokens := strings.Fields(s)
	out := tokens[:0]
	for _, tok := range tokens {
		if mapped, ok := tokenAliases[tok]; ok {
			if mapped == "" {
				continue
			}
			tok = mapped
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}
