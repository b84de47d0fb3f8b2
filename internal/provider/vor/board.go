package vor

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/provider"
	"github.com/Origamihase/wien-oepnv/internal/stations"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

// himCategories maps the upstream's numeric disruption classes onto the
// feed's category labels. Messages outside the map are timetable notes
// and are dropped.
var himCategories = map[int]string{
	0: "Ersatzverkehr",
	1: "Baustelle",
	2: "Ausfall",
	5: "Notfall",
	9: "Vorankündigung",
}

const (
	maxListedLines = 15
	maxListedStops = 15
)

// flexString absorbs the upstream's habit of sending ids and flags as
// either JSON strings or bare numbers and booleans.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*s = ""
		return nil
	}
	if raw[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(raw)
	return nil
}

func (s flexString) text() string { return strings.TrimSpace(string(s)) }

func (s flexString) intValue() (int, bool) {
	f, err := strconv.ParseFloat(s.text(), 64)
	if err != nil {
		return 0, false
	}
	return int(f), true
}

// The proxy answers either with the board at the top level or wrapped in
// a DepartureBoard envelope, depending on the route that served it.
type boardPayload struct {
	Board    *boardBody   `json:"DepartureBoard"`
	Messages *messageWrap `json:"Messages"`
	ErrCode  string       `json:"errorCode"`
	ErrText  string       `json:"errorText"`
}

type boardBody struct {
	Messages *messageWrap `json:"Messages"`
	ErrCode  string       `json:"errorCode"`
	ErrText  string       `json:"errorText"`
}

type messageWrap struct {
	Message boardMessages `json:"Message"`
}

type boardMessages []boardMessage

// A single message arrives as a bare object, several as a list.
func (m *boardMessages) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "[") {
		type plain boardMessages
		var list plain
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*m = boardMessages(list)
		return nil
	}
	var one boardMessage
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*m = boardMessages{one}
	return nil
}

type boardMessage struct {
	ID       flexString   `json:"id"`
	Act      flexString   `json:"act"`
	Head     string       `json:"head"`
	Text     string       `json:"text"`
	Category flexString   `json:"category"`
	SDate    string       `json:"sDate"`
	STime    string       `json:"sTime"`
	EDate    string       `json:"eDate"`
	ETime    string       `json:"eTime"`
	Products *productWrap `json:"products"`
	Stops    *stopWrap    `json:"affectedStops"`
}

type productWrap struct {
	Product productEntries `json:"Product"`
}

type productEntries []productEntry

func (p *productEntries) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "[") {
		type plain productEntries
		var list plain
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*p = productEntries(list)
		return nil
	}
	var one productEntry
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*p = productEntries{one}
	return nil
}

type productEntry struct {
	Name          flexString `json:"name"`
	Line          flexString `json:"line"`
	Num           flexString `json:"num"`
	CatOutS       flexString `json:"catOutS"`
	CatOutL       flexString `json:"catOutL"`
	DisplayNumber flexString `json:"displayNumber"`
}

type stopWrap struct {
	Stop         stopEntries `json:"Stop"`
	StopLocation stopEntries `json:"StopLocation"`
}

type stopEntries []stopEntry

func (s *stopEntries) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "[") {
		type plain stopEntries
		var list plain
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = stopEntries(list)
		return nil
	}
	var one stopEntry
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = stopEntries{one}
	return nil
}

type stopEntry struct {
	Name flexString `json:"name"`
	Stop flexString `json:"stop"`
}

func (e *stopEntry) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		e.Name = flexString(v)
		return nil
	}
	type plain stopEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*e = stopEntry(p)
	return nil
}

type locationPayload struct {
	Stops stopLocations `json:"StopLocation"`
}

type stopLocations []stopLocationEntry

func (s *stopLocations) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if strings.HasPrefix(raw, "[") {
		type plain stopLocations
		var list plain
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*s = stopLocations(list)
		return nil
	}
	var one stopLocationEntry
	if err := json.Unmarshal(data, &one); err != nil {
		return err
	}
	*s = stopLocations{one}
	return nil
}

type stopLocationEntry struct {
	ID    flexString `json:"id"`
	ExtID flexString `json:"extId"`
	Name  string     `json:"name"`
}

func parseStopID(data []byte, input string) (string, error) {
	var payload locationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", apperr.ParseError("location payload does not parse", err, map[string]interface{}{
			"input": input,
		})
	}
	for _, stop := range payload.Stops {
		id := stop.ID.text()
		if id == "" {
			id = stop.ExtID.text()
		}
		if id != "" {
			return id, nil
		}
	}
	return "", apperr.ParseError("location payload carries no stop id", nil, map[string]interface{}{
		"input": input,
	})
}

// parseBoard decodes one departure board answer and converts its messages.
func (p *Provider) parseBoard(data []byte, sid string) ([]*boardEvent, error) {
	var payload boardPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperr.ParseError("departure board does not parse", err, map[string]interface{}{
			"station": sid,
		})
	}
	body := payload.Board
	if body == nil {
		body = &boardBody{Messages: payload.Messages, ErrCode: payload.ErrCode, ErrText: payload.ErrText}
	}
	if body.ErrCode != "" {
		return nil, apperr.TransportError("departure board reports an error", nil, map[string]interface{}{
			"station": sid, "code": body.ErrCode, "text": body.ErrText,
		})
	}
	if body.Messages == nil {
		return nil, nil
	}
	var out []*boardEvent
	for _, msg := range body.Messages.Message {
		if ev, ok := p.buildBoardEvent(msg, sid); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (p *Provider) buildBoardEvent(msg boardMessage, sid string) (*boardEvent, bool) {
	if isInactive(msg.Act) {
		return nil, false
	}
	cat, ok := msg.Category.intValue()
	if !ok {
		return nil, false
	}
	label, ok := himCategories[cat]
	if !ok {
		return nil, false
	}
	head := textutil.SingleLine(textutil.HTMLToText(msg.Head))
	text := strings.TrimSpace(textutil.HTMLToText(msg.Text))
	if head == "" && text == "" {
		return nil, false
	}
	ev := &boardEvent{
		id:       msg.ID.text(),
		station:  sid,
		category: label,
		head:     head,
		text:     text,
		lines:    make(map[string]struct{}),
		stops:    make(map[string]string),
		startsAt: parseBoardTime(msg.SDate, msg.STime),
		endsAt:   parseBoardTime(msg.EDate, msg.ETime),
	}
	for _, l := range productLabels(msg.Products) {
		ev.lines[l] = struct{}{}
	}
	for _, name := range p.stopNames(msg.Stops) {
		key := stations.Fold(name)
		if _, dup := ev.stops[key]; !dup {
			ev.stops[key] = name
		}
	}
	ev.guid = boardGUID(ev)
	return ev, true
}

// Messages default to active; only an explicit negative switches them off.
func isInactive(act flexString) bool {
	switch strings.ToLower(act.text()) {
	case "false", "0", "no":
		return true
	}
	return false
}

// productLabels derives display labels for the affected lines. The
// upstream fills a different subset of fields per transport mode.
func productLabels(wrap *productWrap) []string {
	if wrap == nil {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for _, prod := range wrap.Product {
		label := prod.Name.text()
		if label == "" {
			cat := prod.CatOutS.text()
			num := prod.DisplayNumber.text()
			if num == "" {
				num = prod.Num.text()
			}
			switch {
			case cat != "" && num != "":
				label = cat + num
			case num != "":
				label = num
			default:
				label = prod.CatOutL.text()
			}
		}
		if label == "" {
			label = prod.Line.text()
		}
		label = strings.Join(strings.Fields(label), " ")
		if label == "" {
			continue
		}
		if _, dup := seen[label]; dup {
			continue
		}
		seen[label] = struct{}{}
		out = append(out, label)
	}
	return out
}

// stopNames extracts the affected stop names and rewrites known ones to
// their catalogue spelling, so the same stop reported under different
// spellings collapses during the merge.
func (p *Provider) stopNames(wrap *stopWrap) []string {
	if wrap == nil {
		return nil
	}
	entries := wrap.Stop
	if len(entries) == 0 {
		entries = wrap.StopLocation
	}
	var out []string
	for _, entry := range entries {
		name := entry.Name.text()
		if name == "" {
			name = entry.Stop.text()
		}
		if name == "" {
			continue
		}
		if st, ok := p.catalog.Lookup(name); ok {
			name = st.Name
		}
		out = append(out, name)
	}
	return out
}

// parseBoardTime interprets the upstream's local date and time pair.
func parseBoardTime(date, clock string) *time.Time {
	date = strings.TrimSpace(date)
	if date == "" {
		return nil
	}
	clock = strings.TrimSpace(clock)
	if clock == "" {
		clock = "00:00:00"
	}
	layout := "2006-01-02 15:04:05"
	if len(clock) == 5 {
		layout = "2006-01-02 15:04"
	}
	t, err := time.ParseInLocation(layout, date+" "+clock, textutil.Vienna())
	if err != nil {
		return nil
	}
	return domain.TimePtr(t.UTC())
}

// boardGUID prefers the upstream message id; messages without one get a
// content hash scoped to the reporting station so reruns stay stable.
func boardGUID(ev *boardEvent) string {
	if ev.id != "" {
		return "VOR-" + ev.id
	}
	return "vor:" + ev.station + ":" + provider.MakeGUID("vor", ev.head, ev.text, ev.category)
}

// boardEvent accumulates one disruption across the stations that report
// it. Line and stop sets grow by merge, the earliest start wins and a
// single occurrence without an end keeps the whole event open.
type boardEvent struct {
	id         string
	guid       string
	station    string
	category   string
	head       string
	text       string
	extraTexts []string
	lines      map[string]struct{}
	stops      map[string]string
	startsAt   *time.Time
	endsAt     *time.Time
}

func (e *boardEvent) merge(other *boardEvent) {
	if e.head == "" {
		e.head = other.head
	}
	if other.text != "" && !e.containsText(other.text) {
		e.extraTexts = append(e.extraTexts, other.text)
	}
	for l := range other.lines {
		e.lines[l] = struct{}{}
	}
	for k, v := range other.stops {
		if _, dup := e.stops[k]; !dup {
			e.stops[k] = v
		}
	}
	if e.startsAt == nil || (other.startsAt != nil && other.startsAt.Before(*e.startsAt)) {
		e.startsAt = other.startsAt
	}
	if e.endsAt != nil {
		if other.endsAt == nil {
			e.endsAt = nil
		} else if other.endsAt.After(*e.endsAt) {
			e.endsAt = other.endsAt
		}
	}
}

func (e *boardEvent) containsText(t string) bool {
	if strings.Contains(e.text, t) {
		return true
	}
	for _, x := range e.extraTexts {
		if strings.Contains(x, t) {
			return true
		}
	}
	return false
}

func (e *boardEvent) toEvent() domain.Event {
	title := e.head
	if len(e.lines) > 0 {
		primary := sortedSet(e.lines)[0]
		switch {
		case title == "":
			title = primary
		case !strings.HasPrefix(title, primary+":"):
			title = primary + ": " + title
		}
	}
	if title == "" {
		title = "VOR Meldung"
	}

	parts := make([]string, 0, 4)
	if e.text != "" {
		parts = append(parts, e.text)
	}
	parts = append(parts, e.extraTexts...)
	if len(e.lines) > 0 {
		parts = append(parts, "Linien: "+joinCapped(sortedSet(e.lines), maxListedLines))
	}
	if len(e.stops) > 0 {
		names := make([]string, 0, len(e.stops))
		for _, v := range e.stops {
			names = append(names, v)
		}
		sort.Strings(names)
		parts = append(parts, "Betroffene Haltestellen: "+joinCapped(names, maxListedStops))
	}

	ev := domain.Event{
		Source:      domain.SourceVOR,
		Category:    e.category,
		Title:       title,
		Description: strings.Join(parts, "\n"),
		Link:        sourceLink,
		GUID:        e.guid,
		StartsAt:    e.startsAt,
		EndsAt:      e.endsAt,
	}
	if e.startsAt != nil {
		ev.PubDate = *e.startsAt
	}
	return ev
}

func sortedSet(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// joinCapped lists at most n entries and marks the overflow.
func joinCapped(items []string, n int) string {
	if len(items) <= n {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:n], ", ") + " …"
}
