package textutil

import (
	"fmt"
	"sync"
	"time"
)

// Events are phrased on the local calendar of the network they describe.
var viennaOnce = sync.OnceValue(func() *time.Location {
	loc, err := time.LoadLocation("Europe/Vienna")
	if err != nil {
		return time.FixedZone("CET", 3600)
	}
	return loc
})

// Vienna returns the Europe/Vienna location.
func Vienna() *time.Location {
	return viennaOnce()
}

// GermanDate renders t as DD.MM.YYYY on the Vienna calendar.
func GermanDate(t time.Time) string {
	return t.In(Vienna()).Format("02.01.2006")
}

// Spans longer than this read as permanent works, not as a date range.
const openEndedSpan = 180 * 24 * time.Hour

// TimePhrase renders the German time line for an event. Same-day events on
// today or a future day phrase as "Am", finished or running events as
// "Seit", strictly future starts as "Ab", bounded ranges as
// "DD.MM.YYYY – DD.MM.YYYY" and end-only events as "bis". Day boundaries
// follow the Vienna calendar.
func TimePhrase(starts, ends *time.Time, now time.Time) string {
	loc := Vienna()
	today := localDay(now, loc)

	s := starts
	e := ends
	if s != nil && e != nil {
		if !e.After(*s) {
			e = nil
		} else if e.Sub(*s) > openEndedSpan {
			e = nil
		}
	}

	switch {
	case s == nil && e == nil:
		return ""
	case s == nil:
		return "bis " + GermanDate(*e)
	case e != nil:
		if localDay(*s, loc).Equal(localDay(*e, loc)) {
			if localDay(*s, loc).Before(today) {
				return "Seit " + GermanDate(*s)
			}
			return "Am " + GermanDate(*s)
		}
		return fmt.Sprintf("%s – %s", GermanDate(*s), GermanDate(*e))
	default:
		if localDay(*s, loc).After(today) {
			return "Ab " + GermanDate(*s)
		}
		return "Seit " + GermanDate(*s)
	}
}

func localDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}
