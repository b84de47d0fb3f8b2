// Package rss renders the aggregated events as an RSS 2.0 document and
// writes it atomically. Next to the usual channel and item elements the
// document carries a small extension namespace with the machine readable
// first-seen, start and end instants, so consumers do not have to parse
// the German time phrase out of the description again.
package rss

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/Origamihase/wien-oepnv/internal/apperr"
	"github.com/Origamihase/wien-oepnv/internal/config"
	"github.com/Origamihase/wien-oepnv/internal/domain"
	"github.com/Origamihase/wien-oepnv/internal/fsatomic"
	"github.com/Origamihase/wien-oepnv/internal/pathguard"
	"github.com/Origamihase/wien-oepnv/internal/textutil"
)

const (
	contentNS = "http://purl.org/rss/1.0/modules/content/"
	extNS     = "https://github.com/Origamihase/wien-oepnv/ns/ext"
)

// Item pairs an event with the instant it first entered the feed. The
// pipeline fills FirstSeen from the persistent state, so the value stays
// stable across builds even when the provider re-publishes the event.
type Item struct {
	Event     domain.Event
	FirstSeen time.Time
}

// Render produces the complete feed document. The caller is responsible
// for ordering and clipping the items; Render only formats.
func Render(feed config.FeedConfig, items []Item, buildTime time.Time) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	fmt.Fprintf(&b, "<rss version=\"2.0\" xmlns:content=%q xmlns:ext=%q>\n", contentNS, extNS)
	b.WriteString("  <channel>\n")
	writeElem(&b, "    ", "title", feed.Title)
	writeElem(&b, "    ", "link", feed.Link)
	writeElem(&b, "    ", "description", feed.Description)
	writeElem(&b, "    ", "lastBuildDate", rssTime(buildTime))
	if feed.TTLMinutes > 0 {
		writeElem(&b, "    ", "ttl", strconv.Itoa(feed.TTLMinutes))
	}
	for _, it := range items {
		writeItem(&b, feed, it)
	}
	b.WriteString("  </channel>\n")
	b.WriteString("</rss>\n")
	return b.Bytes()
}

func writeItem(b *bytes.Buffer, feed config.FeedConfig, it Item) {
	ev := it.Event
	b.WriteString("    <item>\n")
	writeElem(b, "      ", "title", ev.Title)
	link := ev.Link
	if link == "" {
		link = feed.Link
	}
	writeElem(b, "      ", "link", link)
	body := cdata(ev.Description)
	fmt.Fprintf(b, "      <description>%s</description>\n", body)
	fmt.Fprintf(b, "      <content:encoded>%s</content:encoded>\n", body)
	writeElem(b, "      ", "pubDate", rssTime(ev.PubDate))
	fmt.Fprintf(b, "      <guid isPermaLink=\"false\">%s</guid>\n", escape(ev.GUID))
	writeElem(b, "      ", "ext:first_seen", isoTime(it.FirstSeen))
	if ev.StartsAt != nil {
		writeElem(b, "      ", "ext:starts_at", isoTime(*ev.StartsAt))
	}
	if ev.EndsAt != nil {
		writeElem(b, "      ", "ext:ends_at", isoTime(*ev.EndsAt))
	}
	b.WriteString("    </item>\n")
}

func writeElem(b *bytes.Buffer, indent, name, value string) {
	fmt.Fprintf(b, "%s<%s>%s</%s>\n", indent, name, escape(value), name)
}

// rssTime formats t as an RFC 1123 date in local Vienna time, the form
// feed readers expect in pubDate and lastBuildDate.
func rssTime(t time.Time) string {
	return t.In(textutil.Vienna()).Format(time.RFC1123Z)
}

func isoTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// cdata wraps s in a CDATA section. A literal terminator inside s is
// split across two sections, and line breaks become explicit <br/> so
// readers that collapse whitespace keep the line layout.
func cdata(s string) string {
	s = strings.ReplaceAll(s, "]]>", "]]]]><![CDATA[>")
	s = strings.ReplaceAll(s, "\n", "<br/>")
	return "<![CDATA[" + s + "]]>"
}

func escape(s string) string {
	var buf bytes.Buffer
	// EscapeText only fails when the writer does, which a bytes.Buffer never does.
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// Writer persists rendered documents below the guarded directories.
type Writer struct {
	guard  *pathguard.Guard
	logger *slog.Logger
}

// NewWriter creates a Writer. All paths passed to Write are checked
// against the guard first.
func NewWriter(guard *pathguard.Guard, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{guard: guard, logger: logger}
}

// Write atomically replaces the feed document at path. A failure here is
// fatal for the build: a half written feed must never become visible.
func (w *Writer) Write(path string, doc []byte) error {
	resolved, err := w.guard.Resolve(path)
	if err != nil {
		return err
	}
	if err := fsatomic.WriteFile(resolved, doc, 0o644); err != nil {
		return apperr.WriteFailure("feed document write failed", err, map[string]interface{}{"path": resolved})
	}
	w.logger.Info("feed document written", "path", resolved, "bytes", len(doc))
	return nil
}
