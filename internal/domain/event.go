// Package domain holds the event model shared by providers, caches and
// the feed builder.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Source labels as they appear in the published feed.
const (
	SourceWL         = "Wiener Linien"
	SourceOEBB       = "ÖBB"
	SourceVOR        = "VOR"
	SourceBaustellen = "Stadt Wien"
)

// Event is one disruption or construction message.
//
// StartsAt and EndsAt serialise as explicit nulls when unknown so cache
// files distinguish "no end date" from "field absent". Identity is an
// internal grouping key that providers may set when several upstream
// records describe the same disruption; it never reaches the feed.
type Event struct {
	Source      string     `json:"source"`
	Category    string     `json:"category"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Link        string     `json:"link,omitempty"`
	GUID        string     `json:"guid"`
	PubDate     time.Time  `json:"pub_date"`
	StartsAt    *time.Time `json:"starts_at"`
	EndsAt      *time.Time `json:"ends_at"`
	Identity    string     `json:"_identity,omitempty"`
}

// DedupeKey returns the key events are grouped by before the feed is
// built: the provider supplied identity when present, then the GUID,
// then a content hash.
func (e Event) DedupeKey() string {
	if e.Identity != "" {
		return e.Identity
	}
	if e.GUID != "" {
		return e.GUID
	}
	sum := sha256.Sum256([]byte(e.Source + "|" + e.Title + "|" + e.Description))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SourcePrecedence ranks sources for duplicate resolution. Higher wins.
func (e Event) SourcePrecedence() int {
	switch e.Source {
	case SourceVOR:
		return 3
	case SourceOEBB:
		return 2
	case SourceWL:
		return 1
	default:
		return 0
	}
}

// TimePtr returns a pointer to t, for the nullable event fields.
func TimePtr(t time.Time) *time.Time {
	return &t
}
