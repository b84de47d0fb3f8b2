package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventJSONNullableDates(t *testing.T) {
	e := Event{
		Source:  SourceWL,
		Title:   "U4 unterbrochen",
		GUID:    "wl-1",
		PubDate: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(e)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `"starts_at":null`)
	assert.Contains(t, s, `"ends_at":null`)
	assert.Contains(t, s, `"pub_date":"2025-06-01T10:00:00Z"`)
	assert.NotContains(t, s, "_identity")
	assert.NotContains(t, s, `"link"`)

	var back Event
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Nil(t, back.StartsAt)
	assert.Nil(t, back.EndsAt)
	assert.True(t, back.PubDate.Equal(e.PubDate))
}

func TestDedupeKey(t *testing.T) {
	e := Event{Source: SourceWL, Title: "U4", Description: "Störung"}

	hashed := e.DedupeKey()
	assert.True(t, strings.HasPrefix(hashed, "sha256:"))

	e.GUID = "guid-1"
	assert.Equal(t, "guid-1", e.DedupeKey())

	e.Identity = "wl|stoerung|L=U4|D=2025-06-01"
	assert.Equal(t, "wl|stoerung|L=U4|D=2025-06-01", e.DedupeKey())

	// Content hash is stable for identical content.
	a := Event{Source: SourceWL, Title: "U4", Description: "Störung"}
	b := Event{Source: SourceWL, Title: "U4", Description: "Störung"}
	assert.Equal(t, a.DedupeKey(), b.DedupeKey())

	c := Event{Source: SourceWL, Title: "U4", Description: "andere Störung"}
	assert.NotEqual(t, a.DedupeKey(), c.DedupeKey())
}

func TestSourcePrecedence(t *testing.T) {
	vor := Event{Source: SourceVOR}.SourcePrecedence()
	oebb := Event{Source: SourceOEBB}.SourcePrecedence()
	wl := Event{Source: SourceWL}.SourcePrecedence()
	city := Event{Source: SourceBaustellen}.SourcePrecedence()

	assert.Greater(t, vor, oebb)
	assert.Greater(t, oebb, wl)
	assert.Greater(t, wl, city)
}
