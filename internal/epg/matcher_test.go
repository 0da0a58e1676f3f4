// SPDX-License-Identifier: MIT

package epg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetv/pulse/internal/playlist"
)

func testChannels() []playlist.Channel {
	return []playlist.Channel{
		{ID: "epg:bbc1", Name: "BBC One", EPGID: "bbc1"},
		{ID: "epg:orf1.at", Name: "ORF eins HD", EPGID: "orf1.at"},
		{ID: "url:abc123", Name: "Sky Sports Main Event"},
	}
}

func TestMatcher_ExactNormalized(t *testing.T) {
	m := NewMatcher(testChannels())

	id, ok := m.Resolve("BBC1")
	require.True(t, ok, "case-insensitive id match")
	assert.Equal(t, "epg:bbc1", id)
}

func TestMatcher_LooseAlphanumeric(t *testing.T) {
	m := NewMatcher(testChannels())

	id, ok := m.Resolve("orf-1.AT")
	require.True(t, ok)
	assert.Equal(t, "epg:orf1.at", id)
}

func TestMatcher_QualitySuffixStripped(t *testing.T) {
	m := NewMatcher(testChannels())

	id, ok := m.Resolve("ORF eins")
	require.True(t, ok, "channel indexed under suffix-stripped name")
	assert.Equal(t, "epg:orf1.at", id)
}

func TestMatcher_DisplayNameAlias(t *testing.T) {
	m := NewMatcher(testChannels())
	m.AddAlias("weird.internal.id.77", "Sky Sports Main Event HD")

	id, ok := m.Resolve("weird.internal.id.77")
	require.True(t, ok, "resolved via alias, suffix-stripped")
	assert.Equal(t, "url:abc123", id)
}

func TestMatcher_NoMatch(t *testing.T) {
	m := NewMatcher(testChannels())
	_, ok := m.Resolve("completely.unknown")
	assert.False(t, ok)
}

func TestMatcher_FirstChannelWinsCollisions(t *testing.T) {
	m := NewMatcher([]playlist.Channel{
		{ID: "a", Name: "News 24", EPGID: "news24"},
		{ID: "b", Name: "News-24", EPGID: "news.24"},
	})
	id, ok := m.Resolve("news24")
	require.True(t, ok)
	assert.Equal(t, "a", id)
}
