// SPDX-License-Identifier: MIT

// Package playlist turns provider playlists into a canonical channel list.
package playlist

import (
	"crypto/sha256"
	"encoding/hex"
)

// Channel is one immutable playlist entry. Channel lists are replaced
// wholesale on reload, never edited in place.
type Channel struct {
	// ID is the EPG join key, derived deterministically: from EPGID when
	// present, else from the raw stream URL.
	ID        string `json:"id"`
	Name      string `json:"name"`
	StreamURL string `json:"streamURL"`
	Group     string `json:"group,omitempty"`
	LogoURL   string `json:"logoURL,omitempty"`
	// EPGID is the provider's tvg-id / epg_channel_id.
	EPGID string `json:"epgID,omitempty"`
	// RawMetadata is the original #EXTINF line; stripped before persisting.
	RawMetadata string `json:"rawMetadata,omitempty"`
	// ProviderStreamID is set when the channel came from the structured API.
	ProviderStreamID int `json:"providerStreamID,omitempty"`
}

// ChannelID derives the canonical channel id.
func ChannelID(epgID, streamURL string) string {
	if epgID != "" {
		return "epg:" + epgID
	}
	sum := sha256.Sum256([]byte(streamURL))
	return "url:" + hex.EncodeToString(sum[:10])
}

// Dedupe removes duplicate channels by id, keeping first occurrence and
// preserving order.
func Dedupe(channels []Channel) []Channel {
	seen := make(map[string]struct{}, len(channels))
	out := channels[:0:0]
	for _, ch := range channels {
		if _, dup := seen[ch.ID]; dup {
			continue
		}
		seen[ch.ID] = struct{}{}
		out = append(out, ch)
	}
	return out
}

// GroupByCategory buckets channels by group, preserving first-seen group
// order in the returned key list.
func GroupByCategory(channels []Channel) (map[string][]Channel, []string) {
	grouped := make(map[string][]Channel)
	var order []string
	for _, ch := range channels {
		g := ch.Group
		if g == "" {
			g = "Other"
		}
		if _, ok := grouped[g]; !ok {
			order = append(order, g)
		}
		grouped[g] = append(grouped[g], ch)
	}
	return grouped, order
}
