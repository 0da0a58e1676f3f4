// SPDX-License-Identifier: MIT

// Package cache persists acquisition results across refreshes and process
// restarts: a volatile in-memory layer and a compacted disk layer, both
// gated by an explicit ownership key.
package cache

import (
	"time"

	"github.com/pulsetv/pulse/internal/epg"
	"github.com/pulsetv/pulse/internal/playlist"
)

// Snapshot is the unit returned to callers: the channel list plus the
// current guide view. Immutable value object; refreshes build a new one.
type Snapshot struct {
	Channels          []playlist.Channel            `json:"channels"`
	GroupedByCategory map[string][]playlist.Channel `json:"groupedByCategory,omitempty"`
	GroupOrder        []string                      `json:"groupOrder,omitempty"`
	GuideByChannelID  epg.GuideMap                  `json:"guideByChannelID,omitempty"`
	FavoriteGroups    []string                      `json:"favoriteGroups,omitempty"`
	FavoriteChannels  []string                      `json:"favoriteChannels,omitempty"`
	LoadedAt          time.Time                     `json:"loadedAt"`
	Warning           string                        `json:"warning,omitempty"`
}

// WithGuide returns a copy of the snapshot carrying the given guide map.
func (s *Snapshot) WithGuide(guide epg.GuideMap) *Snapshot {
	cp := *s
	cp.GuideByChannelID = guide
	return &cp
}

// Compact returns a copy with the heavy, recoverable parts stripped for
// persistence: programme descriptions and raw playlist metadata.
func (s *Snapshot) Compact() *Snapshot {
	cp := *s
	cp.GroupedByCategory = nil // rebuilt from channels on read

	cp.Channels = make([]playlist.Channel, len(s.Channels))
	for i, ch := range s.Channels {
		ch.RawMetadata = ""
		cp.Channels[i] = ch
	}

	if s.GuideByChannelID != nil {
		cp.GuideByChannelID = make(epg.GuideMap, len(s.GuideByChannelID))
		for id, g := range s.GuideByChannelID {
			cp.GuideByChannelID[id] = compactGuide(g)
		}
	}
	return &cp
}

func compactGuide(g *epg.ChannelGuide) *epg.ChannelGuide {
	if g == nil {
		return nil
	}
	cg := &epg.ChannelGuide{
		Now:      stripDesc(g.Now),
		Next:     stripDesc(g.Next),
		Later:    stripDesc(g.Later),
		Upcoming: stripDescs(g.Upcoming),
		Recent:   stripDescs(g.Recent),
	}
	return cg
}

func stripDesc(p *epg.Program) *epg.Program {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Description = ""
	return &cp
}

func stripDescs(ps []epg.Program) []epg.Program {
	if len(ps) == 0 {
		return nil
	}
	out := make([]epg.Program, len(ps))
	for i, p := range ps {
		p.Description = ""
		out[i] = p
	}
	return out
}
