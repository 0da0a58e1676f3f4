// SPDX-License-Identifier: MIT

// Package epg parses guide documents and assembles per-channel now/next
// timelines.
package epg

import (
	"sort"
	"time"
)

// Caps and windows for the per-channel timeline.
const (
	MaxUpcoming  = 8
	MaxRecent    = 6
	RecentWindow = 15 * time.Minute
)

// Program is one immutable schedule entry.
type Program struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	StartUTC    time.Time `json:"startUTC"`
	EndUTC      time.Time `json:"endUTC"`
}

// IsLive reports whether the program is on air at the given instant.
func (p Program) IsLive(now time.Time) bool {
	return !p.StartUTC.After(now) && now.Before(p.EndUTC)
}

func (p Program) sameSlot(o Program) bool {
	return p.StartUTC.Equal(o.StartUTC) && p.EndUTC.Equal(o.EndUTC) && p.Title == o.Title
}

// ChannelGuide is the per-channel now/next view. Instances are rebuilt
// wholesale on each refresh, never mutated incrementally.
type ChannelGuide struct {
	Now      *Program  `json:"now,omitempty"`
	Next     *Program  `json:"next,omitempty"`
	Later    *Program  `json:"later,omitempty"`
	Upcoming []Program `json:"upcoming,omitempty"`
	Recent   []Program `json:"recent,omitempty"`
}

// IsEmpty reports whether the guide holds no data at all.
func (g *ChannelGuide) IsEmpty() bool {
	return g == nil || (g.Now == nil && g.Next == nil && g.Later == nil &&
		len(g.Upcoming) == 0 && len(g.Recent) == 0)
}

// GuideMap maps channel id to its guide.
type GuideMap map[string]*ChannelGuide

// BuildChannelGuide derives the timeline view from a channel's programme
// list at the given instant.
//
// Selection rules: the live program (start <= now < end, latest start wins
// ties) becomes Now; future programs fill Next, Later and the capped,
// time-ordered, de-duplicated Upcoming list; programs that ended within
// RecentWindow fill Recent, newest first.
func BuildChannelGuide(programs []Program, now time.Time) *ChannelGuide {
	if len(programs) == 0 {
		return &ChannelGuide{}
	}

	sorted := make([]Program, len(programs))
	copy(sorted, programs)
	sort.Slice(sorted, func(i, j int) bool {
		if !sorted[i].StartUTC.Equal(sorted[j].StartUTC) {
			return sorted[i].StartUTC.Before(sorted[j].StartUTC)
		}
		return sorted[i].EndUTC.Before(sorted[j].EndUTC)
	})

	g := &ChannelGuide{}
	var upcoming, recent []Program
	for _, p := range sorted {
		switch {
		case p.IsLive(now):
			// latest start wins
			if g.Now == nil || p.StartUTC.After(g.Now.StartUTC) {
				cp := p
				g.Now = &cp
			}
		case p.StartUTC.After(now):
			dup := false
			for _, u := range upcoming {
				if u.sameSlot(p) {
					dup = true
					break
				}
			}
			if !dup && len(upcoming) < MaxUpcoming {
				upcoming = append(upcoming, p)
			}
		case !p.EndUTC.After(now) && now.Sub(p.EndUTC) <= RecentWindow:
			recent = append(recent, p)
		}
	}

	if len(upcoming) > 0 {
		cp := upcoming[0]
		g.Next = &cp
	}
	if len(upcoming) > 1 {
		cp := upcoming[1]
		g.Later = &cp
	}
	g.Upcoming = upcoming

	// newest first
	sort.Slice(recent, func(i, j int) bool { return recent[i].EndUTC.After(recent[j].EndUTC) })
	if len(recent) > MaxRecent {
		recent = recent[:MaxRecent]
	}
	g.Recent = recent
	return g
}

// Merge combines a fresh short-guide view with a full-guide view for the
// same channel, field by field: short wins Now/Next when present (freshest
// live state), full wins Later/Upcoming/Recent (the short source lacks
// them).
func Merge(short, full *ChannelGuide) *ChannelGuide {
	if short.IsEmpty() {
		return full
	}
	if full.IsEmpty() {
		return short
	}
	merged := &ChannelGuide{
		Now:      full.Now,
		Next:     full.Next,
		Later:    full.Later,
		Upcoming: full.Upcoming,
		Recent:   full.Recent,
	}
	if short.Now != nil {
		merged.Now = short.Now
	}
	if short.Next != nil {
		merged.Next = short.Next
	}
	return merged
}
