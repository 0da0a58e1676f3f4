// SPDX-License-Identifier: MIT

package epg

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Parser extracts per-channel programmes from an XMLTV-style document. Both
// implementations share the same matching policy: channel aliases feed the
// Matcher, programmes that ended more than RecentWindow ago are dropped
// before matching, and unmatched programmes are discarded.
type Parser interface {
	// Name identifies the engine in logs ("stream" or "event").
	Name() string
	// Parse consumes the document and returns programmes grouped by internal
	// channel id.
	Parse(r io.Reader, m *Matcher, now time.Time) (map[string][]Program, error)
}

// ErrNoProgrammes is returned when a parse completes without yielding a
// single matched programme; callers treat it like a parse failure so the
// fallback chain runs.
var ErrNoProgrammes = errors.New("epg: document yielded no matched programmes")

// BuildGuide assembles the per-channel timeline views from parsed
// programmes. Shared by both parser engines so matching-policy fixes land
// once.
func BuildGuide(byChannel map[string][]Program, now time.Time) GuideMap {
	guide := make(GuideMap, len(byChannel))
	for id, programs := range byChannel {
		guide[id] = BuildChannelGuide(programs, now)
	}
	return guide
}

// keepProgramme applies the pre-match retention rule.
func keepProgramme(p Program, now time.Time) bool {
	if p.Title == "" || p.StartUTC.IsZero() || p.EndUTC.IsZero() {
		return false
	}
	if !p.EndUTC.After(p.StartUTC) {
		return false
	}
	// programmes long since over produce nothing but memory pressure and
	// stale "now" picks
	return now.Sub(p.EndUTC) <= RecentWindow
}

// ParseXMLTVTime parses "yyyyMMddHHmmss [±HHmm]" with a couple of truncated
// variants seen in the wild. Times without a zone are UTC.
func ParseXMLTVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{
		"20060102150405 -0700",
		"20060102150405",
		"200601021504 -0700",
		"200601021504",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable xmltv time %q", s)
}

// StreamParser is the fast path: a pull parser over xml tokens.
type StreamParser struct{}

// Name implements Parser.
func (StreamParser) Name() string { return "stream" }

// Parse implements Parser.
func (StreamParser) Parse(r io.Reader, m *Matcher, now time.Time) (map[string][]Program, error) {
	dec := xml.NewDecoder(r)
	dec.Strict = true
	dec.Entity = make(map[string]string) // no entity expansion

	byChannel := make(map[string][]Program)
	matched := 0

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("xmltv token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "channel":
			var ch xmltvChannel
			if err := dec.DecodeElement(&ch, &start); err != nil {
				return nil, fmt.Errorf("decode channel: %w", err)
			}
			for _, name := range ch.DisplayNames {
				m.AddAlias(ch.ID, name)
			}
		case "programme":
			var pr xmltvProgramme
			if err := dec.DecodeElement(&pr, &start); err != nil {
				return nil, fmt.Errorf("decode programme: %w", err)
			}
			p, ok := pr.toProgram()
			if !ok || !keepProgramme(p, now) {
				continue
			}
			channelID, ok := m.Resolve(pr.Channel)
			if !ok {
				continue
			}
			byChannel[channelID] = append(byChannel[channelID], p)
			matched++
		}
	}
	if matched == 0 {
		return nil, ErrNoProgrammes
	}
	return byChannel, nil
}

type xmltvChannel struct {
	ID           string   `xml:"id,attr"`
	DisplayNames []string `xml:"display-name"`
}

type xmltvProgramme struct {
	Channel string `xml:"channel,attr"`
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Title   string `xml:"title"`
	Desc    string `xml:"desc"`
}

func (pr xmltvProgramme) toProgram() (Program, bool) {
	start, err := ParseXMLTVTime(pr.Start)
	if err != nil {
		return Program{}, false
	}
	stop, err := ParseXMLTVTime(pr.Stop)
	if err != nil {
		return Program{}, false
	}
	return Program{
		Title:       strings.TrimSpace(pr.Title),
		Description: strings.TrimSpace(pr.Desc),
		StartUTC:    start,
		EndUTC:      stop,
	}, true
}
