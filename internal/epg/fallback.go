// SPDX-License-Identifier: MIT

package epg

import (
	"html"
	"io"
	"regexp"
	"strings"
	"time"
)

// EventParser is the fallback engine: a tolerant block scanner that fires on
// <channel> and <programme> elements without requiring the document to be
// well-formed as a whole. Slower than the pull parser but survives the
// mangled feeds some panels serve.
type EventParser struct{}

// Name implements Parser.
func (EventParser) Name() string { return "event" }

var (
	channelBlockRe   = regexp.MustCompile(`(?s)<channel\s[^>]*id\s*=\s*"([^"]*)"[^>]*>(.*?)</channel>`)
	displayNameRe    = regexp.MustCompile(`(?s)<display-name[^>]*>(.*?)</display-name>`)
	programmeBlockRe = regexp.MustCompile(`(?s)<programme\s([^>]*)>(.*?)</programme>`)
	attrRe           = regexp.MustCompile(`(\w+)\s*=\s*"([^"]*)"`)
	titleRe          = regexp.MustCompile(`(?s)<title[^>]*>(.*?)</title>`)
	descRe           = regexp.MustCompile(`(?s)<desc[^>]*>(.*?)</desc>`)
)

// Parse implements Parser.
func (EventParser) Parse(r io.Reader, m *Matcher, now time.Time) (map[string][]Program, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	doc := string(raw)

	for _, block := range channelBlockRe.FindAllStringSubmatch(doc, -1) {
		id := block[1]
		for _, dn := range displayNameRe.FindAllStringSubmatch(block[2], -1) {
			m.AddAlias(id, textContent(dn[1]))
		}
	}

	byChannel := make(map[string][]Program)
	matched := 0
	for _, block := range programmeBlockRe.FindAllStringSubmatch(doc, -1) {
		attrs := make(map[string]string)
		for _, kv := range attrRe.FindAllStringSubmatch(block[1], -1) {
			attrs[strings.ToLower(kv[1])] = kv[2]
		}
		start, err := ParseXMLTVTime(attrs["start"])
		if err != nil {
			continue
		}
		stop, err := ParseXMLTVTime(attrs["stop"])
		if err != nil {
			continue
		}
		p := Program{StartUTC: start, EndUTC: stop}
		if t := titleRe.FindStringSubmatch(block[2]); t != nil {
			p.Title = textContent(t[1])
		}
		if d := descRe.FindStringSubmatch(block[2]); d != nil {
			p.Description = textContent(d[1])
		}
		if !keepProgramme(p, now) {
			continue
		}
		channelID, ok := m.Resolve(attrs["channel"])
		if !ok {
			continue
		}
		byChannel[channelID] = append(byChannel[channelID], p)
		matched++
	}
	if matched == 0 {
		return nil, ErrNoProgrammes
	}
	return byChannel, nil
}

// textContent strips CDATA wrappers and resolves entities.
func textContent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "<![CDATA[")
	s = strings.TrimSuffix(s, "]]>")
	return strings.TrimSpace(html.UnescapeString(s))
}
