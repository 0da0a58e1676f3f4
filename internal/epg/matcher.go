// SPDX-License-Identifier: MIT

package epg

import (
	"regexp"
	"strings"

	unorm "golang.org/x/text/unicode/norm"

	"github.com/pulsetv/pulse/internal/playlist"
)

var (
	qualitySuffix = regexp.MustCompile(`\s+(hd|fhd|uhd|sd|4k|hevc|h265|raw)$`)
	spaceRun      = regexp.MustCompile(`\s+`)
	nonAlnum      = regexp.MustCompile(`[^a-z0-9]+`)
)

// normalizeKey lowercases, NFC-normalizes and collapses whitespace.
func normalizeKey(s string) string {
	s = unorm.NFC.String(s)
	s = strings.ToLower(strings.TrimSpace(s))
	s = unorm.NFC.String(s)
	s = spaceRun.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// looseKey reduces a key to alphanumerics only.
func looseKey(s string) string {
	return nonAlnum.ReplaceAllString(normalizeKey(s), "")
}

// strippedKey removes trailing quality markers, repeatedly ("Ch HD 4K").
func strippedKey(s string) string {
	s = normalizeKey(s)
	for {
		before := s
		s = qualitySuffix.ReplaceAllString(s, "")
		if s == before {
			return s
		}
	}
}

// Matcher resolves XMLTV channel references to internal channel ids.
//
// Resolution order for a programme's channel attribute: exact normalized
// match, loose (alphanumeric-only) match, quality-suffix-stripped match,
// then the same three passes over every display-name alias registered for
// that XML channel id.
type Matcher struct {
	exact    map[string]string // normalized key -> channel id
	loose    map[string]string
	stripped map[string]string
	aliases  map[string][]string // xml channel id (normalized) -> display names
}

// NewMatcher indexes the internal channel list. Channels are keyed by their
// EPG id and by their display name so alias matching has something to land
// on.
func NewMatcher(channels []playlist.Channel) *Matcher {
	m := &Matcher{
		exact:    make(map[string]string, len(channels)*2),
		loose:    make(map[string]string, len(channels)*2),
		stripped: make(map[string]string, len(channels)*2),
		aliases:  make(map[string][]string),
	}
	add := func(key, channelID string) {
		if key == "" {
			return
		}
		if norm := normalizeKey(key); norm != "" {
			if _, taken := m.exact[norm]; !taken {
				m.exact[norm] = channelID
			}
		}
		if lk := looseKey(key); lk != "" {
			if _, taken := m.loose[lk]; !taken {
				m.loose[lk] = channelID
			}
		}
		if sk := strippedKey(key); sk != "" {
			if _, taken := m.stripped[sk]; !taken {
				m.stripped[sk] = channelID
			}
		}
	}
	for _, ch := range channels {
		add(ch.EPGID, ch.ID)
		add(ch.Name, ch.ID)
	}
	return m
}

// AddAlias registers a display-name alias for an XML channel id.
func (m *Matcher) AddAlias(xmlChannelID, displayName string) {
	key := normalizeKey(xmlChannelID)
	if key == "" || strings.TrimSpace(displayName) == "" {
		return
	}
	m.aliases[key] = append(m.aliases[key], displayName)
}

// Resolve maps an XML channel id to an internal channel id.
func (m *Matcher) Resolve(xmlChannelID string) (string, bool) {
	if id, ok := m.resolveKey(xmlChannelID); ok {
		return id, true
	}
	for _, alias := range m.aliases[normalizeKey(xmlChannelID)] {
		if id, ok := m.resolveKey(alias); ok {
			return id, true
		}
	}
	return "", false
}

func (m *Matcher) resolveKey(key string) (string, bool) {
	if id, ok := m.exact[normalizeKey(key)]; ok {
		return id, true
	}
	if id, ok := m.loose[looseKey(key)]; ok {
		return id, true
	}
	if id, ok := m.stripped[strippedKey(key)]; ok {
		return id, true
	}
	return "", false
}
