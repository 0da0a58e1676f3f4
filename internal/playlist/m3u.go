// SPDX-License-Identifier: MIT

package playlist

import (
	"bufio"
	"io"
	"strings"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// HeaderInfo carries attributes from the #EXTM3U header line.
type HeaderInfo struct {
	// GuideURL is the url-tvg / x-tvg-url header attribute, when present.
	GuideURL string
}

// ParseM3U parses extended-M3U text: a #EXTINF metadata line followed by a
// URL line forms one channel. Attribute quoting in the wild is frequently
// broken (stray backslash-escaped quotes, unquoted values), so attributes go
// through a permissive scanner rather than a strict grammar.
func ParseM3U(r io.Reader) ([]Channel, HeaderInfo, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)

	var (
		header  HeaderInfo
		out     []Channel
		pending string // last #EXTINF line awaiting its URL
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			attrs := scanAttributes(line)
			if v := attrs["url-tvg"]; v != "" {
				header.GuideURL = v
			} else if v := attrs["x-tvg-url"]; v != "" {
				header.GuideURL = v
			}
		case strings.HasPrefix(line, "#EXTINF:"):
			// a second #EXTINF before a URL replaces the orphan
			pending = line
		case strings.HasPrefix(line, "#"):
			// other directives are ignored
		default:
			if pending == "" {
				continue // bare URL with no metadata line
			}
			ch := channelFromEXTINF(pending, line)
			out = append(out, ch)
			pending = ""
		}
	}
	if err := sc.Err(); err != nil {
		return nil, header, err
	}
	return Dedupe(out), header, nil
}

func channelFromEXTINF(meta, streamURL string) Channel {
	attrs := scanAttributes(meta)
	name := displayName(meta)
	if name == "" {
		name = attrs["tvg-name"]
	}
	epgID := attrs["tvg-id"]
	return Channel{
		ID:          ChannelID(epgID, streamURL),
		Name:        name,
		StreamURL:   streamURL,
		Group:       attrs["group-title"],
		LogoURL:     attrs["tvg-logo"],
		EPGID:       epgID,
		RawMetadata: meta,
	}
}

// displayName returns the text after the last comma outside quotes.
func displayName(meta string) string {
	inQuotes := false
	last := -1
	for i := 0; i < len(meta); i++ {
		switch meta[i] {
		case '"':
			if i == 0 || meta[i-1] != '\\' {
				inQuotes = !inQuotes
			}
		case ',':
			if !inQuotes {
				last = i
			}
		}
	}
	if last < 0 || last+1 >= len(meta) {
		return ""
	}
	return strings.TrimSpace(meta[last+1:])
}

// scanAttributes extracts key=value attributes from a directive line. It
// accepts quoted values (with embedded \" escapes), bare values, and keeps
// going past anything malformed.
func scanAttributes(line string) map[string]string {
	attrs := make(map[string]string)
	i := 0
	n := len(line)
	for i < n {
		// find start of a key: letter after whitespace
		for i < n && !isKeyByte(line[i]) {
			i++
		}
		start := i
		for i < n && isKeyByte(line[i]) {
			i++
		}
		if i >= n || line[i] != '=' {
			continue
		}
		key := strings.ToLower(line[start:i])
		i++ // consume '='
		if i >= n {
			break
		}
		var val string
		if line[i] == '"' {
			i++
			var sb strings.Builder
			for i < n {
				c := line[i]
				if c == '\\' && i+1 < n && line[i+1] == '"' {
					sb.WriteByte('"')
					i += 2
					continue
				}
				if c == '"' {
					i++
					break
				}
				sb.WriteByte(c)
				i++
			}
			val = sb.String()
		} else {
			start = i
			for i < n && line[i] != ' ' && line[i] != ',' {
				i++
			}
			val = line[start:i]
		}
		if key != "" {
			attrs[key] = val
		}
	}
	return attrs
}

func isKeyByte(c byte) bool {
	return c == '-' || c == '_' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
