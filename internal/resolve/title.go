// SPDX-License-Identifier: MIT

// Package resolve maps a show title or external identifiers plus a
// season/episode pair to a concrete provider stream id, working around the
// inconsistent metadata real panels expose. Lookups walk a layered cache
// chain before touching the network, and fuzzy matches carry a confidence
// score so only the best candidates cost a round-trip.
package resolve

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	unorm "golang.org/x/text/unicode/norm"
)

var (
	yearSuffix  = regexp.MustCompile(`\s*[([]((?:19|20)\d{2})[)\]]\s*$`)
	nonWordRun  = regexp.MustCompile(`[^a-z0-9]+`)
	stopWords   = map[string]struct{}{}
	stopWordSrc = "the a an and of or in on at to with for"
)

func init() {
	for _, w := range strings.Fields(stopWordSrc) {
		stopWords[w] = struct{}{}
	}
}

// TitleTokens reduces a title to its significant lowercase tokens: NFC
// normalized, year suffix removed, punctuation split, stop words dropped.
func TitleTokens(title string) []string {
	s := unorm.NFC.String(strings.ToLower(strings.TrimSpace(title)))
	s = yearSuffix.ReplaceAllString(s, "")
	parts := nonWordRun.Split(s, -1)
	seen := make(map[string]struct{}, len(parts))
	var out []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if _, stop := stopWords[p]; stop {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// CanonicalTitleKey is the order-insensitive join key for title matching:
// the significant tokens, sorted and space-joined.
func CanonicalTitleKey(title string) string {
	tokens := TitleTokens(title)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// normalizeTitle is the display-oriented normal form: NFC, lowercase,
// year suffix removed, whitespace collapsed. Token order is preserved.
func normalizeTitle(title string) string {
	s := unorm.NFC.String(strings.ToLower(strings.TrimSpace(title)))
	s = yearSuffix.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// titleYear extracts a trailing "(2019)"-style year marker, 0 if absent.
func titleYear(raw string) int {
	m := yearSuffix.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return 0
	}
	y, _ := strconv.Atoi(m[1])
	return y
}

// releaseYear reads the leading year of an ISO-ish release date, 0 if the
// field is empty or malformed.
func releaseYear(date string) int {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y < 1900 || y > 2100 {
		return 0
	}
	return y
}
