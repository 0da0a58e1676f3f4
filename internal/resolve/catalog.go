// SPDX-License-Identifier: MIT

package resolve

import (
	"time"

	"github.com/pulsetv/pulse/internal/xtream"
)

// Entry is one series from the provider catalog with its precomputed
// matching keys.
type Entry struct {
	SeriesID       int
	RawName        string
	NormalizedName string
	TitleKey       string
	Tokens         map[string]struct{}
	TMDBID         string
	IMDBID         string
	Year           int
}

// Index is a point-in-time snapshot of the provider's series catalog with
// the lookup tables built once per load.
type Index struct {
	Entries []Entry
	BuiltAt time.Time

	byTMDB     map[string]int
	byIMDB     map[string]int
	byTitleKey map[string][]int
	byToken    map[string][]int
}

// BuildIndex precomputes all matching keys for a raw catalog listing.
// Entries without a usable series id are dropped.
func BuildIndex(series []xtream.SeriesEntry, builtAt time.Time) *Index {
	ix := &Index{
		Entries:    make([]Entry, 0, len(series)),
		BuiltAt:    builtAt,
		byTMDB:     make(map[string]int),
		byIMDB:     make(map[string]int),
		byTitleKey: make(map[string][]int),
		byToken:    make(map[string][]int),
	}
	for _, s := range series {
		id := s.SeriesID.Int()
		if id == 0 {
			continue
		}
		tokens := TitleTokens(s.Name)
		tokenSet := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			tokenSet[t] = struct{}{}
		}
		year := releaseYear(s.ReleaseDate)
		if year == 0 {
			year = titleYear(s.Name)
		}
		e := Entry{
			SeriesID:       id,
			RawName:        s.Name,
			NormalizedName: normalizeTitle(s.Name),
			TitleKey:       CanonicalTitleKey(s.Name),
			Tokens:         tokenSet,
			TMDBID:         s.TMDBID.String(),
			IMDBID:         s.IMDBID.String(),
			Year:           year,
		}
		idx := len(ix.Entries)
		ix.Entries = append(ix.Entries, e)

		if e.TMDBID != "" && e.TMDBID != "0" {
			if _, taken := ix.byTMDB[e.TMDBID]; !taken {
				ix.byTMDB[e.TMDBID] = idx
			}
		}
		if e.IMDBID != "" {
			if _, taken := ix.byIMDB[e.IMDBID]; !taken {
				ix.byIMDB[e.IMDBID] = idx
			}
		}
		if e.TitleKey != "" {
			ix.byTitleKey[e.TitleKey] = append(ix.byTitleKey[e.TitleKey], idx)
		}
		for t := range tokenSet {
			ix.byToken[t] = append(ix.byToken[t], idx)
		}
	}
	return ix
}

// Stale reports whether the index has outlived the catalog TTL.
func (ix *Index) Stale(ttl time.Duration, now time.Time) bool {
	return now.Sub(ix.BuiltAt) > ttl
}
