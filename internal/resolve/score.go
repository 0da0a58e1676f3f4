// SPDX-License-Identifier: MIT

package resolve

import "sort"

// Confidence bands. External-id matches short-circuit everything else;
// fuzzy bands leave room below them so callers can threshold on method.
const (
	confTMDB       = 0.99
	confIMDB       = 0.98
	confTitleExact = 0.93
	confTitleNear  = 0.88
	confTokenBase  = 0.76
	confTokenCeil  = 0.86
)

const maxProbes = 2

type candidate struct {
	entry      Entry
	confidence float64
	method     string
}

// candidates scores the catalog against a query and returns the top
// candidates worth a network probe, best first. An external-identifier hit
// returns alone; fuzzy passes never outrank it.
func (ix *Index) candidates(q Query) []candidate {
	if q.TMDBID != "" && q.TMDBID != "0" {
		if i, ok := ix.byTMDB[q.TMDBID]; ok {
			return []candidate{{entry: ix.Entries[i], confidence: confTMDB, method: "tmdb"}}
		}
	}
	if q.IMDBID != "" {
		if i, ok := ix.byIMDB[q.IMDBID]; ok {
			return []candidate{{entry: ix.Entries[i], confidence: confIMDB, method: "imdb"}}
		}
	}
	if q.Title == "" {
		return nil
	}

	queryYear := q.Year
	if queryYear == 0 {
		queryYear = titleYear(q.Title)
	}

	var out []candidate
	seen := make(map[int]struct{})
	keep := func(c candidate) {
		if _, dup := seen[c.entry.SeriesID]; dup {
			return
		}
		seen[c.entry.SeriesID] = struct{}{}
		out = append(out, c)
	}

	for _, i := range ix.byTitleKey[CanonicalTitleKey(q.Title)] {
		e := ix.Entries[i]
		conf, ok := titleConfidence(queryYear, e.Year)
		if !ok {
			continue
		}
		keep(candidate{entry: e, confidence: conf, method: "title"})
	}

	qTokens := TitleTokens(q.Title)
	for i, overlap := range ix.tokenOverlaps(qTokens) {
		e := ix.Entries[i]
		if !tokenMatchQualifies(overlap, len(qTokens), len(e.Tokens)) {
			continue
		}
		// a year mismatch strong enough to reject a title match also
		// disqualifies the weaker token band
		if queryYear != 0 && e.Year != 0 && absInt(queryYear-e.Year) > 1 {
			continue
		}
		ratio := float64(overlap) / float64(max(len(qTokens), len(e.Tokens)))
		conf := confTokenBase + (confTokenCeil-confTokenBase)*ratio
		keep(candidate{entry: e, confidence: conf, method: "tokens"})
	}

	sort.SliceStable(out, func(a, b int) bool { return out[a].confidence > out[b].confidence })
	if len(out) > maxProbes {
		out = out[:maxProbes]
	}
	return out
}

// tokenOverlaps counts shared significant tokens per catalog entry.
func (ix *Index) tokenOverlaps(queryTokens []string) map[int]int {
	overlaps := make(map[int]int)
	for _, t := range queryTokens {
		for _, i := range ix.byToken[t] {
			overlaps[i]++
		}
	}
	return overlaps
}

// tokenMatchQualifies requires two shared significant tokens, or full
// coverage when the query title has only one.
func tokenMatchQualifies(overlap, queryLen, entryLen int) bool {
	if queryLen == 0 || entryLen == 0 {
		return false
	}
	if queryLen == 1 {
		return overlap == 1 && entryLen == 1
	}
	return overlap >= 2
}

// titleConfidence applies the year rule to an exact canonical-title match:
// unknown years keep a middling score, a one-year skew scales down, more
// than one year apart rejects the candidate.
func titleConfidence(queryYear, entryYear int) (float64, bool) {
	if queryYear == 0 || entryYear == 0 {
		return (confTitleExact + confTitleNear) / 2, true
	}
	switch diff := absInt(queryYear - entryYear); {
	case diff == 0:
		return confTitleExact, true
	case diff == 1:
		return confTitleNear, true
	default:
		return 0, false
	}
}

func absInt(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
