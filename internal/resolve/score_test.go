// SPDX-License-Identifier: MIT

package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulsetv/pulse/internal/xtream"
)

func TestCanonicalTitleKey(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"The Walking Dead", "dead walking"},
		{"Walking  DEAD, The", "dead walking"},
		{"Dark (2017)", "dark"},
		{"Marvel's Agents of S.H.I.E.L.D.", "agents d e h i l marvel s"},
		{"", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, CanonicalTitleKey(c.in), c.in)
	}
}

func TestTitleTokens_StopWordsAndDedup(t *testing.T) {
	assert.Equal(t, []string{"lord", "rings"}, TitleTokens("The Lord of the Rings"))
	assert.Equal(t, []string{"dark"}, TitleTokens("Dark, the dark"))
}

func TestTitleYear(t *testing.T) {
	assert.Equal(t, 2017, titleYear("Dark (2017)"))
	assert.Equal(t, 1999, titleYear("Show [1999]"))
	assert.Equal(t, 0, titleYear("Dark"))
	assert.Equal(t, 0, titleYear("Area (51)"))
}

func scoringIndex() *Index {
	return BuildIndex([]xtream.SeriesEntry{
		{SeriesID: 1, Name: "The Expanse", ReleaseDate: "2015-12-14", TMDBID: "63639"},
		{SeriesID: 2, Name: "Expanse Universe Documentary"},
		{SeriesID: 3, Name: "The Expanse (2021)"},
	}, time.Now())
}

func TestCandidates_ExternalIDAlone(t *testing.T) {
	cands := scoringIndex().candidates(Query{TMDBID: "63639", Title: "The Expanse"})
	require.Len(t, cands, 1, "external-id match short-circuits fuzzy passes")
	assert.Equal(t, 1, cands[0].entry.SeriesID)
	assert.Equal(t, "tmdb", cands[0].method)
}

func TestCandidates_TitleBeatsTokens(t *testing.T) {
	cands := scoringIndex().candidates(Query{Title: "The Expanse"})
	require.NotEmpty(t, cands)
	assert.Equal(t, "title", cands[0].method)
	assert.LessOrEqual(t, len(cands), maxProbes, "only the top candidates get probed")
	for i := 1; i < len(cands); i++ {
		assert.GreaterOrEqual(t, cands[i-1].confidence, cands[i].confidence)
	}
}

func TestCandidates_TokenBand(t *testing.T) {
	cands := scoringIndex().candidates(Query{Title: "Expanse Documentary"})
	require.NotEmpty(t, cands)
	var sawTokens bool
	for _, c := range cands {
		if c.method == "tokens" {
			sawTokens = true
			assert.GreaterOrEqual(t, c.confidence, confTokenBase)
			assert.LessOrEqual(t, c.confidence, confTokenCeil)
		}
	}
	assert.True(t, sawTokens)
}

func TestCandidates_YearRejection(t *testing.T) {
	cands := scoringIndex().candidates(Query{Title: "The Expanse", Year: 2015})
	for _, c := range cands {
		assert.NotEqual(t, 3, c.entry.SeriesID, "2021 entry rejected for a 2015 query")
	}
	require.NotEmpty(t, cands)
	assert.Equal(t, 1, cands[0].entry.SeriesID)
	assert.InDelta(t, confTitleExact, cands[0].confidence, 1e-9)
}

func TestCandidates_SingleTokenNeedsFullCoverage(t *testing.T) {
	ix := BuildIndex([]xtream.SeriesEntry{
		{SeriesID: 1, Name: "Dark"},
		{SeriesID: 2, Name: "Dark Matter"},
	}, time.Now())

	cands := ix.candidates(Query{Title: "Dark"})
	require.Len(t, cands, 1)
	assert.Equal(t, 1, cands[0].entry.SeriesID)
}
