// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/pulsetv/pulse/internal/xtream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSource struct {
	mu          sync.Mutex
	series      []xtream.SeriesEntry
	seriesErr   error
	info        map[int]*xtream.SeriesInfo
	seriesCalls atomic.Int64
	infoCalls   atomic.Int64
	infoGate    chan struct{} // when set, SeriesInfo blocks until closed
}

func (f *fakeSource) Series(ctx context.Context) ([]xtream.SeriesEntry, error) {
	f.seriesCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seriesErr != nil {
		return nil, f.seriesErr
	}
	return f.series, nil
}

func (f *fakeSource) SeriesInfo(ctx context.Context, seriesID int) (*xtream.SeriesInfo, error) {
	f.infoCalls.Add(1)
	if f.infoGate != nil {
		<-f.infoGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	info, ok := f.info[seriesID]
	if !ok {
		return nil, errors.New("unknown series")
	}
	return info, nil
}

func episodes(refs ...[3]int) *xtream.SeriesInfo {
	info := &xtream.SeriesInfo{Episodes: map[string][]xtream.SeriesEpisode{}}
	for _, r := range refs {
		season, episode, id := r[0], r[1], r[2]
		key := strconv.Itoa(season)
		info.Episodes[key] = append(info.Episodes[key], xtream.SeriesEpisode{
			ID:                 xtream.FlexInt(id),
			EpisodeNum:         xtream.FlexInt(episode),
			Season:             xtream.FlexInt(season),
			ContainerExtension: "mkv",
		})
	}
	return info
}

func newTestResolver(src *fakeSource) *Resolver {
	return New(src, "part1")
}

func catalogSource() *fakeSource {
	return &fakeSource{
		series: []xtream.SeriesEntry{
			{SeriesID: 5, Name: "Dark (2017)", TMDBID: "70523", IMDBID: "tt5753856"},
			{SeriesID: 6, Name: "The Dark Crystal: Age of Resistance", ReleaseDate: "2019-08-30"},
			{SeriesID: 7, Name: "Breaking Bad", ReleaseDate: "2008-01-20"},
		},
		info: map[int]*xtream.SeriesInfo{
			5: episodes([3]int{1, 1, 501}, [3]int{1, 2, 502}, [3]int{2, 1, 503}),
			6: episodes([3]int{1, 1, 601}),
			7: episodes([3]int{2, 1, 701}, [3]int{2, 2, 702}),
		},
	}
}

func TestResolve_ExternalIDShortCircuit(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	got, err := r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 2})
	require.NoError(t, err)
	assert.Equal(t, 502, got.StreamID)
	assert.Equal(t, 5, got.SeriesID)
	assert.Equal(t, "tmdb", got.Method)
	assert.InDelta(t, 0.99, got.Confidence, 1e-9)
	assert.Equal(t, "mkv", got.ContainerExtension)
}

func TestResolve_CanonicalTitleMatch(t *testing.T) {
	r := newTestResolver(catalogSource())

	got, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 2})
	require.NoError(t, err)
	assert.Equal(t, 702, got.StreamID)
	assert.Equal(t, "title", got.Method)
	assert.GreaterOrEqual(t, got.Confidence, 0.88)
	assert.LessOrEqual(t, got.Confidence, 0.93)
}

func TestResolve_YearRules(t *testing.T) {
	r := newTestResolver(catalogSource())

	// same year: top of the band
	got, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Year: 2008, Season: 2, Episode: 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.93, got.Confidence, 1e-9)

	// more than one year off: canonical-title candidate rejected outright
	_, err = r.Resolve(context.Background(), Query{Title: "Breaking Bad", Year: 2015, Season: 2, Episode: 2})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_EpisodeMatchIsStrict(t *testing.T) {
	r := newTestResolver(catalogSource())

	// season 2 exists for Dark, episode 5 does not; no nearest-neighbor
	_, err := r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 2, Episode: 5})
	assert.ErrorIs(t, err, ErrNoMatch)
}

func TestResolve_FlattenedProviderRelaxation(t *testing.T) {
	src := &fakeSource{
		series: []xtream.SeriesEntry{{SeriesID: 9, Name: "Flat Show"}},
		info: map[int]*xtream.SeriesInfo{
			// everything dumped into season 1
			9: episodes([3]int{1, 4, 904}, [3]int{1, 5, 905}, [3]int{0, 6, 906}),
		},
	}
	r := newTestResolver(src)

	got, err := r.Resolve(context.Background(), Query{Title: "Flat Show", Season: 3, Episode: 5})
	require.NoError(t, err)
	assert.Equal(t, 905, got.StreamID, "unique episode-number match accepted on flattened series")

	// season 0 keyed episodes count as the same flattened bucket
	got, err = r.Resolve(context.Background(), Query{Title: "Flat Show", Season: 0, Episode: 6})
	require.NoError(t, err)
	assert.Equal(t, 906, got.StreamID)
}

func TestResolve_FlattenedAmbiguityIsMiss(t *testing.T) {
	src := &fakeSource{
		series: []xtream.SeriesEntry{{SeriesID: 9, Name: "Flat Show"}},
		info: map[int]*xtream.SeriesInfo{
			9: episodes([3]int{0, 5, 904}, [3]int{1, 5, 905}),
		},
	}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{Title: "Flat Show", Season: 2, Episode: 5})
	assert.ErrorIs(t, err, ErrNoMatch, "two candidates with the same episode number stay ambiguous")
}

func TestResolve_BindingSkipsCatalogSearch(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 1})
	require.NoError(t, err)
	catalogLoads := src.seriesCalls.Load()

	got, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 2})
	require.NoError(t, err)
	assert.Equal(t, 702, got.StreamID)
	assert.Equal(t, "binding", got.Method)
	assert.Equal(t, catalogLoads, src.seriesCalls.Load(), "binding hit must not reload the catalog")
}

func TestResolve_EpisodeCacheHit(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	first, err := r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 1})
	require.NoError(t, err)
	infoCalls := src.infoCalls.Load()

	second, err := r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 1})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, infoCalls, src.infoCalls.Load(), "cache hit issues no network calls")
}

func TestResolve_EpisodeCacheExpires(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 1})
	require.NoError(t, err)

	r.now = func() time.Time { return time.Now().Add(cacheTTL + time.Minute) }
	_, err = r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 1})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, src.infoCalls.Load(), int64(2), "expired entry re-probes")
}

func TestResolve_BindingExpires(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 1})
	require.NoError(t, err)
	catalogLoads := src.seriesCalls.Load()

	// a different episode so only the binding tier can answer
	r.now = func() time.Time { return time.Now().Add(cacheTTL + time.Minute) }
	got, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 2})
	require.NoError(t, err)
	assert.Equal(t, 702, got.StreamID)
	assert.NotEqual(t, "binding", got.Method, "expired binding must not answer")
	assert.Greater(t, src.seriesCalls.Load(), catalogLoads, "expired binding falls back to catalog search")
}

func TestResolve_StaleCatalogFallback(t *testing.T) {
	src := catalogSource()
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{Title: "Breaking Bad", Season: 2, Episode: 1})
	require.NoError(t, err)

	// catalog expires and the reload fails: stale index still serves
	src.mu.Lock()
	src.seriesErr = errors.New("panel down")
	src.mu.Unlock()
	r.catalog.BuiltAt = time.Now().Add(-cacheTTL - time.Hour)

	got, err := r.Resolve(context.Background(), Query{Title: "Dark (2017)", Season: 2, Episode: 1})
	require.NoError(t, err)
	assert.Equal(t, 503, got.StreamID)
}

func TestResolve_SingleflightDedupesEpisodeListFetch(t *testing.T) {
	src := catalogSource()
	src.infoGate = make(chan struct{})
	r := newTestResolver(src)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = r.Resolve(context.Background(), Query{TMDBID: "70523", Season: 1, Episode: 1})
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(src.infoGate)
	wg.Wait()

	for _, err := range results {
		assert.NoError(t, err)
	}
	assert.Equal(t, int64(1), src.infoCalls.Load(), "concurrent probes share one in-flight fetch")
}

func TestResolve_InvalidQuery(t *testing.T) {
	r := newTestResolver(catalogSource())

	_, err := r.Resolve(context.Background(), Query{Title: "Dark", Season: 1})
	assert.Error(t, err)

	_, err = r.Resolve(context.Background(), Query{Season: 1, Episode: 1})
	assert.Error(t, err)
}

func TestResolve_NoCatalogAndNetworkDown(t *testing.T) {
	src := &fakeSource{seriesErr: errors.New("panel down")}
	r := newTestResolver(src)

	_, err := r.Resolve(context.Background(), Query{Title: "Dark", Season: 1, Episode: 1})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoMatch, "transport failure is not a miss")
}
