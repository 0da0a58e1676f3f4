// SPDX-License-Identifier: MIT

package resolve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/metrics"
	"github.com/pulsetv/pulse/internal/xtream"
)

// Cache bounds and freshness.
const (
	episodeCacheSize     = 512
	bindingCacheSize     = 2048
	episodeListCacheSize = 256
	cacheTTL             = 24 * time.Hour
)

// ErrNoMatch is the expected miss: no candidate was confident enough or
// the probed series lacks the requested episode. Callers fall back to
// another content source.
var ErrNoMatch = errors.New("resolve: no confident match")

// CatalogSource is the provider surface the resolver needs. *xtream.Client
// satisfies it.
type CatalogSource interface {
	Series(ctx context.Context) ([]xtream.SeriesEntry, error)
	SeriesInfo(ctx context.Context, seriesID int) (*xtream.SeriesInfo, error)
}

// Query identifies one episode of one show. At least a title or one
// external id is required; Season may be 0 for specials or flattened
// providers.
type Query struct {
	Title   string
	Year    int
	TMDBID  string
	IMDBID  string
	Season  int
	Episode int
}

// ResolvedEpisode is a successful resolution, cacheable for a day.
type ResolvedEpisode struct {
	StreamID           int
	ContainerExtension string
	SeriesID           int
	Confidence         float64
	Method             string
	ResolvedAt         time.Time
}

type binding struct {
	SeriesID   int
	Confidence float64
	Method     string
	BoundAt    time.Time
}

type episodeRef struct {
	StreamID  int
	Season    int
	Episode   int
	Container string
}

type episodeList struct {
	Episodes  []episodeRef
	FetchedAt time.Time
}

// Resolver resolves queries against one provider account. A Resolver is
// scoped to one cache-ownership key; ownership changes are handled by
// dropping the Resolver and building a fresh one, never by mutating a live
// instance.
type Resolver struct {
	source    CatalogSource
	partition string
	now       func() time.Time

	episodes *lru.Cache[string, ResolvedEpisode]
	bindings *lru.Cache[string, binding]
	lists    *lru.Cache[int, episodeList]
	flight   singleflight.Group

	catalogMu sync.Mutex
	catalog   *Index
}

// New builds a Resolver for one provider account. partition keys the
// caches so entries from different accounts can never collide.
func New(source CatalogSource, partition string) *Resolver {
	episodes, _ := lru.New[string, ResolvedEpisode](episodeCacheSize)
	bindings, _ := lru.New[string, binding](bindingCacheSize)
	lists, _ := lru.New[int, episodeList](episodeListCacheSize)
	return &Resolver{
		source:    source,
		partition: partition,
		now:       time.Now,
		episodes:  episodes,
		bindings:  bindings,
		lists:     lists,
	}
}

// Resolve walks the cache chain for q and probes the provider only when
// every cache tier misses. A miss is ErrNoMatch, not a fault.
func (r *Resolver) Resolve(ctx context.Context, q Query) (ResolvedEpisode, error) {
	if q.Episode <= 0 {
		return ResolvedEpisode{}, fmt.Errorf("resolve: episode number required, got %d", q.Episode)
	}
	if q.Title == "" && q.TMDBID == "" && q.IMDBID == "" {
		return ResolvedEpisode{}, errors.New("resolve: title or external id required")
	}
	logger := log.WithComponentFromContext(ctx, "resolve")
	now := r.now()

	epKey := r.episodeKey(q)
	if cached, ok := r.episodes.Get(epKey); ok {
		if now.Sub(cached.ResolvedAt) <= cacheTTL {
			metrics.RecordCacheRead("resolve_episode", "hit")
			metrics.ResolveTotal.WithLabelValues("cache").Inc()
			return cached, nil
		}
		r.episodes.Remove(epKey)
	}
	metrics.RecordCacheRead("resolve_episode", "miss")

	// a known binding skips catalog search entirely
	for _, key := range r.bindingKeys(q) {
		b, ok := r.bindings.Get(key)
		if !ok {
			continue
		}
		if now.Sub(b.BoundAt) > cacheTTL {
			r.bindings.Remove(key)
			continue
		}
		metrics.RecordCacheRead("resolve_binding", "hit")
		ref, found, err := r.probeSeries(ctx, b.SeriesID, q)
		if err != nil {
			return ResolvedEpisode{}, err
		}
		if !found {
			// the bound series exists but lacks this episode: firm miss
			metrics.ResolveTotal.WithLabelValues("miss").Inc()
			return ResolvedEpisode{}, ErrNoMatch
		}
		return r.commit(q, b.SeriesID, ref, b.Confidence, "binding", now), nil
	}
	metrics.RecordCacheRead("resolve_binding", "miss")

	ix, err := r.catalogIndex(ctx)
	if err != nil {
		return ResolvedEpisode{}, err
	}
	for _, cand := range ix.candidates(q) {
		ref, found, err := r.probeSeries(ctx, cand.entry.SeriesID, q)
		if err != nil {
			logger.Warn().Err(err).
				Str("event", "resolve.probe_failed").
				Int("series_id", cand.entry.SeriesID).
				Msg("candidate probe failed")
			continue
		}
		if !found {
			continue
		}
		logger.Info().
			Str("event", "resolve.match").
			Str("method", cand.method).
			Float64("confidence", cand.confidence).
			Int("series_id", cand.entry.SeriesID).
			Int("stream_id", ref.StreamID).
			Msg("episode resolved")
		return r.commit(q, cand.entry.SeriesID, ref, cand.confidence, cand.method, now), nil
	}

	metrics.ResolveTotal.WithLabelValues("miss").Inc()
	return ResolvedEpisode{}, ErrNoMatch
}

// commit stores a successful resolution in both caches so later episodes
// of the same show skip catalog search.
func (r *Resolver) commit(q Query, seriesID int, ref episodeRef, confidence float64, method string, now time.Time) ResolvedEpisode {
	resolved := ResolvedEpisode{
		StreamID:           ref.StreamID,
		ContainerExtension: ref.Container,
		SeriesID:           seriesID,
		Confidence:         confidence,
		Method:             method,
		ResolvedAt:         now,
	}
	r.episodes.Add(r.episodeKey(q), resolved)
	b := binding{SeriesID: seriesID, Confidence: confidence, Method: method, BoundAt: now}
	for _, key := range r.bindingKeys(q) {
		r.bindings.Add(key, b)
	}
	metrics.ResolveTotal.WithLabelValues(method).Inc()
	return resolved
}

// catalogIndex returns a fresh catalog index, reloading from the network
// when the cached one is stale or absent. A failed reload falls back to
// the stale index rather than erroring.
func (r *Resolver) catalogIndex(ctx context.Context) (*Index, error) {
	r.catalogMu.Lock()
	defer r.catalogMu.Unlock()

	now := r.now()
	if r.catalog != nil && !r.catalog.Stale(cacheTTL, now) {
		metrics.RecordCacheRead("resolve_catalog", "hit")
		return r.catalog, nil
	}

	series, err := r.source.Series(ctx)
	if err != nil {
		if r.catalog != nil {
			lg := log.WithComponentFromContext(ctx, "resolve")
			lg.Warn().Err(err).
				Str("event", "resolve.catalog_stale_fallback").
				Msg("catalog reload failed, serving stale index")
			metrics.RecordCacheRead("resolve_catalog", "stale")
			return r.catalog, nil
		}
		return nil, fmt.Errorf("load series catalog: %w", err)
	}
	r.catalog = BuildIndex(series, now)
	metrics.CatalogReloadTotal.Inc()
	metrics.RecordCacheRead("resolve_catalog", "miss")
	return r.catalog, nil
}

// probeSeries fetches (or reuses) a series' episode list and looks for the
// requested episode. Concurrent fetches of the same series share one
// in-flight request.
func (r *Resolver) probeSeries(ctx context.Context, seriesID int, q Query) (episodeRef, bool, error) {
	list, ok := r.lists.Get(seriesID)
	if ok && r.now().Sub(list.FetchedAt) <= cacheTTL {
		metrics.RecordCacheRead("resolve_episode_list", "hit")
		ref, found := findEpisode(list.Episodes, q.Season, q.Episode)
		return ref, found, nil
	}
	metrics.RecordCacheRead("resolve_episode_list", "miss")

	v, err, _ := r.flight.Do("series:"+strconv.Itoa(seriesID), func() (any, error) {
		info, err := r.source.SeriesInfo(ctx, seriesID)
		if err != nil {
			return nil, err
		}
		fetched := episodeList{Episodes: flattenEpisodes(info), FetchedAt: r.now()}
		r.lists.Add(seriesID, fetched)
		return fetched, nil
	})
	if err != nil {
		return episodeRef{}, false, fmt.Errorf("probe series %d: %w", seriesID, err)
	}
	ref, found := findEpisode(v.(episodeList).Episodes, q.Season, q.Episode)
	return ref, found, nil
}

// flattenEpisodes turns the season-keyed response into a flat list. The
// season comes from the episode record when present, else from the map
// key.
func flattenEpisodes(info *xtream.SeriesInfo) []episodeRef {
	var out []episodeRef
	for seasonKey, eps := range info.Episodes {
		keySeason, _ := strconv.Atoi(strings.TrimSpace(seasonKey))
		for _, ep := range eps {
			season := ep.Season.Int()
			if season == 0 {
				season = keySeason
			}
			if ep.ID.Int() == 0 || ep.EpisodeNum.Int() == 0 {
				continue
			}
			out = append(out, episodeRef{
				StreamID:  ep.ID.Int(),
				Season:    season,
				Episode:   ep.EpisodeNum.Int(),
				Container: ep.ContainerExtension,
			})
		}
	}
	return out
}

// findEpisode requires an exact season+episode match. Providers that
// flatten everything into season 0/1 get one relaxation: a single
// unambiguous match by episode number alone is accepted, with season 0
// and 1 treated as the same bucket.
func findEpisode(episodes []episodeRef, season, episode int) (episodeRef, bool) {
	for _, e := range episodes {
		if e.Season == season && e.Episode == episode {
			return e, true
		}
	}
	if !isFlattened(episodes) {
		return episodeRef{}, false
	}
	var hit episodeRef
	var hits int
	for _, e := range episodes {
		if e.Episode == episode {
			hit = e
			hits++
		}
	}
	if hits == 1 {
		return hit, true
	}
	return episodeRef{}, false
}

// isFlattened reports whether every episode sits in season 0 or 1.
func isFlattened(episodes []episodeRef) bool {
	if len(episodes) == 0 {
		return false
	}
	for _, e := range episodes {
		if e.Season > 1 {
			return false
		}
	}
	return true
}

// episodeKey builds the resolved-episode cache key from everything that
// identifies the request.
func (r *Resolver) episodeKey(q Query) string {
	var sb strings.Builder
	sb.WriteString(r.partition)
	sb.WriteString("|tmdb=")
	sb.WriteString(q.TMDBID)
	sb.WriteString("|imdb=")
	sb.WriteString(q.IMDBID)
	sb.WriteString("|title=")
	sb.WriteString(CanonicalTitleKey(q.Title))
	fmt.Fprintf(&sb, "|s%02de%02d", q.Season, q.Episode)
	return sb.String()
}

// bindingKeys lists the series-binding cache keys for a query, strongest
// identifier first.
func (r *Resolver) bindingKeys(q Query) []string {
	var keys []string
	if q.TMDBID != "" && q.TMDBID != "0" {
		keys = append(keys, r.partition+"|tmdb:"+q.TMDBID)
	}
	if q.IMDBID != "" {
		keys = append(keys, r.partition+"|imdb:"+q.IMDBID)
	}
	if key := CanonicalTitleKey(q.Title); key != "" {
		keys = append(keys, r.partition+"|title:"+key)
	}
	return keys
}
