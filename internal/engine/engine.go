// SPDX-License-Identifier: MIT

// Package engine wires the acquisition, caching, and resolution subsystems
// into the surface the daemon exposes: snapshot loads with the
// memory/disk/network fallback chain, background guide refreshes, profile
// switching, and episode resolution.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/pulsetv/pulse/internal/cache"
	"github.com/pulsetv/pulse/internal/config"
	"github.com/pulsetv/pulse/internal/guide"
	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/playlist"
	"github.com/pulsetv/pulse/internal/resolve"
	"github.com/pulsetv/pulse/internal/secrets"
	"github.com/pulsetv/pulse/internal/xtream"
)

var (
	// ErrNoPlaylist means the active profile has no playlist source
	// configured; nothing can be loaded.
	ErrNoPlaylist = errors.New("engine: no playlist configured")
	// ErrNoProvider means episode resolution was requested but the playlist
	// source carries no provider credentials.
	ErrNoProvider = errors.New("engine: no provider credentials for resolution")
	// ErrNotLoaded means a guide refresh was requested before any snapshot
	// existed to refresh against.
	ErrNotLoaded = errors.New("engine: no snapshot loaded yet")
)

// sources is the unsealed, normalized view of the active profile's
// configuration, recomputed on demand so sealed values never sit in memory
// longer than a call.
type sources struct {
	playlistURL string
	guideURL    string
	creds       *xtream.Credentials
	owner       config.Ownership
}

// Engine owns one profile's acquisition state. The load mutex serializes
// full snapshot loads so concurrent callers never trigger duplicate
// downloads; guide-only background refreshes run under the coordinator's
// own try-lock and never block a snapshot read.
type Engine struct {
	mu     sync.Mutex
	cfg    *config.Config
	vault  *secrets.Vault
	store  *cache.Store
	disk   *cache.Disk
	loader *playlist.Loader
	coord  *guide.Coordinator
	now    func() time.Time

	// stateMu guards the config pointer and the guide URL discovered in the
	// last playlist header. It is separate from the load mutex so guide-only
	// refreshes and resolution never wait on a full load.
	stateMu      sync.Mutex
	lastGuideURL string

	resolverMu  sync.Mutex
	resolver    *resolve.Resolver
	resolverKey string

	bg sync.WaitGroup
}

// New builds an Engine for the given profile configuration.
func New(cfg *config.Config, vault *secrets.Vault) *Engine {
	e := &Engine{
		cfg:    cfg,
		vault:  vault,
		disk:   cache.NewDisk(cfg.DataDir),
		loader: playlist.NewLoader(nil),
		coord:  guide.NewCoordinator(),
		now:    time.Now,
	}
	e.store = cache.NewStore(e.currentSources().owner)
	return e
}

// WithHTTPClient overrides the transports of the loader and coordinator,
// mainly for tests.
func (e *Engine) WithHTTPClient(h *http.Client) *Engine {
	e.loader.WithHTTPClient(h)
	e.coord.WithHTTPClient(h)
	return e
}

// Close waits for any in-flight background refresh to finish.
func (e *Engine) Close() {
	e.bg.Wait()
}

// config returns the active profile configuration. The returned value is
// treated as immutable; SetProfile swaps the pointer.
func (e *Engine) config() *config.Config {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.cfg
}

// withProfile tags the context with the active profile so downstream log
// lines carry it.
func (e *Engine) withProfile(ctx context.Context) context.Context {
	return log.ContextWithProfileID(ctx, e.config().ProfileID)
}

// currentSources unseals the configured URLs and normalizes them into the
// canonical playlist/guide pair plus the ownership key.
func (e *Engine) currentSources() sources {
	cfg := e.config()
	playlistIn := e.vault.Open(cfg.PlaylistURL)
	guideIn := e.vault.Open(cfg.GuideURL)

	norm := xtream.Normalize(playlistIn)
	guideURL := guideIn
	if guideURL == "" {
		guideURL = norm.GuideURL
	}
	src := sources{
		playlistURL: norm.PlaylistURL,
		guideURL:    guideURL,
		owner: config.Ownership{
			ProfileID:       cfg.ProfileID,
			ConfigSignature: config.Signature(norm.PlaylistURL, guideURL),
		},
	}
	if creds, ok := xtream.DetectCredentials(norm.PlaylistURL); ok {
		src.creds = &creds
	}
	return src
}

// Snapshot returns the current channel list and guide, loading from the
// first layer that can serve it: memory, then disk, then the network.
// force skips the cache layers and reloads from the network.
func (e *Engine) Snapshot(ctx context.Context, force bool) (*cache.Snapshot, error) {
	ctx = e.withProfile(ctx)
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.currentSources()
	e.store.SetOwner(src.owner)

	if !force {
		if snap, ok := e.store.Snapshot(e.cfg.SnapshotTTL, e.now()); ok {
			e.maybeRefreshGuide(src, snap)
			return snap, nil
		}
		if snap, ok := e.disk.Read(e.cfg.ProfileID, src.owner.ConfigSignature); ok {
			snap = rehydrate(snap)
			e.store.Put(src.owner, snap)
			e.maybeRefreshGuide(src, snap)
			return snap, nil
		}
	}
	return e.loadFromNetwork(ctx, src)
}

// Warmup serves whatever the disk layer has without touching the network,
// for fast first paint after process start.
func (e *Engine) Warmup() (*cache.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	src := e.currentSources()
	e.store.SetOwner(src.owner)

	if snap, ok := e.store.Peek(); ok {
		return snap, true
	}
	snap, ok := e.disk.Read(e.cfg.ProfileID, src.owner.ConfigSignature)
	if !ok {
		return nil, false
	}
	snap = rehydrate(snap)
	e.store.Put(src.owner, snap)
	return snap, true
}

// SetProfile switches the active profile. The ownership key changes with
// it, which drops all in-memory channel, guide, and resolver state before
// the next read.
func (e *Engine) SetProfile(cfg *config.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stateMu.Lock()
	e.cfg = cfg
	e.lastGuideURL = ""
	e.stateMu.Unlock()
	e.store.SetOwner(e.currentSources().owner)

	e.resolverMu.Lock()
	e.resolver = nil
	e.resolverKey = ""
	e.resolverMu.Unlock()

	lg := log.WithComponent("engine")
	lg.Info().
		Str("event", "engine.profile_switched").
		Str("profile_id", cfg.ProfileID).
		Msg("active profile changed")
}

// RefreshGuide triggers a guide-only background refresh against the loaded
// channel list. Overlapping triggers are dropped by the coordinator.
func (e *Engine) RefreshGuide(ctx context.Context) error {
	snap, ok := e.store.Peek()
	if !ok {
		return ErrNotLoaded
	}
	_, err := e.coord.TryBackgroundRefresh(e.withProfile(ctx), e.store, e.guideRequest(e.currentSources(), snap))
	return err
}

// Resolve maps a show/episode query to a provider stream id using the
// resolver bound to the current provider account.
func (e *Engine) Resolve(ctx context.Context, q resolve.Query) (resolve.ResolvedEpisode, error) {
	r, err := e.currentResolver()
	if err != nil {
		return resolve.ResolvedEpisode{}, err
	}
	return r.Resolve(e.withProfile(ctx), q)
}

// StreamURL builds the playable URL for a resolved episode.
func (e *Engine) StreamURL(r resolve.ResolvedEpisode) (string, error) {
	src := e.currentSources()
	if src.creds == nil {
		return "", ErrNoProvider
	}
	return xtream.NewClient(*src.creds).SeriesStreamURL(r.StreamID, r.ContainerExtension), nil
}

func (e *Engine) currentResolver() (*resolve.Resolver, error) {
	src := e.currentSources()
	if src.creds == nil {
		return nil, ErrNoProvider
	}
	key := src.creds.PartitionKey()

	e.resolverMu.Lock()
	defer e.resolverMu.Unlock()
	if e.resolver == nil || e.resolverKey != key {
		e.resolver = resolve.New(xtream.NewClient(*src.creds), key)
		e.resolverKey = key
	}
	return e.resolver, nil
}

// loadFromNetwork is the cold path: fetch the playlist, run guide
// acquisition, persist the result. Transport failures degrade to the last
// known snapshot with a warning attached when one exists.
func (e *Engine) loadFromNetwork(ctx context.Context, src sources) (*cache.Snapshot, error) {
	if src.playlistURL == "" {
		return nil, ErrNoPlaylist
	}
	logger := log.WithComponentFromContext(ctx, "engine")

	channels, header, err := e.loader.Load(ctx, src.playlistURL)
	if err != nil {
		if snap, ok := e.lastKnown(src); ok {
			logger.Warn().Err(err).
				Str("event", "engine.load_degraded").
				Msg("playlist refresh failed, serving last known snapshot")
			stale := *snap
			stale.Warning = fmt.Sprintf("playlist refresh failed: %v", err)
			e.store.Put(src.owner, &stale)
			return &stale, nil
		}
		return nil, fmt.Errorf("load playlist: %w", err)
	}

	e.setLastGuideURL(header.GuideURL)

	grouped, order := playlist.GroupByCategory(channels)
	snap := &cache.Snapshot{
		Channels:          channels,
		GroupedByCategory: grouped,
		GroupOrder:        order,
		FavoriteGroups:    e.cfg.FavoriteGroups,
		FavoriteChannels:  e.cfg.FavoriteChannels,
		LoadedAt:          e.now(),
	}
	e.store.Put(src.owner, snap)

	_, guideErr := e.coord.Refresh(ctx, e.store, e.guideRequest(src, snap))
	if current, ok := e.store.Peek(); ok {
		snap = current
	}
	if guideErr != nil && !errors.Is(guideErr, guide.ErrThrottled) {
		// guide failure never blocks channel availability
		warned := *snap
		warned.Warning = fmt.Sprintf("guide unavailable: %v", guideErr)
		snap = &warned
		e.store.Put(src.owner, snap)
	}

	if err := e.disk.Write(e.cfg.ProfileID, src.owner.ConfigSignature, snap); err != nil {
		logger.Warn().Err(err).
			Str("event", "engine.persist_failed").
			Msg("snapshot not persisted")
	}
	return snap, nil
}

// lastKnown finds a stale-but-usable snapshot in memory or on disk.
func (e *Engine) lastKnown(src sources) (*cache.Snapshot, bool) {
	if snap, ok := e.store.Peek(); ok {
		return snap, true
	}
	if snap, ok := e.disk.Read(e.cfg.ProfileID, src.owner.ConfigSignature); ok {
		return rehydrate(snap), true
	}
	return nil, false
}

func (e *Engine) guideRequest(src sources, snap *cache.Snapshot) guide.Request {
	cfg := e.config()
	return guide.Request{
		Owner:            src.owner,
		Channels:         snap.Channels,
		GuideURLs:        guideCandidates(src.guideURL, e.getLastGuideURL()),
		Credentials:      src.creds,
		FavoriteGroups:   cfg.FavoriteGroups,
		FavoriteChannels: cfg.FavoriteChannels,
	}
}

// guideCandidates orders the configured guide URL ahead of the one
// discovered in the playlist header, deduplicated.
func guideCandidates(configured, discovered string) []string {
	var urls []string
	if configured != "" {
		urls = append(urls, configured)
	}
	if discovered != "" && discovered != configured {
		urls = append(urls, discovered)
	}
	return urls
}

// maybeRefreshGuide kicks off a background guide refresh when the cached
// guide has outlived the refresh threshold. Never blocks the caller.
func (e *Engine) maybeRefreshGuide(src sources, snap *cache.Snapshot) {
	updatedAt := e.store.GuideUpdatedAt()
	if !updatedAt.IsZero() && e.now().Sub(updatedAt) < e.cfg.GuideRefreshAfter {
		return
	}
	req := e.guideRequest(src, snap)
	if len(req.GuideURLs) == 0 && req.Credentials == nil {
		return
	}
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		if _, err := e.coord.TryBackgroundRefresh(e.withProfile(context.Background()), e.store, req); err != nil &&
			!errors.Is(err, guide.ErrRefreshInFlight) && !errors.Is(err, guide.ErrThrottled) {
			lg := log.WithComponent("engine")
			lg.Debug().Err(err).
				Str("event", "engine.background_refresh_failed").
				Msg("background guide refresh failed")
		}
	}()
}

func (e *Engine) setLastGuideURL(u string) {
	e.stateMu.Lock()
	e.lastGuideURL = u
	e.stateMu.Unlock()
}

func (e *Engine) getLastGuideURL() string {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	return e.lastGuideURL
}

// rehydrate rebuilds the derived fields Compact stripped before persisting.
func rehydrate(snap *cache.Snapshot) *cache.Snapshot {
	cp := *snap
	cp.GroupedByCategory, cp.GroupOrder = playlist.GroupByCategory(snap.Channels)
	return &cp
}
