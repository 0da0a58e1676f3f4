// SPDX-License-Identifier: MIT

// Package guide coordinates EPG acquisition from the two available sources:
// the provider's short now/next API and the full XMLTV document. It favors
// freshness over completeness; partial data is exposed as soon as it exists.
package guide

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/pulsetv/pulse/internal/cache"
	"github.com/pulsetv/pulse/internal/config"
	"github.com/pulsetv/pulse/internal/epg"
	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/metrics"
	"github.com/pulsetv/pulse/internal/playlist"
	"github.com/pulsetv/pulse/internal/xtream"
)

// Acquisition limits.
const (
	OverallDeadline  = 90 * time.Second
	ShortWorkers     = 40
	ShortWaitCeiling = 30 * time.Second
	ShortPerRequest  = 8 * time.Second
	ShortMaxChannels = 500
	EmptyThrottle    = 30 * time.Second

	// MaxGuideCandidates bounds how many guide URLs one pass will try.
	MaxGuideCandidates = 2
)

var (
	// ErrNoGuideData means neither source yielded usable data. Expected
	// outcome, not a fault; the empty-result throttle is armed.
	ErrNoGuideData = errors.New("guide: no data from any source")
	// ErrThrottled means a refresh was suppressed by the empty-result
	// throttle armed by a recent failed pass.
	ErrThrottled = errors.New("guide: refresh throttled after empty result")
	// ErrRefreshInFlight means an overlapping background refresh trigger was
	// dropped.
	ErrRefreshInFlight = errors.New("guide: refresh already in flight")
)

// Request carries everything one acquisition pass needs.
type Request struct {
	Owner            config.Ownership
	Channels         []playlist.Channel
	GuideURLs        []string            // candidates in preference order; only the first MaxGuideCandidates are tried
	Credentials      *xtream.Credentials // nil when the provider has no short API
	FavoriteGroups   []string
	FavoriteChannels []string
}

// Coordinator runs acquisition passes. The background-refresh mutex is
// separate from any snapshot locking so a refresh never blocks a concurrent
// snapshot read; overlapping refresh triggers are dropped, not queued.
type Coordinator struct {
	http      *http.Client
	refreshMu sync.Mutex
	now       func() time.Time
}

// NewCoordinator returns a Coordinator using a dedicated HTTP client sized
// for large guide documents.
func NewCoordinator() *Coordinator {
	return &Coordinator{
		http: &http.Client{Timeout: 80 * time.Second},
		now:  time.Now,
	}
}

// WithHTTPClient overrides the transport, mainly for tests.
func (c *Coordinator) WithHTTPClient(h *http.Client) *Coordinator {
	c.http = h
	return c
}

// Refresh runs one full acquisition pass under the overall deadline and
// stores results into store as they become available. It returns the final
// guide map. Both sources are always attempted; the full document is always
// awaited because only it carries later/upcoming/recent entries.
func (c *Coordinator) Refresh(ctx context.Context, store *cache.Store, req Request) (epg.GuideMap, error) {
	if store.GuideThrottled(EmptyThrottle, c.now()) {
		return nil, ErrThrottled
	}
	ctx, cancel := context.WithTimeoutCause(ctx, OverallDeadline, errors.New("guide acquisition timed out"))
	defer cancel()

	logger := log.WithComponentFromContext(ctx, "guide")
	now := c.now()

	// full-guide fetch starts immediately; short guide runs alongside
	fullCh := make(chan fullResult, 1)
	go func() {
		guideMap, err := c.fetchFull(ctx, req, now)
		fullCh <- fullResult{guide: guideMap, err: err}
	}()

	var short epg.GuideMap
	if req.Credentials != nil {
		var err error
		short, err = c.fetchShort(ctx, req, now)
		switch {
		case err != nil:
			logger.Warn().Err(err).Str("event", "guide.short_failed").Msg("short guide pass discarded")
			metrics.GuideFetchTotal.WithLabelValues("short", "error").Inc()
		case len(short) > 0:
			// merge immediately so callers see fresh now/next without
			// waiting for the full document
			if _, ok := store.MergeGuide(req.Owner, short, c.now()); ok {
				logger.Info().
					Str("event", "guide.short_merged").
					Int("channels", len(short)).
					Msg("short guide merged")
			}
			metrics.GuideFetchTotal.WithLabelValues("short", "ok").Inc()
		default:
			metrics.GuideFetchTotal.WithLabelValues("short", "empty").Inc()
		}
	}

	full := <-fullCh
	if full.err != nil {
		logger.Warn().Err(full.err).Str("event", "guide.full_failed").Msg("full guide unavailable")
		metrics.GuideFetchTotal.WithLabelValues("full", "error").Inc()
	} else {
		metrics.GuideFetchTotal.WithLabelValues("full", "ok").Inc()
		metrics.GuideChannelsMatched.Set(float64(len(full.guide)))
	}

	// deadline exhaustion is a hard error, not partial silent success; any
	// short-guide data already merged above stays cached and visible
	if ctx.Err() != nil && full.err != nil {
		return nil, context.Cause(ctx)
	}

	switch {
	case full.err == nil && len(full.guide) > 0:
		merged := mergeSources(short, full.guide)
		if snap, ok := store.ReplaceGuide(req.Owner, merged, c.now()); ok {
			return snap.GuideByChannelID, nil
		}
		return merged, nil
	case len(short) > 0:
		// partial success: short data stays cached and visible
		if snap, ok := store.Peek(); ok {
			return snap.GuideByChannelID, nil
		}
		return short, nil
	default:
		store.ArmEmptyGuideThrottle(c.now())
		if _, ok := store.ReplaceGuide(req.Owner, epg.GuideMap{}, c.now()); ok {
			logger.Info().Str("event", "guide.cleared").Msg("guide cleared after empty pass")
		}
		return nil, ErrNoGuideData
	}
}

// TryBackgroundRefresh runs Refresh unless another refresh holds the lock,
// in which case the trigger is dropped.
func (c *Coordinator) TryBackgroundRefresh(ctx context.Context, store *cache.Store, req Request) (epg.GuideMap, error) {
	if !c.refreshMu.TryLock() {
		return nil, ErrRefreshInFlight
	}
	defer c.refreshMu.Unlock()
	return c.Refresh(ctx, store, req)
}

type fullResult struct {
	guide epg.GuideMap
	err   error
}

// mergeSources applies the field-level policy across the whole map: short
// guide wins now/next, full guide wins the timeline fields.
func mergeSources(short, full epg.GuideMap) epg.GuideMap {
	if len(short) == 0 {
		return full
	}
	merged := make(epg.GuideMap, len(full)+len(short))
	for id, g := range full {
		merged[id] = g
	}
	for id, g := range short {
		merged[id] = epg.Merge(g, merged[id])
	}
	return merged
}
