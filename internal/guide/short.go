// SPDX-License-Identifier: MIT

package guide

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulsetv/pulse/internal/epg"
	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/playlist"
	"github.com/pulsetv/pulse/internal/xtream"
)

var errShortOutage = errors.New("guide: short guide pass discarded, majority of requests failed")

// fetchShort fans per-channel short-EPG requests over a bounded worker pool
// and assembles the now/next map. Workers that outlive the wait ceiling are
// abandoned rather than awaited. A pass where more than half of the
// requests errored and nothing came back is treated as a provider outage.
func (c *Coordinator) fetchShort(ctx context.Context, req Request, now time.Time) (epg.GuideMap, error) {
	client := xtream.NewClient(*req.Credentials).WithHTTPClient(c.http)
	targets := shortSubset(req.Channels, req.FavoriteChannels, req.FavoriteGroups)
	if len(targets) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type shortHit struct {
		channelID string
		guide     *epg.ChannelGuide
	}
	results := make(chan shortHit, len(targets))
	var errCount atomic.Int64

	sem := make(chan struct{}, ShortWorkers)
	var wg sync.WaitGroup
	for _, target := range targets {
		ch := target
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				errCount.Add(1)
				return
			}
			reqCtx, reqCancel := context.WithTimeout(ctx, ShortPerRequest)
			defer reqCancel()

			listings, err := client.ShortEPG(reqCtx, ch.ProviderStreamID, 4)
			if err != nil {
				errCount.Add(1)
				return
			}
			if g := guideFromListings(listings, now); !g.IsEmpty() {
				results <- shortHit{channelID: ch.ID, guide: g}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	// abandon stragglers at the ceiling; collected results still count
	select {
	case <-done:
	case <-time.After(ShortWaitCeiling):
		lg := log.WithComponentFromContext(ctx, "guide")
		lg.Warn().
			Str("event", "guide.short_ceiling").
			Msg("short guide wait ceiling hit, abandoning remaining workers")
		cancel()
	case <-ctx.Done():
	}

	// drain whatever made it into the buffer; stragglers past this point
	// are dropped with their goroutines
	out := make(epg.GuideMap)
drain:
	for {
		select {
		case hit := <-results:
			out[hit.channelID] = hit.guide
		default:
			break drain
		}
	}

	if len(out) == 0 && errCount.Load()*2 > int64(len(targets)) {
		return nil, errShortOutage
	}
	return out, nil
}

// shortSubset orders channels by priority (favorited channels, then
// favorited groups, then the rest) and caps the result. Only channels with
// a provider stream id can be queried.
func shortSubset(channels []playlist.Channel, favChannels, favGroups []string) []playlist.Channel {
	favCh := make(map[string]struct{}, len(favChannels))
	for _, id := range favChannels {
		favCh[id] = struct{}{}
	}
	favGr := make(map[string]struct{}, len(favGroups))
	for _, g := range favGroups {
		favGr[g] = struct{}{}
	}

	var first, second, rest []playlist.Channel
	for _, ch := range channels {
		if ch.ProviderStreamID == 0 {
			continue
		}
		switch {
		case contains(favCh, ch.ID):
			first = append(first, ch)
		case contains(favGr, ch.Group):
			second = append(second, ch)
		default:
			rest = append(rest, ch)
		}
	}

	out := make([]playlist.Channel, 0, len(first)+len(second)+len(rest))
	out = append(out, first...)
	out = append(out, second...)
	out = append(out, rest...)
	if len(out) > ShortMaxChannels {
		out = out[:ShortMaxChannels]
	}
	return out
}

func contains(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

// guideFromListings builds the now/next-only view from short-EPG entries.
func guideFromListings(listings []xtream.ShortEPGEntry, now time.Time) *epg.ChannelGuide {
	programs := make([]epg.Program, 0, len(listings))
	for _, l := range listings {
		if l.Title == "" || l.StartTimestamp.Int() == 0 || l.StopTimestamp.Int() == 0 {
			continue
		}
		programs = append(programs, epg.Program{
			Title:       l.Title,
			Description: l.Description,
			StartUTC:    time.Unix(int64(l.StartTimestamp.Int()), 0).UTC(),
			EndUTC:      time.Unix(int64(l.StopTimestamp.Int()), 0).UTC(),
		})
	}
	full := epg.BuildChannelGuide(programs, now)
	// the short source only speaks for now/next
	return &epg.ChannelGuide{Now: full.Now, Next: full.Next}
}
