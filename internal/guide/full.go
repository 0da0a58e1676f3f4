// SPDX-License-Identifier: MIT

package guide

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pulsetv/pulse/internal/epg"
	"github.com/pulsetv/pulse/internal/log"
)

// fetchFull tries the candidate guide URLs in order until one yields
// programme data, capped at MaxGuideCandidates to bound latency.
func (c *Coordinator) fetchFull(ctx context.Context, req Request, now time.Time) (epg.GuideMap, error) {
	urls := req.GuideURLs
	if len(urls) == 0 {
		return nil, errors.New("guide: no guide url configured")
	}
	if len(urls) > MaxGuideCandidates {
		urls = urls[:MaxGuideCandidates]
	}
	logger := log.WithComponentFromContext(ctx, "guide")

	var lastErr error
	for i, url := range urls {
		guideMap, err := c.fetchFullFrom(ctx, url, req, now)
		if err == nil {
			return guideMap, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if i < len(urls)-1 {
			logger.Warn().Err(err).
				Str("event", "guide.candidate_failed").
				Str("url", url).
				Msg("guide candidate failed, trying next")
		}
	}
	return nil, lastErr
}

// fetchFullFrom downloads one XMLTV document and runs the parser chain.
// The first attempt parses the response body as a stream. If the strict
// parser chokes, the document is re-downloaded to a spooled temp file so
// the stream parser gets a second clean pass and, failing that, the
// regex-based event parser gets the same bytes. The temp file is removed
// regardless of outcome.
func (c *Coordinator) fetchFullFrom(ctx context.Context, guideURL string, req Request, now time.Time) (epg.GuideMap, error) {
	logger := log.WithComponentFromContext(ctx, "guide")
	matcher := epg.NewMatcher(req.Channels)

	body, err := c.openGuide(ctx, guideURL)
	if err != nil {
		return nil, err
	}
	byChannel, streamErr := parseGuide(body, guideURL, matcher, now)
	body.Close()
	if streamErr == nil {
		return epg.BuildGuide(byChannel, now), nil
	}
	if errors.Is(streamErr, epg.ErrNoProgrammes) {
		return nil, streamErr
	}
	logger.Warn().Err(streamErr).
		Str("event", "guide.stream_parse_failed").
		Msg("streaming parse failed, retrying from spooled copy")

	spool, err := c.spoolGuide(ctx, guideURL)
	if err != nil {
		return nil, fmt.Errorf("re-download guide: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	// fresh matcher per parse pass, aliases must not leak between attempts
	byChannel, err = parseGuide(spool, guideURL, epg.NewMatcher(req.Channels), now)
	if err == nil {
		return epg.BuildGuide(byChannel, now), nil
	}
	if errors.Is(err, epg.ErrNoProgrammes) {
		return nil, err
	}

	if _, seekErr := spool.Seek(0, io.SeekStart); seekErr != nil {
		return nil, fmt.Errorf("rewind spooled guide: %w", seekErr)
	}
	logger.Warn().Err(err).
		Str("event", "guide.spool_parse_failed").
		Msg("spooled parse failed, falling back to event parser")

	byChannel, err = parseGuideWith(epg.EventParser{}, spool, guideURL, epg.NewMatcher(req.Channels), now)
	if err != nil {
		return nil, fmt.Errorf("event parser fallback: %w", err)
	}
	return epg.BuildGuide(byChannel, now), nil
}

// openGuide issues the GET and returns the body on a 200.
func (c *Coordinator) openGuide(ctx context.Context, url string) (io.ReadCloser, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build guide request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch guide: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("fetch guide: unexpected status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// spoolGuide re-downloads the document into a temp file and returns it
// positioned at the start. The caller owns cleanup.
func (c *Coordinator) spoolGuide(ctx context.Context, url string) (*os.File, error) {
	body, err := c.openGuide(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	f, err := os.CreateTemp("", "pulse-guide-*.xml")
	if err != nil {
		return nil, fmt.Errorf("create guide spool: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("spool guide: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("rewind guide spool: %w", err)
	}
	return f, nil
}

func parseGuide(r io.Reader, sourceName string, m *epg.Matcher, now time.Time) (map[string][]epg.Program, error) {
	return parseGuideWith(epg.StreamParser{}, r, sourceName, m, now)
}

func parseGuideWith(p epg.Parser, r io.Reader, sourceName string, m *epg.Matcher, now time.Time) (map[string][]epg.Program, error) {
	decoded, err := epg.MaybeGunzip(r, sourceName)
	if err != nil {
		return nil, fmt.Errorf("decompress guide: %w", err)
	}
	return p.Parse(epg.NewSanitizingReader(decoded), m, now)
}
