// SPDX-License-Identifier: MIT

package playlist

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/metrics"
	"github.com/pulsetv/pulse/internal/xtream"
)

// ErrEmptyPlaylist is returned when an acquisition attempt yields zero
// channels; it participates in the retry policy like a transport failure.
var ErrEmptyPlaylist = errors.New("playlist: no channels in response")

// Progress receives coarse completion percentages during a load.
type Progress func(percent int)

// Loader acquires the channel list for one playlist URL.
type Loader struct {
	http     *http.Client
	progress Progress
}

// NewLoader returns a Loader. onProgress may be nil.
func NewLoader(onProgress Progress) *Loader {
	return &Loader{
		http:     &http.Client{Timeout: 60 * time.Second},
		progress: onProgress,
	}
}

// WithHTTPClient overrides the transport, mainly for tests.
func (l *Loader) WithHTTPClient(h *http.Client) *Loader {
	l.http = h
	return l
}

func (l *Loader) report(pct int) {
	if l.progress != nil {
		l.progress(pct)
	}
}

// Load fetches and parses the playlist, retrying up to 2 attempts with
// capped linear backoff on transport failure or an empty result. When the
// URL carries Xtream credentials the structured catalog is preferred over
// raw playlist text because it yields clean group and logo metadata.
func (l *Loader) Load(ctx context.Context, playlistURL string) ([]Channel, HeaderInfo, error) {
	logger := log.WithComponentFromContext(ctx, "playlist")

	var (
		channels []Channel
		header   HeaderInfo
	)
	err := retry.Do(
		func() error {
			chs, hdr, err := l.loadOnce(ctx, playlistURL)
			if err != nil {
				return err
			}
			if len(chs) == 0 {
				return ErrEmptyPlaylist
			}
			channels, header = chs, hdr
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(2),
		retry.Delay(time.Second),
		retry.DelayType(func(n uint, _ error, cfg *retry.Config) time.Duration {
			return time.Duration(n+1) * time.Second // 1s, 2s
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		metrics.PlaylistFetchTotal.WithLabelValues("any", "error").Inc()
		return nil, HeaderInfo{}, fmt.Errorf("load playlist: %w", err)
	}

	logger.Info().
		Str("event", "playlist.loaded").
		Int("channels", len(channels)).
		Msg("playlist loaded")
	return channels, header, nil
}

func (l *Loader) loadOnce(ctx context.Context, playlistURL string) ([]Channel, HeaderInfo, error) {
	l.report(0)
	if creds, ok := xtream.DetectCredentials(playlistURL); ok {
		chs, err := l.loadStructured(ctx, creds)
		if err == nil && len(chs) > 0 {
			metrics.PlaylistFetchTotal.WithLabelValues("api", "ok").Inc()
			l.report(100)
			return chs, HeaderInfo{}, nil
		}
		if err != nil {
			lg := log.WithComponentFromContext(ctx, "playlist")
			lg.Warn().
				Err(err).
				Str("event", "playlist.api_fallback").
				Msg("structured catalog failed, falling back to playlist text")
		}
		metrics.PlaylistFetchTotal.WithLabelValues("api", "fallback").Inc()
	}
	chs, hdr, err := l.loadM3U(ctx, playlistURL)
	if err != nil {
		return nil, HeaderInfo{}, err
	}
	metrics.PlaylistFetchTotal.WithLabelValues("m3u", "ok").Inc()
	l.report(100)
	return chs, hdr, nil
}

// loadStructured builds the channel list from the category + stream
// endpoints.
func (l *Loader) loadStructured(ctx context.Context, creds xtream.Credentials) ([]Channel, error) {
	client := xtream.NewClient(creds).WithHTTPClient(l.http)

	cats, err := client.LiveCategories(ctx)
	if err != nil {
		return nil, err
	}
	l.report(30)
	catName := make(map[string]string, len(cats))
	for _, c := range cats {
		catName[c.CategoryID.String()] = c.CategoryName
	}

	streams, err := client.LiveStreams(ctx)
	if err != nil {
		return nil, err
	}
	l.report(80)

	out := make([]Channel, 0, len(streams))
	for _, s := range streams {
		if s.StreamID.Int() == 0 {
			continue
		}
		streamURL := client.LiveStreamURL(s.StreamID.Int())
		out = append(out, Channel{
			ID:               ChannelID(s.EPGChannelID, streamURL),
			Name:             s.Name,
			StreamURL:        streamURL,
			Group:            catName[s.CategoryID.String()],
			LogoURL:          s.StreamIcon,
			EPGID:            s.EPGChannelID,
			ProviderStreamID: s.StreamID.Int(),
		})
	}
	return Dedupe(out), nil
}

// loadM3U downloads and parses raw playlist text.
func (l *Loader) loadM3U(ctx context.Context, playlistURL string) ([]Channel, HeaderInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, playlistURL, nil)
	if err != nil {
		return nil, HeaderInfo{}, fmt.Errorf("build request: %w", err)
	}
	res, err := l.http.Do(req)
	if err != nil {
		return nil, HeaderInfo{}, fmt.Errorf("fetch playlist: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, HeaderInfo{}, fmt.Errorf("playlist status %d", res.StatusCode)
	}

	var body io.Reader = res.Body
	if res.ContentLength > 0 {
		body = &progressReader{r: res.Body, total: res.ContentLength, report: l.report}
	} else {
		l.report(50)
	}
	return ParseM3U(body)
}

// progressReader maps bytes read to a percentage.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(int)
	last   int
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.last {
			p.last = pct
			p.report(pct)
		}
	}
	return n, err
}
