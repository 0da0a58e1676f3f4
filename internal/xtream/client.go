// SPDX-License-Identifier: MIT

package xtream

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Client talks to one provider account over the player API.
type Client struct {
	creds   Credentials
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient returns a Client for the given account. The per-client rate
// limiter keeps short-EPG fan-out from hammering the panel.
func NewClient(creds Credentials) *Client {
	return &Client{
		creds:   creds,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(40), 80),
	}
}

// WithHTTPClient overrides the transport, mainly for tests.
func (c *Client) WithHTTPClient(h *http.Client) *Client {
	c.http = h
	return c
}

func (c *Client) apiURL(action string, extra url.Values) string {
	q := url.Values{}
	q.Set("username", c.creds.Username)
	q.Set("password", c.creds.Password)
	q.Set("action", action)
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return strings.TrimRight(c.creds.BaseURL, "/") + "/player_api.php?" + q.Encode()
}

func (c *Client) get(ctx context.Context, u string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("provider request: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("provider status %d", res.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, 64<<20))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// LiveCategories fetches the category list.
func (c *Client) LiveCategories(ctx context.Context) ([]Category, error) {
	var out []Category
	if err := c.get(ctx, c.apiURL("get_live_categories", nil), &out); err != nil {
		return nil, fmt.Errorf("live categories: %w", err)
	}
	return out, nil
}

// LiveStreams fetches the full live stream list.
func (c *Client) LiveStreams(ctx context.Context) ([]LiveStream, error) {
	var out []LiveStream
	if err := c.get(ctx, c.apiURL("get_live_streams", nil), &out); err != nil {
		return nil, fmt.Errorf("live streams: %w", err)
	}
	return out, nil
}

// Series fetches the provider's full series catalog. Some panels return a
// JSON object keyed by index instead of an array; both shapes are accepted.
func (c *Client) Series(ctx context.Context) ([]SeriesEntry, error) {
	var raw json.RawMessage
	if err := c.get(ctx, c.apiURL("get_series", nil), &raw); err != nil {
		return nil, fmt.Errorf("series catalog: %w", err)
	}
	var list []SeriesEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var m map[string]SeriesEntry
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("series catalog: unexpected shape: %w", err)
	}
	list = make([]SeriesEntry, 0, len(m))
	for _, s := range m {
		list = append(list, s)
	}
	return list, nil
}

// SeriesInfo fetches the episode list for one series.
func (c *Client) SeriesInfo(ctx context.Context, seriesID int) (*SeriesInfo, error) {
	extra := url.Values{"series_id": []string{strconv.Itoa(seriesID)}}
	var out SeriesInfo
	if err := c.get(ctx, c.apiURL("get_series_info", extra), &out); err != nil {
		return nil, fmt.Errorf("series info %d: %w", seriesID, err)
	}
	return &out, nil
}

// ShortEPG fetches the now/next listings for one live stream. Text fields
// are decoded from base64 with a raw-text fallback for panels that skip the
// encoding.
func (c *Client) ShortEPG(ctx context.Context, streamID, limit int) ([]ShortEPGEntry, error) {
	extra := url.Values{
		"stream_id": []string{strconv.Itoa(streamID)},
		"limit":     []string{strconv.Itoa(limit)},
	}
	var out shortEPGResponse
	if err := c.get(ctx, c.apiURL("get_short_epg", extra), &out); err != nil {
		return nil, fmt.Errorf("short epg %d: %w", streamID, err)
	}
	for i := range out.Listings {
		out.Listings[i].Title = decodeText(out.Listings[i].Title)
		out.Listings[i].Description = decodeText(out.Listings[i].Description)
	}
	return out.Listings, nil
}

// LiveStreamURL builds the playable URL for a live stream id.
func (c *Client) LiveStreamURL(streamID int) string {
	return fmt.Sprintf("%s/live/%s/%s/%d.ts",
		strings.TrimRight(c.creds.BaseURL, "/"),
		url.PathEscape(c.creds.Username), url.PathEscape(c.creds.Password), streamID)
}

// SeriesStreamURL builds the playable URL for an episode stream id.
func (c *Client) SeriesStreamURL(streamID int, containerExt string) string {
	ext := containerExt
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/series/%s/%s/%d.%s",
		strings.TrimRight(c.creds.BaseURL, "/"),
		url.PathEscape(c.creds.Username), url.PathEscape(c.creds.Password), streamID, ext)
}

// Credentials returns the account triple the client was built with.
func (c *Client) Credentials() Credentials { return c.creds }

// decodeText resolves server-side base64 encoding, falling back to the raw
// text when the value is not valid base64.
func decodeText(s string) string {
	if s == "" {
		return s
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return string(b)
	}
	return s
}
