// SPDX-License-Identifier: MIT

package xtream

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// FlexInt tolerates providers that emit numeric fields as either JSON
// numbers or quoted strings.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		// some panels ship floats ("2.0") or garbage; best effort
		if fl, ferr := strconv.ParseFloat(s, 64); ferr == nil {
			*f = FlexInt(int(fl))
			return nil
		}
		*f = 0
		return nil
	}
	*f = FlexInt(n)
	return nil
}

// Int returns the plain int value.
func (f FlexInt) Int() int { return int(f) }

// FlexString tolerates fields that arrive as strings or numbers.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	*f = FlexString(strings.Trim(string(data), `"`))
	return nil
}

// String returns the plain string value.
func (f FlexString) String() string { return string(f) }

// Category is one entry from get_live_categories.
type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
}

// LiveStream is one entry from get_live_streams.
type LiveStream struct {
	Num          FlexInt    `json:"num"`
	Name         string     `json:"name"`
	StreamID     FlexInt    `json:"stream_id"`
	StreamIcon   string     `json:"stream_icon"`
	EPGChannelID string     `json:"epg_channel_id"`
	CategoryID   FlexString `json:"category_id"`
}

// SeriesEntry is one entry from get_series.
type SeriesEntry struct {
	SeriesID    FlexInt    `json:"series_id"`
	Name        string     `json:"name"`
	Cover       string     `json:"cover"`
	CategoryID  FlexString `json:"category_id"`
	ReleaseDate string     `json:"releaseDate"`
	TMDBID      FlexString `json:"tmdb"`
	IMDBID      FlexString `json:"imdb_id"`
}

// SeriesEpisode is one episode inside a get_series_info response.
type SeriesEpisode struct {
	ID                 FlexInt `json:"id"`
	EpisodeNum         FlexInt `json:"episode_num"`
	Season             FlexInt `json:"season"`
	Title              string  `json:"title"`
	ContainerExtension string  `json:"container_extension"`
}

// SeriesInfo is the get_series_info response: episodes grouped by season
// number (the map key is the season as a string).
type SeriesInfo struct {
	Episodes map[string][]SeriesEpisode `json:"episodes"`
}

// ShortEPGEntry is one listing from get_short_epg. Title and description
// arrive base64-encoded.
type ShortEPGEntry struct {
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	StartTimestamp FlexInt `json:"start_timestamp"`
	StopTimestamp  FlexInt `json:"stop_timestamp"`
}

type shortEPGResponse struct {
	Listings []ShortEPGEntry `json:"epg_listings"`
}
