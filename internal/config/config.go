// SPDX-License-Identifier: MIT

// Package config holds the engine configuration: provider URLs, profile
// identity, favorites, and the normalized-config signature that gates every
// cache in the system.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config is the engine configuration for one profile.
type Config struct {
	// ProfileID identifies the active profile. Generated when absent.
	ProfileID string `yaml:"profile_id"`

	// PlaylistURL is the provider playlist source (possibly sealed at rest).
	PlaylistURL string `yaml:"playlist_url"`
	// GuideURL is the XMLTV guide source (possibly sealed at rest).
	GuideURL string `yaml:"guide_url"`

	// FavoriteGroups and FavoriteChannels order the short-EPG subset.
	FavoriteGroups   []string `yaml:"favorite_groups"`
	FavoriteChannels []string `yaml:"favorite_channels"`

	// DataDir is where snapshots and the sealing key live.
	DataDir string `yaml:"data_dir"`

	// Listen is the HTTP listen address for the daemon.
	Listen string `yaml:"listen"`

	// LogLevel is passed to the zerolog setup.
	LogLevel string `yaml:"log_level"`

	// SnapshotTTL is how long a loaded playlist stays fresh.
	SnapshotTTL time.Duration `yaml:"snapshot_ttl"`
	// GuideRefreshAfter is the background guide refresh threshold.
	GuideRefreshAfter time.Duration `yaml:"guide_refresh_after"`
}

// Defaults mirrored from the acquisition lifecycle: playlist 24h, guide
// refresh threshold 15min.
const (
	DefaultSnapshotTTL       = 24 * time.Hour
	DefaultGuideRefreshAfter = 15 * time.Minute
)

// Load reads the YAML config file at path, then applies environment
// overrides and defaults. A missing file is not an error; env-only setups
// are supported.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// env-only
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PULSE_PLAYLIST_URL"); v != "" {
		c.PlaylistURL = v
	}
	if v := os.Getenv("PULSE_GUIDE_URL"); v != "" {
		c.GuideURL = v
	}
	if v := os.Getenv("PULSE_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("PULSE_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("PULSE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PULSE_PROFILE_ID"); v != "" {
		c.ProfileID = v
	}
}

func (c *Config) applyDefaults() {
	if c.ProfileID == "" {
		c.ProfileID = uuid.NewString()
	}
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.SnapshotTTL <= 0 {
		c.SnapshotTTL = DefaultSnapshotTTL
	}
	if c.GuideRefreshAfter <= 0 {
		c.GuideRefreshAfter = DefaultGuideRefreshAfter
	}
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	if c.PlaylistURL == "" {
		return nil // a profile without a playlist is allowed; loads just miss
	}
	if strings.HasPrefix(c.PlaylistURL, "enc:") {
		return nil // sealed value, validated after unsealing
	}
	u, err := url.Parse(c.PlaylistURL)
	if err != nil {
		return fmt.Errorf("invalid playlist URL %q: %w", c.PlaylistURL, err)
	}
	if u.Scheme != "" && u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported playlist URL scheme %q", u.Scheme)
	}
	return nil
}

// Signature returns the SHA-256 hex digest of the normalized playlist and
// guide URLs. It is the cache partition key: any change to either URL yields
// a different signature and therefore a cold cache.
func Signature(playlistURL, guideURL string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(playlistURL) + "\n" + strings.TrimSpace(guideURL)))
	return hex.EncodeToString(sum[:])
}

// Ownership is the pair gating all in-memory caches. A change in either
// field invalidates everything derived from the previous pair.
type Ownership struct {
	ProfileID       string
	ConfigSignature string
}

// Owner returns the ownership key for this configuration.
func (c *Config) Owner() Ownership {
	return Ownership{
		ProfileID:       c.ProfileID,
		ConfigSignature: Signature(c.PlaylistURL, c.GuideURL),
	}
}
