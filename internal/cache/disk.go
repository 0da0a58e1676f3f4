// SPDX-License-Identifier: MIT

package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"

	"github.com/pulsetv/pulse/internal/log"
	"github.com/pulsetv/pulse/internal/metrics"
)

// MaxSnapshotBytes is the hard ceiling for a serialized snapshot. Payloads
// over the ceiling are persisted without the guide map: channels are
// load-bearing, the guide is recoverable.
const MaxSnapshotBytes = 6 << 20

// Disk is the persistent snapshot layer: one JSON file per profile, tagged
// with the config signature it was written under.
type Disk struct {
	dir string
}

// NewDisk returns a disk layer rooted at dir.
func NewDisk(dir string) *Disk {
	return &Disk{dir: dir}
}

type persisted struct {
	Signature string    `json:"signature"`
	WrittenAt time.Time `json:"writtenAt"`
	Snapshot  *Snapshot `json:"snapshot"`
}

func (d *Disk) path(profileID string) string {
	return filepath.Join(d.dir, "snapshot-"+profileID+".json")
}

// Write persists a compacted snapshot for the profile under the given
// config signature.
func (d *Disk) Write(profileID, signature string, snap *Snapshot) error {
	compact := snap.Compact()
	payload := persisted{Signature: signature, WrittenAt: time.Now().UTC(), Snapshot: compact}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if len(data) > MaxSnapshotBytes {
		lg := log.WithComponent("cache")
		lg.Warn().
			Str("event", "snapshot.guide_dropped").
			Int("bytes", len(data)).
			Msg("snapshot over size ceiling, persisting channels only")
		compact.GuideByChannelID = nil
		payload.Snapshot = compact
		if data, err = json.Marshal(payload); err != nil {
			return fmt.Errorf("marshal snapshot without guide: %w", err)
		}
	}
	metrics.SnapshotBytes.Set(float64(len(data)))

	if err := os.MkdirAll(d.dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	if err := renameio.WriteFile(d.path(profileID), data, 0o600); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

// Read loads the profile's snapshot, validating the config signature and
// requiring a non-empty channel list. Any mismatch or corruption is a cache
// miss, never an error surfaced to the user.
func (d *Disk) Read(profileID, signature string) (*Snapshot, bool) {
	data, err := os.ReadFile(d.path(profileID))
	if err != nil {
		metrics.RecordCacheRead("disk", "miss")
		return nil, false
	}
	var payload persisted
	if err := json.Unmarshal(data, &payload); err != nil {
		lg := log.WithComponent("cache")
		lg.Debug().
			Err(err).
			Str("event", "snapshot.corrupt").
			Msg("discarding unreadable snapshot")
		metrics.RecordCacheRead("disk", "miss")
		d.Remove(profileID)
		return nil, false
	}
	if payload.Signature != signature || payload.Snapshot == nil || len(payload.Snapshot.Channels) == 0 {
		// invalid under the current config; it can only get in the way of
		// the next write
		metrics.RecordCacheRead("disk", "stale")
		d.Remove(profileID)
		return nil, false
	}
	metrics.RecordCacheRead("disk", "hit")
	return payload.Snapshot, true
}

// Remove deletes the profile's snapshot file.
func (d *Disk) Remove(profileID string) {
	_ = os.Remove(d.path(profileID))
}
