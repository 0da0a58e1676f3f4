// SPDX-License-Identifier: MIT

// Package metrics provides Prometheus metrics for the acquisition and
// resolution subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaylistFetchTotal counts playlist acquisition attempts by outcome.
	PlaylistFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_playlist_fetch_total",
		Help: "Total number of playlist acquisition attempts, by source and outcome.",
	}, []string{"source", "outcome"})

	// GuideFetchTotal counts guide acquisition passes by source and outcome.
	GuideFetchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_guide_fetch_total",
		Help: "Total number of EPG acquisition passes, by source (short/full) and outcome.",
	}, []string{"source", "outcome"})

	// GuideChannelsMatched tracks how many channels received guide data on the
	// last full-guide pass.
	GuideChannelsMatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_guide_channels_matched",
		Help: "Channels with at least one programme after the last full-guide pass.",
	})

	// CacheHitTotal counts cache reads by layer and outcome.
	CacheHitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_cache_read_total",
		Help: "Total number of cache reads, by layer (memory/disk) and outcome (hit/miss/stale).",
	}, []string{"layer", "outcome"})

	// SnapshotBytes tracks the serialized size of the last persisted snapshot.
	SnapshotBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pulse_snapshot_bytes",
		Help: "Serialized size in bytes of the last snapshot written to disk.",
	})

	// ResolveTotal counts episode resolution outcomes by method.
	ResolveTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pulse_resolve_total",
		Help: "Total number of episode resolutions, by method (cache/binding/external-id/title/token/miss).",
	}, []string{"method"})

	// CatalogReloadTotal counts provider catalog index rebuilds.
	CatalogReloadTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pulse_catalog_reload_total",
		Help: "Total number of provider series-catalog index rebuilds.",
	})
)

// RecordCacheRead is a small helper so call sites stay one line.
func RecordCacheRead(layer, outcome string) {
	CacheHitTotal.WithLabelValues(layer, outcome).Inc()
}
