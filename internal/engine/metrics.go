package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// Metrics tracks quota spend and cache behavior across one run. Every
// issued API attempt is counted, including ones that later fail: the
// platform charges those too, and the log is how an operator reconstructs
// spend after an aborted run.
var metrics struct {
	SearchCalls       atomic.Int64
	VideoStatsCalls   atomic.Int64
	ChannelStatsCalls atomic.Int64
	QuotaUnits        atomic.Int64
	CacheHits         atomic.Int64
	CacheMisses       atomic.Int64
}

// spendQuota records one issued API call and logs the running total.
func spendQuota(endpoint string, cost int64) {
	switch endpoint {
	case endpointSearch:
		metrics.SearchCalls.Add(1)
	case endpointVideos:
		metrics.VideoStatsCalls.Add(1)
	case endpointChannels:
		metrics.ChannelStatsCalls.Add(1)
	}
	total := metrics.QuotaUnits.Add(cost)
	slog.Info("quota spent",
		slog.String("endpoint", endpoint),
		slog.Int64("cost", cost),
		slog.Int64("total", total),
	)
}

// Cache counters for the channel cache.
func incrCacheHit()  { metrics.CacheHits.Add(1) }
func incrCacheMiss() { metrics.CacheMisses.Add(1) }

// GetMetrics returns a snapshot of all counters.
func GetMetrics() map[string]int64 {
	return map[string]int64{
		"search_calls":        metrics.SearchCalls.Load(),
		"video_stats_calls":   metrics.VideoStatsCalls.Load(),
		"channel_stats_calls": metrics.ChannelStatsCalls.Load(),
		"quota_units":         metrics.QuotaUnits.Load(),
		"cache_hits":          metrics.CacheHits.Load(),
		"cache_misses":        metrics.CacheMisses.Load(),
	}
}

// FormatMetrics returns counters as simple text for the end-of-run report.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	keys := []string{
		"search_calls", "video_stats_calls", "channel_stats_calls",
		"quota_units", "cache_hits", "cache_misses",
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// resetMetrics zeroes all counters between tests.
func resetMetrics() {
	metrics.SearchCalls.Store(0)
	metrics.VideoStatsCalls.Store(0)
	metrics.ChannelStatsCalls.Store(0)
	metrics.QuotaUnits.Store(0)
	metrics.CacheHits.Store(0)
	metrics.CacheMisses.Store(0)
}
