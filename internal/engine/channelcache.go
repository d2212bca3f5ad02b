package engine

import (
	"context"
	"log/slog"
)

// ChannelStatisticsFetcher is the slice of the API client the cache needs.
type ChannelStatisticsFetcher interface {
	FetchChannelStatistics(ctx context.Context, ids []string) (map[string]ChannelInfo, error)
}

// ChannelCache memoizes channel lookups for the lifetime of one run so a
// channel referenced by many videos is fetched at most once. The cache is
// scoped to its orchestrator and dies with the run: nothing persists
// across invocations, and single-threaded runs need no locking.
type ChannelCache struct {
	fetcher ChannelStatisticsFetcher
	entries map[string]ChannelInfo
}

func NewChannelCache(fetcher ChannelStatisticsFetcher) *ChannelCache {
	return &ChannelCache{
		fetcher: fetcher,
		entries: make(map[string]ChannelInfo),
	}
}

// Resolve returns the channel info for one id, fetching on first use.
func (cc *ChannelCache) Resolve(ctx context.Context, id string) (ChannelInfo, error) {
	m, err := cc.ResolveMany(ctx, []string{id})
	if err != nil {
		return ChannelInfo{}, err
	}
	return m[id], nil
}

// ResolveMany deduplicates ids, fetches only the ones not yet cached in a
// single batched call sequence, and returns the merged mapping. A channel
// with a hidden subscriber count is cached as hidden and never re-queried;
// an id the API returned nothing for is treated the same way so it is
// excluded downstream instead of passing through half-resolved.
func (cc *ChannelCache) ResolveMany(ctx context.Context, ids []string) (map[string]ChannelInfo, error) {
	out := make(map[string]ChannelInfo, len(ids))
	seen := make(map[string]bool, len(ids))
	var misses []string

	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if info, ok := cc.entries[id]; ok {
			incrCacheHit()
			out[id] = info
			continue
		}
		incrCacheMiss()
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return out, nil
	}

	slog.Debug("resolving channels",
		slog.Int("cached", len(seen)-len(misses)),
		slog.Int("fetching", len(misses)),
	)
	fetched, err := cc.fetcher.FetchChannelStatistics(ctx, misses)
	if err != nil {
		return nil, err
	}
	for _, id := range misses {
		info, ok := fetched[id]
		if !ok {
			info = ChannelInfo{ID: id, Hidden: true}
		}
		cc.entries[id] = info
		out[id] = info
	}
	return out, nil
}
