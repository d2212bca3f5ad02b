package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Outcome distinguishes the terminal states of a run. Zero search results
// and zero surviving matches are separate non-error outcomes.
type Outcome int

const (
	OutcomeMatches Outcome = iota
	OutcomeNoResults
	OutcomeNoMatches
)

// RunResult is everything one completed run produced.
type RunResult struct {
	Outcome  Outcome
	Results  []FilteredResult
	Searched int
	Excluded map[ExclusionReason]int
}

// Orchestrator drives one search run end to end: credential, search,
// statistics batches, channel resolution, filtering. State is a single
// linear pass; the channel cache is created with the orchestrator and
// discarded with it.
type Orchestrator struct {
	client *Client
	cache  *ChannelCache
}

func NewOrchestrator(client *Client) *Orchestrator {
	return &Orchestrator{
		client: client,
		cache:  NewChannelCache(client),
	}
}

// Run executes the strictly ordered sequence: search completes before any
// statistics batch, all video batches complete before channel resolution,
// and resolution completes before filtering. Any fatal error aborts the
// remaining steps; no partial result set is ever returned.
func (o *Orchestrator) Run(ctx context.Context, q SearchQuery) (*RunResult, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	if _, err := o.client.creds.Obtain(ctx); err != nil {
		return nil, fmt.Errorf("obtain credential: %w", err)
	}

	slog.Info("searching",
		slog.String("keyword", q.Keyword),
		slog.Int("max_results", q.MaxResults),
	)
	stubs, err := o.client.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(stubs) == 0 {
		slog.Info("search returned no videos")
		return &RunResult{Outcome: OutcomeNoResults, Excluded: map[ExclusionReason]int{}}, nil
	}
	slog.Info("search complete", slog.Int("videos", len(stubs)))

	videoIDs := make([]string, 0, len(stubs))
	seen := make(map[string]bool, len(stubs))
	for _, s := range stubs {
		if !seen[s.ID] {
			seen[s.ID] = true
			videoIDs = append(videoIDs, s.ID)
		}
	}
	views, err := o.client.FetchVideoStatistics(ctx, videoIDs)
	if err != nil {
		return nil, err
	}
	// A video missing from the statistics response counts as zero views.
	for i := range stubs {
		stubs[i].ViewCount = views[stubs[i].ID]
	}

	channelIDs := make([]string, 0, len(stubs))
	for _, s := range stubs {
		channelIDs = append(channelIDs, s.ChannelID)
	}
	channels, err := o.cache.ResolveMany(ctx, channelIDs)
	if err != nil {
		return nil, err
	}

	filter := NewFilter(q, time.Now())
	kept, excluded := filter.Apply(stubs, channels)
	slog.Info("filter complete",
		slog.Int("matched", len(kept)),
		slog.Int("excluded", len(stubs)-len(kept)),
	)

	outcome := OutcomeMatches
	if len(kept) == 0 {
		outcome = OutcomeNoMatches
	}
	return &RunResult{
		Outcome:  outcome,
		Results:  kept,
		Searched: len(stubs),
		Excluded: excluded,
	}, nil
}
