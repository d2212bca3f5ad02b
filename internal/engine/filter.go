package engine

import (
	"log/slog"
	"time"
)

// ExclusionReason says why the filter dropped a candidate.
type ExclusionReason string

const (
	ExcludedNone                ExclusionReason = ""
	ExcludedBelowMinViews       ExclusionReason = "below minimum views"
	ExcludedHiddenSubscribers   ExclusionReason = "subscriber count hidden"
	ExcludedAboveMaxSubscribers ExclusionReason = "above maximum subscribers"
	ExcludedBelowViewRatio      ExclusionReason = "below view-to-subscriber ratio"
	ExcludedTooOld              ExclusionReason = "published before cutoff"
)

// ExclusionReasons lists every reason in reporting order.
var ExclusionReasons = []ExclusionReason{
	ExcludedBelowMinViews,
	ExcludedHiddenSubscribers,
	ExcludedAboveMaxSubscribers,
	ExcludedBelowViewRatio,
	ExcludedTooOld,
}

// Filter applies the operator thresholds to enriched candidates. All
// clauses are ANDed. It is a pure predicate: deterministic,
// order-preserving, no side effects beyond debug logging.
type Filter struct {
	MinViews       int64
	MaxSubscribers int64
	MinViewRatio   float64
	PublishedAfter time.Time
}

// NewFilter derives the filter clauses from the query, fixing "now" once
// so every candidate in a run sees the same cutoff.
func NewFilter(q SearchQuery, now time.Time) Filter {
	return Filter{
		MinViews:       q.MinViews,
		MaxSubscribers: q.MaxSubscribers,
		MinViewRatio:   q.MinViewRatio,
		PublishedAfter: now.Add(-q.RecencyWindow),
	}
}

// Evaluate checks one candidate against every clause and reports the first
// failing clause. A hidden subscriber count is its own reason, distinct
// from exceeding the maximum.
func (f Filter) Evaluate(v VideoCandidate, ch ChannelInfo) ExclusionReason {
	if v.ViewCount < f.MinViews {
		return ExcludedBelowMinViews
	}
	if ch.Hidden {
		return ExcludedHiddenSubscribers
	}
	if ch.Subscribers > f.MaxSubscribers {
		return ExcludedAboveMaxSubscribers
	}
	if f.MinViewRatio > 0 && float64(v.ViewCount) < f.MinViewRatio*float64(ch.Subscribers) {
		return ExcludedBelowViewRatio
	}
	if v.PublishedAt.Before(f.PublishedAfter) {
		return ExcludedTooOld
	}
	return ExcludedNone
}

// Apply runs Evaluate over candidates in order, returning the kept results
// and a tally of exclusions per reason. A candidate whose channel was never
// resolved counts as hidden; partially enriched records never pass.
func (f Filter) Apply(candidates []VideoCandidate, channels map[string]ChannelInfo) ([]FilteredResult, map[ExclusionReason]int) {
	var kept []FilteredResult
	excluded := make(map[ExclusionReason]int)

	for _, v := range candidates {
		ch, ok := channels[v.ChannelID]
		if !ok {
			ch = ChannelInfo{ID: v.ChannelID, Hidden: true}
		}
		if reason := f.Evaluate(v, ch); reason != ExcludedNone {
			excluded[reason]++
			slog.Debug("excluded", slog.String("video", v.ID), slog.String("reason", string(reason)))
			continue
		}
		kept = append(kept, FilteredResult{Video: v, Channel: ch})
	}
	return kept, excluded
}
