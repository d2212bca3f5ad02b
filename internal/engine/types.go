package engine

import (
	"errors"
	"strings"
	"time"
)

// SearchQuery is the immutable operator input for one run.
type SearchQuery struct {
	Keyword        string
	MaxResults     int
	MinViews       int64
	MaxSubscribers int64
	MinViewRatio   float64       // views must be at least this multiple of subscribers; 0 disables the clause
	RecencyWindow  time.Duration // videos published before now-RecencyWindow are excluded
}

// Validate checks the contract the CLI layer must honor.
func (q SearchQuery) Validate() error {
	if strings.TrimSpace(q.Keyword) == "" {
		return errors.New("keyword must not be empty")
	}
	if q.MaxResults <= 0 {
		return errors.New("max results must be a positive integer")
	}
	if q.MinViews < 0 {
		return errors.New("min views must not be negative")
	}
	if q.MaxSubscribers < 0 {
		return errors.New("max subscribers must not be negative")
	}
	if q.MinViewRatio < 0 {
		return errors.New("min view ratio must not be negative")
	}
	if q.RecencyWindow <= 0 {
		return errors.New("recency window must be positive")
	}
	return nil
}

// VideoCandidate is one search hit. ViewCount starts at zero and is filled
// in by the statistics batch step before the candidate reaches the filter.
type VideoCandidate struct {
	ID           string
	Title        string
	ChannelID    string
	ChannelTitle string
	PublishedAt  time.Time
	ViewCount    int64
	URL          string
}

// ChannelInfo is a channel's subscriber data, fetched once per run.
// Hidden means the channel suppresses its subscriber count in API responses.
type ChannelInfo struct {
	ID          string
	Subscribers int64
	Hidden      bool
}

// FilteredResult is a candidate that passed every filter clause, joined
// with its channel data.
type FilteredResult struct {
	Video   VideoCandidate
	Channel ChannelInfo
}
