package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const userAgent = "go_tube/1.0"

// YouTube Data API v3 endpoints and their fixed quota cost per call.
// A search page costs 100 units regardless of page size; a statistics
// batch costs 1 unit regardless of how many ids it carries.
const (
	endpointSearch   = "search"
	endpointVideos   = "videos"
	endpointChannels = "channels"

	quotaCostSearch = 100
	quotaCostList   = 1
)

// statsBatchLimit is the platform maximum of ids per statistics call,
// and also the search.list page-size cap.
const statsBatchLimit = 50

// credentialSource is the slice of CredentialProvider the client uses.
type credentialSource interface {
	Obtain(ctx context.Context) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context) (*oauth2.Token, error)
}

// Client issues the three read calls against the YouTube Data API and owns
// retry, credential validation, pacing, and quota accounting for each.
// All calls are idempotent reads, so retries never duplicate side effects.
type Client struct {
	creds   credentialSource
	http    *http.Client
	limiter *rate.Limiter
	baseURL string
	batch   int
	retry   RetryConfig
}

// NewClient builds a client from the engine configuration.
func NewClient(creds credentialSource) *Client {
	return &Client{
		creds:   creds,
		http:    Cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(Cfg.RequestsPerSecond), 1),
		baseURL: Cfg.APIBaseURL,
		batch:   Cfg.BatchSize,
		retry:   Cfg.Retry,
	}
}

// --- response types ---

type searchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string    `json:"title"`
			ChannelID    string    `json:"channelId"`
			ChannelTitle string    `json:"channelTitle"`
			PublishedAt  time.Time `json:"publishedAt"`
		} `json:"snippet"`
	} `json:"items"`
	NextPageToken string `json:"nextPageToken"`
}

// The Data API encodes statistics counters as decimal strings.
type videoListResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			ViewCount string `json:"viewCount"`
		} `json:"statistics"`
	} `json:"items"`
}

type channelListResponse struct {
	Items []struct {
		ID         string `json:"id"`
		Statistics struct {
			SubscriberCount       string `json:"subscriberCount"`
			HiddenSubscriberCount bool   `json:"hiddenSubscriberCount"`
		} `json:"statistics"`
	} `json:"items"`
}

// Search runs search.list for the query, paging with nextPageToken until
// MaxResults stubs are collected or results run out. The recency cutoff is
// applied server-side via publishedAfter. Each page costs 100 quota units.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]VideoCandidate, error) {
	publishedAfter := time.Now().UTC().Add(-q.RecencyWindow).Format(time.RFC3339)

	var stubs []VideoCandidate
	pageToken := ""
	for len(stubs) < q.MaxResults {
		size := min(q.MaxResults-len(stubs), statsBatchLimit)
		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("q", q.Keyword)
		params.Set("type", "video")
		params.Set("order", "relevance")
		params.Set("publishedAfter", publishedAfter)
		params.Set("maxResults", strconv.Itoa(size))
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var page searchResponse
		if err := c.call(ctx, endpointSearch, params, quotaCostSearch, &page); err != nil {
			return nil, fmt.Errorf("search %q: %w", q.Keyword, err)
		}

		for _, item := range page.Items {
			if item.ID.VideoID == "" {
				continue
			}
			stubs = append(stubs, VideoCandidate{
				ID:           item.ID.VideoID,
				Title:        item.Snippet.Title,
				ChannelID:    item.Snippet.ChannelID,
				ChannelTitle: item.Snippet.ChannelTitle,
				PublishedAt:  item.Snippet.PublishedAt,
				URL:          "https://www.youtube.com/watch?v=" + item.ID.VideoID,
			})
			if len(stubs) == q.MaxResults {
				break
			}
		}
		if page.NextPageToken == "" || len(page.Items) == 0 {
			break
		}
		pageToken = page.NextPageToken
	}
	return stubs, nil
}

// FetchVideoStatistics returns view counts per video id. Input is chunked
// so N ids cost ceil(N/batch) calls, not N calls. Ids absent from the
// response are absent from the result.
func (c *Client) FetchVideoStatistics(ctx context.Context, ids []string) (map[string]int64, error) {
	views := make(map[string]int64, len(ids))
	for _, chunk := range chunkIDs(ids, c.batch) {
		params := url.Values{}
		params.Set("part", "statistics")
		params.Set("id", strings.Join(chunk, ","))

		var page videoListResponse
		if err := c.call(ctx, endpointVideos, params, quotaCostList, &page); err != nil {
			return nil, fmt.Errorf("video statistics: %w", err)
		}
		for _, item := range page.Items {
			n, _ := strconv.ParseInt(item.Statistics.ViewCount, 10, 64)
			views[item.ID] = n
		}
	}
	return views, nil
}

// FetchChannelStatistics returns subscriber data per channel id, with the
// same batching discipline as FetchVideoStatistics. Channels that hide
// their subscriber count come back with the Hidden marker set.
func (c *Client) FetchChannelStatistics(ctx context.Context, ids []string) (map[string]ChannelInfo, error) {
	channels := make(map[string]ChannelInfo, len(ids))
	for _, chunk := range chunkIDs(ids, c.batch) {
		params := url.Values{}
		params.Set("part", "statistics")
		params.Set("id", strings.Join(chunk, ","))

		var page channelListResponse
		if err := c.call(ctx, endpointChannels, params, quotaCostList, &page); err != nil {
			return nil, fmt.Errorf("channel statistics: %w", err)
		}
		for _, item := range page.Items {
			info := ChannelInfo{ID: item.ID}
			if item.Statistics.HiddenSubscriberCount {
				info.Hidden = true
			} else {
				info.Subscribers, _ = strconv.ParseInt(item.Statistics.SubscriberCount, 10, 64)
			}
			channels[item.ID] = info
		}
	}
	return channels, nil
}

// call issues one authenticated GET with retry and decodes the JSON
// response into out. Every attempt re-obtains a credential so an expiry
// race during backoff heals itself. A rejected credential gets exactly one
// forced refresh and one re-issue of the call; a second rejection is fatal.
func (c *Client) call(ctx context.Context, endpoint string, params url.Values, cost int64, out any) error {
	attempt := func() error {
		tok, err := c.creds.Obtain(ctx)
		if err != nil {
			return fmt.Errorf("obtain credential: %w", err)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+endpoint+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		tok.SetAuthHeader(req)
		req.Header.Set("User-Agent", userAgent)

		spendQuota(endpoint, cost)
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return classifyResponse(resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", endpoint, err)
		}
		return nil
	}

	err := RetryErr(ctx, c.retry, attempt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Kind == FailureAuthInvalid {
		slog.Warn("credential rejected, forcing refresh", slog.String("endpoint", endpoint))
		if _, rerr := c.creds.ForceRefresh(ctx); rerr != nil {
			return fmt.Errorf("forced credential refresh: %w", rerr)
		}
		err = RetryErr(ctx, c.retry, attempt)
		if errors.As(err, &apiErr) && apiErr.Kind == FailureAuthInvalid {
			return fmt.Errorf("credential rejected twice: %w", err)
		}
	}
	return err
}

// chunkIDs splits ids into slices of at most size elements.
func chunkIDs(ids []string, size int) [][]string {
	if size <= 0 {
		size = statsBatchLimit
	}
	var chunks [][]string
	for start := 0; start < len(ids); start += size {
		chunks = append(chunks, ids[start:min(start+size, len(ids))])
	}
	return chunks
}
