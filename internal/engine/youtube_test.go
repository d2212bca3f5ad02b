package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// roundTripFunc lets a test serve canned API responses.
type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

const quotaErrorBody = `{"error":{"code":403,"message":"quota exceeded","errors":[{"reason":"quotaExceeded"}]}}`

type fakeCreds struct {
	token     string
	obtains   int
	refreshes int
	obtainErr error
}

func (f *fakeCreds) Obtain(ctx context.Context) (*oauth2.Token, error) {
	f.obtains++
	if f.obtainErr != nil {
		return nil, f.obtainErr
	}
	if f.token == "" {
		f.token = "test-token"
	}
	return &oauth2.Token{AccessToken: f.token, Expiry: time.Now().Add(time.Hour)}, nil
}

func (f *fakeCreds) ForceRefresh(ctx context.Context) (*oauth2.Token, error) {
	f.refreshes++
	f.token = "refreshed-token"
	return &oauth2.Token{AccessToken: f.token, Expiry: time.Now().Add(time.Hour)}, nil
}

func newTestClient(rt http.RoundTripper, batch int) (*Client, *fakeCreds) {
	creds := &fakeCreds{}
	return &Client{
		creds:   creds,
		http:    &http.Client{Transport: rt},
		limiter: rate.NewLimiter(rate.Inf, 1),
		baseURL: "https://api.test/youtube/v3",
		batch:   batch,
		retry:   RetryConfig{MaxRetries: 2, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond, Multiplier: 2},
	}, creds
}

func searchItem(videoID, channelID string, published time.Time) string {
	return fmt.Sprintf(`{"id":{"videoId":%q},"snippet":{"title":"video %s","channelId":%q,"channelTitle":"channel %s","publishedAt":%q}}`,
		videoID, videoID, channelID, channelID, published.UTC().Format(time.RFC3339))
}

func TestSearchPagination(t *testing.T) {
	resetMetrics()
	published := time.Now().Add(-24 * time.Hour)
	var requests []*http.Request
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		requests = append(requests, req)
		if req.URL.Query().Get("pageToken") == "" {
			return jsonResponse(200, fmt.Sprintf(`{"items":[%s,%s],"nextPageToken":"page2"}`,
				searchItem("a", "x", published), searchItem("b", "x", published))), nil
		}
		return jsonResponse(200, fmt.Sprintf(`{"items":[%s,%s]}`,
			searchItem("c", "y", published), searchItem("d", "y", published))), nil
	})
	client, _ := newTestClient(rt, 50)

	q := SearchQuery{Keyword: "cooking", MaxResults: 3, RecencyWindow: 180 * 24 * time.Hour}
	stubs, err := client.Search(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(stubs) != 3 {
		t.Fatalf("expected 3 stubs, got %d", len(stubs))
	}
	if stubs[0].ID != "a" || stubs[1].ID != "b" || stubs[2].ID != "c" {
		t.Errorf("unexpected stub order: %s %s %s", stubs[0].ID, stubs[1].ID, stubs[2].ID)
	}
	if stubs[0].URL != "https://www.youtube.com/watch?v=a" {
		t.Errorf("unexpected url %q", stubs[0].URL)
	}
	if len(requests) != 2 {
		t.Fatalf("expected 2 page calls, got %d", len(requests))
	}

	first := requests[0].URL.Query()
	if first.Get("publishedAfter") == "" {
		t.Error("publishedAfter not sent to the API")
	}
	if first.Get("type") != "video" {
		t.Errorf("type = %q, want video", first.Get("type"))
	}
	if got := requests[1].URL.Query().Get("pageToken"); got != "page2" {
		t.Errorf("second page token = %q, want page2", got)
	}
	if requests[0].Header.Get("Authorization") != "Bearer test-token" {
		t.Errorf("missing bearer credential, got %q", requests[0].Header.Get("Authorization"))
	}

	if got := metrics.QuotaUnits.Load(); got != 2*quotaCostSearch {
		t.Errorf("quota units = %d, want %d", got, 2*quotaCostSearch)
	}
}

func TestSearchQuotaExhaustedNotRetried(t *testing.T) {
	resetMetrics()
	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(403, quotaErrorBody), nil
	})
	client, _ := newTestClient(rt, 50)

	q := SearchQuery{Keyword: "cooking", MaxResults: 10, RecencyWindow: 180 * 24 * time.Hour}
	_, err := client.Search(context.Background(), q)
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != FailureQuotaExhausted {
		t.Fatalf("expected quota-exhausted, got %v", err)
	}
	if calls != 1 {
		t.Errorf("quota errors must not be retried, got %d calls", calls)
	}
}

func TestFetchVideoStatisticsBatching(t *testing.T) {
	resetMetrics()
	var batchSizes []int
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		ids := strings.Split(req.URL.Query().Get("id"), ",")
		batchSizes = append(batchSizes, len(ids))
		var items []string
		for _, id := range ids {
			items = append(items, fmt.Sprintf(`{"id":%q,"statistics":{"viewCount":"15000"}}`, id))
		}
		return jsonResponse(200, `{"items":[`+strings.Join(items, ",")+`]}`), nil
	})
	client, _ := newTestClient(rt, 50)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("v%03d", i)
	}
	views, err := client.FetchVideoStatistics(context.Background(), ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(batchSizes) != 3 { // ceil(120/50)
		t.Fatalf("expected 3 batch calls, got %d", len(batchSizes))
	}
	if batchSizes[0] != 50 || batchSizes[1] != 50 || batchSizes[2] != 20 {
		t.Errorf("unexpected batch sizes %v", batchSizes)
	}
	if len(views) != 120 {
		t.Fatalf("expected 120 view counts, got %d", len(views))
	}
	if views["v000"] != 15000 {
		t.Errorf("viewCount = %d, want 15000", views["v000"])
	}
	if got := metrics.QuotaUnits.Load(); got != 3*quotaCostList {
		t.Errorf("quota units = %d, want %d", got, 3*quotaCostList)
	}
}

func TestFetchChannelStatisticsHiddenMarker(t *testing.T) {
	resetMetrics()
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(200, `{"items":[
			{"id":"x","statistics":{"subscriberCount":"3000","hiddenSubscriberCount":false}},
			{"id":"y","statistics":{"hiddenSubscriberCount":true}}
		]}`), nil
	})
	client, _ := newTestClient(rt, 50)

	channels, err := client.FetchChannelStatistics(context.Background(), []string{"x", "y"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if channels["x"].Subscribers != 3000 || channels["x"].Hidden {
		t.Errorf("channel x = %+v, want 3000 subscribers, not hidden", channels["x"])
	}
	if !channels["y"].Hidden {
		t.Errorf("channel y = %+v, want hidden", channels["y"])
	}
}

func TestCallTransientThenSuccess(t *testing.T) {
	resetMetrics()
	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return jsonResponse(503, `{"error":{"code":503,"message":"backend error"}}`), nil
		}
		return jsonResponse(200, `{"items":[{"id":"v1","statistics":{"viewCount":"42"}}]}`), nil
	})
	client, _ := newTestClient(rt, 50)

	views, err := client.FetchVideoStatistics(context.Background(), []string{"v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
	// Same final result as if the first attempt had succeeded.
	if views["v1"] != 42 {
		t.Errorf("viewCount = %d, want 42", views["v1"])
	}
}

func TestCallAuthFailureRefreshesOnce(t *testing.T) {
	resetMetrics()
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Header.Get("Authorization") == "Bearer refreshed-token" {
			return jsonResponse(200, `{"items":[{"id":"v1","statistics":{"viewCount":"7"}}]}`), nil
		}
		return jsonResponse(401, `{"error":{"code":401,"message":"invalid credentials","errors":[{"reason":"authError"}]}}`), nil
	})
	client, creds := newTestClient(rt, 50)

	views, err := client.FetchVideoStatistics(context.Background(), []string{"v1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if creds.refreshes != 1 {
		t.Errorf("expected exactly 1 forced refresh, got %d", creds.refreshes)
	}
	if views["v1"] != 7 {
		t.Errorf("viewCount = %d, want 7", views["v1"])
	}
}

func TestCallSecondAuthFailureIsFatal(t *testing.T) {
	resetMetrics()
	calls := 0
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(401, `{"error":{"code":401,"message":"invalid credentials"}}`), nil
	})
	client, creds := newTestClient(rt, 50)

	_, err := client.FetchVideoStatistics(context.Background(), []string{"v1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if creds.refreshes != 1 {
		t.Errorf("expected exactly 1 forced refresh, got %d", creds.refreshes)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls (original + one retry), got %d", calls)
	}
}

func TestCallObtainFailureIsFatal(t *testing.T) {
	resetMetrics()
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		t.Fatal("no request should be issued without a credential")
		return nil, nil
	})
	client, creds := newTestClient(rt, 50)
	creds.obtainErr = errors.New("missing client identity")

	_, err := client.FetchVideoStatistics(context.Background(), []string{"v1"})
	if err == nil {
		t.Fatal("expected error")
	}
	if creds.obtains != 1 {
		t.Errorf("expected a single obtain attempt, got %d", creds.obtains)
	}
}

func TestChunkIDs(t *testing.T) {
	tests := []struct {
		name string
		n    int
		size int
		want []int
	}{
		{"empty", 0, 50, nil},
		{"under one batch", 10, 50, []int{10}},
		{"exact batch", 50, 50, []int{50}},
		{"two and a half batches", 120, 50, []int{50, 50, 20}},
		{"size one", 3, 1, []int{1, 1, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ids := make([]string, tt.n)
			for i := range ids {
				ids[i] = fmt.Sprintf("id%d", i)
			}
			chunks := chunkIDs(ids, tt.size)
			if len(chunks) != len(tt.want) {
				t.Fatalf("got %d chunks, want %d", len(chunks), len(tt.want))
			}
			for i, c := range chunks {
				if len(c) != tt.want[i] {
					t.Errorf("chunk %d has %d ids, want %d", i, len(c), tt.want[i])
				}
			}
		})
	}
}
