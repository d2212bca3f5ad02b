package engine

import (
	"net/http"
	"time"
)

// Config holds all engine configuration, injected from main.
type Config struct {
	ClientID          string // OAuth client identity; required before any network call
	ClientSecret      string
	TokenFile         string  // persisted token store location
	APIBaseURL        string  // YouTube Data API base, overridable for tests
	BatchSize         int     // ids per statistics call, API maximum 50
	RequestsPerSecond float64 // client-side pacing of quota-metered calls
	Retry             RetryConfig
	HTTPClient        *http.Client
}

var cfg Config

// Cfg exposes the engine configuration for sub-packages and main.
// Always points to the current cfg value.
var Cfg = &cfg

// Init initializes the engine with the given configuration, filling unset
// fields with defaults.
func Init(c Config) {
	if c.APIBaseURL == "" {
		c.APIBaseURL = "https://www.googleapis.com/youtube/v3"
	}
	if c.BatchSize <= 0 || c.BatchSize > statsBatchLimit {
		c.BatchSize = statsBatchLimit
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 4
	}
	if c.Retry == (RetryConfig{}) {
		c.Retry = DefaultRetryConfig
	}
	if c.TokenFile == "" {
		c.TokenFile = "token.json"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		}
	}
	cfg = c
	Cfg = &cfg
}
