// go_tube searches YouTube and filters videos by audience thresholds.
//
// Searches YouTube for videos matching a keyword, enriches each hit with
// view and channel subscriber counts, filters against operator thresholds,
// and writes a CSV report. One invocation is one run; quota spend is logged
// per call so a failed run can be accounted for.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/export"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("run failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		keyword        string
		maxResults     int
		minViews       int64
		maxSubscribers int64
		minViewRatio   float64
		months         int
	)

	cmd := &cobra.Command{
		Use:          "go_tube",
		Short:        "Search YouTube and filter videos by views and channel size",
		Version:      version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := engine.SearchQuery{
				Keyword:        keyword,
				MaxResults:     maxResults,
				MinViews:       minViews,
				MaxSubscribers: maxSubscribers,
				MinViewRatio:   minViewRatio,
				RecencyWindow:  time.Duration(months) * 30 * 24 * time.Hour,
			}
			return run(cmd, query)
		},
	}

	cmd.Flags().StringVar(&keyword, "keyword", "", "search keyword (required)")
	_ = cmd.MarkFlagRequired("keyword")
	cmd.Flags().IntVar(&maxResults, "max-results", 50, "maximum number of search results")
	cmd.Flags().Int64Var(&minViews, "min-views", 10000, "minimum view count")
	cmd.Flags().Int64Var(&maxSubscribers, "max-subscribers", 5000, "maximum channel subscriber count")
	cmd.Flags().Float64Var(&minViewRatio, "min-view-ratio", 0, "minimum view-to-subscriber ratio (0 = disabled)")
	cmd.Flags().IntVar(&months, "months", 6, "only include videos published within this many months")
	return cmd
}

func run(cmd *cobra.Command, query engine.SearchQuery) error {
	// .env is optional; real env vars win over file values.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn(".env not loaded", slog.Any("error", err))
	}
	initEngine()

	store := &engine.FileTokenStore{Path: engine.Cfg.TokenFile}
	creds, err := engine.NewCredentialProvider(
		engine.Cfg.ClientID,
		engine.Cfg.ClientSecret,
		store,
		engine.StdinPrompter(cmd.InOrStdin(), cmd.OutOrStdout()),
	)
	if err != nil {
		return err
	}

	orch := engine.NewOrchestrator(engine.NewClient(creds))
	res, err := orch.Run(cmd.Context(), query)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch res.Outcome {
	case engine.OutcomeNoResults:
		fmt.Fprintf(out, "no videos found for %q\n", query.Keyword)
	case engine.OutcomeNoMatches:
		fmt.Fprintf(out, "no videos matched the thresholds (%d searched)\n", res.Searched)
		printExclusions(out, res.Excluded)
	default:
		name := export.Filename(query.Keyword, time.Now())
		if err := export.WriteCSV(name, res.Results); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Fprintf(out, "%d of %d videos matched\n", len(res.Results), res.Searched)
		printExclusions(out, res.Excluded)
		fmt.Fprintf(out, "report written to %s\n", name)
	}
	fmt.Fprint(out, engine.FormatMetrics())
	return nil
}

func printExclusions(w io.Writer, excluded map[engine.ExclusionReason]int) {
	for _, reason := range engine.ExclusionReasons {
		if n := excluded[reason]; n > 0 {
			fmt.Fprintf(w, "  excluded %d: %s\n", n, reason)
		}
	}
}

func initEngine() {
	engine.Init(engine.Config{
		ClientID:          env.Str("YOUTUBE_CLIENT_ID", ""),
		ClientSecret:      env.Str("YOUTUBE_CLIENT_SECRET", ""),
		TokenFile:         env.Str("YOUTUBE_TOKEN_FILE", "token.json"),
		BatchSize:         env.Int("YOUTUBE_BATCH_SIZE", 50),
		RequestsPerSecond: env.Float("YOUTUBE_REQUESTS_PER_SECOND", 4),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     60 * time.Second,
			},
		},
	})
}
