// Command cli is the terminal entry point: fetch recent news for a
// ticker, classify it and print the aggregated sentiment verdict.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ticker-pulse/internal/cache"
	"ticker-pulse/internal/config"
	"ticker-pulse/internal/domain"
	"ticker-pulse/internal/provider"
	"ticker-pulse/internal/sentiment"
	"ticker-pulse/internal/service"
	"ticker-pulse/internal/transport"
	"ticker-pulse/pkg/tracing"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	exitUsage     = 2
	exitFailure   = 1
	exitInterrupt = 130
)

var (
	flagQuery           string
	flagDays            int
	flagMaxArticles     int
	flagHalfLifeHours   float64
	flagFormat          string
	flagIncludeReasons  bool
	flagIncludeArticles bool
	flagVerbose         bool
	flagSource          string
	flagNoCache         bool
	flagCacheTTLHours   float64
	flagCacheDir        string
	flagModel           string
	flagBaseURL         string
	flagDotenv          string
)

var rootCmd = &cobra.Command{
	Use:           "ticker-pulse",
	Short:         "Stock news sentiment analysis",
	Long:          "ticker-pulse fetches recent news for a stock ticker, classifies each article with an LLM and aggregates a recency- and confidence-weighted sentiment verdict.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze TICKER",
	Short: "Analyze news sentiment for a ticker",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyze,
}

func init() {
	f := analyzeCmd.Flags()
	f.StringVar(&flagQuery, "query", "", "news search query (defaults to the ticker)")
	f.IntVar(&flagDays, "days", 3, "lookback window in days")
	f.IntVar(&flagMaxArticles, "max-articles", 25, "maximum articles to classify")
	f.Float64Var(&flagHalfLifeHours, "half-life-hours", 24, "recency half-life for weighting, in hours")
	f.StringVar(&flagFormat, "format", "text", "output format: text or json")
	f.BoolVar(&flagIncludeReasons, "include-reasons", false, "ask the model for a short reason per article")
	f.BoolVar(&flagIncludeArticles, "include-articles", false, "include the article list in the output")
	f.BoolVarP(&flagVerbose, "verbose", "v", false, "log progress and warnings to stderr")
	f.StringVar(&flagSource, "source", service.SourceAuto, "news source: auto, newsapi or google-rss")
	f.BoolVar(&flagNoCache, "no-cache", false, "skip the classification cache entirely")
	f.Float64Var(&flagCacheTTLHours, "cache-ttl-hours", 0, "cache entry lifetime in hours (0 = config default)")
	f.StringVar(&flagCacheDir, "cache-dir", "", "cache directory (default from CACHE_DIR or the user cache dir)")
	f.StringVar(&flagModel, "model", "", "OpenAI model (default from OPENAI_MODEL)")
	f.StringVar(&flagBaseURL, "openai-base-url", "", "OpenAI-compatible API base URL")
	f.StringVar(&flagDotenv, "dotenv", "", "path to a .env file to load")

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if flagDotenv != "" {
		if err := godotenv.Load(flagDotenv); err != nil {
			return domain.ConfigErrorf("loading %s: %v", flagDotenv, err)
		}
	} else {
		_ = godotenv.Load()
	}

	if !flagVerbose {
		log.SetOutput(io.Discard)
	}

	format := strings.ToLower(strings.TrimSpace(flagFormat))
	if format != "text" && format != "json" {
		return domain.ConfigErrorf("unknown format %q: expected text or json", flagFormat)
	}
	if flagHalfLifeHours <= 0 {
		return domain.ConfigErrorf("--half-life-hours must be > 0")
	}
	if !flagNoCache && flagCacheTTLHours < 0 {
		return domain.ConfigErrorf("--cache-ttl-hours must be >= 0")
	}

	cfg := config.Load()
	if flagModel != "" {
		cfg.OpenAIModel = flagModel
	}
	if flagBaseURL != "" {
		cfg.OpenAIBaseURL = flagBaseURL
	}
	if err := service.ValidateBaseURL(cfg.OpenAIBaseURL); err != nil {
		return err
	}
	if flagCacheDir != "" {
		cfg.CacheDir = flagCacheDir
	}
	if flagCacheTTLHours > 0 {
		cfg.CacheTTLHours = flagCacheTTLHours
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, tracer, err := tracing.InitTracer(ctx)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	var store cache.Store
	if !flagNoCache {
		diskStore, err := cache.NewDiskStore(cfg.CacheDir)
		if err != nil {
			log.Printf("warn: cache disabled: %v", err)
		} else {
			store = diskStore
		}
	}

	httpClient := transport.New(tracer)
	var newsAPI service.NewsAPISource
	if cfg.NewsAPIKey != "" {
		newsAPI = provider.NewNewsAPIProvider(httpClient, tracer, cfg.NewsAPIKey)
	}
	rss := provider.NewGoogleRSSProvider(httpClient, tracer)

	classifierCfg := sentiment.DefaultConfig(cfg.OpenAIAPIKey)
	classifierCfg.Model = cfg.OpenAIModel
	classifierCfg.BaseURL = cfg.OpenAIBaseURL
	analyzer := sentiment.NewAnalyzer(tracer, sentiment.NewClassifier(httpClient, tracer))

	cacheTTL := cache.NoTTL
	if cfg.CacheTTLHours > 0 {
		cacheTTL = time.Duration(cfg.CacheTTLHours * float64(time.Hour))
	}
	svc := service.New(tracer, newsAPI, rss, analyzer, store, cacheTTL, classifierCfg)

	result, err := svc.Analyze(ctx, service.AnalyzeRequest{
		Ticker:         args[0],
		Query:          flagQuery,
		Days:           flagDays,
		MaxArticles:    flagMaxArticles,
		Source:         flagSource,
		IncludeReasons: flagIncludeReasons,
		HalfLifeHours:  flagHalfLifeHours,
		NoCache:        flagNoCache,
	})
	if err != nil {
		return missingKeyGuidance(err, cfg.OpenAIAPIKey, flagNoCache)
	}

	if format == "json" {
		return printJSON(cmd.OutOrStdout(), result)
	}
	printText(cmd.OutOrStdout(), result)
	return nil
}

func printJSON(w io.Writer, result service.AnalyzeResult) error {
	payload := map[string]any{
		"summary":       result.Summary,
		"source":        result.Source,
		"lookback_days": result.LookbackDays,
	}
	if flagIncludeArticles {
		payload["articles"] = result.Articles
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

func printText(w io.Writer, result service.AnalyzeResult) {
	s := result.Summary
	if s.ArticlesAnalyzed == 0 {
		fmt.Fprintf(w, "No articles found for %s via %s in the last %d days.\n", s.Ticker, result.Source, result.LookbackDays)
		return
	}

	fmt.Fprintf(w, "%s sentiment: %s (score %+.2f, confidence %.2f)\n", s.Ticker, s.Label, s.Score, s.Confidence)
	fmt.Fprintf(w, "Signal: %s\n", strings.ToUpper(string(s.Signal)))
	fmt.Fprintf(w, "Analyzed %d articles from %s over the last %d days.\n", s.ArticlesAnalyzed, result.Source, result.LookbackDays)

	if flagIncludeArticles || flagIncludeReasons {
		byID := make(map[string]domain.Article, len(result.Articles))
		for _, a := range result.Articles {
			byID[a.ID] = a
		}
		fmt.Fprintln(w)
		for _, r := range s.Results {
			title := r.ArticleID
			if a, ok := byID[r.ArticleID]; ok && a.Title != "" {
				title = a.Title
			}
			fmt.Fprintf(w, "  [%s %+.2f] %s\n", r.Label, r.Score, title)
			if r.Reason != "" {
				fmt.Fprintf(w, "      %s\n", r.Reason)
			}
		}
	}
}

// missingKeyGuidance rewrites the classifier's bare missing-key error
// into actionable advice. The run only reaches the classifier when
// uncached articles exist, so with caching on the complaint means some
// articles were missing from the cache; with --no-cache a rerun with
// caching enabled can complete from earlier results without a key.
func missingKeyGuidance(err error, apiKey string, noCache bool) error {
	var configErr *domain.ConfigError
	if apiKey != "" || !errors.As(err, &configErr) || !strings.Contains(err.Error(), "OpenAI API key") {
		return err
	}
	if noCache {
		return domain.ConfigErrorf("Missing OPENAI_API_KEY. Set it to analyze articles, or rerun with caching enabled after a successful run.")
	}
	return domain.ConfigErrorf("Missing OPENAI_API_KEY. Some articles were not cached; set OPENAI_API_KEY to analyze them.")
}

// exitCode maps the error taxonomy onto shell conventions: user-fixable
// problems and upstream outages are 2, interrupts are 130, the rest 1.
func exitCode(err error) int {
	if errors.Is(err, context.Canceled) {
		return exitInterrupt
	}
	var configErr *domain.ConfigError
	var remoteErr *domain.RemoteAPIError
	if errors.As(err, &configErr) || errors.As(err, &remoteErr) {
		return exitUsage
	}
	return exitFailure
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
