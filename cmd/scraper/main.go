package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aluiziolira/go-scrape-icorating/config"
	"github.com/aluiziolira/go-scrape-icorating/models"
	"github.com/aluiziolira/go-scrape-icorating/pipeline"
	"github.com/aluiziolira/go-scrape-icorating/scraper"
)

func main() {
	config.LoadEnv()

	defaultCfg := config.DefaultConfig()
	filtersDefault := string(models.FilterAll)
	if value, ok := config.EnvString("ICORATING_FILTERS"); ok {
		filtersDefault = value
	}
	baseURLDefault := defaultCfg.BaseURL
	if value, ok := config.EnvString("ICORATING_BASE_URL"); ok {
		baseURLDefault = value
	}
	parallelDefault := defaultCfg.Parallelism
	if value, ok, err := config.EnvInt("ICORATING_PARALLEL"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ICORATING_PARALLEL: %v\n", err)
		os.Exit(1)
	} else if ok {
		parallelDefault = value
	}
	insecureDefault := defaultCfg.InsecureSkipVerify
	if value, ok, err := config.EnvBool("ICORATING_INSECURE"); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ICORATING_INSECURE: %v\n", err)
		os.Exit(1)
	} else if ok {
		insecureDefault = value
	}
	outputDefault := defaultCfg.OutputFile
	if value, ok := config.EnvString("ICORATING_OUTPUT"); ok {
		outputDefault = value
	}
	metricsDefault := defaultCfg.MetricsAddr
	if value, ok := config.EnvString("ICORATING_METRICS_ADDR"); ok {
		metricsDefault = value
	}
	dsnDefault, _ := config.EnvString("POSTGRES_DSN")

	filterList := flag.String("filters", filtersDefault, "Comma separated listing filters: all, preico, past, upcoming, ongoing")
	baseURL := flag.String("base-url", baseURLDefault, "Listing site base URL")
	timeout := flag.Duration("timeout", defaultCfg.Timeout, "Per-request timeout")
	insecure := flag.Bool("insecure", insecureDefault, "Skip TLS certificate verification for listing requests")
	parallelism := flag.Int("parallel", parallelDefault, "Number of pipeline workers")
	outputFile := flag.String("output", outputDefault, "Output file path")
	outputFormat := flag.String("format", defaultCfg.OutputFormat, "Output format: csv, json, dual, or postgres")
	postgresDSN := flag.String("postgres-dsn", dsnDefault, "PostgreSQL connection string for postgres output")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", metricsDefault, "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	logger, level := newLogger(*verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	filters, err := config.ParseFilters(*filterList)
	if err != nil {
		slog.Error("invalid filters", slog.Any("error", err))
		os.Exit(1)
	}

	cfg := defaultCfg
	cfg.BaseURL = *baseURL
	cfg.Filters = filters
	cfg.Timeout = *timeout
	cfg.InsecureSkipVerify = *insecure
	cfg.Parallelism = *parallelism
	cfg.OutputFile = *outputFile
	cfg.OutputFormat = strings.ToLower(*outputFormat)
	cfg.PostgresDSN = *postgresDSN
	cfg.Verbose = *verbose
	cfg.MetricsAddr = *metricsAddr
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}

	slog.Info("starting scrape",
		slog.String("base_url", cfg.BaseURL),
		slog.Any("filters", cfg.Filters),
		slog.Bool("insecure", cfg.InsecureSkipVerify),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		slog.Error("initialising scraper", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	writer, err := createWriter(ctx, cfg)
	if err != nil {
		slog.Error("creating writer", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" && s.Metrics != nil {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
	}

	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(cfg.Parallelism)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	startTime := time.Now()
	results, scrapeErr := s.ListingAll(ctx, cfg.Filters...)
	if scrapeErr != nil {
		slog.Error("some listings failed", slog.Any("error", scrapeErr))
	}
	for _, filter := range cfg.Filters {
		result, ok := results[filter]
		if !ok {
			continue
		}
		if err := p.Process(result.Records...); err != nil {
			slog.Error("queueing records", slog.String("filter", string(filter)), slog.Any("error", err))
			break
		}
	}

	if err := p.Close(); err != nil {
		slog.Error("pipeline shutdown failed", slog.Any("error", err))
		os.Exit(1)
	}

	if err := writer.Validate(); err != nil {
		slog.Error("output validation failed", slog.Any("error", err))
		os.Exit(1)
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
		cancel()
	}

	printSummary(results, time.Since(startTime), outputTarget(cfg), p.GetMetrics())

	if len(results) == 0 && scrapeErr != nil {
		os.Exit(1)
	}
}

func createWriter(ctx context.Context, cfg *config.Config) (pipeline.OutputWriter, error) {
	switch cfg.OutputFormat {
	case "json":
		return pipeline.NewJSONWriter(cfg.OutputFile)
	case "csv":
		return pipeline.NewCSVWriter(cfg.OutputFile)
	case "dual":
		return pipeline.NewDualWriter(cfg.OutputFile, pipeline.DualJSONPath(cfg.OutputFile))
	case "postgres":
		return pipeline.NewPostgresWriter(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unsupported format: %s", cfg.OutputFormat)
	}
}

func outputTarget(cfg *config.Config) string {
	switch cfg.OutputFormat {
	case "postgres":
		return "postgres"
	case "dual":
		return cfg.OutputFile + ", " + pipeline.DualJSONPath(cfg.OutputFile)
	default:
		return cfg.OutputFile
	}
}

func printSummary(results map[models.Filter]*models.ListingResult, duration time.Duration, output string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Scrape complete")

	filters := make([]string, 0, len(results))
	for filter := range results {
		filters = append(filters, string(filter))
	}
	sort.Strings(filters)

	for _, name := range filters {
		result := results[models.Filter(name)]
		fmt.Printf("  %-10s status=%d count=%d skipped=%d elapsed=%.3fs\n",
			name, result.StatusCode, result.Count, len(result.SkippedRows), result.ElapsedSeconds)
	}

	totalItems := int64(0)
	if processed, ok := metrics["processed_records"].(int64); ok {
		totalItems = processed
	}
	fmt.Printf("  Written:       %d\n", totalItems)
	if expert, ok := metrics["expert_records"].(int64); ok {
		fmt.Printf("  Expert rated:  %d\n", expert)
	}
	if diagnostics, ok := metrics["field_diagnostics"].(map[string]int); ok && len(diagnostics) > 0 {
		fmt.Printf("  Absent fields: %v\n", diagnostics)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration)
	fmt.Printf("  Output:        %s\n", output)
	fmt.Println(separator)
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
