// Package cmd: caption command.
// This is the main command that orchestrates a run:
// fetch page(s) → extract references → pipeline → captions file → report.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gaurav-prasanna/pagecaption/config"
	"github.com/gaurav-prasanna/pagecaption/core"
	"github.com/gaurav-prasanna/pagecaption/core/caption"
	"github.com/gaurav-prasanna/pagecaption/core/download"
	"github.com/gaurav-prasanna/pagecaption/core/extract"
	"github.com/gaurav-prasanna/pagecaption/core/fetch"
	"github.com/gaurav-prasanna/pagecaption/core/output"
	"github.com/gaurav-prasanna/pagecaption/core/pipeline"
	"github.com/gaurav-prasanna/pagecaption/core/render"
	"github.com/gaurav-prasanna/pagecaption/crawl"
	"github.com/gaurav-prasanna/pagecaption/logging"
	"github.com/gaurav-prasanna/pagecaption/metrics"
)

var captionCmd = &cobra.Command{
	Use:   "caption [url]",
	Short: "Caption every image on a web page",
	Long: `Caption fetches a web page, extracts its image references, skips vector
images, tracking pixels, relative paths and images smaller than --min-area
pixels, and writes one "<url>: <caption>" line per captioned image.

Per-image failures are logged and skipped; the run only stops early when the
page cannot be fetched or the captions file cannot be written.

Examples:
  pagecaption caption
  pagecaption caption https://example.com/gallery --output gallery.txt
  pagecaption caption https://example.com --all --max-pages 20 --report markdown
  pagecaption caption https://example.com --backend openai --model gpt-4o-mini --workers 4`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCaption,
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"output":               "output",
	"selector":             "selector",
	"workers":              "workers",
	"min_area":             "min-area",
	"progress":             "progress",
	"fetch.timeout":        "timeout",
	"fetch.user_agent":     "user-agent",
	"fetch.render":         "render",
	"crawl.all":            "all",
	"crawl.max_pages":      "max-pages",
	"captioner.backend":    "backend",
	"captioner.endpoint":   "endpoint",
	"captioner.model":      "model",
	"captioner.prompt":     "prompt",
	"captioner.max_tokens": "max-tokens",
	"report.format":        "report",
	"report.dir":           "report-dir",
	"metrics.addr":         "metrics-addr",
	"log.level":            "log-level",
	"log.format":           "log-format",
}

func init() {
	rootCmd.AddCommand(captionCmd)

	f := captionCmd.Flags()

	// Output.
	f.String("output", output.DefaultPath, "Captions file (truncated at the start of each run)")
	f.String("report", "", "Also write a run report: markdown, json or pdf")
	f.String("report-dir", ".", "Directory for the run report")

	// Extraction and filtering.
	f.String("selector", extract.DefaultSelector, "CSS selector for image elements")
	f.Int("min-area", 400, "Minimum image area in pixels (width*height)")
	f.Duration("timeout", download.DefaultTimeout, "Per-image fetch timeout")
	f.String("user-agent", "", "User-Agent for page and image requests")
	f.Bool("render", false, "Render pages in headless Chrome before extracting images")
	f.Bool("all", false, "Caption images on all discovered pages of the site")
	f.Int("max-pages", crawl.DefaultMaxPages, "Maximum pages visited with --all")

	// Captioning.
	f.String("backend", caption.BackendOllama, "Captioning backend: ollama or openai")
	f.String("endpoint", "", "Captioning service base URL (default depends on backend)")
	f.String("model", "", "Captioning model (default depends on backend)")
	f.String("prompt", caption.DefaultPrompt, "Instruction sent with each image")
	f.Int("max-tokens", caption.DefaultMaxTokens, "Maximum caption length in tokens (at most 50)")

	// Execution.
	f.Int("workers", 1, "Images processed concurrently; output order is unaffected")
	f.Bool("progress", false, "Show a progress bar on stderr")
	f.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runCaption(cmd *cobra.Command, args []string) error {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return err
	}
	if len(args) == 1 {
		v.Set("source_url", args[0])
	}

	cfg, err := config.Load(v, config.LoadOptions{ConfigFile: flagConfig, DotEnv: ".env"})
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	logger = logger.With(zap.String("run_id", uuid.NewString()))
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, m, logger); err != nil {
				logger.Error("metrics server failed", zap.Error(err))
			}
		}()
	}

	return run(ctx, cfg, m, logger, cmd)
}

// bindFlags layers the command's flags over the config keys they override.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for key, name := range flagKeys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("flag --%s is not defined", name)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding --%s: %w", name, err)
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger, cmd *cobra.Command) error {
	pages, closePages, err := newPageFetcher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePages()

	extractor, err := extract.New(cfg.Selector)
	if err != nil {
		return err
	}

	refs, err := collectRefs(ctx, cfg, pages, extractor, logger)
	if err != nil {
		return err
	}

	captioner, err := caption.New(caption.Options{
		Backend:   cfg.Captioner.Backend,
		Endpoint:  cfg.Captioner.Endpoint,
		Model:     cfg.Captioner.Model,
		Prompt:    cfg.Captioner.Prompt,
		MaxTokens: cfg.Captioner.MaxTokens,
		MaxSide:   cfg.Captioner.MaxSide,
		APIKey:    cfg.Captioner.APIKey(),
		Timeout:   cfg.Captioner.Timeout,
	})
	if err != nil {
		return err
	}
	model := modelName(captioner)

	sink, err := output.OpenSink(cfg.Output)
	if err != nil {
		return err
	}
	defer sink.Close()

	var progress *progressBar
	if cfg.Progress {
		progress = newProgressBar(len(refs), "captioning")
	}

	p := pipeline.New(pipeline.Config{
		Images: download.New(download.Options{
			Timeout:   cfg.Fetch.Timeout,
			MaxBytes:  cfg.Fetch.MaxBytes,
			MaxPixels: cfg.Fetch.MaxPixels,
			UserAgent: cfg.Fetch.UserAgent,
		}),
		Captioner: captioner,
		Sink:      sink,
		MinArea:   cfg.MinArea,
		Workers:   cfg.Workers,
		OnOutcome: progress.Add,
		Metrics:   m,
		Logger:    logger,
	})

	logger.Info("captioning images",
		zap.String("source", cfg.SourceURL),
		zap.Int("references", len(refs)),
		zap.String("backend", cfg.Captioner.Backend),
		zap.String("model", model),
		zap.Int("workers", cfg.Workers),
		zap.String("output", sink.Path()))

	summary, runErr := p.Run(ctx, refs)
	progress.Finish()
	closeErr := sink.Close()

	logSummary(logger, summary)
	printSummary(cmd.OutOrStdout(), summary, sink.Path())

	if runErr != nil {
		return runErr
	}
	if closeErr != nil {
		return fmt.Errorf("closing %s: %w", sink.Path(), closeErr)
	}

	if cfg.Report.Format == "" {
		return nil
	}
	path, err := writeReport(cfg, core.Report{
		SourceURL:   cfg.SourceURL,
		GeneratedAt: time.Now(),
		Model:       model,
		Summary:     *summary,
	})
	if err != nil {
		return err
	}
	logger.Info("report written", zap.String("path", path))
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Report: %s\n", path)
	return nil
}

// newPageFetcher returns the page source selected by --render and a func
// releasing it.
func newPageFetcher(cfg *config.Config, logger *zap.Logger) (core.Fetcher, func(), error) {
	if cfg.Fetch.Render {
		chrome, err := fetch.NewChrome(cfg.Fetch.PageTimeout, cfg.Fetch.UserAgent, logger)
		if err != nil {
			return nil, nil, err
		}
		return chrome, chrome.Close, nil
	}
	return fetch.New(cfg.Fetch.PageTimeout, cfg.Fetch.UserAgent), func() {}, nil
}

// collectRefs extracts image references from the source page, or from every
// crawled page with --all. References keep page order, then document order.
func collectRefs(ctx context.Context, cfg *config.Config, pages core.Fetcher, extractor core.Extractor, logger *zap.Logger) ([]core.ImageRef, error) {
	if !cfg.Crawl.All {
		page, err := pages.Fetch(ctx, cfg.SourceURL)
		if err != nil {
			return nil, fmt.Errorf("fetch: %w", err)
		}
		refs, err := extractor.Extract(page.HTML, page.URL)
		if err != nil {
			return nil, fmt.Errorf("extract: %w", err)
		}
		return refs, nil
	}

	var refs []core.ImageRef
	crawler := crawl.New(pages, crawl.Options{MaxPages: cfg.Crawl.MaxPages, Logger: logger})
	visited, err := crawler.Walk(ctx, cfg.SourceURL, func(page *core.FetchResult) error {
		pageRefs, err := extractor.Extract(page.HTML, page.URL)
		if err != nil {
			logger.Warn("skipping page", zap.String("url", page.URL), zap.Error(err))
			return nil
		}
		logger.Debug("extracted references", zap.String("url", page.URL), zap.Int("references", len(pageRefs)))
		refs = append(refs, pageRefs...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discovering pages: %w", err)
	}
	logger.Info("site crawled", zap.Int("pages", visited), zap.Int("references", len(refs)))
	return refs, nil
}

func modelName(c core.Captioner) string {
	if named, ok := c.(interface{ Model() string }); ok {
		return named.Model()
	}
	return ""
}

// selectRenderer creates the Renderer for a --report value.
func selectRenderer(format string) (core.Renderer, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return render.NewMarkdownRenderer(), nil
	case "json":
		return render.NewJSONRenderer(), nil
	case "pdf":
		return render.NewPDFRenderer(), nil
	default:
		return nil, fmt.Errorf("unknown report format %q", format)
	}
}

func writeReport(cfg *config.Config, report core.Report) (string, error) {
	renderer, err := selectRenderer(cfg.Report.Format)
	if err != nil {
		return "", err
	}
	data, err := renderer.Render(report)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}
	writer, err := output.NewWriter(cfg.Report.Dir)
	if err != nil {
		return "", fmt.Errorf("initializing report writer: %w", err)
	}
	return writer.WriteReport(report.SourceURL, data, renderer.Extension())
}

func logSummary(logger *zap.Logger, s *core.Summary) {
	fields := []zap.Field{
		zap.Int("total", s.Total),
		zap.Int("recorded", s.Recorded),
		zap.Int("skipped", s.Skipped),
		zap.Int("failed", s.Failed),
		zap.Duration("duration", s.Duration),
	}
	for reason, n := range s.SkipReasons {
		fields = append(fields, zap.Int("skipped_"+string(reason), n))
	}
	logger.Info("run finished", fields...)
}
