package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/gaurav-prasanna/pagecaption/core"
	"github.com/gaurav-prasanna/pagecaption/logging"
)

// ChromeFetcher renders pages in headless Chrome so that images injected by
// JavaScript are present in the returned markup. One browser serves every
// Fetch; each page gets its own tab.
type ChromeFetcher struct {
	browserCtx context.Context
	cancel     context.CancelFunc
	timeout    time.Duration
	logger     *zap.Logger
}

// NewChrome launches headless Chrome. Close must be called to shut it down.
func NewChrome(timeout time.Duration, userAgent string, logger *zap.Logger) (*ChromeFetcher, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger = logging.OrNop(logger)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx, chromedp.WithLogf(logger.Sugar().Debugf))

	cancel := func() {
		cancelBrowser()
		cancelAlloc()
	}
	// Running no actions starts the browser.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	return &ChromeFetcher{
		browserCtx: browserCtx,
		cancel:     cancel,
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Fetch opens url in a new tab, waits for the body and returns the rendered
// outer HTML.
func (c *ChromeFetcher) Fetch(ctx context.Context, url string) (*core.FetchResult, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()
	tabCtx, cancelTimeout := context.WithTimeout(tabCtx, c.timeout)
	defer cancelTimeout()

	// Tie the tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html, location string
	start := time.Now()
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("rendering %s: %w", url, err)
	}

	c.logger.Debug("rendered page",
		zap.String("url", location), zap.Int("bytes", len(html)), zap.Duration("elapsed", time.Since(start)))

	return &core.FetchResult{
		URL:        location,
		StatusCode: 200,
		HTML:       html,
	}, nil
}

// Close shuts the browser down.
func (c *ChromeFetcher) Close() {
	c.cancel()
}
