// Package pipeline drives image references through the caption pipeline:
// normalize → fetch → size gate → caption → sink.
//
// Every reference ends in exactly one terminal outcome (skipped, failed or
// recorded). Per-item errors never escape Process; the only error that stops
// a run is a sink failure. Recorded captions reach the sink strictly in
// extraction order, whatever the number of workers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gaurav-prasanna/pagecaption/core"
	"github.com/gaurav-prasanna/pagecaption/core/download"
	"github.com/gaurav-prasanna/pagecaption/core/gate"
	"github.com/gaurav-prasanna/pagecaption/core/normalize"
	"github.com/gaurav-prasanna/pagecaption/logging"
	"github.com/gaurav-prasanna/pagecaption/metrics"
)

// ErrEmptyCaption marks a captioner that returned only whitespace.
var ErrEmptyCaption = errors.New("empty caption")

// Config wires a Pipeline. Images, Captioner and Sink are required.
type Config struct {
	Images    core.ImageFetcher
	Captioner core.Captioner
	Sink      core.Sink

	// MinArea is the size gate threshold; <= 0 means gate.DefaultMinArea.
	MinArea int
	// Workers bounds concurrent references; <= 0 means 1.
	Workers int
	// OnOutcome, if set, is called once per reference in extraction order.
	OnOutcome func(core.Outcome)

	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Pipeline processes image references. It holds no per-run state and may be
// reused for several runs.
type Pipeline struct {
	images    core.ImageFetcher
	captioner core.Captioner
	sink      core.Sink
	minArea   int
	workers   int
	onOutcome func(core.Outcome)
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	if cfg.MinArea <= 0 {
		cfg.MinArea = gate.DefaultMinArea
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Pipeline{
		images:    cfg.Images,
		captioner: cfg.Captioner,
		sink:      cfg.Sink,
		minArea:   cfg.MinArea,
		workers:   cfg.Workers,
		onOutcome: cfg.OnOutcome,
		metrics:   cfg.Metrics,
		logger:    logging.OrNop(cfg.Logger),
	}
}

// Run processes refs and appends every recorded caption to the sink in
// extraction order. It returns the run summary and a non-nil error only when
// the sink fails or ctx is cancelled during the run.
func (p *Pipeline) Run(ctx context.Context, refs []core.ImageRef) (*core.Summary, error) {
	start := time.Now()
	summary := &core.Summary{}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// One buffered slot per reference: workers never block on a slow writer,
	// and the writer reads the slots in order. A closed slot means the
	// reference was never dispatched.
	slots := make([]chan core.Outcome, len(refs))
	for i := range slots {
		slots[i] = make(chan core.Outcome, 1)
	}

	var g errgroup.Group
	g.SetLimit(p.workers)
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		for i, ref := range refs {
			if runCtx.Err() != nil {
				close(slots[i])
				continue
			}
			g.Go(func() error {
				slots[i] <- p.Process(runCtx, i, ref)
				return nil
			})
		}
	}()

	var runErr error
	for i := range slots {
		o, ok := <-slots[i]
		if !ok {
			runErr = fmt.Errorf("run interrupted after %d of %d references: %w", i, len(refs), context.Cause(runCtx))
			break
		}
		if o.Status == core.StatusRecorded {
			if err := p.sink.Append(*o.Record); err != nil {
				runErr = fmt.Errorf("appending caption for %s: %w", o.URL, err)
				cancel()
				break
			}
		}
		summary.Add(o)
		p.report(o)
	}

	<-dispatched
	g.Wait()

	// Items in flight when ctx was cancelled end as skips or failures, so
	// every slot can be filled by an interrupted run.
	if runErr == nil && ctx.Err() != nil {
		runErr = fmt.Errorf("run interrupted after %d of %d references: %w", summary.Total, len(refs), context.Cause(ctx))
	}

	summary.Duration = time.Since(start)
	return summary, runErr
}

// Process runs a single reference through every stage and returns its
// terminal outcome. It never panics on bad input and never touches the sink.
func (p *Pipeline) Process(ctx context.Context, index int, ref core.ImageRef) core.Outcome {
	o := core.Outcome{Index: index, Ref: ref}

	url, err := normalize.Normalize(ref.Src)
	if err != nil {
		return skipped(o, normalize.Reason(err), err)
	}
	o.URL = url

	fetchStart := time.Now()
	img, err := p.images.Fetch(ctx, url)
	p.metrics.ObserveFetch(time.Since(fetchStart))
	if err != nil {
		return skipped(o, download.Reason(err), err)
	}

	img, err = gate.Admit(img, p.minArea)
	if err != nil {
		return skipped(o, core.ReasonTooSmall, err)
	}

	captionStart := time.Now()
	text, err := p.captioner.Caption(ctx, img)
	p.metrics.ObserveCaption(time.Since(captionStart))
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyCaption
	}
	if err != nil {
		o.Status, o.Reason, o.Err = core.StatusFailed, core.ReasonCaption, err
		return o
	}

	o.Status = core.StatusRecorded
	o.Record = &core.CaptionRecord{URL: url, Caption: text}
	return o
}

func skipped(o core.Outcome, reason core.Reason, err error) core.Outcome {
	o.Status, o.Reason, o.Err = core.StatusSkipped, reason, err
	return o
}

// report logs and counts one outcome.
func (p *Pipeline) report(o core.Outcome) {
	p.metrics.ObserveOutcome(o.Status, o.Reason)
	if p.onOutcome != nil {
		p.onOutcome(o)
	}

	switch {
	case o.Status == core.StatusRecorded:
		p.logger.Info("recorded caption",
			zap.Int("index", o.Index), zap.String("url", o.URL), zap.String("caption", o.Record.Caption))
	case o.Status == core.StatusFailed:
		p.logger.Error("caption failed",
			zap.Int("index", o.Index), zap.String("url", o.URL), zap.Error(o.Err))
	case o.Reason == core.ReasonNetwork || o.Reason == core.ReasonDecode:
		p.logger.Warn("skipping image",
			zap.Int("index", o.Index), zap.String("url", o.URL), zap.String("reason", string(o.Reason)), zap.Error(o.Err))
	default:
		p.logger.Debug("skipping reference",
			zap.Int("index", o.Index), zap.String("src", o.Ref.Src), zap.String("reason", string(o.Reason)))
	}
}
