package sharpshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/root4loot/goutils/log"
	"github.com/root4loot/sharpshot/pkg/fetcher"
	"github.com/root4loot/sharpshot/pkg/render"
	"github.com/root4loot/sharpshot/pkg/report"
	"golang.org/x/sync/errgroup"
)

const Version = "0.1.0"

var (
	ErrInvalidOptions = errors.New("invalid options")
	ErrEmptyEndpoint  = errors.New("empty endpoint")
)

// Fetcher retrieves the content of one endpoint.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) fetcher.Outcome
}

// Renderer turns markup into an image.
type Renderer interface {
	Render(ctx context.Context, name string, markup []byte, width, height int) ([]byte, error)
}

// Runner captures batches of endpoints.
type Runner struct {
	Options  *Options
	Fetcher  Fetcher              // built from Options when nil
	Renderer Renderer             // built from Options when nil
	Metrics  prometheus.Registerer // ledger metrics are registered here when set
}

// Options contains options for the runner
type Options struct {
	Ceiling                  int    // max concurrent captures
	FetchTimeout             int    // per-fetch network timeout (seconds)
	RenderTimeout            int    // per-render timeout (seconds)
	CaptureWidth             int    // width of the capture
	CaptureHeight            int    // height of the capture
	OutputDir                string // directory holding the report and images
	ReportName               string // report file name, or an absolute path
	ReportTitle              string // report heading
	Imprint                  bool   // add the endpoint origin below each image; the strip makes images taller than CaptureHeight
	Engine                   string // render engine: chromedp or rod
	UserAgent                string // user agent for fetch and render
	RespectCertificateErrors bool   // let the browser reject bad certificates for subresources
	UseHTTP2                 bool   // allow HTTP2 in the browser
	ChromePath               string // browser binary, looked up when empty
	ScratchDir               string // parent of transient render directories
	Silence                  bool   // silence output
	Verbose                  bool   // verbose logging

	// OnTransition, when set, observes every task state change. It is called
	// from worker goroutines.
	OnTransition func(endpoint string, from, to TaskState)
}

// Summary describes a sealed batch.
type Summary struct {
	Submitted  int
	Succeeded  int // captured with an image
	Skipped    int // fetched with a non-renderable status
	Failed     int // fetch or render failed
	Peak       int // highest number of simultaneously active tasks
	ReportPath string
	Duration   time.Duration
}

func init() {
	log.Init("sharpshot")
}

// DefaultOptions returns default options
func DefaultOptions() *Options {
	return &Options{
		Ceiling:       1,
		FetchTimeout:  30,
		RenderTimeout: 30,
		CaptureWidth:  render.DefaultWidth,
		CaptureHeight: render.DefaultHeight,
		OutputDir:     "./sharpshot",
		ReportName:    "SeeSharpestReport.html",
		ReportTitle:   "SeeSharpest Report",
		Imprint:       true,
		Engine:        "chromedp",
		UserAgent:     fetcher.DefaultUserAgent,
	}
}

// NewRunner returns a new runner
func NewRunner() *Runner {
	return &Runner{Options: DefaultOptions()}
}

// NewRunnerWithOptions returns a new runner with the specified options
func NewRunnerWithOptions(options Options) *Runner {
	SetLogLevel(&options)
	return &Runner{Options: &options}
}

// Validate checks the options before any task is submitted.
func (o *Options) Validate() error {
	switch {
	case o.Ceiling < 1:
		return fmt.Errorf("%w: ceiling must be >= 1, got %d", ErrInvalidOptions, o.Ceiling)
	case o.FetchTimeout < 1:
		return fmt.Errorf("%w: fetch timeout must be >= 1 second, got %d", ErrInvalidOptions, o.FetchTimeout)
	case o.RenderTimeout < 1:
		return fmt.Errorf("%w: render timeout must be >= 1 second, got %d", ErrInvalidOptions, o.RenderTimeout)
	case o.CaptureWidth < 1 || o.CaptureHeight < 1:
		return fmt.Errorf("%w: capture size must be positive, got %dx%d", ErrInvalidOptions, o.CaptureWidth, o.CaptureHeight)
	case o.ReportName == "":
		return fmt.Errorf("%w: report name is empty", ErrInvalidOptions)
	case o.Engine != "chromedp" && o.Engine != "rod":
		return fmt.Errorf("%w: unknown engine %q", ErrInvalidOptions, o.Engine)
	}
	return nil
}

// ReportPath is where the report for these options is written.
func (o *Options) ReportPath() string {
	if filepath.IsAbs(o.ReportName) {
		return o.ReportName
	}
	return filepath.Join(o.OutputDir, o.ReportName)
}

// ImageDir is the directory next to the report that holds the images.
func (o *Options) ImageDir() string {
	path := o.ReportPath()
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return filepath.Join(filepath.Dir(path), base+"_images")
}

// browserOptions maps runner options to engine flags.
func (o *Options) browserOptions() render.BrowserOptions {
	opts := render.DefaultBrowserOptions()
	opts.RespectCertificateErrors = o.RespectCertificateErrors
	opts.UseHTTP2 = o.UseHTTP2
	opts.UserAgent = o.UserAgent
	opts.ExecPath = o.ChromePath
	return opts
}

// batch is the state of one Run. Runs never share a batch, so a Runner can
// be reused or run concurrently with different options.
type batch struct {
	opts        Options
	fetcher     Fetcher
	renderer    Renderer
	imageDir    string
	ownsFetcher bool
}

// newBatch builds whatever collaborator was not injected on the Runner from
// opts, a copy taken when the run started.
func (r *Runner) newBatch(opts Options) *batch {
	b := &batch{
		opts:     opts,
		fetcher:  r.Fetcher,
		renderer: r.Renderer,
		imageDir: opts.ImageDir(),
	}

	if b.fetcher == nil {
		b.fetcher = fetcher.New(fetcher.Options{
			Timeout:   time.Duration(opts.FetchTimeout) * time.Second,
			UserAgent: opts.UserAgent,
		})
		b.ownsFetcher = true
	}

	if b.renderer == nil {
		var engine render.Engine
		switch opts.Engine {
		case "rod":
			engine = render.NewRod(opts.browserOptions())
		default:
			engine = render.NewChromeDP(opts.browserOptions())
		}
		b.renderer = render.NewAdapter(engine, render.Options{
			Timeout:    time.Duration(opts.RenderTimeout) * time.Second,
			ScratchDir: opts.ScratchDir,
		})
	}
	return b
}

// close releases the fetcher's idle connections when the batch built it.
func (b *batch) close() {
	if !b.ownsFetcher {
		return
	}
	if c, ok := b.fetcher.(interface{ Close() }); ok {
		c.Close()
	}
}

// Run captures every endpoint and blocks until the report is sealed.
//
// Entries appear in the report in completion order, which varies from run to
// run when the ceiling is above one. A failed capture never aborts the batch;
// only configuration and report errors are returned.
func (r *Runner) Run(ctx context.Context, endpoints ...string) (Summary, error) {
	return r.run(ctx, endpoints, nil)
}

// Stream is like Run but also sends every result to results as it completes.
// results is closed when Stream returns.
func (r *Runner) Stream(ctx context.Context, results chan<- CaptureResult, endpoints ...string) (Summary, error) {
	defer close(results)
	return r.run(ctx, endpoints, func(res CaptureResult) {
		select {
		case results <- res:
		case <-ctx.Done():
		}
	})
}

// reportWriter is the part of *report.Report a batch writes to.
type reportWriter interface {
	Path() string
	Append(report.Entry) error
	Seal(report.Footer) error
	Close() error
}

// openReport creates the batch report. Tests replace it.
var openReport = func(path string, meta report.Meta) (reportWriter, error) {
	return report.Open(path, meta)
}

type tally struct {
	succeeded, skipped, failed atomic.Int64
}

func (t *tally) add(res CaptureResult) {
	switch {
	case res.HasImage():
		t.succeeded.Add(1)
	case res.State == Finalized:
		t.skipped.Add(1)
	default:
		t.failed.Add(1)
	}
}

func (r *Runner) run(ctx context.Context, endpoints []string, sink func(CaptureResult)) (Summary, error) {
	opts := DefaultOptions()
	if r.Options != nil {
		*opts = *r.Options
	}
	SetLogLevel(opts)
	start := time.Now()

	if err := opts.Validate(); err != nil {
		return Summary{}, err
	}
	for i, endpoint := range endpoints {
		if strings.TrimSpace(endpoint) == "" {
			return Summary{}, fmt.Errorf("%w at position %d", ErrEmptyEndpoint, i)
		}
	}

	b := r.newBatch(*opts)
	defer b.close()

	if err := os.RemoveAll(b.imageDir); err != nil {
		return Summary{}, fmt.Errorf("remove previous images %s: %w", b.imageDir, err)
	}
	if err := os.MkdirAll(b.imageDir, 0o750); err != nil {
		return Summary{}, fmt.Errorf("create image dir %s: %w", b.imageDir, err)
	}

	rep, err := openReport(b.opts.ReportPath(), report.Meta{Title: b.opts.ReportTitle, Started: start})
	if err != nil {
		return Summary{}, err
	}

	ledger := NewLedger(len(endpoints))
	if r.Metrics != nil {
		if err := ledger.Register(r.Metrics); err != nil {
			log.Warnf("Could not register metrics: %v", err)
		}
	}

	log.Infof("Beginning to take screenshots of %d endpoints (ceiling %d)", len(endpoints), b.opts.Ceiling)

	var counts tally
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.opts.Ceiling)

	for _, endpoint := range endpoints {
		task := newTask(strings.TrimSpace(endpoint), b.opts.OnTransition)
		g.Go(func() error {
			ledger.Begin()
			defer ledger.Finish()

			res := b.capture(gctx, task)
			counts.add(res)
			logResult(res)

			if err := rep.Append(entryFor(res)); err != nil {
				return err
			}
			if sink != nil {
				sink(res)
			}
			return nil
		})
	}

	runErr := g.Wait()
	<-ledger.Done()

	summary := Summary{
		Submitted:  len(endpoints),
		Succeeded:  int(counts.succeeded.Load()),
		Skipped:    int(counts.skipped.Load()),
		Failed:     int(counts.failed.Load()),
		Peak:       ledger.Peak(),
		ReportPath: rep.Path(),
	}

	if runErr != nil {
		if err := rep.Close(); err != nil {
			log.Debugf("Could not close report: %v", err)
		}
		return summary, runErr
	}

	if err := rep.Seal(report.Footer{
		Submitted: summary.Submitted,
		Succeeded: summary.Succeeded,
		Failed:    summary.Failed,
		Skipped:   summary.Skipped,
	}); err != nil {
		return summary, err
	}

	summary.Duration = time.Since(start)
	log.Infof("Screenshots completed! Submitted: %d, captured: %d, not rendered: %d, failed: %d (report: %s)",
		summary.Submitted, summary.Succeeded, summary.Skipped, summary.Failed, summary.ReportPath)

	return summary, nil
}

// SetLogLevel sets the log level based on the options
func SetLogLevel(options *Options) {
	if options.Silence {
		log.SetLevel(log.FatalLevel)
	} else if options.Verbose {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
}
