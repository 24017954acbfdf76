package render

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/root4loot/goutils/log"
)

// BrowserOptions are the browser flags shared by both engines.
type BrowserOptions struct {
	Headless                 bool
	RespectCertificateErrors bool
	UseHTTP2                 bool
	UserAgent                string
	ExecPath                 string
}

// DefaultBrowserOptions returns headless, certificate-ignoring defaults.
func DefaultBrowserOptions() BrowserOptions {
	return BrowserOptions{Headless: true}
}

// ChromeDP captures pages with headless Chrome driven by chromedp.
// Every capture launches its own browser process.
type ChromeDP struct {
	Options BrowserOptions
}

// NewChromeDP returns a chromedp engine.
func NewChromeDP(opts BrowserOptions) *ChromeDP {
	return &ChromeDP{Options: opts}
}

// allocatorOptions returns the exec allocator flags for the engine options.
func (c *ChromeDP) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	if c.Options.Headless {
		opts = append(opts, chromedp.Flag("headless", true))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	if !c.Options.RespectCertificateErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	if !c.Options.UseHTTP2 {
		opts = append(opts, chromedp.Flag("disable-http2", true))
	}

	opts = append(opts,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("allow-file-access-from-files", true),
	)

	if c.Options.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(c.Options.UserAgent))
	}

	if c.Options.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(c.Options.ExecPath))
	}

	return opts
}

// Capture loads pageURL and returns a PNG screenshot of the viewport.
func (c *ChromeDP) Capture(ctx context.Context, pageURL string, width, height int) ([]byte, error) {
	allocator, cancelAllocator := chromedp.NewExecAllocator(ctx, c.allocatorOptions()...)
	defer cancelAllocator()

	cctx, cancelContext := chromedp.NewContext(allocator)
	defer cancelContext()

	chromedp.ListenTarget(cctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			if ev.ExceptionDetails != nil {
				log.Debugf("Suppressed script error on %s: %s", pageURL, ev.ExceptionDetails.Text)
			}
		case *page.EventJavascriptDialogOpening:
			go runOnTarget(cctx, page.HandleJavaScriptDialog(false))
		case *fetch.EventRequestPaused:
			if ev.Request != nil && ev.Request.URL == pageURL {
				go runOnTarget(cctx, fetch.ContinueRequest(ev.RequestID))
				return
			}
			log.Debugf("Blocked navigation away from %s", pageURL)
			go runOnTarget(cctx, fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient))
		}
	})

	var img []byte
	tasks := chromedp.Tasks{
		runtime.Enable(),
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", ResourceType: network.ResourceTypeDocument},
		}),
		chromedp.EmulateViewport(int64(width), int64(height)),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.CaptureScreenshot(&img),
	}

	if err := chromedp.Run(cctx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp capture %s: %w", pageURL, err)
	}

	return img, nil
}

func runOnTarget(ctx context.Context, action chromedp.Action) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	if err := action.Do(cdp.WithExecutor(ctx, c.Target)); err != nil {
		log.Debugf("Browser event handler failed: %v", err)
	}
}
