package render

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/root4loot/goutils/log"
)

// Rod captures pages with a browser launched through go-rod.
// Every capture launches its own browser process.
type Rod struct {
	Options BrowserOptions
}

// NewRod returns a rod engine.
func NewRod(opts BrowserOptions) *Rod {
	return &Rod{Options: opts}
}

func (r *Rod) launcher(ctx context.Context) *launcher.Launcher {
	bin := r.Options.ExecPath
	if bin == "" {
		bin, _ = launcher.LookPath()
	}

	l := launcher.New().
		Context(ctx).
		Headless(r.Options.Headless).
		Bin(bin).
		NoSandbox(true).
		Set("hide-scrollbars").
		Set("allow-file-access-from-files")

	if r.Options.UserAgent != "" {
		l.Set("user-agent", r.Options.UserAgent)
	}

	if !r.Options.RespectCertificateErrors {
		l.Set("ignore-certificate-errors")
	}

	if !r.Options.UseHTTP2 {
		l.Set("disable-http2")
	}

	return l
}

// Capture loads pageURL and returns a PNG screenshot of the viewport.
func (r *Rod) Capture(ctx context.Context, pageURL string, width, height int) (img []byte, err error) {
	l := r.launcher(ctx)
	defer l.Kill()

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	defer func() {
		if closeErr := browser.Close(); closeErr != nil {
			log.Debugf("Could not close browser for %s: %v", pageURL, closeErr)
		}
	}()

	p, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}

	err = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	})
	if err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	router := p.HijackRequests()
	router.MustAdd("*", func(h *rod.Hijack) {
		if h.Request.Type() == proto.NetworkResourceTypeDocument && h.Request.URL().String() != pageURL {
			log.Debugf("Blocked navigation away from %s", pageURL)
			h.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		h.ContinueRequest(&proto.FetchContinueRequest{})
	})
	go router.Run()
	defer func() { _ = router.Stop() }()

	go p.EachEvent(func(e *proto.RuntimeExceptionThrown) {
		log.Debugf("Suppressed script error on %s: %s", pageURL, e.ExceptionDetails.Text)
	}, func(e *proto.PageJavascriptDialogOpening) {
		_ = proto.PageHandleJavaScriptDialog{Accept: false}.Call(p)
	})()

	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", pageURL, err)
	}

	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load %s: %w", pageURL, err)
	}

	img, err = p.Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("screenshot %s: %w", pageURL, err)
	}

	return img, nil
}
