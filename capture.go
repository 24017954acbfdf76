package sharpshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/root4loot/goutils/log"
	"github.com/root4loot/sharpshot/pkg/fetcher"
	"github.com/root4loot/sharpshot/pkg/render"
	"github.com/root4loot/sharpshot/pkg/report"
)

// capture drives one task from Pending to a terminal state. It never returns
// an error; failures are recorded on the task.
func (b *batch) capture(ctx context.Context, task *CaptureTask) CaptureResult {
	log.Debugf("Running worker on %s", task.Endpoint)
	started := time.Now()

	step := func(to TaskState) {
		if err := task.transition(to); err != nil {
			log.Errorf("%v", err)
		}
	}
	fail := func(to TaskState, reason error) {
		if err := task.fail(to, reason); err != nil {
			log.Errorf("%v", err)
		}
	}

	step(Fetching)
	out := b.fetcher.Fetch(ctx, task.Endpoint)
	if !out.OK() {
		fail(FetchFailed, out.Err)
		return task.result(0, "", started)
	}
	step(Fetched)

	if !fetcher.IsRenderable(out.StatusCode) {
		log.Debugf("Not rendering %s: response code %d", task.Endpoint, out.StatusCode)
		step(Finalized)
		return task.result(out.StatusCode, "", started)
	}

	step(Rendering)
	img, err := b.renderer.Render(ctx, task.ArtifactID, out.Body, b.opts.CaptureWidth, b.opts.CaptureHeight)
	if err != nil {
		fail(RenderFailed, err)
		return task.result(out.StatusCode, "", started)
	}

	if b.opts.Imprint {
		if imprinted, err := render.Imprint(img, task.Endpoint); err != nil {
			log.Warnf("Could not imprint %s: %v", task.Endpoint, err)
		} else {
			img = imprinted
		}
	}

	path, err := writeImage(b.imageDir, task.ArtifactID, img)
	if err != nil {
		fail(RenderFailed, &render.Error{Reason: render.ReasonArtifact, Err: err})
		return task.result(out.StatusCode, "", started)
	}

	step(Rendered)
	step(Finalized)
	return task.result(out.StatusCode, path, started)
}

// writeImage stores img as <dir>/<name>.png. The file is written under a
// temporary name and renamed, so concurrent writers of the same name leave
// one complete image behind.
func writeImage(dir, name string, img []byte) (string, error) {
	if len(img) == 0 {
		return "", errors.New("empty image")
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(img); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	path := filepath.Join(dir, name+".png")
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", err
	}
	return path, nil
}

// failureMarker describes why a result has no image. It is empty for
// successful captures and for responses that were not rendered.
func failureMarker(res CaptureResult) string {
	if res.State != FetchFailed && res.State != RenderFailed {
		return ""
	}

	reason := "unknown error"
	var fetchErr *fetcher.Error
	var renderErr *render.Error
	switch {
	case errors.As(res.Err, &fetchErr):
		reason = string(fetchErr.Reason)
	case errors.As(res.Err, &renderErr):
		reason = string(renderErr.Reason)
	case res.Err != nil:
		reason = res.Err.Error()
	}
	return fmt.Sprintf("%s: %s", res.State, reason)
}

func entryFor(res CaptureResult) report.Entry {
	return report.Entry{
		URL:        res.Endpoint,
		StatusCode: res.StatusCode,
		Image:      res.ImagePath,
		Failure:    failureMarker(res),
	}
}

func logResult(res CaptureResult) {
	switch res.State {
	case FetchFailed:
		var fetchErr *fetcher.Error
		if errors.As(res.Err, &fetchErr) && fetchErr.Reason == fetcher.ReasonTimeout {
			log.Warnf("Timeout exceeded for %s", res.Endpoint)
		} else {
			log.Warnf("Could not fetch %s: %v", res.Endpoint, res.Err)
		}
	case RenderFailed:
		log.Warnf("Could not render %s: %v", res.Endpoint, res.Err)
	default:
		if res.HasImage() {
			log.Infof("Screenshot %s saved to %s (%s)", res.Endpoint, res.ImagePath, res.Duration.Round(time.Millisecond))
		} else {
			log.Infof("Response code %d for %s, not rendered", res.StatusCode, res.Endpoint)
		}
	}
}
