// Package render turns fetched markup into a fixed-resolution screenshot.
//
// The Adapter writes the markup to a transient file, hands the file URL to an
// Engine running in its own browser process, and removes the transient file on
// every exit path.
package render

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/root4loot/goutils/log"
)

const (
	DefaultWidth   = 1920
	DefaultHeight  = 1080
	DefaultTimeout = 30 * time.Second
)

// Reason classifies a render failure.
type Reason string

const (
	ReasonTimeout  Reason = "render timeout"
	ReasonEngine   Reason = "engine failure"
	ReasonArtifact Reason = "transient artifact error"
)

// Error is a typed render failure.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Engine rasterizes the page at pageURL.
type Engine interface {
	Capture(ctx context.Context, pageURL string, width, height int) ([]byte, error)
}

// Options configures an Adapter.
type Options struct {
	Timeout    time.Duration
	ScratchDir string // parent of per-render directories; os.TempDir() when empty
}

// Adapter drives an Engine for a single markup document at a time.
type Adapter struct {
	engine     Engine
	timeout    time.Duration
	scratchDir string
}

// NewAdapter wraps engine.
func NewAdapter(engine Engine, opts Options) *Adapter {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Adapter{
		engine:     engine,
		timeout:    opts.Timeout,
		scratchDir: opts.ScratchDir,
	}
}

type captureResult struct {
	img []byte
	err error
}

// Render persists markup under name, renders it and returns the image bytes.
func (a *Adapter) Render(ctx context.Context, name string, markup []byte, width, height int) (img []byte, err error) {
	if width <= 0 {
		width = DefaultWidth
	}
	if height <= 0 {
		height = DefaultHeight
	}

	dir, err := os.MkdirTemp(a.scratchDir, "render-*")
	if err != nil {
		return nil, &Error{Reason: ReasonArtifact, Err: err}
	}
	defer func() {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warnf("Could not remove transient render directory %s: %v", dir, rmErr)
		}
	}()

	page := filepath.Join(dir, name+".html")
	if err := os.WriteFile(page, markup, 0o600); err != nil {
		return nil, &Error{Reason: ReasonArtifact, Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan captureResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- captureResult{err: &Error{Reason: ReasonEngine, Err: fmt.Errorf("engine panic: %v", r)}}
			}
		}()
		img, err := a.engine.Capture(ctx, FileURL(page), width, height)
		done <- captureResult{img: img, err: err}
	}()

	select {
	case res := <-done:
		switch {
		case res.err != nil && ctx.Err() == context.DeadlineExceeded:
			return nil, &Error{Reason: ReasonTimeout, Err: res.err}
		case res.err != nil:
			var rerr *Error
			if errors.As(res.err, &rerr) {
				return nil, rerr
			}
			return nil, &Error{Reason: ReasonEngine, Err: res.err}
		case len(res.img) == 0:
			return nil, &Error{Reason: ReasonEngine, Err: errors.New("empty image")}
		}
		return res.img, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &Error{Reason: ReasonTimeout, Err: ctx.Err()}
		}
		return nil, &Error{Reason: ReasonEngine, Err: ctx.Err()}
	}
}

// FileURL converts a local path into a file:// URL.
func FileURL(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String()
}
