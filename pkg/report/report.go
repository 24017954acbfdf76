// Package report writes the browsable HTML capture report.
package report

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrSealed = errors.New("report already sealed")

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// Meta is rendered into the report header.
type Meta struct {
	Title   string
	BatchID string
	Started time.Time
}

// Entry is one captured endpoint.
type Entry struct {
	URL        string
	StatusCode int
	Image      string // path of the image artifact, empty when none
	Failure    string // failure marker, empty on success
}

// Footer is rendered when the report is sealed.
type Footer struct {
	Submitted int
	Succeeded int
	Failed    int
	Skipped   int
	Finished  time.Time
}

// Report is an append-only HTML document. Append and Seal are safe for
// concurrent use.
type Report struct {
	path string
	dir  string

	mu      sync.Mutex
	file    *os.File
	entries int
	sealed  bool
}

// Open replaces any existing file at path with a fresh report skeleton.
func Open(path string, meta Meta) (*Report, error) {
	if path == "" {
		return nil, errors.New("report: empty path")
	}
	if meta.Title == "" {
		meta.Title = "SeeSharpest Report"
	}
	if meta.BatchID == "" {
		meta.BatchID = uuid.NewString()
	}
	if meta.Started.IsZero() {
		meta.Started = time.Now()
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("report: remove previous %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("report: create dir %s: %w", dir, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("report: create %s: %w", path, err)
	}

	if err := templates.ExecuteTemplate(f, "header.html", meta); err != nil {
		f.Close()
		return nil, fmt.Errorf("report: write header %s: %w", path, err)
	}

	return &Report{path: path, dir: dir, file: f}, nil
}

// Path returns the report location.
func (r *Report) Path() string { return r.path }

// Append writes one entry. Writes are serialized.
func (r *Report) Append(e Entry) error {
	if e.Image != "" {
		if rel, err := filepath.Rel(r.dir, e.Image); err == nil {
			e.Image = filepath.ToSlash(rel)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	if err := templates.ExecuteTemplate(r.file, "entry.html", e); err != nil {
		return fmt.Errorf("report: write entry %s: %w", r.path, err)
	}
	r.entries++
	return nil
}

// Entries returns the number of entries written.
func (r *Report) Entries() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries
}

// Seal writes the closing markup and closes the file. It succeeds once.
func (r *Report) Seal(f Footer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrSealed
	}
	r.sealed = true

	if f.Finished.IsZero() {
		f.Finished = time.Now()
	}
	if err := templates.ExecuteTemplate(r.file, "footer.html", f); err != nil {
		r.file.Close()
		return fmt.Errorf("report: write footer %s: %w", r.path, err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("report: close %s: %w", r.path, err)
	}
	return nil
}

// Close releases the file without sealing. It is a no-op after Seal.
func (r *Report) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil
	}
	r.sealed = true
	return r.file.Close()
}
