package sharpshot

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TaskState is the lifecycle state of a single capture.
type TaskState int

const (
	Pending TaskState = iota
	Fetching
	Fetched
	FetchFailed
	Rendering
	Rendered
	RenderFailed
	Finalized
)

var ErrIllegalTransition = errors.New("illegal task state transition")

func (s TaskState) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case Fetched:
		return "fetched"
	case FetchFailed:
		return "fetch-failed"
	case Rendering:
		return "rendering"
	case Rendered:
		return "rendered"
	case RenderFailed:
		return "render-failed"
	case Finalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition can leave s.
func (s TaskState) Terminal() bool {
	return s == FetchFailed || s == RenderFailed || s == Finalized
}

var transitions = map[TaskState][]TaskState{
	Pending:   {Fetching},
	Fetching:  {Fetched, FetchFailed},
	Fetched:   {Rendering, Finalized},
	Rendering: {Rendered, RenderFailed},
	Rendered:  {Finalized},
}

func canTransition(from, to TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CaptureTask is one unit of work. It is mutated only by the worker running it.
type CaptureTask struct {
	Endpoint   string
	ArtifactID string
	State      TaskState
	Reason     error

	onTransition func(endpoint string, from, to TaskState)
}

func newTask(endpoint string, hook func(string, TaskState, TaskState)) *CaptureTask {
	return &CaptureTask{
		Endpoint:     endpoint,
		ArtifactID:   SafeName(endpoint),
		State:        Pending,
		onTransition: hook,
	}
}

func (t *CaptureTask) transition(to TaskState) error {
	if !canTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s for %s", ErrIllegalTransition, t.State, to, t.Endpoint)
	}
	from := t.State
	t.State = to
	if t.onTransition != nil {
		t.onTransition(t.Endpoint, from, to)
	}
	return nil
}

func (t *CaptureTask) fail(to TaskState, reason error) error {
	t.Reason = reason
	return t.transition(to)
}

// CaptureResult is the outcome of a task that reached a terminal state.
type CaptureResult struct {
	Endpoint   string
	StatusCode int    // 0 when the fetch failed
	ImagePath  string // empty when no image was produced
	Err        error
	State      TaskState
	Duration   time.Duration
}

// HasImage reports whether the task produced an image artifact.
func (r CaptureResult) HasImage() bool {
	return r.ImagePath != ""
}

func (t *CaptureTask) result(status int, imagePath string, started time.Time) CaptureResult {
	return CaptureResult{
		Endpoint:   t.Endpoint,
		StatusCode: status,
		ImagePath:  imagePath,
		Err:        t.Reason,
		State:      t.State,
		Duration:   time.Since(started),
	}
}

// SafeName derives a filename-safe, deterministic identifier from an endpoint.
// Distinct endpoints may collide; a collision overwrites the previous artifact.
func SafeName(endpoint string) string {
	name := strings.ToLower(strings.TrimSpace(endpoint))
	name = strings.Replace(name, "://", "_", 1)
	name = strings.TrimSuffix(name, "/")

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
