package sharpshot

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeName(t *testing.T) {
	tests := []struct {
		endpoint string
		want     string
	}{
		{"http://10.0.0.1:80", "http_10_0_0_1_80"},
		{"https://Example.COM/", "https_example_com"},
		{"https://example.com/a/b?q=1", "https_example_com_a_b_q_1"},
		{"http://my-host.local:8080", "http_my-host_local_8080"},
		{"  http://spaced.test  ", "http_spaced_test"},
	}
	for _, tt := range tests {
		t.Run(tt.endpoint, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeName(tt.endpoint))
		})
	}

	assert.Equal(t, SafeName("http://a.test"), SafeName("http://a.test"))
}

func TestTaskTransitions(t *testing.T) {
	legal := [][]TaskState{
		{Fetching, Fetched, Rendering, Rendered, Finalized},
		{Fetching, Fetched, Finalized},
		{Fetching, FetchFailed},
		{Fetching, Fetched, Rendering, RenderFailed},
	}
	for _, path := range legal {
		task := newTask("http://a.test", nil)
		for _, to := range path {
			require.NoError(t, task.transition(to), "%s -> %s", task.State, to)
		}
		assert.True(t, task.State.Terminal())
	}
}

func TestTaskIllegalTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskState
	}{
		{Pending, Fetched},
		{Pending, Rendering},
		{Fetching, Rendering},
		{Fetched, Rendered},
		{Rendering, Finalized},
		{FetchFailed, Fetching},
		{RenderFailed, Finalized},
		{Finalized, Pending},
	}
	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			task := newTask("http://a.test", nil)
			task.State = tt.from
			err := task.transition(tt.to)
			assert.ErrorIs(t, err, ErrIllegalTransition)
			assert.Equal(t, tt.from, task.State)
		})
	}
}

func TestTaskFailAndResult(t *testing.T) {
	var calls []TaskState
	task := newTask("http://a.test", func(endpoint string, from, to TaskState) {
		assert.Equal(t, "http://a.test", endpoint)
		calls = append(calls, to)
	})
	assert.Equal(t, "http_a_test", task.ArtifactID)

	reason := errors.New("refused")
	require.NoError(t, task.transition(Fetching))
	require.NoError(t, task.fail(FetchFailed, reason))
	assert.Equal(t, []TaskState{Fetching, FetchFailed}, calls)

	res := task.result(0, "", time.Now())
	assert.Equal(t, FetchFailed, res.State)
	assert.ErrorIs(t, res.Err, reason)
	assert.False(t, res.HasImage())
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "fetch-failed", FetchFailed.String())
	assert.Equal(t, "render-failed", RenderFailed.String())
	assert.Equal(t, "state(42)", TaskState(42).String())
	assert.False(t, Rendered.Terminal())
}
