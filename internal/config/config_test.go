package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sharpshot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Ceiling)
	assert.Equal(t, 30, cfg.FetchTimeoutSeconds)
	assert.Equal(t, 30, cfg.RenderTimeoutSeconds)
	assert.Equal(t, 1920, cfg.Width)
	assert.Equal(t, 1080, cfg.Height)
	assert.Equal(t, "chromedp", cfg.Engine)
	assert.Equal(t, "./sharpshot", cfg.OutputDir)
	assert.Equal(t, "SeeSharpestReport.html", cfg.Report)
	assert.True(t, cfg.Imprint)
	assert.Empty(t, cfg.AppendPorts)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
ceiling: 8
fetch_timeout_seconds: 10
engine: rod
output_dir: /tmp/shots
report: batch.html
imprint: false
append_ports: ["80", "8443"]
`)

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Ceiling)
	assert.Equal(t, 10, cfg.FetchTimeoutSeconds)
	assert.Equal(t, "rod", cfg.Engine)
	assert.Equal(t, "/tmp/shots", cfg.OutputDir)
	assert.Equal(t, "batch.html", cfg.Report)
	assert.False(t, cfg.Imprint)
	assert.Equal(t, []string{"80", "8443"}, cfg.AppendPorts)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "ceiling: 8\n")
	t.Setenv("SHARPSHOT_CEILING", "3")
	t.Setenv("SHARPSHOT_ENGINE", "rod")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Ceiling)
	assert.Equal(t, "rod", cfg.Engine)
}

func TestLoadFlagsOverrideEverything(t *testing.T) {
	t.Setenv("SHARPSHOT_CEILING", "3")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("threads", 1, "")
	flags.Int("timeout", 30, "")
	flags.StringSlice("appendports", nil, "")
	flags.Bool("prependhttps", false, "")
	require.NoError(t, flags.Parse([]string{"--threads", "12", "--appendports", "80,443", "--prependhttps"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.Ceiling)
	assert.Equal(t, 30, cfg.FetchTimeoutSeconds)
	assert.Equal(t, []string{"80", "443"}, cfg.AppendPorts)
	assert.True(t, cfg.PrependHTTPS)

	src := cfg.SourceOptions()
	assert.True(t, src.PrependHTTPS)
	assert.Equal(t, []string{"80", "443"}, src.Ports)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("", nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"ceiling", func(c *Config) { c.Ceiling = 0 }, "ceiling"},
		{"fetch timeout", func(c *Config) { c.FetchTimeoutSeconds = 0 }, "fetch_timeout_seconds"},
		{"render timeout", func(c *Config) { c.RenderTimeoutSeconds = -1 }, "render_timeout_seconds"},
		{"width", func(c *Config) { c.Width = 0 }, "width"},
		{"height", func(c *Config) { c.Height = 0 }, "height"},
		{"engine", func(c *Config) { c.Engine = "lynx" }, "engine"},
		{"report", func(c *Config) { c.Report = " " }, "report"},
		{"ports", func(c *Config) { c.AppendPorts = []string{"80", "http"} }, "append_ports"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)

			err := cfg.Validate()
			var cerr *Error
			require.True(t, errors.As(err, &cerr), "got %v", err)
			assert.Equal(t, tt.key, cerr.Key)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "ceiling: 0\n")

	_, err := Load(path, nil)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "ceiling", cerr.Key)
	assert.Equal(t, 0, cerr.Value)
}

func TestToOptions(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	cfg.Ceiling = 5
	cfg.Engine = "rod"
	cfg.OutputDir = "out"
	cfg.Report = "r.html"
	cfg.Verbose = true

	opts := cfg.ToOptions()
	require.NoError(t, opts.Validate())
	assert.Equal(t, 5, opts.Ceiling)
	assert.Equal(t, "rod", opts.Engine)
	assert.Equal(t, filepath.Join("out", "r.html"), opts.ReportPath())
	assert.True(t, opts.Verbose)
	assert.True(t, opts.Imprint)
	assert.NotEmpty(t, opts.UserAgent)
}
