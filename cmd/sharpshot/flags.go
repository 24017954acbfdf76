package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"

	"github.com/root4loot/sharpshot"
)

func (c *CLI) banner(w io.Writer) {
	fmt.Fprintln(w, "\nsharpshot", sharpshot.Version, "by", author)
}

// addFlags defines the command line options. Values are read back through
// the config package, which binds these flags by name.
func (c *CLI) addFlags(fs *pflag.FlagSet) {
	d := sharpshot.DefaultOptions()

	// INPUT
	fs.StringP("file", "f", "", "input file: host list (one per line) or Nessus XML export")
	fs.StringSliceVarP(&c.Targets, "target", "t", nil, "target endpoint (comma separated)")
	fs.Bool("prependhttps", false, "try both http:// and https:// for hosts without a scheme")
	fs.StringSlice("appendports", nil, "ports to append to hosts without one (comma separated)")

	// CONFIGURATIONS
	fs.StringVar(&c.ConfigFile, "config", "", "config file (yaml, json or toml)")
	fs.Int("threads", d.Ceiling, "number of concurrent captures")
	fs.Int("timeout", d.FetchTimeout, "fetch timeout (seconds)")
	fs.Int("render-timeout", d.RenderTimeout, "render timeout (seconds)")
	fs.Int("width", d.CaptureWidth, "screenshot pixel width")
	fs.Int("height", d.CaptureHeight, "screenshot pixel height")
	fs.String("engine", d.Engine, "render engine (chromedp, rod)")
	fs.String("user-agent", d.UserAgent, "user agent for fetching and rendering")
	fs.String("chrome-path", "", "browser binary (looked up when empty)")

	// OUTPUT
	fs.StringP("output", "o", d.OutputDir, "output folder for the report and images")
	fs.String("report", d.ReportName, "report file name")
	fs.Bool("imprint", d.Imprint, "add the endpoint origin below each image")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address while running")
	fs.BoolP("silence", "s", false, "silence output")
	fs.BoolP("verbose", "v", false, "verbose output")
}
