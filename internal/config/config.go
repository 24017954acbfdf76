// Package config loads and validates sharpshot configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/root4loot/sharpshot"
	"github.com/root4loot/sharpshot/pkg/source"
)

// Config captures every setting a batch needs.
type Config struct {
	File                 string   `mapstructure:"file"`
	Ceiling              int      `mapstructure:"ceiling"`
	FetchTimeoutSeconds  int      `mapstructure:"fetch_timeout_seconds"`
	RenderTimeoutSeconds int      `mapstructure:"render_timeout_seconds"`
	Width                int      `mapstructure:"width"`
	Height               int      `mapstructure:"height"`
	Engine               string   `mapstructure:"engine"`
	OutputDir            string   `mapstructure:"output_dir"`
	Report               string   `mapstructure:"report"`
	Imprint              bool     `mapstructure:"imprint"`
	UserAgent            string   `mapstructure:"user_agent"`
	ChromePath           string   `mapstructure:"chrome_path"`
	PrependHTTPS         bool     `mapstructure:"prepend_https"`
	AppendPorts          []string `mapstructure:"append_ports"`
	MetricsAddr          string   `mapstructure:"metrics_addr"`
	Verbose              bool     `mapstructure:"verbose"`
	Silence              bool     `mapstructure:"silence"`
}

// Error names the offending key and value.
type Error struct {
	Key   string
	Value any
	Msg   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s=%v: %s", e.Key, e.Value, e.Msg)
}

// Load builds a Config from defaults, an optional file, SHARPSHOT_* environment
// variables and flags, in increasing order of precedence. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHARPSHOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := sharpshot.DefaultOptions()
	v.SetDefault("file", "")
	v.SetDefault("ceiling", d.Ceiling)
	v.SetDefault("fetch_timeout_seconds", d.FetchTimeout)
	v.SetDefault("render_timeout_seconds", d.RenderTimeout)
	v.SetDefault("width", d.CaptureWidth)
	v.SetDefault("height", d.CaptureHeight)
	v.SetDefault("engine", d.Engine)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("report", d.ReportName)
	v.SetDefault("imprint", d.Imprint)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("chrome_path", "")
	v.SetDefault("prepend_https", false)
	v.SetDefault("append_ports", []string{})
	v.SetDefault("metrics_addr", "")
	v.SetDefault("verbose", false)
	v.SetDefault("silence", false)
}

// flagKeys maps CLI flag names to config keys.
var flagKeys = map[string]string{
	"file":           "file",
	"threads":        "ceiling",
	"timeout":        "fetch_timeout_seconds",
	"render-timeout": "render_timeout_seconds",
	"width":          "width",
	"height":         "height",
	"engine":         "engine",
	"output":         "output_dir",
	"report":         "report",
	"imprint":        "imprint",
	"user-agent":     "user_agent",
	"chrome-path":    "chrome_path",
	"prependhttps":   "prepend_https",
	"appendports":    "append_ports",
	"metrics-addr":   "metrics_addr",
	"verbose":        "verbose",
	"silence":        "silence",
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	switch {
	case c.Ceiling < 1:
		return &Error{Key: "ceiling", Value: c.Ceiling, Msg: "must be >= 1"}
	case c.FetchTimeoutSeconds < 1:
		return &Error{Key: "fetch_timeout_seconds", Value: c.FetchTimeoutSeconds, Msg: "must be >= 1"}
	case c.RenderTimeoutSeconds < 1:
		return &Error{Key: "render_timeout_seconds", Value: c.RenderTimeoutSeconds, Msg: "must be >= 1"}
	case c.Width < 1:
		return &Error{Key: "width", Value: c.Width, Msg: "must be > 0"}
	case c.Height < 1:
		return &Error{Key: "height", Value: c.Height, Msg: "must be > 0"}
	case c.Engine != "chromedp" && c.Engine != "rod":
		return &Error{Key: "engine", Value: c.Engine, Msg: "must be chromedp or rod"}
	case strings.TrimSpace(c.Report) == "":
		return &Error{Key: "report", Value: c.Report, Msg: "must not be empty"}
	}
	for _, p := range c.AppendPorts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			return &Error{Key: "append_ports", Value: p, Msg: "not a port number"}
		}
	}
	return nil
}

// ToOptions maps the configuration onto runner options.
func (c Config) ToOptions() sharpshot.Options {
	opts := *sharpshot.DefaultOptions()
	opts.Ceiling = c.Ceiling
	opts.FetchTimeout = c.FetchTimeoutSeconds
	opts.RenderTimeout = c.RenderTimeoutSeconds
	opts.CaptureWidth = c.Width
	opts.CaptureHeight = c.Height
	opts.Engine = c.Engine
	opts.OutputDir = c.OutputDir
	opts.ReportName = c.Report
	opts.Imprint = c.Imprint
	opts.ChromePath = c.ChromePath
	opts.Verbose = c.Verbose
	opts.Silence = c.Silence
	if c.UserAgent != "" {
		opts.UserAgent = c.UserAgent
	}
	return opts
}

// SourceOptions maps the configuration onto endpoint expansion options.
func (c Config) SourceOptions() source.Options {
	return source.Options{PrependHTTPS: c.PrependHTTPS, Ports: c.AppendPorts}
}
