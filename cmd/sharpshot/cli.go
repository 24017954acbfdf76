package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/root4loot/goutils/log"
	"github.com/spf13/cobra"

	"github.com/root4loot/sharpshot"
	"github.com/root4loot/sharpshot/internal/config"
	"github.com/root4loot/sharpshot/pkg/source"
)

var errNoInput = errors.New("missing target: use -f <file>, -t <target> or pipe hosts on stdin")

// newRunner builds the runner for a batch. Tests replace it.
var newRunner = func(opts sharpshot.Options) *sharpshot.Runner {
	return sharpshot.NewRunnerWithOptions(opts)
}

// readStdin returns piped input, or nil when stdin is a terminal.
var readStdin = func() io.Reader {
	if hasStdin() {
		return os.Stdin
	}
	return nil
}

type CLI struct {
	ConfigFile string
	Targets    []string
}

func newRootCmd() *cobra.Command {
	c := &CLI{}
	cmd := &cobra.Command{
		Use:   "sharpshot [options] (-f <hosts.txt|scan.nessus> | -t <target>)",
		Short: "Capture screenshots of web endpoints into a single HTML report",
		Long: `sharpshot fetches every endpoint (ignoring certificate errors), renders
the returned markup in a headless browser and collects the images into one
browsable HTML report.`,
		Version:       sharpshot.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd)
		},
	}
	c.addFlags(cmd.Flags())
	return cmd
}

func (c *CLI) run(cmd *cobra.Command) error {
	cfg, err := config.Load(c.ConfigFile, cmd.Flags())
	if err != nil {
		return err
	}

	opts := cfg.ToOptions()
	sharpshot.SetLogLevel(&opts)
	if !opts.Silence {
		c.banner(cmd.ErrOrStderr())
	}

	endpoints, err := c.endpoints(cfg, readStdin())
	if err != nil {
		return err
	}

	runner := newRunner(opts)
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		runner.Metrics = reg
		stop := serveMetrics(cfg.MetricsAddr, reg)
		defer stop()
	}

	summary, err := runner.Run(cmd.Context(), endpoints...)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary.ReportPath)
	return nil
}

// endpoints gathers targets from the input file, the -t flag and stdin.
func (c *CLI) endpoints(cfg config.Config, stdin io.Reader) ([]string, error) {
	opts := cfg.SourceOptions()
	var endpoints []string

	if cfg.File != "" {
		eps, err := source.Load(cfg.File, opts)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, eps...)
	}

	if len(c.Targets) > 0 {
		eps, err := source.ParseHostFile(strings.NewReader(strings.Join(c.Targets, "\n")), opts)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, eps...)
	}

	if stdin != nil {
		eps, err := source.ParseHostFile(stdin, opts)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		endpoints = append(endpoints, eps...)
	}

	endpoints = source.Dedup(endpoints)
	if len(endpoints) == 0 {
		return nil, errNoInput
	}
	log.Debugf("Loaded %d endpoints", len(endpoints))
	return endpoints, nil
}

func metricsRouter(reg *prometheus.Registry) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return router
}

func serveMetrics(addr string, reg *prometheus.Registry) (stop func()) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           metricsRouter(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Infof("Serving metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("Metrics server stopped: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Debugf("Metrics server shutdown: %v", err)
		}
	}
}

// hasStdin determines if the user has piped input
func hasStdin() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}

	mode := stat.Mode()

	isPipedFromChrDev := (mode & os.ModeCharDevice) == 0
	isPipedFromFIFO := (mode & os.ModeNamedPipe) != 0

	return isPipedFromChrDev || isPipedFromFIFO
}
