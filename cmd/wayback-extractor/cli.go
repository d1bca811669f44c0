package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mgifford/wayback-extractor/internal/config"
	"github.com/mgifford/wayback-extractor/internal/mirror"
)

// Version is stamped at build time.
var Version = "dev"

// configError marks failures that stem from unusable configuration, which
// exit with a distinct code from ordinary run failures.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

// newApp creates the CLI application.
func newApp() *cli.App {
	app := &cli.App{
		Name:      "wayback-extractor",
		Usage:     "Build a browsable static replica of a site from the Wayback Machine",
		ArgsUsage: "domain",
		Version:   Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "Path to a YAML configuration file"},
			&cli.StringFlag{Name: "cutoff", Usage: "Cutoff date (YYYY-MM-DD or YYYYMMDD), interpreted as end of that day"},
			&cli.StringFlag{Name: "cutoff-ts", Usage: "Exact archive timestamp YYYYMMDDhhmmss, overrides --cutoff"},
			&cli.StringFlag{Name: "outdir", Aliases: []string{"o"}, Usage: "Output directory (default: domain_YYYYMMDD)"},
			&cli.BoolFlag{Name: "no-subdomains", Usage: "Do not include subdomains"},
			&cli.BoolFlag{Name: "strip-all-js", Usage: "Remove all script tags, not just third-party ones"},
			&cli.BoolFlag{Name: "no-nonhtml", Usage: "Do not mirror non-HTML originals as pages"},
			&cli.StringFlag{Name: "path-prefix", Usage: "Only mirror URLs whose path starts with this prefix, e.g. /en/"},
			&cli.IntFlag{Name: "max", Usage: "Max pages to process (0 = no limit)"},
			&cli.Float64Flag{Name: "rps", Usage: "Archive requests per second"},
			&cli.IntFlag{Name: "burst", Usage: "Rate limiter burst size"},
			&cli.DurationFlag{Name: "timeout", Usage: "Per-request timeout"},
			&cli.IntFlag{Name: "workers", Usage: "Concurrent page workers (1 = sequential)"},
			&cli.BoolFlag{Name: "ignore-query-params", Usage: "Ignore query parameters when identifying unique URLs"},
			&cli.BoolFlag{Name: "no-banner", Usage: "Do not inject the snapshot banner into pages"},
			&cli.BoolFlag{Name: "log-assets", Usage: "Log each asset download"},
			&cli.StringFlag{Name: "export-cdx", Usage: "Export all enumerated CDX rows to a CSV file before filtering"},
			&cli.BoolFlag{Name: "quiet", Aliases: []string{"q"}, Usage: "Warnings and errors only"},
			&cli.BoolFlag{Name: "verbose", Usage: "Debug logging, including per-snapshot decisions"},
		},
		Action: run,
	}
	return app
}

func run(c *cli.Context) error {
	cfg, err := buildConfig(c)
	if err != nil {
		return configError{err}
	}

	engine, err := mirror.NewEngine(*cfg)
	if err != nil {
		return configError{err}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return engine.Run(ctx)
}

// buildConfig merges defaults, the optional config file, and CLI flags, in
// that order of precedence.
func buildConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if c.NArg() > 0 {
		cfg.Mirror.Domain = c.Args().First()
	}
	if c.IsSet("cutoff") {
		cfg.Mirror.Cutoff = c.String("cutoff")
	}
	if c.IsSet("cutoff-ts") {
		cfg.Mirror.CutoffTS = c.String("cutoff-ts")
	}
	if c.IsSet("outdir") {
		cfg.Mirror.Outdir = c.String("outdir")
	}
	if c.Bool("no-subdomains") {
		cfg.Mirror.IncludeSubdomains = false
	}
	if c.Bool("strip-all-js") {
		cfg.Mirror.StripAllScripts = true
	}
	if c.Bool("no-nonhtml") {
		cfg.Mirror.IncludeNonHTML = false
	}
	if c.IsSet("path-prefix") {
		cfg.Mirror.PathPrefix = c.String("path-prefix")
	}
	if c.IsSet("max") {
		cfg.Mirror.MaxPages = c.Int("max")
	}
	if c.IsSet("rps") {
		cfg.Limiter.RPS = c.Float64("rps")
	}
	if c.IsSet("burst") {
		cfg.Limiter.Burst = c.Int("burst")
	}
	if c.IsSet("timeout") {
		cfg.HTTP.Timeout = config.DurationFrom(c.Duration("timeout"))
	}
	if c.IsSet("workers") {
		cfg.Worker.Concurrency = c.Int("workers")
	}
	if c.Bool("ignore-query-params") {
		cfg.Mirror.NormalizeQuery = true
	}
	if c.Bool("no-banner") {
		cfg.Mirror.Banner = false
	}
	if c.Bool("log-assets") {
		cfg.Mirror.LogAssets = true
	}
	if c.IsSet("export-cdx") {
		cfg.Mirror.ExportCDX = c.String("export-cdx")
	}
	if c.Bool("quiet") {
		cfg.Logging.Level = "warn"
	}
	if c.Bool("verbose") {
		cfg.Logging.Level = "debug"
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
