package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Archive endpoint defaults. Overridable for tests or private wayback deployments.
const (
	DefaultCDXEndpoint          = "https://web.archive.org/cdx/search/cdx"
	DefaultCDXAlternateEndpoint = "https://web.archive.org/cdx/search"
	DefaultAvailabilityEndpoint = "https://archive.org/wayback/available"
	DefaultRawEndpoint          = "https://web.archive.org/web"
)

var timestampRE = regexp.MustCompile(`^\d{14}$`)

// Config captures the full configuration required to run a mirror.
type Config struct {
	Mirror  MirrorConfig  `yaml:"mirror"`
	Limiter LimiterConfig `yaml:"limiter"`
	HTTP    HTTPConfig    `yaml:"http"`
	Archive ArchiveConfig `yaml:"archive"`
	Worker  WorkerConfig  `yaml:"worker"`
	Logging LoggingConfig `yaml:"logging"`
}

// MirrorConfig scopes what gets mirrored and how pages are rewritten.
type MirrorConfig struct {
	Domain            string `yaml:"domain"`
	Cutoff            string `yaml:"cutoff"`
	CutoffTS          string `yaml:"cutoff_ts"`
	Outdir            string `yaml:"outdir"`
	IncludeSubdomains bool   `yaml:"include_subdomains"`
	StripAllScripts   bool   `yaml:"strip_all_scripts"`
	IncludeNonHTML    bool   `yaml:"include_nonhtml"`
	PathPrefix        string `yaml:"path_prefix"`
	MaxPages          int    `yaml:"max_pages"`
	NormalizeQuery    bool   `yaml:"normalize_query"`
	Banner            bool   `yaml:"banner"`
	LogAssets         bool   `yaml:"log_assets"`
	ExportCDX         string `yaml:"export_cdx"`
}

// LimiterConfig applies a shared token bucket to all archive requests.
type LimiterConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// HTTPConfig controls the archive HTTP client.
type HTTPConfig struct {
	UserAgent    string   `yaml:"user_agent"`
	Timeout      Duration `yaml:"timeout"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
}

// ArchiveConfig names the archive endpoints the client talks to.
type ArchiveConfig struct {
	CDXEndpoint          string `yaml:"cdx_endpoint"`
	CDXAlternateEndpoint string `yaml:"cdx_alternate_endpoint"`
	AvailabilityEndpoint string `yaml:"availability_endpoint"`
	RawEndpoint          string `yaml:"raw_endpoint"`
}

// WorkerConfig controls page-level concurrency. 1 means strictly sequential.
type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// Default returns a Config populated with sensible defaults. The archive is a
// shared public service, so the limiter defaults stay deliberately polite.
func Default() Config {
	return Config{
		Mirror: MirrorConfig{
			Cutoff:            "2022-06-01",
			IncludeSubdomains: true,
			IncludeNonHTML:    true,
			Banner:            true,
		},
		Limiter: LimiterConfig{
			RPS:   0.5,
			Burst: 2,
		},
		HTTP: HTTPConfig{
			UserAgent:    "WaybackStaticMirror/1.4 (+https://github.com/mgifford/wayback-extractor)",
			Timeout:      DurationFrom(30 * time.Second),
			MaxBodyBytes: 32 * 1024 * 1024,
		},
		Archive: ArchiveConfig{
			CDXEndpoint:          DefaultCDXEndpoint,
			CDXAlternateEndpoint: DefaultCDXAlternateEndpoint,
			AvailabilityEndpoint: DefaultAvailabilityEndpoint,
			RawEndpoint:          DefaultRawEndpoint,
		},
		Worker: WorkerConfig{
			Concurrency: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: false,
		},
	}
}

// Load reads and normalises configuration from a YAML file. The result is not
// validated: callers layer further overrides (flags, arguments) on top and
// call Validate on the final merge.
func Load(path string) (*Config, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer fh.Close()
	return LoadFromReader(fh)
}

// LoadFromReader decodes configuration from an arbitrary reader.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Normalise()
	return &cfg, nil
}

// Validate enforces required invariants for the mirror configuration.
func (c Config) Validate() error {
	if c.Mirror.Domain == "" {
		return errors.New("mirror.domain must be set")
	}
	if strings.ContainsAny(c.Mirror.Domain, "/ ") {
		return fmt.Errorf("mirror.domain %q must be a bare host", c.Mirror.Domain)
	}
	if _, err := c.CutoffTimestamp(); err != nil {
		return err
	}
	if c.Mirror.MaxPages < 0 {
		return fmt.Errorf("mirror.max_pages must be >= 0 (got %d)", c.Mirror.MaxPages)
	}
	if c.Mirror.PathPrefix != "" && !strings.HasPrefix(c.Mirror.PathPrefix, "/") {
		return fmt.Errorf("mirror.path_prefix %q must start with /", c.Mirror.PathPrefix)
	}
	if c.Limiter.RPS <= 0 {
		return fmt.Errorf("limiter.rps must be > 0 (got %g)", c.Limiter.RPS)
	}
	if c.Limiter.Burst <= 0 {
		return fmt.Errorf("limiter.burst must be > 0 (got %d)", c.Limiter.Burst)
	}
	if c.HTTP.Timeout.Duration <= 0 {
		return errors.New("http.timeout must be > 0")
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		return fmt.Errorf("http.max_body_bytes must be > 0 (got %d)", c.HTTP.MaxBodyBytes)
	}
	if strings.TrimSpace(c.HTTP.UserAgent) == "" {
		return errors.New("http.user_agent must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0 (got %d)", c.Worker.Concurrency)
	}
	for _, endpoint := range []string{
		c.Archive.CDXEndpoint,
		c.Archive.CDXAlternateEndpoint,
		c.Archive.AvailabilityEndpoint,
		c.Archive.RawEndpoint,
	} {
		if strings.TrimSpace(endpoint) == "" {
			return errors.New("all archive endpoints must be set")
		}
	}
	return nil
}

// Normalise trims and lowercases fields that are compared case-insensitively.
func (c *Config) Normalise() {
	c.Mirror.Domain = strings.ToLower(strings.TrimSpace(c.Mirror.Domain))
	c.Mirror.Cutoff = strings.TrimSpace(c.Mirror.Cutoff)
	c.Mirror.CutoffTS = strings.TrimSpace(c.Mirror.CutoffTS)
	c.Mirror.Outdir = strings.TrimSpace(c.Mirror.Outdir)
	c.Mirror.PathPrefix = strings.TrimSpace(c.Mirror.PathPrefix)
	c.Mirror.ExportCDX = strings.TrimSpace(c.Mirror.ExportCDX)
	c.HTTP.UserAgent = strings.TrimSpace(c.HTTP.UserAgent)
	for _, endpoint := range []*string{
		&c.Archive.CDXEndpoint,
		&c.Archive.CDXAlternateEndpoint,
		&c.Archive.AvailabilityEndpoint,
		&c.Archive.RawEndpoint,
	} {
		*endpoint = strings.TrimRight(strings.TrimSpace(*endpoint), "/")
	}
}

// CutoffTimestamp resolves the configured cutoff to an inclusive 14-digit
// archive timestamp. An exact cutoff_ts wins over the date form.
func (c Config) CutoffTimestamp() (string, error) {
	if c.Mirror.CutoffTS != "" {
		return ValidateTimestamp(c.Mirror.CutoffTS)
	}
	return ParseCutoff(c.Mirror.Cutoff)
}

// OutputDir returns the configured output directory, defaulting to
// domain_YYYYMMDD derived from the cutoff.
func (c Config) OutputDir(cutoffTS string) string {
	if c.Mirror.Outdir != "" {
		return c.Mirror.Outdir
	}
	return DefaultOutdir(c.Mirror.Domain, cutoffTS)
}

// ValidateTimestamp checks that ts is exactly 14 digits (YYYYMMDDhhmmss).
func ValidateTimestamp(ts string) (string, error) {
	if !timestampRE.MatchString(ts) {
		return "", fmt.Errorf("invalid archive timestamp %q (expected YYYYMMDDhhmmss)", ts)
	}
	return ts, nil
}

// ParseCutoff accepts YYYY-MM-DD or YYYYMMDD and returns the end-of-day
// timestamp YYYYMMDD235959, the inclusive upper bound for capture selection.
func ParseCutoff(date string) (string, error) {
	layout := "2006-01-02"
	if len(date) == 8 && !strings.Contains(date, "-") {
		layout = "20060102"
	}
	parsed, err := time.Parse(layout, date)
	if err != nil {
		return "", fmt.Errorf("invalid cutoff date %q: %w", date, err)
	}
	return parsed.Format("20060102") + "235959", nil
}

// DefaultOutdir derives the output directory name from domain and cutoff day.
func DefaultOutdir(domain, cutoffTS string) string {
	day := cutoffTS
	if len(day) > 8 {
		day = day[:8]
	}
	return domain + "_" + day
}
