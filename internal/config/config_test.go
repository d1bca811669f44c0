package config

import (
	"strings"
	"testing"
)

func TestParseCutoff(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"2020-01-01", "20200101235959", true},
		{"20200101", "20200101235959", true},
		{"1999-12-31", "19991231235959", true},
		{"2020-13-01", "", false},
		{"20201301", "", false},
		{"yesterday", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseCutoff(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseCutoff(%q): unexpected error %v", tc.in, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseCutoff(%q): expected error, got %q", tc.in, got)
		}
		if got != tc.want {
			t.Errorf("ParseCutoff(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateTimestamp(t *testing.T) {
	if _, err := ValidateTimestamp("20200101123456"); err != nil {
		t.Fatalf("valid timestamp rejected: %v", err)
	}
	for _, bad := range []string{"", "2020", "202001011234567", "2020010112345x"} {
		if _, err := ValidateTimestamp(bad); err == nil {
			t.Errorf("ValidateTimestamp(%q): expected error", bad)
		}
	}
}

func TestCutoffTimestampPrefersExact(t *testing.T) {
	cfg := Default()
	cfg.Mirror.Domain = "example.com"
	cfg.Mirror.Cutoff = "2020-01-01"
	cfg.Mirror.CutoffTS = "20190615120000"

	ts, err := cfg.CutoffTimestamp()
	if err != nil {
		t.Fatalf("CutoffTimestamp: %v", err)
	}
	if ts != "20190615120000" {
		t.Fatalf("expected exact cutoff_ts to win, got %q", ts)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Mirror.Domain = "example.com"
		return cfg
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing domain", func(c *Config) { c.Mirror.Domain = "" }},
		{"domain with path", func(c *Config) { c.Mirror.Domain = "example.com/foo" }},
		{"bad cutoff", func(c *Config) { c.Mirror.Cutoff = "not-a-date" }},
		{"negative max pages", func(c *Config) { c.Mirror.MaxPages = -1 }},
		{"relative path prefix", func(c *Config) { c.Mirror.PathPrefix = "en/" }},
		{"zero rps", func(c *Config) { c.Limiter.RPS = 0 }},
		{"zero burst", func(c *Config) { c.Limiter.Burst = 0 }},
		{"zero timeout", func(c *Config) { c.HTTP.Timeout.Duration = 0 }},
		{"empty user agent", func(c *Config) { c.HTTP.UserAgent = " " }},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }},
		{"empty endpoint", func(c *Config) { c.Archive.RawEndpoint = "" }},
	}
	for _, tc := range cases {
		cfg := valid()
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadFromReader(t *testing.T) {
	yaml := `
mirror:
  domain: Example.COM
  cutoff: "2020-01-01"
  path_prefix: /en/
limiter:
  rps: 2
  burst: 4
http:
  timeout: 5s
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Mirror.Domain != "example.com" {
		t.Errorf("domain not normalised: %q", cfg.Mirror.Domain)
	}
	if cfg.Limiter.RPS != 2 || cfg.Limiter.Burst != 4 {
		t.Errorf("limiter not applied: %+v", cfg.Limiter)
	}
	if cfg.HTTP.Timeout.Seconds() != 5 {
		t.Errorf("timeout not parsed: %v", cfg.HTTP.Timeout)
	}
	if !cfg.Mirror.IncludeSubdomains {
		t.Error("defaults should survive partial overrides")
	}
}

func TestLoadFromReaderPartialFile(t *testing.T) {
	// A file that only tunes non-mirror settings must load; the domain may
	// arrive later from the command line, validated after the merge.
	cfg, err := LoadFromReader(strings.NewReader("limiter:\n  rps: 2\n"))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Limiter.RPS != 2 {
		t.Errorf("limiter not applied: %+v", cfg.Limiter)
	}
	if cfg.Mirror.Domain != "" {
		t.Errorf("unexpected domain: %q", cfg.Mirror.Domain)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("domainless config must still fail final validation")
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	if _, err := LoadFromReader(strings.NewReader("mirrors:\n  domain: x\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestDefaultOutdir(t *testing.T) {
	if got := DefaultOutdir("example.com", "20200101235959"); got != "example.com_20200101" {
		t.Fatalf("DefaultOutdir = %q", got)
	}
}
